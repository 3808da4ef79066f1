package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/profile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu      sync.Mutex
	current *auth.Identity
	fn      func(*auth.Identity)
	subs    int
}

func (s *fakeSource) Subscribe(fn func(*auth.Identity)) func() {
	s.mu.Lock()
	s.fn = fn
	s.subs++
	cur := s.current
	s.mu.Unlock()

	fn(cur)

	return func() {
		s.mu.Lock()
		s.fn = nil
		s.mu.Unlock()
	}
}

func (s *fakeSource) emit(identity *auth.Identity) {
	s.mu.Lock()
	s.current = identity
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(identity)
	}
}

// recordingStore wraps a memory repository, records calls in order and
// can hold Get for chosen identities until released.
type recordingStore struct {
	repo *profile.Repository

	mu     sync.Mutex
	calls  []string
	holds  map[string]chan struct{}
	getErr error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		repo:  profile.NewRepository(profile.NewMemoryStore(), profile.NewMemoryLookup(), profile.NewMemoryBroker()),
		holds: make(map[string]chan struct{}),
	}
}

func (s *recordingStore) hold(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.holds[id] = ch
	return ch
}

func (s *recordingStore) setGetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

func (s *recordingStore) Get(ctx context.Context, id string) (*profile.Profile, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "get:"+id)
	hold := s.holds[id]
	getErr := s.getErr
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if getErr != nil {
		return nil, getErr
	}
	return s.repo.Get(ctx, id)
}

func (s *recordingStore) CreateDefault(ctx context.Context, identity *auth.Identity) (*profile.Profile, error) {
	s.mu.Lock()
	s.calls = append(s.calls, "create:"+identity.ID)
	s.mu.Unlock()
	return s.repo.CreateDefault(ctx, identity)
}

func (s *recordingStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func identityOf(id, email string) *auth.Identity {
	return &auth.Identity{ID: id, Email: email}
}

func settle(t *testing.T, m *Machine) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := m.WaitSettled(ctx)
	require.NoError(t, err)
	return st
}

func checkInvariants(t *testing.T, st State) {
	t.Helper()
	switch st.Phase {
	case Ready:
		assert.NotNil(t, st.Identity, "ready without identity")
		assert.NotNil(t, st.Profile, "ready without profile")
		assert.NoError(t, st.Err)
	case ProfilePending:
		assert.NotNil(t, st.Identity)
		assert.Nil(t, st.Profile)
		assert.NoError(t, st.Err)
	case SignedOut:
		assert.Nil(t, st.Identity)
		assert.Nil(t, st.Profile, "profile present while signed out")
	case Initializing:
		assert.Nil(t, st.Identity)
		assert.Nil(t, st.Profile)
	case Errored:
		assert.Nil(t, st.Identity)
		assert.Nil(t, st.Profile)
		assert.Error(t, st.Err)
	}
}

func TestMachine_SignedOutAtStart(t *testing.T) {
	src := &fakeSource{}
	m := NewMachine(src, newRecordingStore(), Options{})
	defer m.Close()

	assert.Equal(t, Initializing, m.Snapshot().Phase)
	m.Start()
	m.Start()

	st := settle(t, m)
	assert.Equal(t, SignedOut, st.Phase)
	assert.Equal(t, 1, src.subs)
}

func TestMachine_CreatesMissingProfileAfterGet(t *testing.T) {
	store := newRecordingStore()
	src := &fakeSource{current: identityOf("u1", "alice@example.com")}
	m := NewMachine(src, store, Options{})
	defer m.Close()
	m.Start()

	st := settle(t, m)
	require.Equal(t, Ready, st.Phase)
	assert.Equal(t, "u1", st.Profile.UID)
	assert.Equal(t, []string{"get:u1", "create:u1"}, store.callLog())
}

func TestMachine_ExistingProfileIsNotRecreated(t *testing.T) {
	store := newRecordingStore()
	alice := identityOf("u1", "alice@example.com")
	_, err := store.repo.CreateDefault(context.Background(), alice)
	require.NoError(t, err)
	_, err = store.repo.Update(context.Background(), "u1", profile.Patch{profile.FieldDisplayName: "Custom Name"})
	require.NoError(t, err)

	src := &fakeSource{}
	m := NewMachine(src, store, Options{})
	defer m.Close()
	m.Start()
	settle(t, m)

	src.emit(alice)
	st := settle(t, m)
	require.Equal(t, Ready, st.Phase)
	assert.Equal(t, "Custom Name", st.Profile.DisplayName)

	// Re-entry for the same identity.
	src.emit(alice)
	st = settle(t, m)
	require.Equal(t, Ready, st.Phase)
	assert.Equal(t, "Custom Name", st.Profile.DisplayName)

	for _, call := range store.callLog() {
		assert.NotEqual(t, "create:u1", call)
	}
}

func TestMachine_Supersession(t *testing.T) {
	store := newRecordingStore()
	release := store.hold("u1")

	src := &fakeSource{}
	m := NewMachine(src, store, Options{})
	m.Start()
	settle(t, m)

	src.emit(identityOf("u1", "one@example.com"))
	src.emit(identityOf("u2", "two@example.com"))

	st := settle(t, m)
	require.Equal(t, Ready, st.Phase)
	assert.Equal(t, "u2", st.Identity.ID)

	close(release)
	m.Close()

	final := m.Snapshot()
	assert.Equal(t, "u2", final.Identity.ID)
	assert.Equal(t, "u2", final.Profile.UID)
}

func TestMachine_SupersededBySignOut(t *testing.T) {
	store := newRecordingStore()
	release := store.hold("u1")

	src := &fakeSource{}
	m := NewMachine(src, store, Options{})
	m.Start()
	settle(t, m)

	src.emit(identityOf("u1", "one@example.com"))
	src.emit(nil)
	close(release)

	st := settle(t, m)
	assert.Equal(t, SignedOut, st.Phase)

	m.Close()
	assert.Equal(t, SignedOut, m.Snapshot().Phase)
	assert.Nil(t, m.Snapshot().Profile)
}

func TestMachine_RepositoryErrorThenRetry(t *testing.T) {
	store := newRecordingStore()
	store.setGetErr(&profile.Error{Code: profile.CodeUnavailable, Op: "get", Err: errors.New("connection reset")})

	src := &fakeSource{current: identityOf("u1", "alice@example.com")}
	m := NewMachine(src, store, Options{})
	defer m.Close()
	m.Start()

	st := settle(t, m)
	require.Equal(t, Errored, st.Phase)
	assert.ErrorIs(t, st.Err, profile.ErrUnavailable)
	checkInvariants(t, st)

	d := Decide(st, Protected, "/dashboard")
	assert.Equal(t, RedirectToLogin, d.Kind)
	assert.Error(t, d.Err)

	store.setGetErr(nil)
	require.True(t, m.Retry())
	st = settle(t, m)
	assert.Equal(t, Ready, st.Phase)

	assert.False(t, m.Retry())
}

func TestMachine_FreshIdentityEventLeavesErrored(t *testing.T) {
	store := newRecordingStore()
	store.setGetErr(errors.New("boom"))

	src := &fakeSource{current: identityOf("u1", "alice@example.com")}
	m := NewMachine(src, store, Options{})
	defer m.Close()
	m.Start()
	require.Equal(t, Errored, settle(t, m).Phase)

	store.setGetErr(nil)
	src.emit(identityOf("u1", "alice@example.com"))
	assert.Equal(t, Ready, settle(t, m).Phase)
}

func TestMachine_InvariantsHoldForEventSequences(t *testing.T) {
	store := newRecordingStore()
	src := &fakeSource{}
	m := NewMachine(src, store, Options{})

	var (
		mu     sync.Mutex
		states []State
	)
	cancel := m.Watch(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st)
	})
	defer cancel()

	m.Start()

	ids := []*auth.Identity{
		identityOf("u1", "one@example.com"),
		nil,
		identityOf("u2", "two@example.com"),
		identityOf("u1", "one@example.com"),
		nil,
		identityOf("u3", "three@example.com"),
	}
	for round := 0; round < 18; round++ {
		src.emit(ids[round%len(ids)])
		if round%3 == 0 {
			settle(t, m)
		}
	}
	final := settle(t, m)
	m.Close()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	var last uint64
	for i, st := range states {
		checkInvariants(t, st)
		if i > 0 {
			assert.Greater(t, st.Version, last, "versions out of order")
		}
		last = st.Version
	}
	assert.Equal(t, final.Version, states[len(states)-1].Version)

	want := ids[17%len(ids)]
	require.Equal(t, Ready, final.Phase)
	assert.Equal(t, want.ID, final.Identity.ID)
}

func TestMachine_WatchReceivesCurrentStateFirst(t *testing.T) {
	src := &fakeSource{}
	m := NewMachine(src, newRecordingStore(), Options{})
	defer m.Close()
	m.Start()
	settled := settle(t, m)

	var got []State
	cancel := m.Watch(func(st State) { got = append(got, st) })
	cancel()
	cancel()

	require.Len(t, got, 1)
	assert.Equal(t, settled, got[0])

	src.emit(identityOf("u1", "alice@example.com"))
	settle(t, m)
	assert.Len(t, got, 1)
}

func TestMachine_WaitSettledAfterClose(t *testing.T) {
	store := newRecordingStore()
	store.hold("u1")

	src := &fakeSource{current: identityOf("u1", "alice@example.com")}
	m := NewMachine(src, store, Options{})
	m.Start()
	m.Close()

	_, err := m.WaitSettled(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMachine_WaitSettledHonoursContext(t *testing.T) {
	store := newRecordingStore()
	release := store.hold("u1")
	defer close(release)

	src := &fakeSource{current: identityOf("u1", "alice@example.com")}
	m := NewMachine(src, store, Options{})
	defer m.Close()
	m.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := m.WaitSettled(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Initializing, st.Phase)
}

func TestMachine_LoadTimeout(t *testing.T) {
	store := newRecordingStore()
	release := store.hold("u1")
	defer close(release)

	src := &fakeSource{current: identityOf("u1", "alice@example.com")}
	m := NewMachine(src, store, Options{LoadTimeout: 20 * time.Millisecond})
	defer m.Close()
	m.Start()

	st := settle(t, m)
	assert.Equal(t, Errored, st.Phase)
	assert.ErrorIs(t, st.Err, context.DeadlineExceeded)
}

func TestScenario_AliceSignsUpThenOut(t *testing.T) {
	store := newRecordingStore()
	src := &fakeSource{}
	m := NewMachine(src, store, Options{})
	defer m.Close()
	m.Start()
	settle(t, m)

	src.emit(&auth.Identity{
		ID:              "5f0c2b1e-7a53-4c1e-9d7d-2b8e0c6a9f11",
		Provider:        auth.ProviderPassword,
		Email:           "alice@example.com",
		DisplayName:     "alice",
		PreferredHandle: "alice",
	})
	st := settle(t, m)
	require.Equal(t, Ready, st.Phase)
	assert.Equal(t, "alice", st.Profile.Username)
	assert.Empty(t, st.Profile.Links)
	assert.Equal(t, profile.DefaultTheme, st.Profile.SelectedTheme)
	assert.Equal(t, Allow, Decide(st, Classify("/dashboard"), "/dashboard").Kind)

	src.emit(nil)
	st = settle(t, m)
	assert.Equal(t, Decision{Kind: RedirectToLogin, ReturnPath: "/dashboard"},
		Decide(st, Classify("/dashboard"), "/dashboard"))
}

func TestMachine_ManyClients(t *testing.T) {
	store := newRecordingStore()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := &fakeSource{current: identityOf(fmt.Sprintf("u%d", i), "x@example.com")}
			m := NewMachine(src, store, Options{})
			m.Start()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			st, err := m.WaitSettled(ctx)
			assert.NoError(t, err)
			assert.Equal(t, Ready, st.Phase)
			m.Close()
		}(i)
	}
	wg.Wait()
}
