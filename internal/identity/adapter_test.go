package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"tapit-auth/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []*auth.Identity
}

func (r *recorder) record(identity *auth.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, identity)
}

func (r *recorder) all() []*auth.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*auth.Identity(nil), r.events...)
}

func TestAdapter_SubscribeFiresImmediately(t *testing.T) {
	f := newServiceFixture(5)
	a := NewAdapter(context.Background(), "client-1", f.svc, newMemoryLogins(), AdapterOptions{})

	var rec recorder
	unsubscribe := a.Subscribe(rec.record)
	defer unsubscribe()

	events := rec.all()
	require.Len(t, events, 1)
	assert.Nil(t, events[0])
}

func TestAdapter_ExactlyOneEventPerSignInAndOut(t *testing.T) {
	f := newServiceFixture(5)
	ctx := context.Background()
	a := NewAdapter(ctx, "client-1", f.svc, newMemoryLogins(), AdapterOptions{})

	var first, second recorder
	unsubFirst := a.Subscribe(first.record)
	defer unsubFirst()
	unsubSecond := a.Subscribe(second.record)
	defer unsubSecond()

	_, err := a.SignUp(ctx, "alice@example.com", "correct horse", "alice")
	require.NoError(t, err)
	require.NoError(t, a.SignOut(ctx))
	// Already signed out: no event.
	require.NoError(t, a.SignOut(ctx))

	for _, rec := range []*recorder{&first, &second} {
		events := rec.all()
		require.Len(t, events, 3)
		assert.Nil(t, events[0])
		require.NotNil(t, events[1])
		assert.Equal(t, "alice@example.com", events[1].Email)
		assert.Equal(t, "alice", events[1].PreferredHandle)
		assert.Nil(t, events[2])
	}
}

func TestAdapter_FailedSignInEmitsNothing(t *testing.T) {
	f := newServiceFixture(5)
	ctx := context.Background()
	a := NewAdapter(ctx, "client-1", f.svc, newMemoryLogins(), AdapterOptions{})

	var rec recorder
	unsubscribe := a.Subscribe(rec.record)
	defer unsubscribe()

	_, err := a.SignInWithPassword(ctx, "alice@example.com", "wrong horse")
	assert.Equal(t, auth.CodeInvalidCredential, auth.CodeOf(err))
	assert.Len(t, rec.all(), 1)
	assert.Nil(t, a.Current())
}

func TestAdapter_UnsubscribeStopsDelivery(t *testing.T) {
	f := newServiceFixture(5)
	ctx := context.Background()
	a := NewAdapter(ctx, "client-1", f.svc, newMemoryLogins(), AdapterOptions{})

	var rec recorder
	unsubscribe := a.Subscribe(rec.record)
	unsubscribe()
	unsubscribe()

	_, err := a.SignUp(ctx, "alice@example.com", "correct horse", "alice")
	require.NoError(t, err)
	assert.Len(t, rec.all(), 1)
}

func TestAdapter_RestoresPersistedLogin(t *testing.T) {
	f := newServiceFixture(5)
	ctx := context.Background()
	logins := newMemoryLogins()

	first := NewAdapter(ctx, "client-1", f.svc, logins, AdapterOptions{})
	signedIn, err := first.SignUp(ctx, "alice@example.com", "correct horse", "alice")
	require.NoError(t, err)

	restored := NewAdapter(ctx, "client-1", f.svc, logins, AdapterOptions{})
	require.NotNil(t, restored.Current())
	assert.Equal(t, signedIn.ID, restored.Current().ID)

	other := NewAdapter(ctx, "client-2", f.svc, logins, AdapterOptions{})
	assert.Nil(t, other.Current())

	require.NoError(t, restored.SignOut(ctx))
	assert.Nil(t, NewAdapter(ctx, "client-1", f.svc, logins, AdapterOptions{}).Current())
}

func TestAdapter_ExpiredLoginIsDropped(t *testing.T) {
	f := newServiceFixture(5)
	ctx := context.Background()
	logins := newMemoryLogins()

	past := time.Now().Add(-48 * time.Hour)
	a := NewAdapter(ctx, "client-1", f.svc, logins, AdapterOptions{
		Now: func() time.Time { return past },
	})
	_, err := a.SignUp(ctx, "alice@example.com", "correct horse", "alice")
	require.NoError(t, err)

	restored := NewAdapter(ctx, "client-1", f.svc, logins, AdapterOptions{})
	assert.Nil(t, restored.Current())

	l, err := logins.Get(ctx, "client-1")
	require.NoError(t, err)
	assert.Nil(t, l)
}

func TestAdapter_ReturnedIdentityIsACopy(t *testing.T) {
	f := newServiceFixture(5)
	ctx := context.Background()
	a := NewAdapter(ctx, "client-1", f.svc, newMemoryLogins(), AdapterOptions{})

	identity, err := a.SignUp(ctx, "alice@example.com", "correct horse", "alice")
	require.NoError(t, err)
	identity.Email = "mallory@example.com"

	assert.Equal(t, "alice@example.com", a.Current().Email)
}

func TestAdapter_FreshIgnoresStoredLogin(t *testing.T) {
	f := newServiceFixture(5)
	ctx := context.Background()
	logins := newMemoryLogins()

	first := NewAdapter(ctx, "client-1", f.svc, logins, AdapterOptions{})
	_, err := first.SignUp(ctx, "alice@example.com", "correct horse", "alice")
	require.NoError(t, err)

	fresh := NewAdapter(ctx, "client-1", f.svc, logins, AdapterOptions{Fresh: true})
	assert.Nil(t, fresh.Current())
}

func TestAdapter_RestoresGivenLogin(t *testing.T) {
	f := newServiceFixture(5)
	ctx := context.Background()
	logins := newMemoryLogins()

	first := NewAdapter(ctx, "client-1", f.svc, logins, AdapterOptions{})
	signedIn, err := first.SignUp(ctx, "alice@example.com", "correct horse", "alice")
	require.NoError(t, err)
	login, err := logins.Get(ctx, "client-1")
	require.NoError(t, err)
	require.NotNil(t, login)

	// The store is not consulted when the login is handed over.
	empty := newMemoryLogins()
	restored := NewAdapter(ctx, "client-1", f.svc, empty, AdapterOptions{Login: login})
	require.NotNil(t, restored.Current())
	assert.Equal(t, signedIn.ID, restored.Current().ID)

	// A login bound to another client is never restored.
	other := NewAdapter(ctx, "client-2", f.svc, logins, AdapterOptions{Login: login})
	assert.Nil(t, other.Current())
}
