package profile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"tapit-auth/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingLookup struct{}

func (failingLookup) Assign(context.Context, string, string) error {
	return errors.New("lookup table unavailable")
}

func (failingLookup) Resolve(context.Context, string) (string, error) {
	return "", ErrNotFound
}

func newTestRepository() (*Repository, *MemoryLookup) {
	lookup := NewMemoryLookup()
	return NewRepository(NewMemoryStore(), lookup, NewMemoryBroker()), lookup
}

func alice() *auth.Identity {
	return &auth.Identity{
		ID:              "8c1e9a52-0d55-4b8e-9f4e-3a6b1d2c7e10",
		Email:           "alice@example.com",
		DisplayName:     "alice",
		PreferredHandle: "alice",
	}
}

func TestCreateDefault_Defaults(t *testing.T) {
	repo, lookup := newTestRepository()
	ctx := context.Background()

	p, err := repo.CreateDefault(ctx, alice())
	require.NoError(t, err)

	assert.Equal(t, alice().ID, p.UID)
	assert.Equal(t, "alice", p.Username)
	assert.Equal(t, DefaultTheme, p.SelectedTheme)
	assert.NotNil(t, p.Links)
	assert.Empty(t, p.Links)
	assert.Equal(t, DefaultAccountType, p.AccountType)
	assert.False(t, p.IsTeamManager)
	assert.Nil(t, p.TeamID)

	id, err := lookup.Resolve(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice().ID, id)
}

func TestCreateDefault_DoesNotOverwrite(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()

	_, err := repo.CreateDefault(ctx, alice())
	require.NoError(t, err)

	_, err = repo.Update(ctx, alice().ID, Patch{FieldDisplayName: "Alice In Chains"})
	require.NoError(t, err)

	again, err := repo.CreateDefault(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, "Alice In Chains", again.DisplayName)
}

func TestCreateDefault_RequiresIdentityID(t *testing.T) {
	repo, _ := newTestRepository()
	_, err := repo.CreateDefault(context.Background(), &auth.Identity{Email: "a@b.c"})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRepository()
	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_NeverCreates(t *testing.T) {
	repo, _ := newTestRepository()
	_, err := repo.Update(context.Background(), "missing", Patch{FieldBio: "hi"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_RejectsInvalidPatches(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()
	_, err := repo.CreateDefault(ctx, alice())
	require.NoError(t, err)

	for name, patch := range map[string]Patch{
		"empty":          {},
		"unknown field":  {"favouriteColor": "red"},
		"read-only uid":  {"uid": "other"},
		"read-only mail": {"email": "x@y.z"},
		"wrong type":     {FieldLinks: "not a list"},
		"bad username":   {FieldUsername: "Not Valid"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := repo.Update(ctx, alice().ID, patch)
			assert.ErrorIs(t, err, ErrInvalidField)
		})
	}
}

func TestUpdate_DisjointFieldsBothSurvive(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()
	_, err := repo.CreateDefault(ctx, alice())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, alice().ID, Patch{FieldDisplayName: "Alice"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, alice().ID, Patch{FieldBio: "links and things"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := repo.Get(ctx, alice().ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, "links and things", p.Bio)
	assert.NotNil(t, p.UpdatedAt)
}

func TestUpdate_UsernameReassignsLookup(t *testing.T) {
	repo, lookup := newTestRepository()
	ctx := context.Background()
	_, err := repo.CreateDefault(ctx, alice())
	require.NoError(t, err)

	_, err = repo.Update(ctx, alice().ID, Patch{FieldUsername: "alice2"})
	require.NoError(t, err)

	id, err := lookup.Resolve(ctx, "alice2")
	require.NoError(t, err)
	assert.Equal(t, alice().ID, id)

	p, err := repo.ResolveHandle(ctx, "ALICE2")
	require.NoError(t, err)
	assert.Equal(t, "alice2", p.Username)
}

func TestLookupFailureDoesNotFailWrites(t *testing.T) {
	repo := NewRepository(NewMemoryStore(), failingLookup{}, NewMemoryBroker())
	ctx := context.Background()

	p, err := repo.CreateDefault(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	p, err = repo.Update(ctx, alice().ID, Patch{FieldUsername: "alicia"})
	require.NoError(t, err)
	assert.Equal(t, "alicia", p.Username)
}

func TestSubscribeToField(t *testing.T) {
	repo, _ := newTestRepository()
	ctx := context.Background()
	_, err := repo.CreateDefault(ctx, alice())
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []FieldEvent
	)
	unsubscribe, err := repo.SubscribeToField(alice().ID, FieldBio, func(ev FieldEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	require.NoError(t, err)

	_, err = repo.Update(ctx, alice().ID, Patch{FieldBio: "first", FieldDisplayName: "A"})
	require.NoError(t, err)

	unsubscribe()
	unsubscribe()

	_, err = repo.Update(ctx, alice().ID, Patch{FieldBio: "second"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, FieldBio, got[0].Field)
	var bio string
	require.NoError(t, json.Unmarshal(got[0].Value, &bio))
	assert.Equal(t, "first", bio)
}

func TestSubscribeToField_UnknownField(t *testing.T) {
	repo, _ := newTestRepository()
	_, err := repo.SubscribeToField(alice().ID, "nope", func(FieldEvent) {})
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestPublic_HidesAccountFields(t *testing.T) {
	p := NewDefault(alice(), fixedNow)
	p.Links = []Link{
		{ID: "1", Title: "Site", URL: "https://a.example", IsActive: true},
		{ID: "2", Title: "Draft", URL: "https://b.example", IsActive: false},
	}

	raw, err := json.Marshal(p.Public())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "alice@example.com")
	assert.NotContains(t, string(raw), "Draft")
	assert.Contains(t, string(raw), "Site")
}
