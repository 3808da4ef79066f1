package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/auth/credentials"
	"tapit-auth/internal/auth/resolver"
	"tapit-auth/internal/session"
)

type fakeAccount struct {
	userID   string
	password string
}

// fakeCredentials doubles as the resolver so both see the same users.
type fakeCredentials struct {
	mu       sync.Mutex
	byEmail  map[string]*fakeAccount
	users    map[string]*auth.Identity
	external map[string]string
	fail     error
	next     int
}

func newFakeCredentials() *fakeCredentials {
	return &fakeCredentials{
		byEmail:  make(map[string]*fakeAccount),
		users:    make(map[string]*auth.Identity),
		external: make(map[string]string),
	}
}

func (f *fakeCredentials) newUserLocked(email, displayName string) string {
	f.next++
	id := fmt.Sprintf("user-%d", f.next)
	f.users[id] = &auth.Identity{
		ID:          id,
		Email:       email,
		DisplayName: displayName,
	}
	return id
}

func (f *fakeCredentials) Register(_ context.Context, email, password, displayName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	if len(password) < credentials.MinPasswordLength {
		return "", credentials.ErrWeakPassword
	}
	if len(password) > credentials.MaxPasswordLength {
		return "", credentials.ErrPasswordTooLong
	}
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return "", credentials.ErrAlreadyRegistered
		}
	}
	id := f.newUserLocked(email, displayName)
	f.users[id].Provider = auth.ProviderPassword
	f.users[id].ProviderUserID = id
	f.byEmail[email] = &fakeAccount{userID: id, password: password}
	return id, nil
}

func (f *fakeCredentials) Authenticate(_ context.Context, email, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	acc, ok := f.byEmail[email]
	if !ok || acc.password != password {
		return "", credentials.ErrInvalidCredentials
	}
	return acc.userID, nil
}

func (f *fakeCredentials) UserIDByEmail(_ context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			return id, nil
		}
	}
	return "", credentials.ErrUnknownEmail
}

func (f *fakeCredentials) SetPassword(_ context.Context, userID, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return errors.New("no such user")
	}
	if len(password) > credentials.MaxPasswordLength {
		return credentials.ErrPasswordTooLong
	}
	f.byEmail[u.Email] = &fakeAccount{userID: userID, password: password}
	return nil
}

func (f *fakeCredentials) Resolve(_ context.Context, identity *auth.Identity) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := identity.Provider + "/" + identity.ProviderUserID
	if id, ok := f.external[key]; ok {
		return id, nil
	}
	for id, u := range f.users {
		if strings.EqualFold(u.Email, identity.Email) {
			f.external[key] = id
			return id, nil
		}
	}
	id := f.newUserLocked(identity.Email, identity.DisplayName)
	f.users[id].PhotoURL = identity.PhotoURL
	f.external[key] = id
	return id, nil
}

func (f *fakeCredentials) Load(_ context.Context, userID string) (*auth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, resolver.ErrUnknownUser
	}
	c := *u
	return &c, nil
}

type fakeProvider struct {
	name     string
	identity *auth.Identity
	err      error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state, challenge string) string {
	return "https://idp.example/authorize?state=" + state + "&code_challenge=" + challenge
}

func (p *fakeProvider) ExchangeCode(context.Context, string, string) (*auth.Identity, error) {
	if p.err != nil {
		return nil, p.err
	}
	c := *p.identity
	return &c, nil
}

type fakeLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
}

func (l *fakeLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[key]++
	return l.counts[key] <= l.limit, nil
}

type fakeResetTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (r *fakeResetTokens) Put(_ context.Context, token, userID string, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tokens == nil {
		r.tokens = make(map[string]string)
	}
	r.tokens[token] = userID
	return nil
}

func (r *fakeResetTokens) Take(_ context.Context, token string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.tokens[token]
	if !ok {
		return "", ErrResetTokenInvalid
	}
	delete(r.tokens, token)
	return id, nil
}

type sentMail struct {
	email string
	link  string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{email: email, link: link})
	return nil
}

func (m *fakeMailer) all() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

type memoryLogins struct {
	mu     sync.Mutex
	logins map[string]session.Login
}

func newMemoryLogins() *memoryLogins {
	return &memoryLogins{logins: make(map[string]session.Login)}
}

func (m *memoryLogins) Create(_ context.Context, l session.Login) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[l.ClientID] = l
	return nil
}

func (m *memoryLogins) Get(_ context.Context, clientID string) (*session.Login, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logins[clientID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (m *memoryLogins) Delete(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.logins, clientID)
	return nil
}
