// Package identitytest provides an in-memory identity backend for tests
// of packages built on identity.Adapter.
package identitytest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"tapit-auth/internal/auth"
)

// Backend is an in-memory identity.Backend. It also serves the OAuth
// and reset-confirmation calls of the HTTP handlers.
type Backend struct {
	mu       sync.Mutex
	byEmail  map[string]*account
	byID     map[string]*auth.Identity
	byCode   map[string]string // "provider/code" -> identity id
	resets   map[string]string // token -> identity id
	sent     []string
	next     int
	failWith error
}

type account struct {
	identity *auth.Identity
	secret   string
}

func NewBackend() *Backend {
	return &Backend{
		byEmail: make(map[string]*account),
		byID:    make(map[string]*auth.Identity),
		byCode:  make(map[string]string),
		resets:  make(map[string]string),
	}
}

// AddPassword registers a password account.
func (b *Backend) AddPassword(identity *auth.Identity, secret string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := *identity
	b.byEmail[strings.ToLower(c.Email)] = &account{identity: &c, secret: secret}
	b.byID[c.ID] = &c
}

// AddOAuth makes code a valid authorization code of provider for identity.
func (b *Backend) AddOAuth(provider, code string, identity *auth.Identity) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := *identity
	b.byID[c.ID] = &c
	b.byCode[provider+"/"+code] = c.ID
}

// AddResetToken makes token valid for one password reset of identityID.
func (b *Backend) AddResetToken(token, identityID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resets[token] = identityID
}

// FailWith makes every later sign-in attempt return err. nil clears it.
func (b *Backend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWith = err
}

// ResetsSent returns the emails a reset was requested for.
func (b *Backend) ResetsSent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

// Secret returns the current password of email.
func (b *Backend) Secret(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.byEmail[strings.ToLower(email)]; ok {
		return a.secret
	}
	return ""
}

func (b *Backend) SignInWithPassword(_ context.Context, email, secret string) (*auth.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return nil, b.failWith
	}
	a, ok := b.byEmail[strings.ToLower(email)]
	if !ok || a.secret != secret {
		return nil, auth.NewError(auth.CodeInvalidCredential, "email or password is incorrect")
	}
	return clone(a.identity), nil
}

func (b *Backend) SignInWithOAuth(_ context.Context, provider, code, verifier string) (*auth.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return nil, b.failWith
	}
	if code == "" {
		return nil, auth.NewError(auth.CodeProviderCancelled, "sign-in was cancelled")
	}
	if verifier == "" {
		return nil, auth.NewError(auth.CodeInvalidRequest, "missing pkce verifier")
	}
	id, ok := b.byCode[provider+"/"+code]
	if !ok {
		return nil, auth.NewError(auth.CodeInvalidCredential, "authentication failed")
	}
	delete(b.byCode, provider+"/"+code)
	return clone(b.byID[id]), nil
}

func (b *Backend) SignUp(_ context.Context, email, secret, handle string) (*auth.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return nil, b.failWith
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if _, ok := b.byEmail[email]; ok {
		return nil, auth.NewError(auth.CodeAccountExists, "an account already exists for this email")
	}
	if len(secret) < 8 {
		return nil, auth.NewError(auth.CodeWeakSecret, "password must be at least 8 characters")
	}

	b.next++
	identity := &auth.Identity{
		ID:              fmt.Sprintf("user-%d", b.next),
		Provider:        auth.ProviderPassword,
		ProviderUserID:  email,
		Email:           email,
		DisplayName:     handle,
		PreferredHandle: handle,
	}
	b.byEmail[email] = &account{identity: identity, secret: secret}
	b.byID[identity.ID] = identity
	return clone(identity), nil
}

func (b *Backend) SendPasswordReset(_ context.Context, email string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, strings.ToLower(email))
	return nil
}

func (b *Backend) LoadIdentity(_ context.Context, userID string) (*auth.Identity, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	identity, ok := b.byID[userID]
	if !ok {
		return nil, auth.NewError(auth.CodeInvalidCredential, "account no longer exists")
	}
	return clone(identity), nil
}

// OAuthURL points at a fake authorization endpoint of provider.
func (b *Backend) OAuthURL(provider, state, challenge string) (string, error) {
	if provider != "google" && provider != "keycloak" {
		return "", auth.NewError(auth.CodeInvalidRequest, "unknown oauth provider")
	}
	q := url.Values{}
	q.Set("state", state)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", "S256")
	return "https://" + provider + ".example.com/authorize?" + q.Encode(), nil
}

func (b *Backend) OAuthCancelled(string, string, string) error {
	return auth.NewError(auth.CodeProviderCancelled, "sign-in was cancelled")
}

func (b *Backend) ConfirmPasswordReset(_ context.Context, token, secret string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(secret) < 8 {
		return auth.NewError(auth.CodeWeakSecret, "password must be at least 8 characters")
	}
	id, ok := b.resets[token]
	if !ok {
		return auth.NewError(auth.CodeInvalidRequest, "reset link is invalid or expired")
	}
	delete(b.resets, token)
	for _, a := range b.byEmail {
		if a.identity.ID == id {
			a.secret = secret
		}
	}
	return nil
}

func clone(identity *auth.Identity) *auth.Identity {
	c := *identity
	return &c
}
