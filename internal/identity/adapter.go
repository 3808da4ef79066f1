package identity

import (
	"context"
	"sync"
	"time"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/session"
)

// Backend is the part of Service an Adapter needs.
type Backend interface {
	SignInWithPassword(ctx context.Context, email, secret string) (*auth.Identity, error)
	SignInWithOAuth(ctx context.Context, provider, code, verifier string) (*auth.Identity, error)
	SignUp(ctx context.Context, email, secret, handle string) (*auth.Identity, error)
	SendPasswordReset(ctx context.Context, email string) error
	LoadIdentity(ctx context.Context, userID string) (*auth.Identity, error)
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	// LoginTTL is the absolute lifetime of a persisted login. Defaults to 24h.
	LoginTTL time.Duration
	Now      func() time.Time

	// Fresh marks a client id that was just generated. No persisted
	// login is looked up for it.
	Fresh bool
	// Login, when set, is restored instead of reading the store.
	Login *session.Login
}

// Adapter is the identity provider of one browser client. It knows who is
// signed in on that client and tells subscribers when that changes.
//
// Subscriber callbacks run one at a time, in emission order, and must
// not call back into the Adapter.
type Adapter struct {
	clientID string
	backend  Backend
	logins   session.Store
	ttl      time.Duration
	now      func() time.Time

	// emitMu serializes emissions and initial deliveries.
	emitMu sync.Mutex

	mu        sync.Mutex
	current   *auth.Identity
	listeners map[int]*listener
	next      int
}

// NewAdapter builds the adapter of clientID and restores a persisted,
// unexpired login if one exists.
func NewAdapter(ctx context.Context, clientID string, backend Backend, logins session.Store, opts AdapterOptions) *Adapter {
	if opts.LoginTTL <= 0 {
		opts.LoginTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	a := &Adapter{
		clientID:  clientID,
		backend:   backend,
		logins:    logins,
		ttl:       opts.LoginTTL,
		now:       opts.Now,
		listeners: make(map[int]*listener),
	}
	if !opts.Fresh {
		a.current = a.restore(ctx, opts.Login)
	}
	return a
}

func (a *Adapter) restore(ctx context.Context, login *session.Login) *auth.Identity {
	if a.logins == nil || a.clientID == "" {
		return nil
	}

	if login == nil {
		var err error
		login, err = a.logins.Get(ctx, a.clientID)
		if err != nil {
			logger.Warn("login restore failed", map[string]any{"error": err})
			return nil
		}
	}
	if login == nil || login.ClientID != a.clientID {
		return nil
	}
	if login.Expired(a.now()) {
		_ = a.logins.Delete(ctx, a.clientID)
		return nil
	}

	identity, err := a.backend.LoadIdentity(ctx, login.UserID)
	if err != nil {
		logger.Warn("login restore failed", map[string]any{
			"user_id": login.UserID,
			"error":   err,
		})
		if auth.CodeOf(err) == auth.CodeInvalidCredential {
			_ = a.logins.Delete(ctx, a.clientID)
		}
		return nil
	}
	return identity
}

// ClientID returns the browser client this adapter belongs to.
func (a *Adapter) ClientID() string {
	return a.clientID
}

// Current returns the signed-in identity, or nil.
func (a *Adapter) Current() *auth.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return clone(a.current)
}

// Subscribe calls onChange with the current identity (nil when signed
// out) before returning, then again on every sign-in and sign-out. Once
// the returned function returns, onChange is never called again.
func (a *Adapter) Subscribe(onChange func(*auth.Identity)) func() {
	l := &listener{fn: onChange}

	a.emitMu.Lock()
	a.mu.Lock()
	a.next++
	n := a.next
	a.listeners[n] = l
	current := clone(a.current)
	a.mu.Unlock()
	l.deliver(current)
	a.emitMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, n)
			a.mu.Unlock()
			l.close()
		})
	}
}

func (a *Adapter) SignInWithPassword(ctx context.Context, email, secret string) (*auth.Identity, error) {
	identity, err := a.backend.SignInWithPassword(ctx, email, secret)
	if err != nil {
		return nil, err
	}
	a.signedIn(ctx, identity)
	return clone(identity), nil
}

// SignInWithOAuth completes an authorization-code flow started by the
// HTTP layer.
func (a *Adapter) SignInWithOAuth(ctx context.Context, provider, code, verifier string) (*auth.Identity, error) {
	identity, err := a.backend.SignInWithOAuth(ctx, provider, code, verifier)
	if err != nil {
		return nil, err
	}
	a.signedIn(ctx, identity)
	return clone(identity), nil
}

// SignUp creates an account and signs it in.
func (a *Adapter) SignUp(ctx context.Context, email, secret, handle string) (*auth.Identity, error) {
	identity, err := a.backend.SignUp(ctx, email, secret, handle)
	if err != nil {
		return nil, err
	}
	a.signedIn(ctx, identity)
	return clone(identity), nil
}

// SignOut forgets the signed-in identity. Signing out while signed out
// emits nothing.
func (a *Adapter) SignOut(ctx context.Context) error {
	if a.logins != nil && a.clientID != "" {
		if err := a.logins.Delete(ctx, a.clientID); err != nil {
			logger.Warn("login delete failed", map[string]any{"error": err})
		}
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	prev := a.current
	a.current = nil
	targets := a.snapshotLocked()
	a.mu.Unlock()

	if prev == nil {
		return nil
	}

	logger.Info("signed out", map[string]any{
		"user_id":   prev.ID,
		"client_id": logger.MaskID(a.clientID),
	})
	for _, l := range targets {
		l.deliver(nil)
	}
	return nil
}

func (a *Adapter) SendPasswordReset(ctx context.Context, email string) error {
	return a.backend.SendPasswordReset(ctx, email)
}

func (a *Adapter) signedIn(ctx context.Context, identity *auth.Identity) {
	if a.logins != nil && a.clientID != "" {
		now := a.now()
		err := a.logins.Create(ctx, session.Login{
			ClientID:  a.clientID,
			UserID:    identity.ID,
			CreatedAt: now,
			ExpiresAt: now.Add(a.ttl),
		})
		if err != nil {
			// Sign-in proceeds unpersisted.
			logger.Warn("login persist failed", map[string]any{
				"user_id": identity.ID,
				"error":   err,
			})
		}
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	a.current = clone(identity)
	targets := a.snapshotLocked()
	a.mu.Unlock()

	logger.Info("signed in", map[string]any{
		"user_id":   identity.ID,
		"provider":  identity.Provider,
		"client_id": logger.MaskID(a.clientID),
	})
	for _, l := range targets {
		l.deliver(clone(identity))
	}
}

func (a *Adapter) snapshotLocked() []*listener {
	out := make([]*listener, 0, len(a.listeners))
	for _, l := range a.listeners {
		out = append(out, l)
	}
	return out
}

type listener struct {
	mu     sync.Mutex
	closed bool
	fn     func(*auth.Identity)
}

func (l *listener) deliver(identity *auth.Identity) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.fn(identity)
}

func (l *listener) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func clone(identity *auth.Identity) *auth.Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}
