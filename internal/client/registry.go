package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/gate"
	"tapit-auth/internal/identity"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/session"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrClosed is returned once the registry is closed.
	ErrClosed = errors.New("client: registry closed")
	// ErrNoSession is returned by Get for a browser that has neither a
	// live client nor a persisted login. Such a browser is signed out.
	ErrNoSession = errors.New("client: no session")
)

// SignInFunc signs a's identity in. It runs against a fresh client.
type SignInFunc func(ctx context.Context, a *identity.Adapter) (*auth.Identity, error)

// Client is the live state of one browser: its identity adapter and the
// session machine fed by it.
type Client struct {
	ID      string
	Adapter *identity.Adapter
	Machine *gate.Machine

	mu       sync.Mutex
	lastSeen time.Time
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *Client) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

type Options struct {
	// IdleTTL is how long a client may go without requests before it is
	// torn down. Defaults to 30 minutes.
	IdleTTL time.Duration
	// LoginTTL is passed to every adapter.
	LoginTTL time.Duration
	// LoadTimeout is passed to every machine.
	LoadTimeout time.Duration
	Now         func() time.Time
}

// Registry owns every Adapter and Machine of the process. A client is
// created by a sign-in, or by the first request of a browser holding a
// persisted login, and destroyed once idle. Signed-out browsers have no
// client.
type Registry struct {
	backend  identity.Backend
	logins   session.Store
	profiles gate.ProfileStore
	opts     Options

	group singleflight.Group

	mu      sync.Mutex
	clients map[string]*Client
	closed  bool
}

func NewRegistry(backend identity.Backend, logins session.Store, profiles gate.ProfileStore, opts Options) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		backend:  backend,
		logins:   logins,
		profiles: profiles,
		opts:     opts,
		clients:  make(map[string]*Client),
	}
}

// Get returns the client of clientID. A browser without a live client is
// restored from its persisted login; without one Get returns
// ErrNoSession.
func (r *Registry) Get(ctx context.Context, clientID string) (*Client, error) {
	if c, ok := r.lookup(clientID); ok {
		return c, nil
	}
	if r.isClosed() {
		return nil, ErrClosed
	}
	if r.logins == nil {
		return nil, ErrNoSession
	}

	v, err, _ := r.group.Do(clientID, func() (any, error) {
		if c, ok := r.lookup(clientID); ok {
			return c, nil
		}

		login, err := r.logins.Get(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("client: load login: %w", err)
		}
		if login == nil {
			return nil, ErrNoSession
		}

		adapter := identity.NewAdapter(ctx, clientID, r.backend, r.logins, identity.AdapterOptions{
			LoginTTL: r.opts.LoginTTL,
			Now:      r.opts.Now,
			Login:    login,
		})
		if adapter.Current() == nil {
			// Expired or revoked; restore already dropped the record.
			return nil, ErrNoSession
		}
		return r.add(adapter)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

// SignIn runs signIn against a fresh client under a newly generated id.
// On success the fresh client replaces prev, which may be nil: prev is
// signed out, its login deleted and the client destroyed, so its id no
// longer carries any identity. On failure prev is left untouched.
func (r *Registry) SignIn(ctx context.Context, prev *Client, signIn SignInFunc) (*Client, *auth.Identity, error) {
	if r.isClosed() {
		return nil, nil, ErrClosed
	}

	clientID, err := session.GenerateID()
	if err != nil {
		return nil, nil, err
	}

	adapter := identity.NewAdapter(ctx, clientID, r.backend, r.logins, identity.AdapterOptions{
		LoginTTL: r.opts.LoginTTL,
		Now:      r.opts.Now,
		Fresh:    true,
	})
	signedIn, err := signIn(ctx, adapter)
	if err != nil {
		return nil, nil, err
	}

	c, err := r.add(adapter)
	if err != nil {
		_ = adapter.SignOut(ctx)
		return nil, nil, err
	}

	if prev != nil {
		r.retire(ctx, prev)
	}
	return c, signedIn, nil
}

// add registers and starts the client of adapter.
func (r *Registry) add(adapter *identity.Adapter) (*Client, error) {
	clientID := adapter.ClientID()
	machine := gate.NewMachine(adapter, r.profiles, gate.Options{LoadTimeout: r.opts.LoadTimeout})
	c := &Client{ID: clientID, Adapter: adapter, Machine: machine, lastSeen: r.opts.Now()}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.clients[clientID] = c
	r.mu.Unlock()

	machine.Start()
	logger.Info("client session created", map[string]any{
		"client_id": logger.MaskID(clientID),
		"signed_in": adapter.Current() != nil,
	})
	return c, nil
}

// retire signs c out and destroys it.
func (r *Registry) retire(ctx context.Context, c *Client) {
	if err := c.Adapter.SignOut(ctx); err != nil {
		logger.Warn("client sign-out failed", map[string]any{
			"client_id": logger.MaskID(c.ID),
			"error":     err,
		})
	}

	r.mu.Lock()
	if r.clients[c.ID] == c {
		delete(r.clients, c.ID)
	}
	r.mu.Unlock()

	c.Machine.Close()
}

func (r *Registry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) lookup(clientID string) (*Client, bool) {
	r.mu.Lock()
	c, ok := r.clients[clientID]
	closed := r.closed
	r.mu.Unlock()
	if !ok || closed {
		return nil, false
	}
	c.touch(r.opts.Now())
	return c, true
}

// Len returns the number of live clients.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Sweep destroys clients idle for longer than IdleTTL and returns how
// many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.opts.Now().Add(-r.opts.IdleTTL)

	r.mu.Lock()
	var idle []*Client
	for id, c := range r.clients {
		if c.idleSince().Before(cutoff) {
			idle = append(idle, c)
			delete(r.clients, id)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Machine.Close()
	}
	if len(idle) > 0 {
		logger.Info("idle client sessions closed", map[string]any{"count": len(idle)})
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done, then closes the registry.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close destroys every client. Later calls to Get fail.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		all = append(all, c)
	}
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range all {
		c.Machine.Close()
	}
}
