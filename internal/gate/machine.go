package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/profile"
)

// ErrClosed is returned by WaitSettled once the machine is closed.
var ErrClosed = errors.New("gate: session closed")

// IdentitySource reports who is signed in. Subscribe must call onChange
// once with the current identity before returning.
type IdentitySource interface {
	Subscribe(onChange func(*auth.Identity)) (unsubscribe func())
}

// ProfileStore is the part of the profile repository the machine uses.
type ProfileStore interface {
	Get(ctx context.Context, identityID string) (*profile.Profile, error)
	CreateDefault(ctx context.Context, identity *auth.Identity) (*profile.Profile, error)
}

type Options struct {
	// LoadTimeout bounds one fetch-or-create. Zero means no bound.
	LoadTimeout time.Duration
}

// Machine owns the session of one client. It holds a single subscription
// to its IdentitySource and turns identity changes into State
// transitions, loading or creating the profile as needed.
//
// Each identity event starts a new generation. A load result is applied
// only if its generation is still current and the identity it was
// started for is still the signed-in one; anything else is discarded.
type Machine struct {
	source IdentitySource
	store  ProfileStore
	opts   Options

	mu          sync.Mutex
	state       State
	gen         uint64
	identity    *auth.Identity
	cancelLoad  context.CancelFunc
	watchers    map[int]*watcher
	nextWatcher int
	changed     chan struct{}
	started     bool
	closed      bool
	unsubscribe func()

	// One goroutine at a time delivers states to watchers; it keeps going
	// until the latest version has been delivered.
	dispatching bool
	delivered   uint64

	wg sync.WaitGroup
}

func NewMachine(source IdentitySource, store ProfileStore, opts Options) *Machine {
	return &Machine{
		source:   source,
		store:    store,
		opts:     opts,
		state:    State{Phase: Initializing},
		watchers: make(map[int]*watcher),
		changed:  make(chan struct{}),
	}
}

// Start subscribes to the identity source. Calls after the first are
// no-ops.
func (m *Machine) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.source.Subscribe(m.onIdentity)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		unsubscribe()
		return
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Watch calls fn with the current state, then with later states. States
// arrive in version order, but a watcher that falls behind only sees the
// latest one. fn must not call Close or the returned cancel function.
func (m *Machine) Watch(fn func(State)) (cancel func()) {
	w := &watcher{fn: fn}

	m.mu.Lock()
	m.nextWatcher++
	n := m.nextWatcher
	m.watchers[n] = w
	st := m.state
	m.mu.Unlock()
	w.deliver(st)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, n)
			m.mu.Unlock()
			w.close()
		})
	}
}

// WaitSettled blocks until the session is SignedOut, Ready or Errored.
func (m *Machine) WaitSettled(ctx context.Context) (State, error) {
	for {
		m.mu.Lock()
		st, ch, closed := m.state, m.changed, m.closed
		m.mu.Unlock()

		if st.Settled() {
			return st, nil
		}
		if closed {
			return st, ErrClosed
		}

		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ch:
		}
	}
}

// Retry reloads the profile of the signed-in identity after an error.
// It reports whether a load was started.
func (m *Machine) Retry() bool {
	m.mu.Lock()
	if m.closed || m.state.Phase != Errored || m.identity == nil {
		m.mu.Unlock()
		return false
	}
	m.beginLoadLocked(m.identity)
	m.commitLocked()
	return true
}

// Close releases the identity subscription and waits for in-flight loads.
// The last state is kept for Snapshot.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.cancelLoad != nil {
		m.cancelLoad()
	}
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	watchers := m.watchers
	m.watchers = make(map[int]*watcher)
	close(m.changed)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.wg.Wait()
	for _, w := range watchers {
		w.close()
	}
}

func (m *Machine) onIdentity(identity *auth.Identity) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	if identity == nil {
		m.gen++
		m.identity = nil
		if m.cancelLoad != nil {
			m.cancelLoad()
			m.cancelLoad = nil
		}
		m.setLocked(State{Phase: SignedOut})
		m.commitLocked()
		return
	}

	m.beginLoadLocked(identity)
	m.commitLocked()
}

// beginLoadLocked supersedes any in-flight load and starts a new one.
func (m *Machine) beginLoadLocked(identity *auth.Identity) {
	m.gen++
	gen := m.gen
	m.identity = identity

	if m.cancelLoad != nil {
		m.cancelLoad()
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.opts.LoadTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), m.opts.LoadTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	m.cancelLoad = cancel

	m.setLocked(State{Phase: Initializing})

	m.wg.Add(1)
	go m.load(ctx, cancel, gen, identity)
}

func (m *Machine) load(ctx context.Context, cancel context.CancelFunc, gen uint64, identity *auth.Identity) {
	defer m.wg.Done()
	defer cancel()

	p, err := m.store.Get(ctx, identity.ID)
	if errors.Is(err, profile.ErrNotFound) {
		if !m.apply(gen, identity, State{Identity: identity, Phase: ProfilePending}) {
			return
		}
		p, err = m.store.CreateDefault(ctx, identity)
	}

	if err != nil {
		if m.current(gen, identity) {
			logger.Warn("session profile load failed", map[string]any{
				"identity_id": identity.ID,
				"error":       err,
			})
		}
		m.apply(gen, identity, State{Phase: Errored, Err: err})
		return
	}

	m.apply(gen, identity, State{Identity: identity, Profile: p, Phase: Ready})
}

func (m *Machine) current(gen uint64, identity *auth.Identity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentLocked(gen, identity)
}

func (m *Machine) currentLocked(gen uint64, identity *auth.Identity) bool {
	return !m.closed &&
		gen == m.gen &&
		m.identity != nil &&
		m.identity.ID == identity.ID
}

// apply installs st if the load of gen is still current.
func (m *Machine) apply(gen uint64, identity *auth.Identity, st State) bool {
	m.mu.Lock()
	if !m.currentLocked(gen, identity) {
		m.mu.Unlock()
		return false
	}
	m.setLocked(st)
	m.commitLocked()
	return true
}

func (m *Machine) setLocked(st State) {
	st.Version = m.state.Version + 1
	m.state = st
	close(m.changed)
	m.changed = make(chan struct{})
}

// commitLocked releases mu and notifies watchers.
func (m *Machine) commitLocked() {
	if m.dispatching {
		m.mu.Unlock()
		return
	}
	m.dispatching = true
	for m.state.Version != m.delivered {
		st := m.state
		m.delivered = st.Version
		targets := make([]*watcher, 0, len(m.watchers))
		for _, w := range m.watchers {
			targets = append(targets, w)
		}
		m.mu.Unlock()

		for _, w := range targets {
			w.deliver(st)
		}

		m.mu.Lock()
	}
	m.dispatching = false
	m.mu.Unlock()
}

type watcher struct {
	mu      sync.Mutex
	closed  bool
	version uint64
	seen    bool
	fn      func(State)
}

func (w *watcher) deliver(st State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || (w.seen && st.Version <= w.version) {
		return
	}
	w.seen = true
	w.version = st.Version
	w.fn(st)
}

func (w *watcher) close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}
