package livefield

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tapit-auth/internal/gate"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/profile"
)

// DefaultDebounce is the inactivity window before an edit is written.
const DefaultDebounce = 500 * time.Millisecond

// maxRetryDelay caps the backoff between retries of a failed write.
const maxRetryDelay = 30 * time.Second

var (
	ErrNotReady = errors.New("livefield: session not ready")
	ErrClosed   = errors.New("livefield: helper closed")
)

// Repository is the part of the profile repository a helper uses.
type Repository interface {
	Get(ctx context.Context, identityID string) (*profile.Profile, error)
	Update(ctx context.Context, identityID string, patch profile.Patch) (*profile.Profile, error)
	SubscribeToField(identityID, field string, onChange func(profile.FieldEvent)) (func(), error)
}

// Session is the part of gate.Machine a helper watches.
type Session interface {
	Watch(fn func(gate.State)) (cancel func())
}

type Options struct {
	Debounce time.Duration
}

// Helper keeps one profile field of the signed-in identity in sync with
// a local editable value.
//
// While the session is Ready the helper holds a field subscription for
// that identity. Remote values replace the local one unless an edit is
// still unwritten, or the value predates the last write this helper
// made. Edits are written after Debounce of inactivity. A write that
// fails because the store is unavailable keeps the edit unwritten and is
// retried with backoff; a rejected write drops the edit. Either failure
// is reported to OnError. Leaving Ready releases the subscription and
// drops unwritten edits.
type Helper[T any] struct {
	repo     Repository
	field    string
	debounce time.Duration

	// writeMu keeps this helper's writes in edit order.
	writeMu sync.Mutex

	mu          sync.Mutex
	value       T
	identityID  string
	binding     uint64
	bindCtx     context.Context
	cancelBind  context.CancelFunc
	unsubscribe func()
	cancelWatch func()
	dirty       bool
	edits       uint64
	lastWrite   time.Time
	failures    int
	timer       *time.Timer
	onChange    func(T)
	onError     func(error)
	closed      bool

	timers sync.WaitGroup
}

// New returns an unbound helper for field.
func New[T any](repo Repository, field string, opts Options) (*Helper[T], error) {
	if !profile.IsField(field) {
		return nil, &profile.Error{Code: profile.CodeInvalidField, Op: "livefield", Err: fmt.Errorf("unknown field %q", field)}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Helper[T]{
		repo:     repo,
		field:    field,
		debounce: opts.Debounce,
	}, nil
}

// Field returns the profile field this helper edits.
func (h *Helper[T]) Field() string {
	return h.field
}

// OnChange registers fn to be called with every value applied from the
// store. fn must not call Close.
func (h *Helper[T]) OnChange(fn func(T)) {
	h.mu.Lock()
	h.onChange = fn
	h.mu.Unlock()
}

// OnError registers fn to be called with every failed write. fn must
// not call Close.
func (h *Helper[T]) OnError(fn func(error)) {
	h.mu.Lock()
	h.onError = fn
	h.mu.Unlock()
}

// Bind starts following s. A helper binds at most once.
func (h *Helper[T]) Bind(s Session) {
	h.mu.Lock()
	if h.closed || h.cancelWatch != nil {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	cancel := s.Watch(h.onSession)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		return
	}
	h.cancelWatch = cancel
	h.mu.Unlock()
}

// Value returns the current local value.
func (h *Helper[T]) Value() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value
}

// Edit records a local edit and restarts the debounce window.
func (h *Helper[T]) Edit(v T) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.identityID == "" {
		return ErrNotReady
	}

	h.value = v
	h.dirty = true
	h.edits++
	h.failures = 0
	h.armLocked(h.debounce)
	return nil
}

// armLocked (re)starts the write timer.
func (h *Helper[T]) armLocked(d time.Duration) {
	if h.timer != nil && h.timer.Stop() {
		h.timers.Done()
	}
	h.timers.Add(1)
	h.timer = time.AfterFunc(d, func() {
		defer h.timers.Done()
		h.write()
	})
}

func (h *Helper[T]) retryDelayLocked() time.Duration {
	d := h.debounce
	for i := 1; i < h.failures && d < maxRetryDelay; i++ {
		d *= 2
	}
	return min(d, maxRetryDelay)
}

// Close releases the subscription. With flush, an unwritten edit is
// written first, provided the session is still Ready; otherwise it is
// dropped. No callback runs and no write starts after Close returns.
func (h *Helper[T]) Close(flush bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.timer != nil && h.timer.Stop() {
		h.timers.Done()
	}
	h.timer = nil
	cancelWatch := h.cancelWatch
	unsubscribe := h.unsubscribe
	h.cancelWatch = nil
	h.unsubscribe = nil
	if !flush {
		h.dirty = false
	}
	h.mu.Unlock()

	if cancelWatch != nil {
		cancelWatch()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
	if flush {
		h.write()
	}
	h.timers.Wait()

	h.mu.Lock()
	h.unbindLocked()
	h.mu.Unlock()
}

func (h *Helper[T]) onSession(st gate.State) {
	if st.Phase == gate.Ready && st.Identity != nil {
		h.bind(st)
		return
	}

	h.mu.Lock()
	if h.identityID == "" {
		h.mu.Unlock()
		return
	}
	unsubscribe := h.unbindLocked()
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (h *Helper[T]) bind(st gate.State) {
	id := st.Identity.ID

	h.mu.Lock()
	if h.closed || h.identityID == id {
		h.mu.Unlock()
		return
	}
	previous := h.unbindLocked()

	h.binding++
	binding := h.binding
	h.identityID = id
	h.bindCtx, h.cancelBind = context.WithCancel(context.Background())
	h.mu.Unlock()

	if previous != nil {
		previous()
	}

	if st.Profile != nil {
		h.applyProfile(binding, st.Profile)
	}

	unsubscribe, err := h.repo.SubscribeToField(id, h.field, func(ev profile.FieldEvent) {
		h.onRemote(binding, ev)
	})
	if err != nil {
		logger.Warn("field subscription failed", map[string]any{
			"identity_id": id,
			"field":       h.field,
			"error":       err,
		})
		return
	}

	h.mu.Lock()
	if h.closed || h.binding != binding {
		h.mu.Unlock()
		unsubscribe()
		return
	}
	h.unsubscribe = unsubscribe
	ctx := h.bindCtx
	h.mu.Unlock()

	// Catch writes made between the session load and the subscription.
	p, err := h.repo.Get(ctx, id)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("field refresh failed", map[string]any{
				"identity_id": id,
				"field":       h.field,
				"error":       err,
			})
		}
		return
	}
	h.applyProfile(binding, p)
}

// unbindLocked forgets the current identity and returns the subscription
// release function, which the caller runs after unlocking.
func (h *Helper[T]) unbindLocked() func() {
	h.binding++
	h.identityID = ""
	h.dirty = false
	h.failures = 0
	h.lastWrite = time.Time{}
	if h.timer != nil && h.timer.Stop() {
		h.timers.Done()
	}
	h.timer = nil
	if h.cancelBind != nil {
		h.cancelBind()
		h.cancelBind = nil
	}
	unsubscribe := h.unsubscribe
	h.unsubscribe = nil
	return unsubscribe
}

func (h *Helper[T]) applyProfile(binding uint64, p *profile.Profile) {
	raw, err := p.FieldValue(h.field)
	if err != nil {
		return
	}
	var at time.Time
	if p.UpdatedAt != nil {
		at = *p.UpdatedAt
	}
	h.apply(binding, raw, at)
}

func (h *Helper[T]) onRemote(binding uint64, ev profile.FieldEvent) {
	h.apply(binding, ev.Value, ev.At)
}

func (h *Helper[T]) apply(binding uint64, raw json.RawMessage, at time.Time) {
	h.mu.Lock()
	if h.closed || h.binding != binding || h.dirty || at.Before(h.lastWrite) {
		h.mu.Unlock()
		return
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		h.mu.Unlock()
		logger.Warn("field value decode failed", map[string]any{
			"field": h.field,
			"error": err,
		})
		return
	}
	h.value = v
	fn := h.onChange
	h.mu.Unlock()

	if fn != nil {
		fn(v)
	}
}

// write persists the unwritten edit, if any, for the bound identity.
func (h *Helper[T]) write() {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.mu.Lock()
	if !h.dirty || h.identityID == "" {
		h.mu.Unlock()
		return
	}
	id := h.identityID
	binding := h.binding
	edits := h.edits
	value := h.value
	ctx := h.bindCtx
	h.mu.Unlock()

	updated, err := h.repo.Update(ctx, id, profile.Patch{h.field: value})

	h.mu.Lock()
	if h.binding != binding {
		h.mu.Unlock()
		return
	}
	if err == nil {
		if updated.UpdatedAt != nil && updated.UpdatedAt.After(h.lastWrite) {
			h.lastWrite = *updated.UpdatedAt
		}
		if h.edits == edits {
			h.dirty = false
		}
		h.failures = 0
		h.mu.Unlock()
		return
	}

	retry := errors.Is(err, profile.ErrUnavailable) && !h.closed
	// After a newer edit the value stays dirty under that edit's timer.
	if h.edits == edits {
		if retry {
			h.failures++
			h.armLocked(h.retryDelayLocked())
		} else {
			h.dirty = false
		}
	}
	fn := h.onError
	h.mu.Unlock()

	logger.Warn("field write failed", map[string]any{
		"identity_id": id,
		"field":       h.field,
		"retry":       retry,
		"error":       err,
	})
	if fn != nil {
		fn(err)
	}
}
