package profile

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps documents as JSON in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	raw, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return decode(raw)
}

func (m *MemoryStore) Insert(_ context.Context, p *Profile) (*Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if raw, ok := m.docs[p.UID]; ok {
		existing, err := decode(raw)
		return existing, false, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, false, err
	}
	m.docs[p.UID] = raw
	stored, err := decode(raw)
	return stored, true, err
}

func (m *MemoryStore) Merge(_ context.Context, id string, patch []byte, at time.Time) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}

	var doc, fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		doc[k] = v
	}
	ts, err := json.Marshal(at)
	if err != nil {
		return nil, err
	}
	doc[FieldUpdatedAt] = ts

	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	// Round-trip through the schema so stored documents stay canonical.
	p, err := decode(merged)
	if err != nil {
		return nil, err
	}
	canonical, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	m.docs[id] = canonical
	return p, nil
}

func decode(raw []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MemoryLookup is an in-process handle table.
type MemoryLookup struct {
	mu      sync.RWMutex
	handles map[string]string
}

func NewMemoryLookup() *MemoryLookup {
	return &MemoryLookup{handles: make(map[string]string)}
}

func (m *MemoryLookup) Assign(_ context.Context, handle, identityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[NormalizeHandle(handle)] = identityID
	return nil
}

func (m *MemoryLookup) Resolve(_ context.Context, handle string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.handles[NormalizeHandle(handle)]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// MemoryBroker delivers events synchronously on the publishing goroutine.
type MemoryBroker struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]*subscription
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[int]*subscription)}
}

func (b *MemoryBroker) Publish(_ context.Context, ev FieldEvent) error {
	key := ev.IdentityID + "/" + ev.Field
	b.mu.Lock()
	targets := make([]*subscription, 0, len(b.subs[key]))
	for _, s := range b.subs[key] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(identityID, field string, fn func(FieldEvent)) (func(), error) {
	key := identityID + "/" + field
	s := &subscription{fn: fn}

	b.mu.Lock()
	b.next++
	n := b.next
	if b.subs[key] == nil {
		b.subs[key] = make(map[int]*subscription)
	}
	b.subs[key][n] = s
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[key], n)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
			b.mu.Unlock()
			s.close()
		})
	}, nil
}

// subscription serializes delivery against close so that no callback
// runs after close returns. fn must not unsubscribe itself.
type subscription struct {
	mu     sync.Mutex
	closed bool
	fn     func(FieldEvent)
}

func (s *subscription) deliver(ev FieldEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(ev)
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
