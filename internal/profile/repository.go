package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/logger"
)

// Store persists profile documents. Insert must not overwrite an
// existing document and Merge must apply the patch atomically so writers
// of disjoint fields never lose each other's updates.
type Store interface {
	Get(ctx context.Context, id string) (*Profile, error)
	// Insert stores p if no document exists for p.UID and returns the
	// stored document. created is false when one already existed.
	Insert(ctx context.Context, p *Profile) (stored *Profile, created bool, err error)
	// Merge applies patch (validated JSON) and returns the new document.
	Merge(ctx context.Context, id string, patch []byte, at time.Time) (*Profile, error)
}

// Lookup maps handles to identity ids. Uniqueness is advisory.
type Lookup interface {
	Assign(ctx context.Context, handle, identityID string) error
	Resolve(ctx context.Context, handle string) (string, error)
}

// FieldEvent is a pushed change of one profile field.
type FieldEvent struct {
	IdentityID string          `json:"identityId"`
	Field      string          `json:"field"`
	Value      json.RawMessage `json:"value"`
	At         time.Time       `json:"at"`
}

// Broker fans out field events. Once the returned unsubscribe function
// returns, fn is never called again.
type Broker interface {
	Publish(ctx context.Context, ev FieldEvent) error
	Subscribe(identityID, field string, fn func(FieldEvent)) (unsubscribe func(), err error)
}

// Repository is the profile API used by the session machine, widgets and
// handlers.
type Repository struct {
	store  Store
	lookup Lookup
	broker Broker
	now    func() time.Time
}

func NewRepository(store Store, lookup Lookup, broker Broker) *Repository {
	return &Repository{
		store:  store,
		lookup: lookup,
		broker: broker,
		now:    time.Now,
	}
}

func (r *Repository) Get(ctx context.Context, identityID string) (*Profile, error) {
	p, err := r.store.Get(ctx, identityID)
	if err != nil {
		return nil, classify("get", err)
	}
	return p, nil
}

// CreateDefault creates the first profile of identity. If a profile
// already exists it is returned unchanged.
func (r *Repository) CreateDefault(ctx context.Context, identity *auth.Identity) (*Profile, error) {
	if identity == nil || identity.ID == "" {
		return nil, &Error{Code: CodeInvalidField, Op: "create", Err: errors.New("identity id is required")}
	}

	stored, created, err := r.store.Insert(ctx, NewDefault(identity, r.now()))
	if err != nil {
		return nil, classify("create", err)
	}

	if created {
		r.assignHandle(ctx, stored.Username, stored.UID)
		logger.Info("profile created", map[string]any{
			"identity_id": stored.UID,
			"username":    stored.Username,
		})
	}

	return stored, nil
}

// Update merges patch into the existing profile. It never creates one.
func (r *Repository) Update(ctx context.Context, identityID string, patch Patch) (*Profile, error) {
	raw, err := patch.Validate()
	if err != nil {
		return nil, err
	}

	at := r.now().UTC()
	updated, err := r.store.Merge(ctx, identityID, raw, at)
	if err != nil {
		return nil, classify("update", err)
	}

	if _, ok := patch[FieldUsername]; ok {
		r.assignHandle(ctx, updated.Username, identityID)
	}

	r.publish(ctx, identityID, patch, updated, at)

	return updated, nil
}

// SubscribeToField pushes every change of one field of identityID.
func (r *Repository) SubscribeToField(identityID, field string, onChange func(FieldEvent)) (func(), error) {
	if !IsField(field) {
		return nil, &Error{Code: CodeInvalidField, Op: "subscribe", Err: fmt.Errorf("unknown field %q", field)}
	}
	unsubscribe, err := r.broker.Subscribe(identityID, field, onChange)
	if err != nil {
		return nil, classify("subscribe", err)
	}
	return unsubscribe, nil
}

// ResolveHandle returns the profile owning handle.
func (r *Repository) ResolveHandle(ctx context.Context, handle string) (*Profile, error) {
	id, err := r.lookup.Resolve(ctx, NormalizeHandle(handle))
	if err != nil {
		return nil, classify("lookup", err)
	}
	return r.Get(ctx, id)
}

// assignHandle is best-effort: failures are logged, never returned.
func (r *Repository) assignHandle(ctx context.Context, handle, identityID string) {
	if handle == "" {
		return
	}
	if err := r.lookup.Assign(ctx, handle, identityID); err != nil {
		lwe := &LookupWriteError{Handle: handle, IdentityID: identityID, Err: err}
		logger.Warn("handle lookup write failed", map[string]any{
			"identity_id": identityID,
			"handle":      handle,
			"error":       lwe,
		})
	}
}

func (r *Repository) publish(ctx context.Context, identityID string, patch Patch, updated *Profile, at time.Time) {
	for field := range patch {
		value, err := updated.FieldValue(field)
		if err != nil {
			logger.Warn("field value encode failed", map[string]any{"field": field, "error": err})
			continue
		}
		ev := FieldEvent{IdentityID: identityID, Field: field, Value: value, At: at}
		if err := r.broker.Publish(ctx, ev); err != nil {
			logger.Warn("field event publish failed", map[string]any{
				"identity_id": identityID,
				"field":       field,
				"error":       err,
			})
		}
	}
}
