package session

import (
	"context"
	"time"
)

// Login is a persisted sign-in bound to one browser client. It lets a
// client restore its identity after a reload or a process restart.
type Login struct {
	ClientID  string    `json:"client_id"` // value of the client cookie
	UserID    string    `json:"user_id"`   // references users.id
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"` // absolute expiry time
}

// Expired reports whether the login is past its absolute expiry.
func (l Login) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Store defines how logins are stored and retrieved.
// Get returns (nil, nil) when no login exists.
type Store interface {
	Create(ctx context.Context, l Login) error
	Get(ctx context.Context, clientID string) (*Login, error)
	Delete(ctx context.Context, clientID string) error
}
