package resolver

import (
	"context"
	"errors"

	"tapit-auth/internal/auth"
)

// ErrUnknownUser is returned by Load when no user row exists.
var ErrUnknownUser = errors.New("resolver: unknown user")

// Resolver determines which internal user an external identity belongs to.
// It is the ONLY place where identity-to-user mapping logic lives.
type Resolver interface {
	Resolve(
		ctx context.Context,
		identity *auth.Identity,
	) (userID string, err error)

	// Load returns the stored identity facts of userID.
	Load(ctx context.Context, userID string) (*auth.Identity, error)
}
