package credentials

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	HashVersionBcrypt = "bcrypt"

	// MinPasswordLength is the shortest accepted secret.
	MinPasswordLength = 8
	// MaxPasswordLength is the longest secret bcrypt hashes without
	// truncation.
	MaxPasswordLength = 72
)

var (
	ErrWeakPassword    = errors.New("password too short")
	ErrPasswordTooLong = errors.New("password too long")
)

// Hasher hashes password secrets with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using cost, or bcrypt.DefaultCost when cost
// is out of bcrypt's range.
func NewHasher(cost int) Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return Hasher{cost: cost}
}

// Hash returns the bcrypt hash of secret and its hash version.
func (h Hasher) Hash(secret string) (hash string, version string, err error) {
	switch {
	case len(secret) < MinPasswordLength:
		return "", "", ErrWeakPassword
	case len(secret) > MaxPasswordLength:
		return "", "", ErrPasswordTooLong
	}

	b, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", "", fmt.Errorf("credentials: hash: %w", err)
	}
	return string(b), HashVersionBcrypt, nil
}

// Verify returns ErrInvalidCredentials when secret does not match hash.
func (h Hasher) Verify(hash, secret string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("credentials: verify: %w", err)
	}
	return nil
}

// Stale reports whether hash was made at a lower cost than h uses.
func (h Hasher) Stale(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	return err == nil && cost < h.cost
}
