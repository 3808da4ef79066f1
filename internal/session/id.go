package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const (
	idBytes = 32

	// MaxIDLen bounds ids accepted from the client cookie.
	MaxIDLen = 128
)

// GenerateID returns a random url-safe id carrying 256 bits of entropy.
// Client ids and password reset tokens both use it.
func GenerateID() (string, error) {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidID reports whether id can be used as a client id: non-empty, at
// most MaxIDLen long and drawn from the url-safe base64 alphabet. The id
// ends up in Redis keys, so nothing else is accepted.
func ValidID(id string) bool {
	if id == "" || len(id) > MaxIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
