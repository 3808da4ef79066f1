package provider

import (
	"context"

	"tapit-auth/internal/auth"
)

// OAuthProvider is one external sign-in provider (Google, Keycloak).
// It only turns an authorization code into identity facts. Resolving
// those facts to a user and signing the client in happen elsewhere.
type OAuthProvider interface {
	// Name is the path segment of the provider's login and callback routes.
	Name() string

	// AuthCodeURL returns the consent URL for state and the S256 PKCE
	// challenge.
	AuthCodeURL(state, codeChallenge string) string

	// ExchangeCode redeems code with the PKCE verifier, verifies the ID
	// token and returns the normalized identity. The identity has no
	// user id yet.
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*auth.Identity, error)
}
