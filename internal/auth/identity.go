package auth

// Identity is an authenticated external account as seen by the rest of
// the system. It contains facts only, no decisions.
type Identity struct {
	ID             string // internal identity id (users.id)
	Provider       string // "password", "google", "keycloak"
	ProviderUserID string // provider-scoped unique user identifier (sub)
	Email          string
	EmailVerified  bool
	DisplayName    string
	PhotoURL       string

	// PreferredHandle is the handle requested at sign-up, if any.
	PreferredHandle string
}

// ProviderPassword names identities created through email/password sign-up.
const ProviderPassword = "password"
