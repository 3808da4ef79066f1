package keycloak

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tapit-auth/internal/auth/provider"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const providerName = "keycloak"

// New initializes a Keycloak OIDC provider using discovery.
// issuer must be the realm issuer URL, e.g.
// http://localhost:8081/realms/tapit
//
// Discovery runs against the internal issuer address while browsers are
// sent to publicBaseURL, so the authorization endpoint is rewritten.
func New(
	ctx context.Context,
	issuer string,
	clientID string,
	redirectURL string,
	publicBaseURL string,
) (*provider.OIDC, error) {

	if issuer == "" || clientID == "" || redirectURL == "" || publicBaseURL == "" {
		return nil, errors.New("keycloak oauth config missing required fields")
	}

	oidcProvider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to init keycloak oidc provider: %w", err)
	}

	ep := oidcProvider.Endpoint()
	ep.AuthURL = publicAuthURL(issuer, publicBaseURL)

	oauthCfg := &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Endpoint:    ep,
		Scopes: []string{
			oidc.ScopeOpenID,
			"email",
			"profile",
		},
	}

	return provider.NewOIDC(
		providerName,
		oauthCfg,
		oidcProvider.Verifier(&oidc.Config{ClientID: clientID}),
	), nil
}

// publicAuthURL keeps the realm path of issuer and swaps its host for
// publicBaseURL.
func publicAuthURL(issuer, publicBaseURL string) string {
	realmPath := "/realms/"
	if i := strings.Index(issuer, realmPath); i >= 0 {
		realmPath = issuer[i:]
	}
	return strings.TrimRight(publicBaseURL, "/") + realmPath + "/protocol/openid-connect/auth"
}
