package provider

import (
	"context"
	"errors"
	"fmt"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/logger"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDC is an authorization-code + PKCE provider backed by an OpenID
// Connect issuer. Concrete providers only differ in how they build it.
type OIDC struct {
	name        string
	oauthConfig *oauth2.Config
	verifier    *oidc.IDTokenVerifier
	authParams  []oauth2.AuthCodeOption
}

// NewOIDC wraps an already discovered issuer.
func NewOIDC(
	name string,
	oauthConfig *oauth2.Config,
	verifier *oidc.IDTokenVerifier,
	authParams ...oauth2.AuthCodeOption,
) *OIDC {
	return &OIDC{
		name:        name,
		oauthConfig: oauthConfig,
		verifier:    verifier,
		authParams:  authParams,
	}
}

func (p *OIDC) Name() string {
	return p.name
}

// AuthCodeURL builds the OAuth authorization URL with PKCE parameters.
func (p *OIDC) AuthCodeURL(state string, codeChallenge string) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	}
	opts = append(opts, p.authParams...)
	return p.oauthConfig.AuthCodeURL(state, opts...)
}

type idClaims struct {
	Subject           string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	Picture           string `json:"picture"`
	PreferredUsername string `json:"preferred_username"`
}

// ExchangeCode exchanges the authorization code and returns a normalized
// identity. It does not create users or sessions.
func (p *OIDC) ExchangeCode(
	ctx context.Context,
	code string,
	codeVerifier string,
) (*auth.Identity, error) {

	token, err := p.oauthConfig.Exchange(
		ctx,
		code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		return nil, fmt.Errorf("%s token exchange failed: %w", p.name, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%s did not return id_token", p.name)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%s id_token verification failed: %w", p.name, err)
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s id_token claims parse failed: %w", p.name, err)
	}

	if claims.Subject == "" || claims.Email == "" {
		return nil, errors.New(p.name + " id_token missing required claims")
	}

	logger.Info("oidc identity verified", map[string]any{
		"provider":       p.name,
		"issuer":         idToken.Issuer,
		"email":          logger.MaskEmail(claims.Email),
		"email_verified": claims.EmailVerified,
		"expiry_unix":    idToken.Expiry.Unix(),
	})

	displayName := claims.Name
	if displayName == "" {
		displayName = claims.PreferredUsername
	}

	return &auth.Identity{
		Provider:       p.name,
		ProviderUserID: claims.Subject,
		Email:          claims.Email,
		EmailVerified:  claims.EmailVerified,
		DisplayName:    displayName,
		PhotoURL:       claims.Picture,
	}, nil
}
