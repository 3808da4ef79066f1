package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/auth/credentials"
	"tapit-auth/internal/auth/provider"
	"tapit-auth/internal/auth/resolver"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/session"
)

// Credentials is the password store.
type Credentials interface {
	Register(ctx context.Context, email, password, displayName string) (string, error)
	Authenticate(ctx context.Context, email, password string) (string, error)
	UserIDByEmail(ctx context.Context, email string) (string, error)
	SetPassword(ctx context.Context, userID, password string) error
}

// Service is the server-wide identity backend shared by every client
// adapter. It holds no per-client state.
type Service struct {
	credentials  Credentials
	providers    *provider.Registry
	resolver     resolver.Resolver
	limiter      Limiter
	resetTokens  ResetTokens
	mailer       Mailer
	resetURLBase string
}

type ServiceConfig struct {
	Credentials  Credentials
	Providers    *provider.Registry
	Resolver     resolver.Resolver
	Limiter      Limiter
	ResetTokens  ResetTokens
	Mailer       Mailer
	ResetURLBase string
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Mailer == nil {
		cfg.Mailer = LogMailer{}
	}
	if cfg.Providers == nil {
		cfg.Providers = provider.NewRegistry()
	}
	return &Service{
		credentials:  cfg.Credentials,
		providers:    cfg.Providers,
		resolver:     cfg.Resolver,
		limiter:      cfg.Limiter,
		resetTokens:  cfg.ResetTokens,
		mailer:       cfg.Mailer,
		resetURLBase: cfg.ResetURLBase,
	}
}

func (s *Service) SignInWithPassword(ctx context.Context, email, secret string) (*auth.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := s.allow(ctx, "signin:"+email); err != nil {
		return nil, err
	}

	userID, err := s.credentials.Authenticate(ctx, email, secret)
	if errors.Is(err, credentials.ErrInvalidCredentials) {
		logger.Warn("password sign-in rejected", map[string]any{
			"email": logger.MaskEmail(email),
		})
		return nil, auth.NewError(auth.CodeInvalidCredential, "email or password is incorrect")
	}
	if err != nil {
		return nil, auth.Wrap(auth.CodeUnavailable, "sign-in failed", err)
	}

	return s.LoadIdentity(ctx, userID)
}

// SignUp creates a password account. handle becomes the display name of
// the new identity and the preferred handle of its profile.
func (s *Service) SignUp(ctx context.Context, email, secret, handle string) (*auth.Identity, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, auth.NewError(auth.CodeInvalidRequest, "a username is required")
	}
	if len(secret) < credentials.MinPasswordLength {
		return nil, auth.NewError(auth.CodeWeakSecret, "password must be at least 8 characters")
	}

	userID, err := s.credentials.Register(ctx, email, secret, handle)
	switch {
	case errors.Is(err, credentials.ErrWeakPassword):
		return nil, auth.Wrap(auth.CodeWeakSecret, "password must be at least 8 characters", err)
	case errors.Is(err, credentials.ErrPasswordTooLong):
		return nil, auth.Wrap(auth.CodeInvalidRequest, "password must be at most 72 characters", err)
	case errors.Is(err, credentials.ErrAlreadyRegistered):
		return nil, auth.Wrap(auth.CodeAccountExists, "an account already exists for this email", err)
	case err != nil:
		return nil, auth.Wrap(auth.CodeUnavailable, "sign-up failed", err)
	}

	identity, err := s.LoadIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}
	identity.PreferredHandle = handle

	logger.Info("account registered", map[string]any{
		"user_id": userID,
		"email":   logger.MaskEmail(email),
	})

	return identity, nil
}

// OAuthURL returns the authorization URL of providerName.
func (s *Service) OAuthURL(providerName, state, challenge string) (string, error) {
	p, err := s.providers.Get(providerName)
	if err != nil {
		return "", auth.Wrap(auth.CodeInvalidRequest, "unknown oauth provider", err)
	}
	return p.AuthCodeURL(state, challenge), nil
}

// OAuthCancelled reports a callback that carried an error instead of a
// code, which is how providers signal a dismissed consent screen.
func (s *Service) OAuthCancelled(providerName, reason, description string) error {
	logger.Warn("oidc callback returned error", map[string]any{
		"provider": providerName,
		"error":    reason,
		"desc":     description,
	})
	return auth.NewError(auth.CodeProviderCancelled, "sign-in was cancelled")
}

func (s *Service) SignInWithOAuth(ctx context.Context, providerName, code, verifier string) (*auth.Identity, error) {
	p, err := s.providers.Get(providerName)
	if err != nil {
		return nil, auth.Wrap(auth.CodeInvalidRequest, "unknown oauth provider", err)
	}
	if code == "" {
		return nil, auth.NewError(auth.CodeProviderCancelled, "sign-in was cancelled")
	}
	if verifier == "" {
		return nil, auth.NewError(auth.CodeInvalidRequest, "missing pkce verifier")
	}

	external, err := p.ExchangeCode(ctx, code, verifier)
	if err != nil {
		logger.Warn("oauth code exchange failed", map[string]any{
			"provider": providerName,
			"error":    err,
		})
		return nil, auth.Wrap(auth.CodeInvalidCredential, "authentication failed", err)
	}

	userID, err := s.resolver.Resolve(ctx, external)
	if err != nil {
		return nil, auth.Wrap(auth.CodeUnavailable, "failed to resolve user", err)
	}

	identity, err := s.LoadIdentity(ctx, userID)
	if err != nil {
		return nil, err
	}
	// The identity that signed in, not the most recent one on record.
	identity.Provider = external.Provider
	identity.ProviderUserID = external.ProviderUserID
	if identity.PhotoURL == "" {
		identity.PhotoURL = external.PhotoURL
	}
	return identity, nil
}

// SendPasswordReset mails a one-hour reset link. It succeeds without
// sending anything when no account uses email.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.allow(ctx, "reset:"+email); err != nil {
		return err
	}

	userID, err := s.credentials.UserIDByEmail(ctx, email)
	if errors.Is(err, credentials.ErrUnknownEmail) {
		logger.Info("password reset for unknown email", map[string]any{
			"email": logger.MaskEmail(email),
		})
		return nil
	}
	if err != nil {
		return auth.Wrap(auth.CodeUnavailable, "password reset failed", err)
	}

	token, err := session.GenerateID()
	if err != nil {
		return auth.Wrap(auth.CodeUnavailable, "password reset failed", err)
	}
	if err := s.resetTokens.Put(ctx, token, userID, ResetTTL); err != nil {
		return auth.Wrap(auth.CodeUnavailable, "password reset failed", err)
	}

	if err := s.mailer.SendPasswordReset(ctx, email, s.resetURLBase+token); err != nil {
		return auth.Wrap(auth.CodeUnavailable, "password reset mail failed", err)
	}
	return nil
}

// ConfirmPasswordReset consumes token and sets a new password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, secret string) error {
	if token == "" {
		return auth.NewError(auth.CodeInvalidRequest, "reset token is required")
	}
	if len(secret) < credentials.MinPasswordLength {
		return auth.NewError(auth.CodeWeakSecret, "password must be at least 8 characters")
	}

	userID, err := s.resetTokens.Take(ctx, token)
	if errors.Is(err, ErrResetTokenInvalid) {
		return auth.Wrap(auth.CodeInvalidRequest, "reset link is invalid or expired", err)
	}
	if err != nil {
		return auth.Wrap(auth.CodeUnavailable, "password reset failed", err)
	}

	err = s.credentials.SetPassword(ctx, userID, secret)
	if errors.Is(err, credentials.ErrPasswordTooLong) {
		return auth.Wrap(auth.CodeInvalidRequest, "password must be at most 72 characters", err)
	}
	if err != nil {
		return auth.Wrap(auth.CodeUnavailable, "password reset failed", err)
	}

	logger.Info("password reset completed", map[string]any{"user_id": userID})
	return nil
}

// LoadIdentity returns the stored identity of userID.
func (s *Service) LoadIdentity(ctx context.Context, userID string) (*auth.Identity, error) {
	identity, err := s.resolver.Load(ctx, userID)
	if errors.Is(err, resolver.ErrUnknownUser) {
		return nil, auth.Wrap(auth.CodeInvalidCredential, "account no longer exists", err)
	}
	if err != nil {
		return nil, auth.Wrap(auth.CodeUnavailable, "failed to load identity", err)
	}
	return identity, nil
}

func (s *Service) allow(ctx context.Context, key string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		// Fail open.
		logger.Warn("attempt limiter unavailable", map[string]any{"error": err})
		return nil
	}
	if !ok {
		return auth.NewError(auth.CodeRateLimited, "too many attempts, try again later")
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", auth.NewError(auth.CodeInvalidRequest, "a valid email is required")
	}
	return email, nil
}
