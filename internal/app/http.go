package app

import (
	"context"
	"net/http"

	"tapit-auth/internal/auth/credentials"
	"tapit-auth/internal/auth/handler"
	"tapit-auth/internal/auth/provider"
	"tapit-auth/internal/auth/provider/google"
	"tapit-auth/internal/auth/provider/keycloak"
	"tapit-auth/internal/auth/resolver"
	"tapit-auth/internal/client"
	"tapit-auth/internal/config"
	"tapit-auth/internal/dashboard"
	"tapit-auth/internal/identity"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/middleware"
	"tapit-auth/internal/profile"
	"tapit-auth/internal/session"

	"github.com/gin-gonic/gin"
)

type components struct {
	router    *gin.Engine
	clients   *client.Registry
	dashboard *dashboard.Handler
}

func setupHTTP(ctx context.Context, cfg config.Config) (*components, func() error, error) {

	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	// ----------------------------
	// Identity
	// ----------------------------

	identityService := identity.NewService(identity.ServiceConfig{
		Credentials:  credentials.NewService(infra.DB, credentials.NewHasher(cfg.BcryptCost)),
		Providers:    setupProviders(ctx, cfg),
		Resolver:     resolver.NewDBResolver(infra.DB),
		Limiter:      identity.NewRedisLimiter(infra.Redis.Client, cfg.LoginAttemptLimit, cfg.LoginAttemptWindow),
		ResetTokens:  identity.NewRedisResetTokens(infra.Redis.Client),
		Mailer:       identity.LogMailer{ShowLinks: cfg.ResetLinkLogging},
		ResetURLBase: cfg.ResetURLBase,
	})

	// ----------------------------
	// Profiles and client sessions
	// ----------------------------

	profiles := profile.NewRepository(
		profile.NewPostgresStore(infra.DB),
		profile.NewPostgresLookup(infra.DB),
		profile.NewRedisBroker(infra.Redis.Client),
	)

	clients := client.NewRegistry(
		identityService,
		session.NewRedisStore(infra.Redis.Client),
		profiles,
		client.Options{
			IdleTTL:     cfg.ClientIdleTTL,
			LoginTTL:    cfg.SessionTTL,
			LoadTimeout: cfg.ProfileLoadTimeout,
		},
	)

	sessions := middleware.NewSessionMiddleware(clients, middleware.Options{
		SecureCookies: cfg.CookieSecure,
	})

	authHandler := handler.NewHandler(clients, identityService, identityService, cfg.CookieSecure)
	dashboardHandler := dashboard.NewHandler(profiles, cfg.FieldDebounce)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())

	// Registered before the session middleware so health checks do not create
	// client sessions.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.Use(sessions.AttachClient(), sessions.Gate())

	authHandler.RegisterRoutes(router)
	dashboardHandler.RegisterRoutes(router)

	for _, route := range router.Routes() {
		logger.Info("route registered", map[string]any{
			"method": route.Method,
			"path":   route.Path,
		})
	}

	return &components{
		router:    router,
		clients:   clients,
		dashboard: dashboardHandler,
	}, infra.Close, nil
}

// setupProviders registers every configured OAuth provider. A provider
// that is not configured or fails discovery is left out.
func setupProviders(ctx context.Context, cfg config.Config) *provider.Registry {
	var list []provider.OAuthProvider

	if cfg.GoogleEnabled() {
		p, err := google.New(
			ctx,
			cfg.GoogleClientID,
			cfg.GoogleClientSecret,
			cfg.GoogleRedirectURL,
		)
		if err != nil {
			logger.Warn("google oauth disabled", map[string]any{"error": err})
		} else {
			list = append(list, p)
		}
	} else {
		logger.Warn("google oauth not configured", nil)
	}

	if cfg.KeycloakEnabled() {
		p, err := keycloak.New(
			ctx,
			cfg.KeycloakIssuer,
			cfg.KeycloakClientID,
			cfg.KeycloakRedirectURL,
			cfg.KeycloakPublicBaseURL,
		)
		if err != nil {
			logger.Warn("keycloak oauth disabled", map[string]any{"error": err})
		} else {
			list = append(list, p)
		}
	} else {
		logger.Warn("keycloak oauth not configured", nil)
	}

	registry := provider.NewRegistry(list...)
	logger.Info("oauth providers ready", map[string]any{"providers": registry.Names()})
	return registry
}
