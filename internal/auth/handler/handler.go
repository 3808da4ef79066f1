package handler

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/client"
	"tapit-auth/internal/identity"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/middleware"
	"tapit-auth/internal/session"

	"github.com/gin-gonic/gin"
)

const (
	nextCookieName  = "__oauth_next"
	defaultNextPath = "/dashboard"
)

// OAuth starts and ends authorization-code flows.
type OAuth interface {
	OAuthURL(provider, state, challenge string) (string, error)
	OAuthCancelled(provider, reason, description string) error
}

// PasswordResets starts and completes password resets.
type PasswordResets interface {
	SendPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, secret string) error
}

// Clients moves a browser onto a new client session when it signs in.
type Clients interface {
	SignIn(ctx context.Context, prev *client.Client, signIn client.SignInFunc) (*client.Client, *auth.Identity, error)
}

// Handler serves the public authentication endpoints. Sign-in state is
// kept by the client session attached by middleware.AttachClient.
type Handler struct {
	clients       Clients
	oauth         OAuth
	resets        PasswordResets
	secureCookies bool
}

func NewHandler(
	clients Clients,
	oauth OAuth,
	resets PasswordResets,
	secureCookies bool,
) *Handler {
	return &Handler{
		clients:       clients,
		oauth:         oauth,
		resets:        resets,
		secureCookies: secureCookies,
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/oauth/login/:provider", h.login)
	r.GET("/oauth/callback/:provider", h.callback)

	r.POST("/auth/signup", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/logout", h.Logout)
	r.POST("/auth/password-reset", h.RequestPasswordReset)
	r.POST("/auth/password-reset/confirm", h.ConfirmPasswordReset)

	r.GET("/auth/session", h.Session)
	r.POST("/auth/session/retry", h.RetrySession)
}

func (h *Handler) login(c *gin.Context) {
	providerName := c.Param("provider")

	state, err := h.generateState(c)
	if err != nil {
		writeError(c, err)
		return
	}
	challenge, err := h.generatePKCE(c)
	if err != nil {
		writeError(c, err)
		return
	}

	authURL, err := h.oauth.OAuthURL(providerName, state, challenge)
	if err != nil {
		writeError(c, err)
		return
	}

	h.setFlowCookie(c, nextCookieName, safeNext(c.Query("next")), stateTTL)
	c.Redirect(http.StatusFound, authURL)
}

func (h *Handler) callback(c *gin.Context) {
	providerName := c.Param("provider")

	if !h.validateState(c) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "invalid state",
		})
		return
	}

	// A dismissed consent screen comes back as an error, not a code.
	if errParam := c.Query("error"); errParam != "" {
		err := h.oauth.OAuthCancelled(providerName, errParam, c.Query("error_description"))
		c.Redirect(http.StatusFound, "/login?error="+url.QueryEscape(string(auth.CodeOf(err))))
		return
	}

	codeVerifier := h.takePKCEVerifier(c)

	signedIn, ok := h.signIn(c, func(ctx context.Context, a *identity.Adapter) (*auth.Identity, error) {
		return a.SignInWithOAuth(ctx, providerName, c.Query("code"), codeVerifier)
	})
	if !ok {
		return
	}

	next := defaultNextPath
	if cookie, err := c.Request.Cookie(nextCookieName); err == nil {
		next = safeNext(cookie.Value)
	}
	h.setFlowCookie(c, nextCookieName, "", -1)

	logger.Info("oauth login succeeded", map[string]any{
		"user_id":  signedIn.ID,
		"provider": providerName,
		"ip":       c.ClientIP(),
	})

	c.Redirect(http.StatusFound, next)
}

func (h *Handler) Logout(c *gin.Context) {
	// Best-effort: the identity is cleared even if the login record
	// could not be deleted.
	if cl, ok := middleware.ClientFromContext(c.Request.Context()); ok {
		_ = cl.Adapter.SignOut(c.Request.Context())
	}

	// Idempotent response
	c.Status(http.StatusNoContent)
}

// signIn runs fn on a new client session that replaces the browser's
// current one, and hands the browser the new client id. The previous id
// is signed out. On failure the error response is written and the
// browser keeps its session.
func (h *Handler) signIn(c *gin.Context, fn client.SignInFunc) (*auth.Identity, bool) {
	prev, _ := middleware.ClientFromContext(c.Request.Context())

	cl, signedIn, err := h.clients.SignIn(c.Request.Context(), prev, fn)
	if err != nil {
		writeError(c, err)
		return nil, false
	}

	session.SetCookie(c.Writer, cl.ID, time.Now().Add(session.ClientCookieTTL), session.CookieOptions{
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return signedIn, true
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return defaultNextPath
	}
	return next
}
