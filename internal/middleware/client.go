package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tapit-auth/internal/client"
	"tapit-auth/internal/gate"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/session"

	"github.com/gin-gonic/gin"
)

// unexported, collision-proof context keys
type clientContextKeyType struct{}
type stateContextKeyType struct{}

var (
	clientKey = clientContextKeyType{}
	stateKey  = stateContextKeyType{}
)

// ClientFromContext returns the client attached by AttachClient. A
// signed-out browser has none.
func ClientFromContext(ctx context.Context) (*client.Client, bool) {
	c, ok := ctx.Value(clientKey).(*client.Client)
	return c, ok
}

// StateFromContext returns the session state the gate decided on.
func StateFromContext(ctx context.Context) (gate.State, bool) {
	st, ok := ctx.Value(stateKey).(gate.State)
	return st, ok
}

// Clients hands out the live client of a browser, or client.ErrNoSession.
type Clients interface {
	Get(ctx context.Context, clientID string) (*client.Client, error)
}

type Options struct {
	// SecureCookies marks the client cookie Secure. Required by the
	// __Host- prefix outside of local development.
	SecureCookies bool
	// SettleWait bounds how long a protected request waits for an
	// in-flight load before a placeholder is returned. Defaults to 2s.
	SettleWait time.Duration
	// LoginPath is where signed-out page requests are sent.
	LoginPath string
}

// SessionMiddleware attaches the client session to every request and
// gates protected routes on it.
type SessionMiddleware struct {
	clients Clients
	opts    Options
}

func NewSessionMiddleware(clients Clients, opts Options) *SessionMiddleware {
	if opts.SettleWait <= 0 {
		opts.SettleWait = 2 * time.Second
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	return &SessionMiddleware{clients: clients, opts: opts}
}

// AttachClient makes sure the browser carries a client cookie and puts
// its client, if it has one, in the request context. A newly issued id
// never has a client: one is only created by signing in.
func (m *SessionMiddleware) AttachClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := session.ClientID(c.Request)
		if !session.ValidID(clientID) {
			id, err := session.GenerateID()
			if err != nil {
				logger.Error("client id generation failed", map[string]any{"error": err})
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "session error",
				})
				return
			}
			m.setCookie(c, id)
			c.Next()
			return
		}

		// Refreshed on every request so active browsers keep their id.
		m.setCookie(c, clientID)

		cl, err := m.clients.Get(c.Request.Context(), clientID)
		switch {
		case errors.Is(err, client.ErrNoSession):
		case err != nil:
			logger.Warn("client session unavailable", map[string]any{
				"client_id": logger.MaskID(clientID),
				"error":     err,
			})
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "session unavailable",
			})
			return
		default:
			c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), clientKey, cl))
		}
		c.Next()
	}
}

func (m *SessionMiddleware) setCookie(c *gin.Context, id string) {
	session.SetCookie(c.Writer, id, time.Now().Add(session.ClientCookieTTL), session.CookieOptions{
		Secure:   m.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
