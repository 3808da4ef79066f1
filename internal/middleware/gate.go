package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"tapit-auth/internal/gate"

	"github.com/gin-gonic/gin"
)

// RetryAfterSeconds is sent with placeholder responses.
const RetryAfterSeconds = 1

// Gate applies gate.Decide to every request. It must run after
// AttachClient. A request without a client is signed out.
//
//	Allow            next handler, with the state in the request context
//	ShowPlaceholder  202 {"placeholder": kind} and Retry-After
//	RedirectToLogin  302 to the login page, or 401 JSON under /api
func (m *SessionMiddleware) Gate() gin.HandlerFunc {
	return func(c *gin.Context) {
		class := gate.Classify(c.Request.URL.Path)
		st := gate.State{Phase: gate.SignedOut}
		cl, ok := ClientFromContext(c.Request.Context())
		if ok {
			st = cl.Machine.Snapshot()
		}
		if ok && class == gate.Protected && !st.Settled() {
			ctx, cancel := context.WithTimeout(c.Request.Context(), m.opts.SettleWait)
			st, _ = cl.Machine.WaitSettled(ctx)
			cancel()
		}

		d := gate.Decide(st, class, c.Request.URL.RequestURI())
		switch d.Kind {
		case gate.Allow:
			c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), stateKey, st))
			c.Next()

		case gate.ShowPlaceholder:
			c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusAccepted, gin.H{
				"placeholder": d.Placeholder.String(),
			})

		default:
			m.redirectToLogin(c, d)
		}
	}
}

func (m *SessionMiddleware) redirectToLogin(c *gin.Context, d gate.Decision) {
	q := url.Values{}
	q.Set("next", d.ReturnPath)
	if d.Err != nil {
		q.Set("error", "session")
	}
	target := m.opts.LoginPath + "?" + q.Encode()

	if !isAPI(c.Request.URL.Path) {
		c.Redirect(http.StatusFound, target)
		c.Abort()
		return
	}

	msg := "authentication required"
	if d.Err != nil {
		msg = "session unavailable"
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":    msg,
		"redirect": target,
	})
}

func isAPI(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}
