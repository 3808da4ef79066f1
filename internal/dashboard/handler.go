package dashboard

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"tapit-auth/internal/gate"
	"tapit-auth/internal/livefield"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/middleware"
	"tapit-auth/internal/profile"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Profiles is the profile repository as seen by the dashboard.
type Profiles interface {
	livefield.Repository
	ResolveHandle(ctx context.Context, handle string) (*profile.Profile, error)
}

// Handler serves the signed-in dashboard API, its live field sockets and
// the public profile pages.
type Handler struct {
	profiles Profiles
	debounce time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	sockets map[*fieldConn]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewHandler(profiles Profiles, debounce time.Duration) *Handler {
	return &Handler{
		profiles: profiles,
		debounce: debounce,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sockets: make(map[*fieldConn]struct{}),
	}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/dashboard", h.Dashboard)
	r.GET("/api/profile", h.GetProfile)
	r.PATCH("/api/profile", h.PatchProfile)
	r.GET("/api/profile/fields/:field/ws", h.FieldSocket)
	r.GET("/u/:handle", h.PublicProfile)
}

// Shutdown closes every live field socket, flushing pending edits, and
// waits for their handlers to return.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*fieldConn, 0, len(h.sockets))
	for fc := range h.sockets {
		conns = append(conns, fc)
	}
	h.mu.Unlock()

	for _, fc := range conns {
		fc.conn.Close()
	}
	h.wg.Wait()
}

// Dashboard is the landing page of a signed-in user.
func (h *Handler) Dashboard(c *gin.Context) {
	st, ok := readyState(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"displayName": st.Profile.DisplayName,
		"username":    st.Profile.Username,
		"publicURL":   "/u/" + st.Profile.Username,
		"links":       len(st.Profile.Links),
		"theme":       st.Profile.SelectedTheme,
	})
}

func (h *Handler) GetProfile(c *gin.Context) {
	st, ok := readyState(c)
	if !ok {
		return
	}

	p, err := h.profiles.Get(c.Request.Context(), st.Identity.ID)
	if err != nil {
		writeProfileError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// PatchProfile merges the top-level fields of the body into the profile.
func (h *Handler) PatchProfile(c *gin.Context) {
	st, ok := readyState(c)
	if !ok {
		return
	}

	var patch profile.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	p, err := h.profiles.Update(c.Request.Context(), st.Identity.ID, patch)
	if err != nil {
		writeProfileError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// PublicProfile renders the public view of handle.
func (h *Handler) PublicProfile(c *gin.Context) {
	p, err := h.profiles.ResolveHandle(c.Request.Context(), c.Param("handle"))
	if err != nil {
		writeProfileError(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Public())
}

// readyState returns the Ready state the gate attached to the request.
func readyState(c *gin.Context) (gate.State, bool) {
	st, ok := middleware.StateFromContext(c.Request.Context())
	if !ok || st.Phase != gate.Ready || st.Identity == nil || st.Profile == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return gate.State{}, false
	}
	return st, true
}

func statusOf(code profile.Code) int {
	switch code {
	case profile.CodeInvalidField:
		return http.StatusBadRequest
	case profile.CodeNotFound:
		return http.StatusNotFound
	case profile.CodePermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}

func writeProfileError(c *gin.Context, err error) {
	var pe *profile.Error
	if !errors.As(err, &pe) {
		logger.Error("profile request failed", map[string]any{
			"path":  c.Request.URL.Path,
			"error": err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := statusOf(pe.Code)
	msg := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		logger.Error("profile store unavailable", map[string]any{
			"path":  c.Request.URL.Path,
			"error": err,
		})
		msg = "profile store unavailable"
	case http.StatusForbidden:
		msg = "profile access denied"
	case http.StatusNotFound:
		msg = "profile not found"
	}
	c.JSON(status, gin.H{
		"error": msg,
		"code":  pe.Code,
	})
}
