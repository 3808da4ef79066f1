package handler

import (
	"context"
	"net/http"
	"time"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/gate"
	"tapit-auth/internal/middleware"
	"tapit-auth/internal/profile"

	"github.com/gin-gonic/gin"
)

// sessionWait bounds GET /auth/session?wait=settled.
const sessionWait = 5 * time.Second

type identityResponse struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoURL,omitempty"`
}

func newIdentityResponse(identity *auth.Identity) *identityResponse {
	if identity == nil {
		return nil
	}
	return &identityResponse{
		ID:            identity.ID,
		Provider:      identity.Provider,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		DisplayName:   identity.DisplayName,
		PhotoURL:      identity.PhotoURL,
	}
}

type sessionResponse struct {
	Phase    gate.Phase        `json:"phase"`
	Version  uint64            `json:"version"`
	Identity *identityResponse `json:"identity,omitempty"`
	Profile  *profile.Profile  `json:"profile,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func newSessionResponse(st gate.State) sessionResponse {
	resp := sessionResponse{
		Phase:    st.Phase,
		Version:  st.Version,
		Identity: newIdentityResponse(st.Identity),
		Profile:  st.Profile,
	}
	if st.Err != nil {
		resp.Error = errorMessage(st.Err)
	}
	return resp
}

// Session reports the session of this browser. With ?wait=settled it
// first waits, up to sessionWait, for an in-flight load to finish.
func (h *Handler) Session(c *gin.Context) {
	cl, ok := middleware.ClientFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusOK, newSessionResponse(gate.State{Phase: gate.SignedOut}))
		return
	}

	st := cl.Machine.Snapshot()
	if c.Query("wait") == "settled" && !st.Settled() {
		ctx, cancel := context.WithTimeout(c.Request.Context(), sessionWait)
		st, _ = cl.Machine.WaitSettled(ctx)
		cancel()
	}

	c.JSON(http.StatusOK, newSessionResponse(st))
}

// RetrySession reloads the profile of an Errored session.
func (h *Handler) RetrySession(c *gin.Context) {
	cl, ok := middleware.ClientFromContext(c.Request.Context())
	if !ok || !cl.Machine.Retry() {
		c.JSON(http.StatusConflict, gin.H{"error": "session is not in an error state"})
		return
	}

	c.JSON(http.StatusAccepted, newSessionResponse(cl.Machine.Snapshot()))
}
