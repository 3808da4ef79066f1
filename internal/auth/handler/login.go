package handler

import (
	"context"
	"net/http"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/identity"

	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	signedIn, ok := h.signIn(c, func(ctx context.Context, a *identity.Adapter) (*auth.Identity, error) {
		return a.SignInWithPassword(ctx, req.Email, req.Password)
	})
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "logged_in",
		"identity": newIdentityResponse(signedIn),
	})
}
