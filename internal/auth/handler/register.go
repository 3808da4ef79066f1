package handler

import (
	"context"
	"net/http"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/identity"

	"github.com/gin-gonic/gin"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	signedIn, ok := h.signIn(c, func(ctx context.Context, a *identity.Adapter) (*auth.Identity, error) {
		return a.SignUp(ctx, req.Email, req.Password, req.Username)
	})
	if !ok {
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":   "registered",
		"identity": newIdentityResponse(signedIn),
	})
}
