package handler

import (
	"errors"
	"net/http"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/logger"
	"tapit-auth/internal/profile"

	"github.com/gin-gonic/gin"
)

func statusOf(code auth.Code) int {
	switch code {
	case auth.CodeInvalidCredential:
		return http.StatusUnauthorized
	case auth.CodeAccountExists:
		return http.StatusConflict
	case auth.CodeWeakSecret, auth.CodeProviderCancelled, auth.CodeInvalidRequest:
		return http.StatusBadRequest
	case auth.CodeRateLimited:
		return http.StatusTooManyRequests
	case auth.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers {"error", "code"} for identity errors and a bare
// 500 for anything else.
func writeError(c *gin.Context, err error) {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		logger.Error("auth request failed", map[string]any{
			"path":  c.Request.URL.Path,
			"error": err,
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if ae.Code == auth.CodeUnavailable {
		logger.Error("identity backend unavailable", map[string]any{
			"path":  c.Request.URL.Path,
			"error": err,
		})
	}
	c.JSON(statusOf(ae.Code), gin.H{
		"error": ae.Message,
		"code":  ae.Code,
	})
}

// errorMessage is the client-facing text of a session error.
func errorMessage(err error) string {
	var pe *profile.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case profile.CodePermissionDenied:
			return "profile access denied"
		case profile.CodeNotFound:
			return "profile not found"
		}
	}
	return "profile unavailable"
}
