package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tapit-auth/internal/logger"

	"github.com/redis/go-redis/v9"
)

// ResetTTL is how long a password reset link stays valid.
const ResetTTL = time.Hour

// ErrResetTokenInvalid is returned for unknown, used or expired tokens.
var ErrResetTokenInvalid = errors.New("identity: reset token invalid or expired")

// ResetTokens stores single-use password reset tokens.
type ResetTokens interface {
	Put(ctx context.Context, token, userID string, ttl time.Duration) error
	// Take returns the user id of token and deletes it.
	Take(ctx context.Context, token string) (string, error)
}

type RedisResetTokens struct {
	client *redis.Client
	prefix string
}

func NewRedisResetTokens(client *redis.Client) *RedisResetTokens {
	return &RedisResetTokens{client: client, prefix: "reset:"}
}

func (r *RedisResetTokens) Put(ctx context.Context, token, userID string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+token, userID, ttl).Err()
}

func (r *RedisResetTokens) Take(ctx context.Context, token string) (string, error) {
	userID, err := r.client.GetDel(ctx, r.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrResetTokenInvalid
	}
	if err != nil {
		return "", fmt.Errorf("reset tokens: take: %w", err)
	}
	return userID, nil
}

// Mailer sends account mail.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

// LogMailer records issued reset links in the log instead of sending
// mail; delivery belongs to a mail service. The link is a bearer
// credential, so only a masked token is logged unless ShowLinks is set
// for local development.
type LogMailer struct {
	ShowLinks bool
}

func (m LogMailer) SendPasswordReset(_ context.Context, email, link string) error {
	fields := map[string]any{"email": logger.MaskEmail(email)}
	if m.ShowLinks {
		fields["link"] = link
	} else {
		fields["token"] = logger.MaskID(resetToken(link))
	}
	logger.Info("password reset link issued", fields)
	return nil
}

// resetToken is the last path segment of a reset link.
func resetToken(link string) string {
	if i := strings.LastIndexByte(link, '/'); i >= 0 {
		return link[i+1:]
	}
	return link
}
