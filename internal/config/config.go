package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppPort string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	KeycloakIssuer        string
	KeycloakClientID      string
	KeycloakRedirectURL   string
	KeycloakPublicBaseURL string

	RedisAddr     string
	RedisPassword string

	DatabaseDSN string

	// SessionTTL is the absolute lifetime of a persisted login.
	SessionTTL time.Duration
	// ClientIdleTTL is how long an in-memory client session survives
	// without requests before it is torn down.
	ClientIdleTTL time.Duration
	// FieldDebounce is the inactivity window before a widget edit is written.
	FieldDebounce time.Duration
	// ProfileLoadTimeout bounds one profile fetch-or-create of a session.
	ProfileLoadTimeout time.Duration
	// ClientSweepInterval is how often idle client sessions are collected.
	ClientSweepInterval time.Duration

	// CookieSecure marks cookies Secure. Only disable for plain-http
	// local development.
	CookieSecure bool

	LoginAttemptLimit  int
	LoginAttemptWindow time.Duration

	// BcryptCost is the work factor of new password hashes. Logins
	// rehash secrets stored at a lower cost.
	BcryptCost int

	ResetURLBase string
	// ResetLinkLogging writes full reset links to the log. Local
	// development only; a logged link grants a password change.
	ResetLinkLogging bool
}

func Load() Config {

	cfg := Config{

		AppPort: getEnv("APP_PORT", "8080"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleRedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),

		KeycloakIssuer:        os.Getenv("KEYCLOAK_ISSUER"),
		KeycloakClientID:      os.Getenv("KEYCLOAK_CLIENT_ID"),
		KeycloakRedirectURL:   os.Getenv("KEYCLOAK_REDIRECT_URL"),
		KeycloakPublicBaseURL: os.Getenv("KEYCLOAK_PUBLIC_BASE_URL"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseDSN: os.Getenv("DATABASE_DSN"),

		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		ClientIdleTTL: getEnvDuration("CLIENT_IDLE_TTL", 30*time.Minute),
		FieldDebounce: getEnvDuration("FIELD_DEBOUNCE", 500*time.Millisecond),

		ProfileLoadTimeout:  getEnvDuration("PROFILE_LOAD_TIMEOUT", 10*time.Second),
		ClientSweepInterval: getEnvDuration("CLIENT_SWEEP_INTERVAL", time.Minute),

		CookieSecure: getEnvBool("COOKIE_SECURE", true),

		LoginAttemptLimit:  getEnvInt("LOGIN_ATTEMPT_LIMIT", 5),
		LoginAttemptWindow: getEnvDuration("LOGIN_ATTEMPT_WINDOW", 15*time.Minute),

		BcryptCost: getEnvInt("BCRYPT_COST", 10),

		ResetURLBase:     getEnv("RESET_URL_BASE", "https://www.tapit.fr/reset-password/"),
		ResetLinkLogging: getEnvBool("RESET_LINK_LOGGING", false),
	}

	return cfg

}

// GoogleEnabled reports whether every Google OAuth setting is present.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// KeycloakEnabled reports whether every Keycloak setting is present.
func (c Config) KeycloakEnabled() bool {
	return c.KeycloakIssuer != "" && c.KeycloakClientID != "" &&
		c.KeycloakRedirectURL != "" && c.KeycloakPublicBaseURL != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
