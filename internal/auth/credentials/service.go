package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tapit-auth/internal/db"
	"tapit-auth/internal/logger"

	"github.com/google/uuid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyRegistered  = errors.New("credentials already exist")
	ErrUnknownEmail       = errors.New("no account for email")
)

type Service struct {
	db     *db.DB
	hasher Hasher
}

func NewService(db *db.DB, hasher Hasher) *Service {
	return &Service{db: db, hasher: hasher}
}

// Register creates the user row for email and attaches a password
// credential. An email that already belongs to a user, through any
// provider, is rejected with ErrAlreadyRegistered.
func (s *Service) Register(
	ctx context.Context,
	email string,
	password string,
	displayName string,
) (string, error) {

	// Hash first so a weak password never creates a user row.
	hash, version, err := s.hasher.Hash(password)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var userID uuid.UUID

	// 1. Create the user unless the email is taken
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (email, email_verified, display_name)
		VALUES ($1, false, $2)
		ON CONFLICT ((LOWER(email))) DO NOTHING
		RETURNING id
	`, email, displayName).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrAlreadyRegistered
	}
	if err != nil {
		return "", err
	}

	// 2. Insert credentials and the password identity mapping
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, hash_version)
		VALUES ($1, $2, $3)
	`, userID, hash, version); err != nil {
		return "", err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO identities (user_id, provider, provider_user_id)
		VALUES ($1, 'password', $2)
	`, userID, userID.String()); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("credentials: commit: %w", err)
	}

	return userID.String(), nil
}

func (s *Service) Authenticate(
	ctx context.Context,
	email string,
	password string,
) (string, error) {

	cred, err := s.byEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		// hide whether user exists or not
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if cred.hashVersion != HashVersionBcrypt {
		return "", fmt.Errorf("credentials: unsupported hash version %q", cred.hashVersion)
	}

	if err := s.hasher.Verify(cred.hash, password); err != nil {
		return "", err
	}

	if s.hasher.Stale(cred.hash) {
		if err := s.SetPassword(ctx, cred.userID, password); err != nil {
			logger.Warn("password rehash failed", map[string]any{
				"user_id": cred.userID,
				"error":   err,
			})
		}
	}

	return cred.userID, nil
}

func (s *Service) byEmail(ctx context.Context, email string) (*credential, error) {
	var (
		c      credential
		userID uuid.UUID
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT c.user_id, c.password_hash, c.hash_version
		FROM users u
		JOIN credentials c ON c.user_id = u.id
		WHERE LOWER(u.email) = LOWER($1)
	`, email).Scan(&userID, &c.hash, &c.hashVersion)
	if err != nil {
		return nil, err
	}
	c.userID = userID.String()
	return &c, nil
}

// UserIDByEmail returns the user id owning email, or ErrUnknownEmail.
func (s *Service) UserIDByEmail(ctx context.Context, email string) (string, error) {
	var userID uuid.UUID
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM users WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownEmail
	}
	if err != nil {
		return "", err
	}
	return userID.String(), nil
}

// SetPassword replaces (or creates) the password credential of userID.
func (s *Service) SetPassword(ctx context.Context, userID string, password string) error {
	hash, version, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, password_hash, hash_version)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash,
		    hash_version = EXCLUDED.hash_version,
		    updated_at = NOW()
	`, userID, hash, version)
	return err
}
