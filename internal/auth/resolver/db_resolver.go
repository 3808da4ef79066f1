package resolver

import (
	"context"
	"database/sql"
	"errors"

	"tapit-auth/internal/auth"
	"tapit-auth/internal/db"

	"github.com/google/uuid"
)

// DBResolver resolves identities using the database.
type DBResolver struct {
	db *db.DB
}

func NewDBResolver(db *db.DB) *DBResolver {
	return &DBResolver{db: db}
}

func (r *DBResolver) Resolve(
	ctx context.Context,
	identity *auth.Identity,
) (string, error) {

	if identity == nil {
		return "", errors.New("identity is nil")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	// 1. Try identity lookup (provider + provider_user_id)
	var userID uuid.UUID
	err = tx.QueryRowContext(ctx, `
		SELECT user_id
		FROM identities
		WHERE provider = $1
		  AND provider_user_id = $2
	`,
		identity.Provider,
		identity.ProviderUserID,
	).Scan(&userID)

	switch {
	case err == nil:
		return userID.String(), tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return "", err
	}

	// 2. Try email-based linking (existing user, new provider),
	//    otherwise create the user.
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`,
		identity.Email,
	).Scan(&userID)

	if errors.Is(err, sql.ErrNoRows) {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO users (email, email_verified, display_name, photo_url)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`,
			identity.Email,
			identity.EmailVerified,
			identity.DisplayName,
			identity.PhotoURL,
		).Scan(&userID)
	}
	if err != nil {
		return "", err
	}

	// 3. Create identity mapping
	_, err = tx.ExecContext(ctx, `
		INSERT INTO identities (user_id, provider, provider_user_id)
		VALUES ($1, $2, $3)
	`,
		userID,
		identity.Provider,
		identity.ProviderUserID,
	)
	if err != nil {
		return "", err
	}

	return userID.String(), tx.Commit()
}

func (r *DBResolver) Load(ctx context.Context, userID string) (*auth.Identity, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrUnknownUser
	}

	out := &auth.Identity{ID: id.String()}
	err = r.db.QueryRowContext(ctx, `
		SELECT u.email, u.email_verified, u.display_name, u.photo_url,
		       COALESCE(i.provider, ''), COALESCE(i.provider_user_id, '')
		FROM users u
		LEFT JOIN LATERAL (
			SELECT provider, provider_user_id
			FROM identities
			WHERE user_id = u.id
			ORDER BY created_at DESC
			LIMIT 1
		) i ON true
		WHERE u.id = $1
	`, id).Scan(
		&out.Email,
		&out.EmailVerified,
		&out.DisplayName,
		&out.PhotoURL,
		&out.Provider,
		&out.ProviderUserID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}

	return out, nil
}
