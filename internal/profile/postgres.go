package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tapit-auth/internal/db"
)

// PostgresStore keeps each profile as a jsonb document in profiles.doc.
type PostgresStore struct {
	db *db.DB
}

func NewPostgresStore(db *db.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Profile, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM profiles WHERE id = $1
	`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

func (s *PostgresStore) Insert(ctx context.Context, p *Profile) (*Profile, bool, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, doc)
		VALUES ($1, $2::jsonb)
		ON CONFLICT (id) DO NOTHING
	`, p.UID, string(raw))
	if err != nil {
		return nil, false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}

	stored, err := s.Get(ctx, p.UID)
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

// Merge relies on jsonb concatenation, which replaces only the top-level
// keys present in the patch within a single statement.
func (s *PostgresStore) Merge(ctx context.Context, id string, patch []byte, at time.Time) (*Profile, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		UPDATE profiles
		SET doc = doc || $2::jsonb || jsonb_build_object('updatedAt', $3::timestamptz),
		    updated_at = $3
		WHERE id = $1
		RETURNING doc
	`, id, string(patch), at).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// PostgresLookup stores handle -> user id rows in handle_lookup.
type PostgresLookup struct {
	db *db.DB
}

func NewPostgresLookup(db *db.DB) *PostgresLookup {
	return &PostgresLookup{db: db}
}

func (l *PostgresLookup) Assign(ctx context.Context, handle, identityID string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO handle_lookup (handle, user_id)
		VALUES ($1, $2)
		ON CONFLICT (handle) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    updated_at = NOW()
	`, NormalizeHandle(handle), identityID)
	return err
}

func (l *PostgresLookup) Resolve(ctx context.Context, handle string) (string, error) {
	var id string
	err := l.db.QueryRowContext(ctx, `
		SELECT user_id::text FROM handle_lookup WHERE handle = $1
	`, NormalizeHandle(handle)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
