package db

import (
	"context"
	"fmt"

	"github.com/authflow/backend/internal/session"
)

var _ session.Store = (*Postgres)(nil)

// Fingerprint reports "" both for a cleared session and for an unknown id.
func (db *Postgres) Fingerprint(ctx context.Context, identityID string) (string, error) {
	var fp *string
	err := db.Pool.QueryRow(ctx, `
		SELECT refresh_fingerprint
		FROM users
		WHERE id = $1
	`, identityID).Scan(&fp)
	if err != nil {
		if IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	if fp == nil {
		return "", nil
	}
	return *fp, nil
}

// Rotate is a single conditional UPDATE; the row lock makes a concurrent
// loser re-check the predicate against the winner's value and match nothing.
func (db *Postgres) Rotate(ctx context.Context, identityID, expected, next string) error {
	if next == "" {
		return session.ErrEmptyFingerprint
	}

	tag, err := db.Pool.Exec(ctx, `
		UPDATE users
		SET refresh_fingerprint = $3, updated_at = NOW()
		WHERE id = $1 AND COALESCE(refresh_fingerprint, '') = $2
	`, identityID, expected, next)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrConflict
	}
	return nil
}

func (db *Postgres) Clear(ctx context.Context, identityID string) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE users
		SET refresh_fingerprint = NULL, updated_at = NOW()
		WHERE id = $1
	`, identityID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
