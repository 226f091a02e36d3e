package db

import (
	"context"

	"github.com/authflow/backend/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, name, password_hash, refresh_fingerprint, created_at, updated_at, last_login_at`

func scanUser(row pgx.Row) (*model.Identity, error) {
	var user model.Identity
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.RefreshFingerprint,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser fails with a unique violation (23505) when the email is taken.
func (db *Postgres) CreateUser(ctx context.Context, email, name, passwordHash string) (*model.Identity, error) {
	query := `
		INSERT INTO users (id, email, name, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING ` + userColumns
	return scanUser(db.Pool.QueryRow(ctx, query, uuid.NewString(), email, name, passwordHash))
}

func (db *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.Identity, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, email))
}

func (db *Postgres) GetUserByID(ctx context.Context, id string) (*model.Identity, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(db.Pool.QueryRow(ctx, query, id))
}

func (db *Postgres) TouchLastLogin(ctx context.Context, id string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE users
		SET last_login_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}
