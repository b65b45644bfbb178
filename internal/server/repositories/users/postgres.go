package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const selectUser = `SELECT id, email, username, password_hash, confirmed, refresh_token, avatar, created_at
		 FROM users`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		user         models.User
		refreshToken sql.NullString
		avatar       sql.NullString
	)

	err := row.Scan(&user.ID, &user.Email, &user.UserName, &user.PasswordHash,
		&user.Confirmed, &refreshToken, &avatar, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if refreshToken.Valid {
		user.RefreshToken = &refreshToken.String
	}
	user.AvatarURL = avatar.String

	return &user, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (email, username, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, confirmed, created_at
		 `

	err := r.db.QueryRowContext(ctx, query, user.Email, user.UserName, user.PasswordHash).
		Scan(&user.ID, &user.Confirmed, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, common.ErrAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := selectUser + `
		 WHERE email = $1
		 `
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) GetByEmailForUpdate(ctx context.Context, email string) (*models.User, error) {
	query := selectUser + `
		 WHERE email = $1
		 FOR UPDATE
		 `
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *PostgresRepository) SetRefreshToken(ctx context.Context, userID string, token *string) error {
	query :=
		`UPDATE users SET refresh_token = $2
		 WHERE id = $1
		 `

	var value any
	if token != nil {
		value = *token
	}

	if _, err := r.db.ExecContext(ctx, query, userID, value); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetConfirmed(ctx context.Context, email string) (bool, error) {
	query :=
		`UPDATE users SET confirmed = TRUE
		 WHERE email = $1 AND NOT confirmed
		 `
	res, err := r.db.ExecContext(ctx, query, email)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) SetPasswordHash(ctx context.Context, userID string, hash string) error {
	query :=
		`UPDATE users SET password_hash = $2
		 WHERE id = $1
		 `
	return r.execOne(ctx, query, userID, hash)
}

func (r *PostgresRepository) SetAvatarURL(ctx context.Context, email string, url string) (*models.User, error) {
	query :=
		`UPDATE users SET avatar = $2
		 WHERE email = $1
		 RETURNING id, email, username, password_hash, confirmed, refresh_token, avatar, created_at
		 `
	return scanUser(r.db.QueryRowContext(ctx, query, email, url))
}

// execOne runs an UPDATE that must touch exactly one row.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
