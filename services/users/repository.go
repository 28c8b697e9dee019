package users

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/stockroom-labs/stockroom/internal/apperr"
	"github.com/stockroom-labs/stockroom/internal/database"
)

type Repository interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, userID int64) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	SetSuperuser(ctx context.Context, userID int64, superuser bool) (*User, error)
}

type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository stores users in Postgres.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, hashed_password, name, phone, is_active, is_superuser, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &u.Name, &u.Phone,
		&u.IsActive, &u.IsSuperuser, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts u and fills in the generated columns.
func (r *PostgresRepository) CreateUser(ctx context.Context, u *User) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, hashed_password, name, phone, is_superuser)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_active, created_at, updated_at
	`, u.Email, u.HashedPassword, u.Name, u.Phone, u.IsSuperuser).Scan(&u.ID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if _, ok := database.UniqueViolation(err); ok {
		return &apperr.ConflictError{Entity: "user", Field: "email"}
	}
	return errors.Wrap(err, "insert user")
}

// GetUser returns the user or a NotFoundError.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("user", userID)
	}
	return u, errors.Wrapf(err, "get user %d", userID)
}

// GetUserByEmail looks a user up by email.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if database.IsNoRows(err) {
		return nil, &apperr.NotFoundError{Entity: "user"}
	}
	return u, errors.Wrap(err, "get user by email")
}

// SetSuperuser updates the flag and returns the user.
func (r *PostgresRepository) SetSuperuser(ctx context.Context, userID int64, superuser bool) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `
		UPDATE users SET is_superuser = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns, userID, superuser))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("user", userID)
	}
	return u, errors.Wrapf(err, "set superuser on user %d", userID)
}
