package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"interview-auth/internal/domain"
	"interview-auth/internal/repository"
)

const (
	createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	identifier TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`
	createUserLoginsTable = `
CREATE TABLE IF NOT EXISTS user_logins (
	user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	logged_in_at DATETIME NOT NULL
);
`
	createUserLoginsIndex = `
CREATE INDEX IF NOT EXISTS idx_user_logins_user ON user_logins(user_id, logged_in_at);
`
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createUsersTable); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createUserLoginsTable); err != nil {
		return fmt.Errorf("create user_logins table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createUserLoginsIndex); err != nil {
		return fmt.Errorf("create user_logins index: %w", err)
	}
	return nil
}

func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO users (id, identifier, password_hash, role, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Identifier,
		user.PasswordHash,
		string(user.Role),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user %s: %w", user.Identifier, repository.ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, identifier, password_hash, role, created_at, updated_at
FROM users
WHERE identifier = ?`,
		identifier,
	)
	return r.load(ctx, row)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, identifier, password_hash, role, created_at, updated_at
FROM users
WHERE id = ?`,
		id,
	)
	return r.load(ctx, row)
}

func (r *UserRepository) AppendLogin(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO user_logins (user_id, logged_in_at)
SELECT id, ? FROM users WHERE id = ?`,
		at.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("append login: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET updated_at = ? WHERE id = ?`, at.UTC(), id); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *UserRepository) Close() error {
	return r.db.Close()
}

func (r *UserRepository) load(ctx context.Context, row *sql.Row) (*domain.User, error) {
	user, err := scanUser(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT logged_in_at FROM user_logins
WHERE user_id = ?
ORDER BY logged_in_at`,
		user.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query logins: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan login: %w", err)
		}
		user.LoginTimestamps = append(user.LoginTimestamps, at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logins: %w", err)
	}
	return user, nil
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*domain.User, error) {
	var (
		user domain.User
		role string
	)
	if err := row.Scan(
		&user.ID,
		&user.Identifier,
		&user.PasswordHash,
		&role,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	user.Role = domain.Role(role)
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(strings.ToLower(sqliteErr.Error()), "unique")
		}
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

var _ repository.UserRepository = (*UserRepository)(nil)
