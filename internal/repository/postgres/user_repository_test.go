package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interview-auth/internal/domain"
	"interview-auth/internal/repository"
)

func newRepoWithMock(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return NewUserRepository(db), mock
}

const (
	insertQuery = `(?s)^\s*INSERT\s+INTO\s+users\s*\(id,\s*identifier,\s*password_hash,\s*role,\s*created_at,\s*updated_at\).*RETURNING\s+created_at,\s*updated_at\s*$`
	selectQuery = `(?s)^\s*SELECT\s+id,\s*identifier,\s*password_hash,\s*role,\s*created_at,\s*updated_at\s+FROM\s+users`
	loginsQuery = `(?s)^\s*SELECT\s+logged_in_at\s+FROM\s+user_logins`
	appendQuery = `(?s)^\s*WITH\s+touched\s+AS`
)

var userColumns = []string{"id", "identifier", "password_hash", "role", "created_at", "updated_at"}

func TestCreate_Success(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(insertQuery).
		WithArgs(sqlmock.AnyArg(), "ABC", "hash", "student").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u := &domain.User{Identifier: "ABC", PasswordHash: "hash", Role: domain.RoleStudent}
	require.NoError(t, repo.Create(context.Background(), u))
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, now, u.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolation(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(insertQuery).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation, ConstraintName: "users_identifier_key"})

	err := repo.Create(context.Background(), &domain.User{Identifier: "ABC", PasswordHash: "h", Role: domain.RoleStudent})
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestCreate_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(insertQuery).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &domain.User{Identifier: "ABC", PasswordHash: "h", Role: domain.RoleStudent})
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrDuplicate)
	assert.Contains(t, err.Error(), "db down")
}

func TestGetByIdentifier(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()
	login := now.Add(-time.Hour)

	mock.ExpectQuery(selectQuery).
		WithArgs("ABC").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow("id-1", "ABC", "hash", "faculty", now, now))
	mock.ExpectQuery(loginsQuery).
		WithArgs("id-1").
		WillReturnRows(sqlmock.NewRows([]string{"logged_in_at"}).AddRow(login))

	u, err := repo.GetByIdentifier(context.Background(), "ABC")
	require.NoError(t, err)
	assert.Equal(t, "id-1", u.ID)
	assert.Equal(t, domain.RoleFaculty, u.Role)
	require.Len(t, u.LoginTimestamps, 1)
	assert.Equal(t, login, u.LoginTimestamps[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(selectQuery).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGetByID_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(selectQuery).WillReturnError(sql.ErrConnDone)

	_, err := repo.GetByID(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, repository.ErrNotFound)
}

func TestAppendLogin(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	at := time.Now()

	mock.ExpectExec(appendQuery).
		WithArgs("id-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.AppendLogin(context.Background(), "id-1", at))

	mock.ExpectExec(appendQuery).
		WithArgs("gone", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.AppendLogin(context.Background(), "gone", at), repository.ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateUsesEmbeddedDir(t *testing.T) {
	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(context.Background(), db))
	assert.Equal(t, "migrations", gotDir)

	entries, err := migrations.ReadDir("migrations")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMigratePropagatesError(t *testing.T) {
	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	err = Migrate(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
