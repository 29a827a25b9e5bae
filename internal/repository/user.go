package repository

import (
	"context"
	"errors"
	"time"

	"interview-auth/internal/domain"
)

var (
	// ErrNotFound is returned when no user matches the lookup key.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicate is returned when an insert collides with an existing identifier.
	ErrDuplicate = errors.New("user already exists")
)

// UserRepository defines persistence operations for User records. Identifiers
// passed in are already normalized; implementations enforce their uniqueness
// atomically and report collisions as ErrDuplicate.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) error
	GetByIdentifier(ctx context.Context, identifier string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// AppendLogin records a successful login. Only called when login history
	// tracking is enabled.
	AppendLogin(ctx context.Context, id string, at time.Time) error
	Ping(ctx context.Context) error
	Close() error
}
