package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"interview-auth/internal/auth"
	"interview-auth/internal/domain"
	"interview-auth/internal/identity"
	"interview-auth/internal/repository"
)

var (
	// ErrMissingFields indicates an empty identifier or password.
	ErrMissingFields = errors.New("all fields are required")
	// ErrSignupNotAllowed is returned when the role policy refuses self-service signup.
	ErrSignupNotAllowed = errors.New("admin sign-ups are not allowed")
	// ErrUserAlreadyExists is returned when attempting to register with an existing identifier.
	ErrUserAlreadyExists = errors.New("user already exists")
	// ErrUserNotFound indicates that no account matches the identifier or session.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials indicates that the password does not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionMismatch indicates the store returned a record other than the session subject.
	ErrSessionMismatch = errors.New("session does not match user")
	// ErrInvalidRole is returned when provisioning with an unknown role.
	ErrInvalidRole = errors.New("invalid role")
)

// Session is the outcome of a successful login.
type Session struct {
	User  *domain.User
	Token string
}

// UserService describes user lifecycle operations.
type UserService interface {
	Signup(ctx context.Context, identifier, password string) (*domain.User, error)
	Login(ctx context.Context, identifier, password string) (*Session, error)
	Profile(ctx context.Context, claims *auth.Claims) (*domain.User, error)
	Provision(ctx context.Context, identifier, password string, role domain.Role) (*domain.User, error)
}

// Options carries the collaborators of the user service.
type Options struct {
	Classifier *identity.Classifier
	Hasher     *auth.Hasher
	Tokens     *auth.TokenManager
	TokenTTL   time.Duration
	// RecordLogins enables appending to the login history on every successful
	// login. Off by default.
	RecordLogins bool
	Logger       logrus.FieldLogger
	Now          func() time.Time
}

type userService struct {
	users repository.UserRepository
	opts  Options
}

func NewUserService(users repository.UserRepository, opts Options) UserService {
	if opts.Hasher == nil {
		opts.Hasher = auth.NewHasher(auth.PasswordCost)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &userService{
		users: users,
		opts:  opts,
	}
}

func (s *userService) Signup(ctx context.Context, identifier, password string) (*domain.User, error) {
	identifier = identity.Normalize(identifier)
	password = strings.TrimSpace(password)
	if identifier == "" || password == "" {
		return nil, ErrMissingFields
	}

	if s.opts.Classifier == nil {
		return nil, errors.New("signup: no role classifier configured")
	}
	role, err := s.opts.Classifier.Classify(identifier)
	if err != nil {
		if errors.Is(err, identity.ErrSignupNotAllowed) {
			return nil, ErrSignupNotAllowed
		}
		return nil, err
	}

	// fast path only; the store's unique constraint is authoritative
	if _, err := s.users.GetByIdentifier(ctx, identifier); err == nil {
		return nil, ErrUserAlreadyExists
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	return s.create(ctx, identifier, password, role)
}

func (s *userService) Provision(ctx context.Context, identifier, password string, role domain.Role) (*domain.User, error) {
	identifier = identity.Normalize(identifier)
	password = strings.TrimSpace(password)
	if identifier == "" || password == "" {
		return nil, ErrMissingFields
	}
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	return s.create(ctx, identifier, password, role)
}

func (s *userService) create(ctx context.Context, identifier, password string, role domain.Role) (*domain.User, error) {
	hash, err := s.opts.Hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Identifier:   identifier,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	return sanitizeUser(user), nil
}

func (s *userService) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = identity.Normalize(identifier)
	password = strings.TrimSpace(password)
	if identifier == "" || password == "" {
		return nil, ErrMissingFields
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !s.opts.Hasher.Verify(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	token, err := s.opts.Tokens.Issue(user.ID, user.Identifier, user.Role, s.opts.TokenTTL)
	if err != nil {
		return nil, err
	}

	if s.opts.RecordLogins {
		if err := s.users.AppendLogin(ctx, user.ID, s.opts.Now()); err != nil {
			s.opts.Logger.WithError(err).WithField("user_id", user.ID).Warn("record login")
		}
	}

	return &Session{User: sanitizeUser(user), Token: token}, nil
}

func (s *userService) Profile(ctx context.Context, claims *auth.Claims) (*domain.User, error) {
	if claims == nil || claims.ID == "" {
		return nil, ErrUserNotFound
	}

	user, err := s.users.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if user.ID != claims.ID {
		return nil, ErrSessionMismatch
	}

	return sanitizeUser(user), nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:              user.ID,
		Identifier:      user.Identifier,
		Role:            user.Role,
		CreatedAt:       user.CreatedAt,
		UpdatedAt:       user.UpdatedAt,
		LoginTimestamps: user.LoginTimestamps,
	}
}
