// Command useradmin provisions accounts directly in the user store. It is the
// only way to create admin accounts when self-service admin signup is refused.
//
// Usage:
//
//	useradmin create -identifier X [-role admin|faculty|student]
//
// The password is read from the terminal without echo, or from the first line
// of stdin when stdin is not a terminal.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"interview-auth/internal/auth"
	"interview-auth/internal/config"
	"interview-auth/internal/domain"
	"interview-auth/internal/identity"
	"interview-auth/internal/service"
	"interview-auth/internal/store"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type createOptions struct {
	Identifier string
	Role       domain.Role
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stderr, logger))
}

func run(ctx context.Context, args []string, stdin *os.File, out io.Writer, logger *logrus.Logger) int {
	if len(args) == 0 || args[0] != "create" {
		fmt.Fprintln(out, "usage: useradmin create -identifier X [-role admin|faculty|student]")
		return exitUsage
	}

	opts, err := parseCreate(args[1:], out)
	if err != nil {
		fmt.Fprintln(out, err)
		return exitUsage
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("load config: %v", err)
		return exitError
	}
	if err := config.ConfigureLogger(logger, cfg); err != nil {
		logger.Errorf("configure logger: %v", err)
		return exitError
	}

	password, err := promptPassword(stdin, out)
	if err != nil {
		logger.Errorf("read password: %v", err)
		return exitError
	}

	repo, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("open user store: %v", err)
		return exitError
	}
	defer repo.Close()

	if err := repo.Init(ctx); err != nil {
		logger.Errorf("init user repository: %v", err)
		return exitError
	}

	users := service.NewUserService(repo, service.Options{
		Hasher: auth.NewHasher(auth.PasswordCost),
		Logger: logger,
	})
	if err := create(ctx, users, opts, password, out); err != nil {
		logger.Error(err)
		return exitError
	}
	return exitOK
}

func parseCreate(args []string, out io.Writer) (createOptions, error) {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(out)

	identifier := fs.String("identifier", "", "account identifier")
	role := fs.String("role", string(domain.RoleAdmin), "account role (admin, faculty or student)")

	if err := fs.Parse(args); err != nil {
		return createOptions{}, err
	}
	if strings.TrimSpace(*identifier) == "" {
		return createOptions{}, errors.New("-identifier is required")
	}

	r := domain.Role(strings.ToLower(strings.TrimSpace(*role)))
	if !r.Valid() {
		return createOptions{}, fmt.Errorf("unknown role %q", *role)
	}
	return createOptions{Identifier: *identifier, Role: r}, nil
}

func promptPassword(stdin *os.File, out io.Writer) (string, error) {
	fd := int(stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	fmt.Fprint(out, "Enter password: ")
	pw, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func create(ctx context.Context, users service.UserService, opts createOptions, password string, out io.Writer) error {
	if len(password) > auth.MaxPasswordBytes {
		return fmt.Errorf("password must be at most %d bytes", auth.MaxPasswordBytes)
	}

	user, err := users.Provision(ctx, opts.Identifier, password, opts.Role)
	switch {
	case errors.Is(err, service.ErrUserAlreadyExists):
		return fmt.Errorf("user %s already exists", identity.Normalize(opts.Identifier))
	case errors.Is(err, service.ErrMissingFields):
		return errors.New("identifier and password are required")
	case err != nil:
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(out, "created %s user %s (id %s)\n", user.Role, user.Identifier, user.ID)
	return nil
}
