package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"interview-auth/internal/auth"
	"interview-auth/internal/config"
	apphttp "interview-auth/internal/http"
	"interview-auth/internal/identity"
	"interview-auth/internal/service"
	"interview-auth/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if err := config.ConfigureLogger(logger, cfg); err != nil {
		logger.Fatalf("configure logger: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	if cfg.Auth.TokenTTL != cfg.Auth.CookieTTL {
		logger.Warnf("token ttl %s differs from cookie ttl %s", cfg.Auth.TokenTTL, cfg.Auth.CookieTTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userRepo, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open user store: %v", err)
	}
	defer userRepo.Close()

	if err := userRepo.Init(ctx); err != nil {
		logger.Fatalf("init user repository: %v", err)
	}

	classifier, err := identity.NewPolicy(cfg.Auth.RolePolicy, identity.Markers{
		Admin:   cfg.Auth.AdminMarker,
		Faculty: cfg.Auth.FacultyMarker,
	})
	if err != nil {
		logger.Fatalf("role policy: %v", err)
	}
	logger.Infof("role policy %s", classifier.Policy())

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret)
	userService := service.NewUserService(userRepo, service.Options{
		Classifier:   classifier,
		Hasher:       auth.NewHasher(auth.PasswordCost),
		Tokens:       tokens,
		TokenTTL:     cfg.Auth.TokenTTL,
		RecordLogins: cfg.Auth.RecordLogins,
		Logger:       logger,
	})

	sameSite, err := config.ParseSameSite(cfg.Auth.CookieSameSite)
	if err != nil {
		logger.Fatalf("cookie samesite: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(
		userService,
		tokens,
		auth.NewCookieSigner(cfg.Auth.CookieSecret),
		auth.CookieOptions{
			Name:     cfg.Auth.CookieName,
			Path:     cfg.Auth.CookiePath,
			Domain:   cfg.Auth.CookieDomain,
			TTL:      cfg.Auth.CookieTTL,
			Secure:   cfg.Auth.CookieSecure,
			SameSite: sameSite,
		},
		userRepo,
		logger,
	)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apphttp.WithCORS(router, cfg.CORS.AllowedOrigin),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}
