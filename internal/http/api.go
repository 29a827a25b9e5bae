package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"interview-auth/internal/auth"
	"interview-auth/internal/domain"
	"interview-auth/internal/service"
)

const (
	msgMissingFields       = "All fields are required"
	msgSignupNotAllowed    = "Admin sign-ups are not allowed"
	msgUserExists          = "User already exists"
	msgUserNotFound        = "User not found"
	msgInvalidCredentials  = "Invalid credentials"
	msgServerError         = "Server error. Please try again later."
	msgTokenNotReceived    = "Token Not Received"
	msgTokenExpired        = "Token Expired"
	msgUserNotRegistered   = "User not registered or Token malfunctioned"
	msgPermissionsMismatch = "Permissions did not match"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler wires HTTP routes to the user service and session primitives.
type Handler struct {
	users  service.UserService
	tokens *auth.TokenManager
	signer *auth.CookieSigner
	cookie auth.CookieOptions
	store  Pinger
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewHandler(users service.UserService, tokens *auth.TokenManager, signer *auth.CookieSigner, cookie auth.CookieOptions, store Pinger, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		users:  users,
		tokens: tokens,
		signer: signer,
		cookie: cookie,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(accessLog(h.logger))

	v1 := router.Group("/v1")
	{
		v1.GET("/health", h.health)

		user := v1.Group("/user")
		user.POST("/signup", h.signup)
		user.POST("/login", h.login)

		session := user.Group("", h.RequireSession())
		session.GET("/auth-status", h.authStatus)
		session.GET("/logout", h.logout)
		session.POST("/logout", h.logout)
	}
}

type userResponse struct {
	Message    string      `json:"message"`
	Identifier string      `json:"identifier"`
	Role       domain.Role `json:"role,omitempty"`
}

func (h *Handler) health(c *gin.Context) {
	if h.store != nil {
		if err := h.store.Ping(c.Request.Context()); err != nil {
			h.logger.WithError(err).Error("health: store unreachable")
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": "ok"})
}

func (h *Handler) signup(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	if _, err := h.users.Signup(c.Request.Context(), req.Identifier, req.Password); err != nil {
		h.fail(c, "signup", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "User created successfully"})
}

func (h *Handler) login(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	session, err := h.users.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		h.fail(c, "login", err)
		return
	}

	// drop whatever session the client held before issuing the new one
	http.SetCookie(c.Writer, h.cookie.Clear())
	http.SetCookie(c.Writer, h.cookie.Issue(h.signer.Sign(session.Token), h.now()))

	c.JSON(http.StatusOK, userResponse{
		Message:    "Login successful",
		Identifier: session.User.Identifier,
		Role:       session.User.Role,
	})
}

func (h *Handler) authStatus(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, userResponse{
		Message:    "Authenticated",
		Identifier: user.Identifier,
		Role:       user.Role,
	})
}

func (h *Handler) logout(c *gin.Context) {
	user, ok := h.sessionUser(c)
	if !ok {
		return
	}
	http.SetCookie(c.Writer, h.cookie.Clear())
	c.JSON(http.StatusOK, userResponse{
		Message:    "Logout successful",
		Identifier: user.Identifier,
	})
}

// sessionUser re-reads the account named by the verified claims. Any failure
// has already been written to the response when ok is false.
func (h *Handler) sessionUser(c *gin.Context) (*domain.User, bool) {
	claims, ok := auth.GetClaims(c.Request.Context())
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msgTokenNotReceived})
		return nil, false
	}

	user, err := h.users.Profile(c.Request.Context(), claims)
	switch {
	case err == nil:
		return user, true
	case errors.Is(err, service.ErrUserNotFound):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msgUserNotRegistered})
	case errors.Is(err, service.ErrSessionMismatch):
		h.logger.WithField("user_id", claims.ID).Warn("store returned a record for another subject")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msgPermissionsMismatch})
	default:
		h.serverError(c, "profile", err)
	}
	return nil, false
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"message": msgMissingFields})
	case errors.Is(err, service.ErrSignupNotAllowed):
		c.JSON(http.StatusBadRequest, gin.H{"message": msgSignupNotAllowed})
	case errors.Is(err, service.ErrUserAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"message": msgUserExists})
	case errors.Is(err, service.ErrUserNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"message": msgUserNotFound})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusBadRequest, gin.H{"message": msgInvalidCredentials})
	default:
		h.serverError(c, op, err)
	}
}

func (h *Handler) serverError(c *gin.Context, op string, err error) {
	h.logger.WithError(err).WithField("op", op).Error("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": msgServerError})
}
