package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"interview-auth/internal/auth"
)

// RequireSession verifies the signed session cookie and the token inside it.
// On success the claims are attached to the request context; otherwise the
// request ends with 401. The cookie is read from the raw request because
// gin's Cookie helper query-unescapes the value and would turn '+' in the
// signature into a space.
func (h *Handler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie, err := c.Request.Cookie(h.cookie.Name)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msgTokenNotReceived})
			return
		}

		// a cookie with a bad signature is treated as absent
		token, err := h.signer.Unsign(cookie.Value)
		if err != nil || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msgTokenNotReceived})
			return
		}

		claims, err := h.tokens.Verify(token)
		if err != nil {
			h.logger.WithError(err).Debug("session token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": msgTokenExpired})
			return
		}

		c.Request = c.Request.WithContext(auth.WithClaimsContext(c.Request.Context(), claims))
		c.Next()
	}
}

func accessLog(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"ip":      c.ClientIP(),
		})
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// WithCORS allows credentialed requests from a single browser origin.
func WithCORS(next http.Handler, origin string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   []string{origin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept"},
		AllowCredentials: true,
	}).Handler(next)
}
