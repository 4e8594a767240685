package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"trackmate/internal/config"
	"trackmate/internal/models"
	"trackmate/internal/security"
)

const (
	ContextUserKey    = "current_user"
	ContextSessionKey = "session_token"
)

type SessionFinder interface {
	FindByTokenHash(ctx context.Context, tokenHash []byte) (models.Session, error)
}

type UserGetter interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

type SessionCache interface {
	Get(ctx context.Context, tokenHash []byte) (string, error)
	Put(ctx context.Context, tokenHash []byte, userID string, expiresAt time.Time) error
}

// Auth resolves the opaque bearer token (Authorization header or session
// cookie) to a user. There is no fallback to a client-supplied identifier:
// requests without a valid session are rejected outright.
func Auth(cfg *config.AppConfig, users UserGetter, sessions SessionFinder, cache SessionCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c, cfg.Security.CookieName)
		if token == "" {
			abortUnauthenticated(c)
			return
		}

		tokenHash := security.HashToken(token)

		userID, err := cache.Get(c.Request.Context(), tokenHash)
		if err != nil {
			userID = ""
		}

		if userID == "" {
			session, err := sessions.FindByTokenHash(c.Request.Context(), tokenHash)
			if err != nil {
				abortUnauthenticated(c)
				return
			}
			userID = session.UserID
			_ = cache.Put(c.Request.Context(), tokenHash, userID, session.ExpiresAt)
		}

		user, err := users.GetByID(c.Request.Context(), userID)
		if err != nil {
			abortUnauthenticated(c)
			return
		}
		if !user.IsActive {
			abortUnauthenticated(c)
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextSessionKey, token)

		c.Next()
	}
}

func extractToken(c *gin.Context, cookieName string) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return cookie
	}
	return ""
}

func abortUnauthenticated(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": "Not authenticated. Please login again.",
	})
}

// CurrentUser pulls the authenticated user set by Auth out of the context.
func CurrentUser(c *gin.Context) (models.User, bool) {
	val, exists := c.Get(ContextUserKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := val.(models.User)
	return user, ok
}

// SessionToken returns the bearer token of the current request, if any.
func SessionToken(c *gin.Context) string {
	val, exists := c.Get(ContextSessionKey)
	if !exists {
		return ""
	}
	token, _ := val.(string)
	return token
}
