package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"soulseer/internal/api"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "user_role"
)

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, api.ErrorResponse{Error: msg})
}

// bearerToken pulls the token out of "Authorization: Bearer <token>".
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || strings.TrimSpace(scheme) != "Bearer" {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthMiddleware resolves the caller from the bearer token and stores the
// user id and role on the context. Every failure is a 401.
func AuthMiddleware(accessTokenSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			unauthorized(c, "authorization header required")
			return
		}

		token, ok := bearerToken(header)
		if !ok {
			unauthorized(c, "expected a bearer token")
			return
		}

		claims, err := ValidateToken(token, accessTokenSecret)
		switch {
		case errors.Is(err, ErrTokenExpired):
			unauthorized(c, "token expired")
			return
		case errors.Is(err, ErrInvalidTokenType):
			unauthorized(c, "access token required")
			return
		case err != nil:
			unauthorized(c, "invalid token")
			return
		}

		SetIdentity(c, claims.UserID, claims.Role)
		c.Next()
	}
}

// RequireRole admits the request when the caller holds any of roles. It runs
// after AuthMiddleware; a missing role means the chain was misconfigured.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, exists := c.Get(ctxRole)
		role, ok := raw.(string)
		if !exists || !ok {
			unauthorized(c, "caller role unknown")
			return
		}

		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, api.ErrorResponse{Error: "insufficient permissions"})
	}
}

func GetUserID(c *gin.Context) (string, bool) {
	raw, exists := c.Get(ctxUserID)
	if !exists {
		return "", false
	}
	id, ok := raw.(string)
	return id, ok && id != ""
}

func GetRole(c *gin.Context) string {
	role, _ := c.Get(ctxRole)
	s, _ := role.(string)
	return s
}

// SetIdentity stores the caller identity on the context. Tests use it to skip token parsing.
func SetIdentity(c *gin.Context, userID, role string) {
	c.Set(ctxUserID, userID)
	c.Set(ctxRole, role)
}
