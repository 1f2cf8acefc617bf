package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	UserIDKey           = "user_id"
	UserEmailKey        = "user_email"
	UserRoleKey         = "user_role"
)

// Middleware rejects requests without a valid bearer token.
func Middleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := claimsFromHeader(c, jwtManager)
		if err != nil {
			message := "invalid token"
			switch {
			case errors.Is(err, errMissingHeader):
				message = "missing authorization header"
			case errors.Is(err, errBadHeaderFormat):
				message = "invalid authorization header format"
			case errors.Is(err, ErrExpiredToken):
				message = "token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": message,
			})
			return
		}

		setIdentity(c, claims)
		c.Next()
	}
}

// OptionalMiddleware extracts identity when a token is present but
// never rejects. Used where requests may be attributed to a user.
func OptionalMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := claimsFromHeader(c, jwtManager)
		if err == nil {
			setIdentity(c, claims)
		}
		c.Next()
	}
}

// RequireRole allows only the named roles past.
func RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get(UserRoleKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "role not found in context",
			})
			return
		}

		userRole := role.(string)
		for _, allowed := range allowedRoles {
			if userRole == allowed {
				c.Next()
				return
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "insufficient permissions",
		})
	}
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}
	id, ok := userID.(string)
	return id, ok
}

var (
	errMissingHeader   = errors.New("missing authorization header")
	errBadHeaderFormat = errors.New("invalid authorization header format")
)

func claimsFromHeader(c *gin.Context, jwtManager *JWTManager) (*Claims, error) {
	authHeader := c.GetHeader(AuthorizationHeader)
	if authHeader == "" {
		return nil, errMissingHeader
	}
	if !strings.HasPrefix(authHeader, BearerPrefix) {
		return nil, errBadHeaderFormat
	}
	return jwtManager.ValidateToken(strings.TrimPrefix(authHeader, BearerPrefix))
}

func setIdentity(c *gin.Context, claims *Claims) {
	c.Set(UserIDKey, claims.UserID)
	c.Set(UserEmailKey, claims.Email)
	c.Set(UserRoleKey, claims.Role)
}
