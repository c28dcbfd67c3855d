package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/harentsoaR/medlab-api/internal/models"
	"github.com/harentsoaR/medlab-api/internal/services"
	"github.com/harentsoaR/medlab-api/internal/utils"
)

const (
	userIDKey   = "userID"
	userRoleKey = "userRole"
)

// TokenValidator is the part of utils.TokenManager the middleware needs.
type TokenValidator interface {
	Validate(tokenStr string) (*utils.Claims, error)
}

func AuthMiddleware(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		scheme, tokenString, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header format"})
			return
		}

		claims, err := tokens.Validate(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		role := models.Role(claims.Role)
		if !role.IsValid() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Set(userRoleKey, role)

		c.Next()
	}
}

// RequireRole must run after AuthMiddleware.
func RequireRole(allowed ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		for _, r := range allowed {
			if caller.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "You do not have permission to access this resource"})
	}
}

// CallerFrom returns the identity AuthMiddleware stored on the context.
func CallerFrom(c *gin.Context) (services.Caller, bool) {
	id := c.GetString(userIDKey)
	role, _ := c.Get(userRoleKey)
	r, ok := role.(models.Role)
	if id == "" || !ok {
		return services.Caller{}, false
	}
	return services.Caller{ID: id, Role: r}, true
}
