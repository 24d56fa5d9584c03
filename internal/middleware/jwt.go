package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/markethub/livecommerce/internal/auth"
	"github.com/markethub/livecommerce/pkg/response"
)

const (
	// ContextUserID holds the caller's uuid.UUID. It doubles as the studio ID.
	ContextUserID = "user_id"
	// ContextUserRole holds the caller's models.Role.
	ContextUserRole = "user_role"
	// ContextUserEmail holds the caller's email.
	ContextUserEmail = "user_email"
	// ContextStoreName holds the seller's store name.
	ContextStoreName = "store_name"
)

// TokenValidator parses bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT validates the bearer token and puts the seller's claims in the context.
func JWT(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Set(ContextStoreName, claims.StoreName)
		c.Next()
	}
}
