package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/campuspass/backend/internal/models"
	"github.com/campuspass/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
)

// Authenticator turns a bearer token into the caller's principal.
type Authenticator interface {
	Authenticate(token string) (models.Principal, error)
}

// JWT returns a middleware that validates the bearer token and stores the principal in context.
func JWT(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		p, err := auth.Authenticate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		SetPrincipal(c, p)
		c.Next()
	}
}

// SetPrincipal stores p in the request context.
func SetPrincipal(c *gin.Context, p models.Principal) {
	c.Set(ContextUserID, p.UserID)
	c.Set(ContextUserRole, p.Role)
}

// Principal returns the authenticated caller. It is the zero principal on public routes.
func Principal(c *gin.Context) models.Principal {
	var p models.Principal
	if v, ok := c.Get(ContextUserID); ok {
		p.UserID, _ = v.(uuid.UUID)
	}
	if v, ok := c.Get(ContextUserRole); ok {
		p.Role, _ = v.(models.Role)
	}
	return p
}
