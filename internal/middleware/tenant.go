package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	ctxTenantID = "tenant_id"
	ctxUserID   = "user_id"
	ctxUserRole = "user_role"
)

// Principal is the caller identity an upstream gateway has already authenticated.
type Principal struct {
	TenantID string
	UserID   string
	Role     string
}

// RequireTenant rejects requests without tenant and role headers and stores the principal on the context.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal{
			TenantID: strings.TrimSpace(c.GetHeader(HeaderTenantID)),
			UserID:   strings.TrimSpace(c.GetHeader(HeaderUserID)),
			Role:     strings.TrimSpace(c.GetHeader(HeaderUserRole)),
		}
		if p.TenantID == "" || p.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": "UNAUTHORIZED",
				"msg":  "tenant and role headers are required",
			})
			return
		}
		c.Set(ctxTenantID, p.TenantID)
		c.Set(ctxUserID, p.UserID)
		c.Set(ctxUserRole, p.Role)
		c.Next()
	}
}

// PrincipalFrom returns the principal set by RequireTenant.
func PrincipalFrom(c *gin.Context) Principal {
	return Principal{
		TenantID: c.GetString(ctxTenantID),
		UserID:   c.GetString(ctxUserID),
		Role:     c.GetString(ctxUserRole),
	}
}
