package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hrplane/pkg/errutil"
)

const (
	// TenantHeader carries the tenant identity resolved by the upstream
	// authentication layer.
	TenantHeader = "X-Tenant-ID"

	// TenantContextKey is where the tenant id is stored on the gin
	// context.
	TenantContextKey = "tenant_id"
)

// Tenant extracts the tenant identity from the request and stores it on
// the context. Requests with no tenant are rejected before any handler
// runs.
func Tenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantHeader)
		if tenantID == "" {
			err := errutil.BadRequest("missing tenant identity", nil,
				errutil.WithDetails(errutil.Detail{Field: TenantHeader, Message: "required header"}))
			c.AbortWithStatusJSON(http.StatusBadRequest, err.(errutil.BaseError).JSON())
			return
		}

		c.Set(TenantContextKey, tenantID)
		c.Next()
	}
}

// TenantFromContext returns the tenant id stored by Tenant.
func TenantFromContext(c *gin.Context) string {
	return c.GetString(TenantContextKey)
}
