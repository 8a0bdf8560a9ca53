package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hrplane/pkg/errutil"
	"hrplane/services/license"
)

// DecisionContextKey is where the guard stores the validated decision
// for downstream handlers.
const DecisionContextKey = "license_decision"

// ModuleValidator is the slice of the license validator the guard needs.
type ModuleValidator interface {
	ValidateModuleAccess(ctx context.Context, tenantID string, moduleKey license.ModuleKey, opts license.ValidateOptions) (*license.Decision, error)
}

// RequireModule short-circuits any request whose tenant is not entitled
// to the module. The denial reason is passed through unmodified so the
// client can distinguish "not licensed" from "expired". A store failure
// fails closed: the request is rejected, never implicitly allowed.
func RequireModule(validator ModuleValidator, moduleKey license.ModuleKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := TenantFromContext(c)
		if tenantID == "" {
			err := errutil.BadRequest("missing tenant identity", nil)
			c.AbortWithStatusJSON(http.StatusBadRequest, err.(errutil.BaseError).JSON())
			return
		}

		decision, err := validator.ValidateModuleAccess(c.Request.Context(), tenantID, moduleKey, license.ValidateOptions{})
		if err != nil {
			zap.L().Error("module guard validation failed",
				zap.Error(err),
				zap.String("tenant_id", tenantID),
				zap.String("module_key", string(moduleKey)),
			)

			var status = http.StatusServiceUnavailable
			if base, ok := err.(errutil.BaseError); ok {
				status = base.Code.HTTPStatus()
				c.AbortWithStatusJSON(status, base.JSON())
				return
			}
			c.AbortWithStatusJSON(status, gin.H{"error": gin.H{
				"code":    errutil.StatusServiceUnavailable,
				"message": "license validation unavailable",
			}})
			return
		}

		if !decision.Valid {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": gin.H{
				"code":    errutil.StatusForbidden,
				"message": "module access denied",
				"reason":  decision.Reason,
			}})
			return
		}

		c.Set(DecisionContextKey, decision)
		c.Next()
	}
}
