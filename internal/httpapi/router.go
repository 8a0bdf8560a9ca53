package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"hrplane/pkg/config"
	"hrplane/pkg/health"
	"hrplane/pkg/middleware"
	"hrplane/services/license"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewHandler,
		ProvideRouter,
	),
)

type RouterParams struct {
	fx.In
	Config  *config.Config
	Handler *Handler
	Health  health.HealthService
	License *license.Service
}

// ProvideRouter builds the HTTP handler for the service.
func ProvideRouter(p RouterParams) http.Handler {
	if p.Config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", p.Health.Liveness)
	r.GET("/readyz", p.Health.Readiness)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1", middleware.Error())

	tenant := v1.Group("", middleware.Tenant())
	tenant.POST("/license/validate", p.Handler.ValidateModuleAccess)
	tenant.POST("/usage/track", p.Handler.TrackUsage)
	tenant.GET("/audit/logs", p.Handler.QueryLogs)

	// Cache invalidation is called by the subscription system after a
	// license mutation, not by tenants.
	v1.DELETE("/license/cache", p.Handler.ClearCache)

	// Licensed module areas mount under /v1/modules/<key>; anything the
	// host application attaches here is entitlement-gated.
	modules := tenant.Group("/modules")
	for _, key := range []license.ModuleKey{
		license.ModuleAttendance,
		license.ModuleLeave,
		license.ModulePayroll,
		license.ModuleDocuments,
		license.ModuleSurveys,
		license.ModuleTasks,
	} {
		group := modules.Group("/"+string(key), middleware.RequireModule(p.License, key))
		group.GET("/access", moduleAccess)
	}

	return r
}

// moduleAccess reports the decision the guard already made; reaching it
// at all means access was granted.
func moduleAccess(c *gin.Context) {
	decision, _ := c.Get(middleware.DecisionContextKey)
	c.JSON(http.StatusOK, decision)
}
