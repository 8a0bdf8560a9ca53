package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"hrplane/pkg/db/pagination"
	"hrplane/pkg/errutil"
	"hrplane/pkg/middleware"
	"hrplane/services/audit"
	"hrplane/services/license"
	"hrplane/services/usage"
)

type Handler struct {
	license *license.Service
	usage   *usage.Service
	audit   *audit.Service
}

type HandlerParams struct {
	fx.In
	License *license.Service
	Usage   *usage.Service
	Audit   *audit.Service
}

func NewHandler(p HandlerParams) *Handler {
	return &Handler{
		license: p.License,
		usage:   p.Usage,
		audit:   p.Audit,
	}
}

type validateRequest struct {
	ModuleKey string `json:"module_key" binding:"required"`
	SkipCache bool   `json:"skip_cache"`
}

// ValidateModuleAccess decides whether the calling tenant may use a
// module. Denials are 200 responses carrying the decision; only
// malformed input or an unavailable store is an error.
func (h *Handler) ValidateModuleAccess(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	decision, err := h.license.ValidateModuleAccess(
		c.Request.Context(),
		middleware.TenantFromContext(c),
		license.ModuleKey(req.ModuleKey),
		license.ValidateOptions{SkipCache: req.SkipCache},
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

type trackRequest struct {
	ModuleKey string `json:"module_key" binding:"required"`
	LimitType string `json:"limit_type" binding:"required"`
	Delta     int64  `json:"delta" binding:"required"`
	Immediate bool   `json:"immediate"`
}

// TrackUsage applies a usage delta for the calling tenant. A blocked
// increment is a 200 response with blocked=true.
func (h *Handler) TrackUsage(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	result, err := h.usage.TrackUsage(
		c.Request.Context(),
		middleware.TenantFromContext(c),
		license.ModuleKey(req.ModuleKey),
		license.LimitType(req.LimitType),
		req.Delta,
		usage.TrackOptions{Immediate: req.Immediate},
	)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type queryLogsRequest struct {
	ModuleKey string `form:"module_key"`
	EventType string `form:"event_type"`
	Severity  string `form:"severity"`
	StartDate string `form:"start_date"`
	EndDate   string `form:"end_date"`
	Skip      int    `form:"skip"`
	Limit     int    `form:"limit"`
}

// QueryLogs lists the calling tenant's audit trail, newest first.
func (h *Handler) QueryLogs(c *gin.Context) {
	var req queryLogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.Error(errutil.BadRequest("invalid query parameters", err))
		return
	}

	params := audit.ListParams{
		TenantID:  middleware.TenantFromContext(c),
		ModuleKey: req.ModuleKey,
		EventType: audit.EventType(req.EventType),
		Severity:  audit.Severity(req.Severity),
		Page:      pagination.Pagination{Skip: req.Skip, Limit: req.Limit},
	}

	if req.StartDate != "" {
		start, err := time.Parse(time.RFC3339, req.StartDate)
		if err != nil {
			c.Error(errutil.BadRequest("invalid start_date", err))
			return
		}
		params.StartDate = &start
	}
	if req.EndDate != "" {
		end, err := time.Parse(time.RFC3339, req.EndDate)
		if err != nil {
			c.Error(errutil.BadRequest("invalid end_date", err))
			return
		}
		params.EndDate = &end
	}

	logs, err := h.audit.QueryLogs(c.Request.Context(), params)
	if err != nil {
		c.Error(err)
		return
	}

	total, err := h.audit.CountLogs(c.Request.Context(), params)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": total})
}

// ClearCache invalidates cached license decisions for one tenant, or
// the entire cache when tenant_id is omitted. Must be called by any
// upstream that mutates a license.
func (h *Handler) ClearCache(c *gin.Context) {
	h.license.ClearCache(c.Query("tenant_id"))
	c.Status(http.StatusNoContent)
}
