package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/foodhub-delivery/service-routing/internal/application"
	"github.com/foodhub-delivery/service-routing/internal/platform/response"
)

// RunStatsReader provides operator statistics.
type RunStatsReader interface {
	GetRunStats(ctx context.Context) (*application.RunStatsDTO, error)
}

// AdminRunHandler handles admin HTTP requests for run monitoring.
type AdminRunHandler struct {
	service RunStatsReader
}

// NewAdminRunHandler creates a new AdminRunHandler.
func NewAdminRunHandler(service RunStatsReader) *AdminRunHandler {
	return &AdminRunHandler{service: service}
}

// RegisterRoutes registers admin run routes.
func (h *AdminRunHandler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/api/v1/admin")
	{
		admin.GET("/stats/runs", h.RunStats)
	}
}

// RunStats handles GET /api/v1/admin/stats/runs.
func (h *AdminRunHandler) RunStats(c *gin.Context) {
	stats, err := h.service.GetRunStats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}
