package handler

import (
	"context"
	"strconv"

	"github.com/foodhub-delivery/service-routing/internal/application"
	"github.com/foodhub-delivery/service-routing/internal/platform/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RunService is the application surface the HTTP layer drives.
type RunService interface {
	AssignBatch(ctx context.Context, driverID uuid.UUID, req application.AssignBatchRequest) (*application.RunDTO, error)
	GetRun(ctx context.Context, driverID uuid.UUID) (*application.RunDTO, error)
	MarkDelivered(ctx context.Context, driverID uuid.UUID, stopID string) (*application.RunDTO, error)
	CancelStop(ctx context.Context, driverID uuid.UUID, stopID string) (*application.RunDTO, error)
	AddOrder(ctx context.Context, driverID uuid.UUID, req application.AddOrderRequest) (*application.RunDTO, error)
	Abandon(ctx context.Context, driverID uuid.UUID, reason string) (*application.RunDTO, error)
	ReportLocation(ctx context.Context, driverID uuid.UUID, req application.ReportLocationRequest) error
	NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]string, error)
	PreviewSequence(req application.SequencePreviewRequest) (*application.SequencePreviewDTO, error)
}

// RunHandler handles HTTP requests for delivery runs and driver locations.
type RunHandler struct {
	service RunService
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(service RunService) *RunHandler {
	return &RunHandler{service: service}
}

// RegisterRoutes registers all run routes on the given router group.
func (h *RunHandler) RegisterRoutes(r *gin.RouterGroup) {
	drivers := r.Group("/api/v1/drivers/:driverId")
	{
		drivers.POST("/runs", h.AssignBatch)
		drivers.GET("/run", h.GetRun)
		drivers.POST("/location", h.ReportLocation)
		drivers.POST("/run/stops/:stopId/deliver", h.MarkDelivered)
		drivers.POST("/run/stops/:stopId/cancel", h.CancelStop)
		drivers.POST("/run/orders", h.AddOrder)
		drivers.POST("/run/abandon", h.Abandon)
	}

	r.GET("/api/v1/locations/nearby", h.NearbyDrivers)
	r.POST("/api/v1/routes/sequence", h.PreviewSequence)
}

// AssignBatch handles POST /api/v1/drivers/:driverId/runs.
func (h *RunHandler) AssignBatch(c *gin.Context) {
	driverID, ok := parseDriverID(c)
	if !ok {
		return
	}

	var req application.AssignBatchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.AssignBatch(c.Request.Context(), driverID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// GetRun handles GET /api/v1/drivers/:driverId/run.
func (h *RunHandler) GetRun(c *gin.Context) {
	driverID, ok := parseDriverID(c)
	if !ok {
		return
	}

	result, err := h.service.GetRun(c.Request.Context(), driverID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// ReportLocation handles POST /api/v1/drivers/:driverId/location.
func (h *RunHandler) ReportLocation(c *gin.Context) {
	driverID, ok := parseDriverID(c)
	if !ok {
		return
	}

	var req application.ReportLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.service.ReportLocation(c.Request.Context(), driverID, req); err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, gin.H{"driver_id": driverID})
}

// MarkDelivered handles POST /api/v1/drivers/:driverId/run/stops/:stopId/deliver.
func (h *RunHandler) MarkDelivered(c *gin.Context) {
	driverID, ok := parseDriverID(c)
	if !ok {
		return
	}

	result, err := h.service.MarkDelivered(c.Request.Context(), driverID, c.Param("stopId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// CancelStop handles POST /api/v1/drivers/:driverId/run/stops/:stopId/cancel.
func (h *RunHandler) CancelStop(c *gin.Context) {
	driverID, ok := parseDriverID(c)
	if !ok {
		return
	}

	result, err := h.service.CancelStop(c.Request.Context(), driverID, c.Param("stopId"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// AddOrder handles POST /api/v1/drivers/:driverId/run/orders. The run is re-created, so the
// response carries a new run ID.
func (h *RunHandler) AddOrder(c *gin.Context) {
	driverID, ok := parseDriverID(c)
	if !ok {
		return
	}

	var req application.AddOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.AddOrder(c.Request.Context(), driverID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// Abandon handles POST /api/v1/drivers/:driverId/run/abandon.
func (h *RunHandler) Abandon(c *gin.Context) {
	driverID, ok := parseDriverID(c)
	if !ok {
		return
	}

	var req application.AbandonRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	result, err := h.service.Abandon(c.Request.Context(), driverID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// NearbyDrivers handles GET /api/v1/locations/nearby?lat=&lng=&radius_km=.
func (h *RunHandler) NearbyDrivers(c *gin.Context) {
	lat, err := strconv.ParseFloat(c.Query("lat"), 64)
	if err != nil {
		response.BadRequest(c, "invalid lat")
		return
	}
	lng, err := strconv.ParseFloat(c.Query("lng"), 64)
	if err != nil {
		response.BadRequest(c, "invalid lng")
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "5"), 64)
	if err != nil {
		response.BadRequest(c, "invalid radius_km")
		return
	}

	ids, err := h.service.NearbyDrivers(c.Request.Context(), lat, lng, radius)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"driver_ids": ids})
}

// PreviewSequence handles POST /api/v1/routes/sequence.
func (h *RunHandler) PreviewSequence(c *gin.Context) {
	var req application.SequencePreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.PreviewSequence(req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

func parseDriverID(c *gin.Context) (uuid.UUID, bool) {
	driverID, err := uuid.Parse(c.Param("driverId"))
	if err != nil {
		response.BadRequest(c, "invalid driver ID")
		return uuid.Nil, false
	}
	return driverID, true
}
