package application

import (
	"encoding/json"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	runDomain "github.com/foodhub-delivery/service-routing/internal/domain/run"
	"github.com/google/uuid"
)

// StopInput is one order as submitted by a client.
type StopInput struct {
	OrderID      string          `json:"order_id" binding:"required"`
	Latitude     *float64        `json:"latitude"`
	Longitude    *float64        `json:"longitude"`
	Address      string          `json:"address"`
	ScheduledFor *time.Time      `json:"scheduled_for"`
	Payload      json.RawMessage `json:"payload"`
}

// PositionInput is a coordinate pair submitted by a client.
type PositionInput struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AssignBatchRequest starts a run. Orders are loaded from the order store when omitted.
type AssignBatchRequest struct {
	Position *PositionInput `json:"position"`
	Orders   []StopInput    `json:"orders" binding:"omitempty,dive"`
}

// AddOrderRequest adds one order to a driver's active run.
type AddOrderRequest struct {
	Order StopInput `json:"order" binding:"required"`
}

// ReportLocationRequest is a device location report.
type ReportLocationRequest struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	RecordedAt *time.Time `json:"recorded_at"`
}

// AbandonRequest cancels a run.
type AbandonRequest struct {
	Reason string `json:"reason"`
}

// SequencePreviewRequest asks for a stateless sequencing of stops.
type SequencePreviewRequest struct {
	Start *PositionInput `json:"start" binding:"required"`
	Stops []StopInput    `json:"stops" binding:"omitempty,dive"`
	Now   *time.Time     `json:"now"`
}

// SequencePreviewDTO is the result of a stateless sequencing.
type SequencePreviewDTO struct {
	Stops      []route.DeliveryStop `json:"stops"`
	DistanceKm float64              `json:"distance_km"`
	EtaMinutes int                  `json:"eta_minutes"`
	EtaText    string               `json:"eta_text"`
}

// RunStatsDTO summarises runs for operators.
type RunStatsDTO struct {
	ByStatus          map[string]int64 `json:"by_status"`
	ActiveControllers int              `json:"active_controllers"`
}

// RunDTO is the response representation of a delivery run.
type RunDTO struct {
	ID             uuid.UUID             `json:"id"`
	DriverID       uuid.UUID             `json:"driver_id"`
	Status         string                `json:"status"`
	Position       *route.GeoPoint       `json:"position,omitempty"`
	Stops          []route.DeliveryStop  `json:"stops"`
	CurrentIndex   int                   `json:"current_index"`
	CurrentTarget  *route.DeliveryStop   `json:"current_target,omitempty"`
	TargetLabel    string                `json:"target_label,omitempty"`
	Deviated       bool                  `json:"deviated"`
	Directions     []route.DirectionStep `json:"directions,omitempty"`
	DistanceKm     *float64              `json:"distance_to_target_km,omitempty"`
	EtaMinutes     *int                  `json:"eta_minutes,omitempty"`
	EtaText        string                `json:"eta_text,omitempty"`
	RemainingKm    float64               `json:"remaining_km"`
	DeliveredAt    map[string]time.Time  `json:"delivered_at,omitempty"`
	CancelReason   string                `json:"cancel_reason,omitempty"`
	UnlocatedStops []string              `json:"unlocated_stops,omitempty"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	CancelledAt    *time.Time            `json:"cancelled_at,omitempty"`
	Version        int64                 `json:"version"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

func toRunDTO(r *runDomain.DeliveryRun, averageSpeedKmh float64) RunDTO {
	dto := RunDTO{
		ID:           r.ID(),
		DriverID:     r.DriverID(),
		Status:       r.Status().String(),
		Position:     r.Position(),
		Stops:        r.Stops(),
		CurrentIndex: r.CurrentIndex(),
		Deviated:     r.IsDeviated(),
		Directions:   r.Directions(),
		RemainingKm:  r.RemainingDistanceKm(),
		DeliveredAt:  r.DeliveredAt(),
		CancelReason: r.CancelReason(),
		StartedAt:    r.StartedAt(),
		CompletedAt:  r.CompletedAt(),
		CancelledAt:  r.CancelledAt(),
		Version:      r.Version(),
		CreatedAt:    r.CreatedAt(),
		UpdatedAt:    r.UpdatedAt(),
	}

	if target, ok := r.CurrentTarget(); ok {
		dto.CurrentTarget = &target
		dto.TargetLabel = target.Label()
	}
	if d, ok := r.DistanceToTargetKm(); ok {
		eta := route.EstimateEtaMinutes(d, averageSpeedKmh)
		dto.DistanceKm = &d
		dto.EtaMinutes = &eta
		dto.EtaText = route.FormatEta(eta)
	}
	for _, s := range r.UnlocatedStops() {
		dto.UnlocatedStops = append(dto.UnlocatedStops, s.ID)
	}
	return dto
}

func toDeliveryStop(in StopInput) (route.DeliveryStop, error) {
	stop := route.DeliveryStop{
		ID:           in.OrderID,
		Address:      in.Address,
		ScheduledFor: in.ScheduledFor,
		Payload:      in.Payload,
	}
	if in.Latitude != nil && in.Longitude != nil {
		p, err := route.NewGeoPoint(*in.Latitude, *in.Longitude)
		if err != nil {
			return route.DeliveryStop{}, err
		}
		stop.Destination = &p
	}
	return stop, nil
}

func stopIDs(stops []route.DeliveryStop) []string {
	ids := make([]string, len(stops))
	for i, s := range stops {
		ids[i] = s.ID
	}
	return ids
}
