// Package messages defines the topics, event types and payloads exchanged with other services.
package messages

import (
	"time"

	"github.com/google/uuid"
)

// Kafka topics.
const (
	TopicRouteEvents = "route.events"
	TopicOrderEvents = "order.events"
)

// Event types published on route.events.
const (
	RunStarted       = "run.started"
	RunResequenced   = "run.resequenced"
	RunStopDelivered = "run.stop_delivered"
	RunCompleted     = "run.completed"
	RunCancelled     = "run.cancelled"
)

// Event types consumed from order.events.
const (
	OrderAssigned   = "order.assigned"
	OrderCancelled  = "order.cancelled"
	OrderReassigned = "order.reassigned"
)

// RunStartedEvent is published when a run goes en route.
type RunStartedEvent struct {
	RunID      uuid.UUID `json:"run_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	StopIDs    []string  `json:"stop_ids"`
	DistanceKm float64   `json:"distance_km"`
	EtaMinutes int       `json:"eta_minutes"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RunResequencedEvent is published when the remaining stops were re-ordered.
type RunResequencedEvent struct {
	RunID        uuid.UUID `json:"run_id"`
	DriverID     uuid.UUID `json:"driver_id"`
	CurrentIndex int       `json:"current_index"`
	StopIDs      []string  `json:"stop_ids"`
	Reason       string    `json:"reason"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// StopDeliveredEvent is published for every delivered stop.
type StopDeliveredEvent struct {
	RunID       uuid.UUID `json:"run_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	OrderID     string    `json:"order_id"`
	Remaining   int       `json:"remaining"`
	DeliveredAt time.Time `json:"delivered_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RunCompletedEvent is published when every stop has been consumed.
type RunCompletedEvent struct {
	RunID       uuid.UUID `json:"run_id"`
	DriverID    uuid.UUID `json:"driver_id"`
	Delivered   int       `json:"delivered"`
	CompletedAt time.Time `json:"completed_at"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// RunCancelledEvent is published when a run is abandoned or superseded.
type RunCancelledEvent struct {
	RunID      uuid.UUID `json:"run_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	Reason     string    `json:"reason"`
	Remaining  []string  `json:"remaining_stop_ids"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OrderAssignedEvent arrives when dispatch gives a driver another order.
type OrderAssignedEvent struct {
	OrderID      uuid.UUID  `json:"order_id"`
	DriverID     uuid.UUID  `json:"driver_id"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Address      string     `json:"address"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	OccurredAt   time.Time  `json:"occurred_at"`
}

// OrderCancelledEvent arrives when an order is withdrawn.
type OrderCancelledEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// OrderReassignedEvent arrives when an order moves to another driver.
type OrderReassignedEvent struct {
	OrderID      uuid.UUID `json:"order_id"`
	FromDriverID uuid.UUID `json:"from_driver_id"`
	ToDriverID   uuid.UUID `json:"to_driver_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}
