package application

import (
	"context"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	"github.com/foodhub-delivery/service-routing/internal/platform/kafka"
	"github.com/google/uuid"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// PositionProvider yields the latest device position of a driver. An error means no usable
// sample this tick (permission denied, stale or timed out).
type PositionProvider interface {
	Sample(ctx context.Context, driverID uuid.UUID) (route.GeoPoint, error)
}

// LocationStore accepts device location reports and answers proximity queries.
type LocationStore interface {
	Record(ctx context.Context, driverID uuid.UUID, p route.GeoPoint, at time.Time) error
	Nearby(ctx context.Context, p route.GeoPoint, radiusKm float64) ([]string, error)
}

// FulfillmentStore persists the order and driver side effects of a run.
type FulfillmentStore interface {
	// FindAssignedOrders loads the undelivered orders currently assigned to a driver as stops.
	FindAssignedOrders(ctx context.Context, driverID uuid.UUID) ([]route.DeliveryStop, error)

	// MarkOrderDelivered records delivery of an order.
	MarkOrderDelivered(ctx context.Context, orderID string, at time.Time) error

	// UpdateDriverLocation stores the driver's last known location.
	UpdateDriverLocation(ctx context.Context, driverID uuid.UUID, p route.GeoPoint, at time.Time) error

	// IncrementDriverDeliveries bumps the driver's completed delivery counter.
	IncrementDriverDeliveries(ctx context.Context, driverID uuid.UUID) error

	// ReleaseDriver clears the driver's current order and marks them available.
	ReleaseDriver(ctx context.Context, driverID uuid.UUID) error
}

// DriverNotifier pushes live updates to the driver's device.
type DriverNotifier interface {
	PublishPosition(ctx context.Context, driverID, runID uuid.UUID, p route.GeoPoint, at time.Time) error
	NotifyRecalculating(ctx context.Context, driverID, runID uuid.UUID) error
	NotifyWarning(ctx context.Context, driverID uuid.UUID, message string) error
}

// EventPublisher publishes CloudEvents; *kafka.Producer satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error
}

// RunMetrics records controller activity. A nil RunMetrics is replaced by a no-op.
type RunMetrics interface {
	RunStarted()
	RunFinished(status string)
	SetActiveRuns(n int)
	Resequenced(reason string)
	StopDelivered()
	PositionSampled(ok bool)
	ObserveSequencing(d time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RunStarted()                     {}
func (noopMetrics) RunFinished(string)              {}
func (noopMetrics) SetActiveRuns(int)               {}
func (noopMetrics) Resequenced(string)              {}
func (noopMetrics) StopDelivered()                  {}
func (noopMetrics) PositionSampled(bool)            {}
func (noopMetrics) ObserveSequencing(time.Duration) {}

type noopNotifier struct{}

func (noopNotifier) PublishPosition(context.Context, uuid.UUID, uuid.UUID, route.GeoPoint, time.Time) error {
	return nil
}
func (noopNotifier) NotifyRecalculating(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (noopNotifier) NotifyWarning(context.Context, uuid.UUID, string) error          { return nil }
