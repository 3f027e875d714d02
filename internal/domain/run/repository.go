package run

import (
	"context"

	"github.com/google/uuid"
)

// RunRepository defines the persistence contract for delivery run aggregates.
type RunRepository interface {
	// FindByID retrieves a run by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*DeliveryRun, error)

	// FindActiveByDriver retrieves the idle or en-route run of a driver.
	FindActiveByDriver(ctx context.Context, driverID uuid.UUID) (*DeliveryRun, error)

	// FindActiveByStop retrieves the active run that still has the given stop unvisited.
	FindActiveByStop(ctx context.Context, stopID string) (*DeliveryRun, error)

	// ListActive retrieves every idle or en-route run.
	ListActive(ctx context.Context) ([]*DeliveryRun, error)

	// Save persists a new run.
	Save(ctx context.Context, run *DeliveryRun) error

	// Update persists changes to an existing run with optimistic locking.
	Update(ctx context.Context, run *DeliveryRun) error

	// CountByStatus returns run counts grouped by status.
	CountByStatus(ctx context.Context) (map[string]int64, error)
}
