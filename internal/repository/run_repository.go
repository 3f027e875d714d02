package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	runDomain "github.com/foodhub-delivery/service-routing/internal/domain/run"
	"github.com/foodhub-delivery/service-routing/internal/platform/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RunModel is the GORM model for the delivery_runs table.
type RunModel struct {
	ID                   uuid.UUID       `gorm:"type:uuid;primaryKey"`
	DriverID             uuid.UUID       `gorm:"type:uuid;index;not null"`
	Status               string          `gorm:"not null;size:20;index"`
	DeviationThresholdKm float64         `gorm:"not null"`
	UrgencyWindowSeconds int64           `gorm:"not null"`
	PositionLat          *float64        `gorm:""`
	PositionLng          *float64        `gorm:""`
	Stops                json.RawMessage `gorm:"type:jsonb;not null"`
	CurrentIndex         int             `gorm:"not null;default:0"`
	Deviated             bool            `gorm:"not null;default:false"`
	Deliveries           json.RawMessage `gorm:"type:jsonb;not null"`
	CancelReason         string          `gorm:"size:50"`
	StartedAt            *time.Time      `gorm:""`
	CompletedAt          *time.Time      `gorm:""`
	CancelledAt          *time.Time      `gorm:""`
	Version              int64           `gorm:"not null;default:1"`
	CreatedAt            time.Time       `gorm:"not null"`
	UpdatedAt            time.Time       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (RunModel) TableName() string {
	return "delivery_runs"
}

var activeStatuses = []string{
	runDomain.StatusIdle.String(),
	runDomain.StatusEnRoute.String(),
}

// GormRunRepository is the GORM-based implementation of RunRepository.
type GormRunRepository struct {
	db *gorm.DB
}

// NewGormRunRepository creates a new GormRunRepository.
func NewGormRunRepository(db *gorm.DB) *GormRunRepository {
	return &GormRunRepository{db: db}
}

// FindByID retrieves a run by its unique identifier.
func (r *GormRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*runDomain.DeliveryRun, error) {
	var model RunModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("DeliveryRun", id.String())
		}
		return nil, fmt.Errorf("failed to find run by ID: %w", err)
	}
	return toDomainRun(&model)
}

// FindActiveByDriver retrieves the driver's idle or en-route run.
func (r *GormRunRepository) FindActiveByDriver(ctx context.Context, driverID uuid.UUID) (*runDomain.DeliveryRun, error) {
	var model RunModel
	if err := r.db.WithContext(ctx).
		Where("driver_id = ? AND status IN ?", driverID, activeStatuses).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("DeliveryRun", driverID.String())
		}
		return nil, fmt.Errorf("failed to find active run by driver: %w", err)
	}
	return toDomainRun(&model)
}

// FindActiveByStop retrieves the active run whose undelivered stops include stopID.
func (r *GormRunRepository) FindActiveByStop(ctx context.Context, stopID string) (*runDomain.DeliveryRun, error) {
	probe, err := json.Marshal([]map[string]string{{"id": stopID}})
	if err != nil {
		return nil, fmt.Errorf("failed to build stop filter: %w", err)
	}

	var models []RunModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND stops @> ?::jsonb", activeStatuses, string(probe)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find active run by stop: %w", err)
	}

	// The containment filter also matches delivered stops; only the undelivered suffix counts.
	for i := range models {
		run, err := toDomainRun(&models[i])
		if err != nil {
			return nil, err
		}
		for _, s := range run.RemainingStops() {
			if s.ID == stopID {
				return run, nil
			}
		}
	}
	return nil, domain.NewNotFoundError("DeliveryRun", stopID)
}

// ListActive retrieves every idle or en-route run.
func (r *GormRunRepository) ListActive(ctx context.Context) ([]*runDomain.DeliveryRun, error) {
	var models []RunModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", activeStatuses).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list active runs: %w", err)
	}

	runs := make([]*runDomain.DeliveryRun, len(models))
	for i := range models {
		run, err := toDomainRun(&models[i])
		if err != nil {
			return nil, err
		}
		runs[i] = run
	}
	return runs, nil
}

// Save persists a new run.
func (r *GormRunRepository) Save(ctx context.Context, run *runDomain.DeliveryRun) error {
	model, err := toRunModel(run)
	if err != nil {
		return fmt.Errorf("failed to convert run to model: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Update persists changes to an existing run with optimistic locking.
func (r *GormRunRepository) Update(ctx context.Context, run *runDomain.DeliveryRun) error {
	model, err := toRunModel(run)
	if err != nil {
		return fmt.Errorf("failed to convert run to model: %w", err)
	}

	// IncrementVersion has already been called, so the stored row carries the previous version.
	expectedVersion := run.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&RunModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":        model.Status,
			"position_lat":  model.PositionLat,
			"position_lng":  model.PositionLng,
			"stops":         model.Stops,
			"current_index": model.CurrentIndex,
			"deviated":      model.Deviated,
			"deliveries":    model.Deliveries,
			"cancel_reason": model.CancelReason,
			"started_at":    model.StartedAt,
			"completed_at":  model.CompletedAt,
			"cancelled_at":  model.CancelledAt,
			"version":       model.Version,
			"updated_at":    model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update run: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.NewConflictError("run was modified by another transaction")
	}

	return nil
}

// CountByStatus returns run counts grouped by status.
func (r *GormRunRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&RunModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// --- Conversion Helpers ---

func toRunModel(run *runDomain.DeliveryRun) (*RunModel, error) {
	stopsJSON, err := json.Marshal(run.Stops())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stops: %w", err)
	}

	deliveriesJSON, err := json.Marshal(run.DeliveredAt())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal deliveries: %w", err)
	}

	model := &RunModel{
		ID:                   run.ID(),
		DriverID:             run.DriverID(),
		Status:               run.Status().String(),
		DeviationThresholdKm: run.Policy().DeviationThresholdKm,
		UrgencyWindowSeconds: int64(run.Policy().UrgencyWindow / time.Second),
		Stops:                stopsJSON,
		CurrentIndex:         run.CurrentIndex(),
		Deviated:             run.IsDeviated(),
		Deliveries:           deliveriesJSON,
		CancelReason:         run.CancelReason(),
		StartedAt:            run.StartedAt(),
		CompletedAt:          run.CompletedAt(),
		CancelledAt:          run.CancelledAt(),
		Version:              run.Version(),
		CreatedAt:            run.CreatedAt(),
		UpdatedAt:            run.UpdatedAt(),
	}
	if p := run.Position(); p != nil {
		lat, lng := p.Lat, p.Lng
		model.PositionLat = &lat
		model.PositionLng = &lng
	}
	return model, nil
}

func toDomainRun(m *RunModel) (*runDomain.DeliveryRun, error) {
	var stops []route.DeliveryStop
	if err := json.Unmarshal(m.Stops, &stops); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stops: %w", err)
	}

	deliveredAt := make(map[string]time.Time)
	if len(m.Deliveries) > 0 {
		if err := json.Unmarshal(m.Deliveries, &deliveredAt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal deliveries: %w", err)
		}
	}

	status, err := runDomain.ParseRunStatus(m.Status)
	if err != nil {
		return nil, err
	}

	var position *route.GeoPoint
	if m.PositionLat != nil && m.PositionLng != nil {
		position = &route.GeoPoint{Lat: *m.PositionLat, Lng: *m.PositionLng}
	}

	policy := runDomain.Policy{
		DeviationThresholdKm: m.DeviationThresholdKm,
		UrgencyWindow:        time.Duration(m.UrgencyWindowSeconds) * time.Second,
	}

	return runDomain.ReconstructDeliveryRun(
		m.ID,
		m.DriverID,
		status,
		policy,
		position,
		stops,
		m.CurrentIndex,
		m.Deviated,
		deliveredAt,
		m.CancelReason,
		m.StartedAt,
		m.CompletedAt,
		m.CancelledAt,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	), nil
}
