package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	"github.com/foodhub-delivery/service-routing/internal/platform/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Order statuses written by this service.
const (
	OrderStatusAssigned  = "assigned"
	OrderStatusDelivered = "delivered"
)

// Driver statuses written by this service.
const (
	DriverStatusAvailable = "available"
	DriverStatusBusy      = "busy"
)

// OrderModel is the GORM model for the orders table.
type OrderModel struct {
	ID           string          `gorm:"primaryKey;size:64"`
	DriverID     *uuid.UUID      `gorm:"type:uuid;index"`
	Status       string          `gorm:"not null;size:30;index"`
	Latitude     *float64        `gorm:""`
	Longitude    *float64        `gorm:""`
	Address      string          `gorm:"size:500"`
	ScheduledFor *time.Time      `gorm:""`
	DeliveredAt  *time.Time      `gorm:""`
	Payload      json.RawMessage `gorm:"type:jsonb"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (OrderModel) TableName() string {
	return "orders"
}

// DriverModel is the GORM model for the drivers table.
type DriverModel struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Status            string     `gorm:"not null;size:20;index"`
	CurrentOrderID    *string    `gorm:"size:64"`
	LastLatitude      *float64   `gorm:""`
	LastLongitude     *float64   `gorm:""`
	LocationUpdatedAt *time.Time `gorm:""`
	TotalDeliveries   int64      `gorm:"not null;default:0"`
	CreatedAt         time.Time  `gorm:"not null"`
	UpdatedAt         time.Time  `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (DriverModel) TableName() string {
	return "drivers"
}

// GormFulfillmentStore writes the order and driver side effects of delivery runs.
type GormFulfillmentStore struct {
	db *gorm.DB
}

// NewGormFulfillmentStore creates a new GormFulfillmentStore.
func NewGormFulfillmentStore(db *gorm.DB) *GormFulfillmentStore {
	return &GormFulfillmentStore{db: db}
}

// FindAssignedOrders loads a driver's undelivered orders as stops, oldest first.
func (s *GormFulfillmentStore) FindAssignedOrders(ctx context.Context, driverID uuid.UUID) ([]route.DeliveryStop, error) {
	var models []OrderModel
	if err := s.db.WithContext(ctx).
		Where("driver_id = ? AND status = ?", driverID, OrderStatusAssigned).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find assigned orders: %w", err)
	}

	stops := make([]route.DeliveryStop, len(models))
	for i, m := range models {
		stops[i] = toDeliveryStop(&m)
	}
	return stops, nil
}

// MarkOrderDelivered records delivery of an order.
func (s *GormFulfillmentStore) MarkOrderDelivered(ctx context.Context, orderID string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"status":       OrderStatusDelivered,
			"delivered_at": at,
			"updated_at":   at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark order delivered: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("Order", orderID)
	}
	return nil
}

// UpdateDriverLocation stores the driver's last known location.
func (s *GormFulfillmentStore) UpdateDriverLocation(ctx context.Context, driverID uuid.UUID, p route.GeoPoint, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&DriverModel{}).
		Where("id = ?", driverID).
		Updates(map[string]interface{}{
			"last_latitude":       p.Lat,
			"last_longitude":      p.Lng,
			"location_updated_at": at,
			"updated_at":          at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update driver location: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("Driver", driverID.String())
	}
	return nil
}

// IncrementDriverDeliveries bumps the driver's completed delivery counter.
func (s *GormFulfillmentStore) IncrementDriverDeliveries(ctx context.Context, driverID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&DriverModel{}).
		Where("id = ?", driverID).
		Updates(map[string]interface{}{
			"total_deliveries": gorm.Expr("total_deliveries + 1"),
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to increment driver deliveries: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("Driver", driverID.String())
	}
	return nil
}

// ReleaseDriver clears the driver's current order and marks them available.
func (s *GormFulfillmentStore) ReleaseDriver(ctx context.Context, driverID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Model(&DriverModel{}).
		Where("id = ?", driverID).
		Updates(map[string]interface{}{
			"status":           DriverStatusAvailable,
			"current_order_id": nil,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to release driver: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("Driver", driverID.String())
	}
	return nil
}

func toDeliveryStop(m *OrderModel) route.DeliveryStop {
	stop := route.DeliveryStop{
		ID:           m.ID,
		Address:      m.Address,
		ScheduledFor: m.ScheduledFor,
		Payload:      m.Payload,
	}
	if m.Latitude != nil && m.Longitude != nil {
		p, err := route.NewGeoPoint(*m.Latitude, *m.Longitude)
		if err == nil {
			stop.Destination = &p
		}
	}
	return stop
}
