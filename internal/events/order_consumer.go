package events

import (
	"context"

	"github.com/foodhub-delivery/service-routing/internal/application"
	"github.com/foodhub-delivery/service-routing/internal/messages"
	"github.com/foodhub-delivery/service-routing/internal/platform/domain"
	"github.com/foodhub-delivery/service-routing/internal/platform/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RunCommands is the part of the run service driven by order events.
type RunCommands interface {
	CancelOrder(ctx context.Context, orderID string) error
	AddOrder(ctx context.Context, driverID uuid.UUID, req application.AddOrderRequest) (*application.RunDTO, error)
}

// OrderEventConsumer listens to order events and keeps active runs in line with dispatch.
type OrderEventConsumer struct {
	consumer *kafka.Consumer
	service  RunCommands
	logger   *zap.Logger
}

// NewOrderEventConsumer creates a new OrderEventConsumer.
func NewOrderEventConsumer(
	brokers []string,
	groupID string,
	service RunCommands,
	logger *zap.Logger,
) *OrderEventConsumer {
	consumer := kafka.NewConsumer(brokers, groupID, messages.TopicOrderEvents, logger)
	return &OrderEventConsumer{
		consumer: consumer,
		service:  service,
		logger:   logger,
	}
}

// Start begins consuming order events. This blocks until the context is cancelled.
func (c *OrderEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *OrderEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *OrderEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	cloudEvent, err := kafka.ParseCloudEvent(msg.Value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from order topic",
			zap.Error(err),
			zap.String("raw", string(msg.Value)),
		)
		return nil // Don't retry malformed messages
	}

	switch cloudEvent.Type {
	case messages.OrderCancelled:
		return c.handleOrderCancelled(ctx, cloudEvent)
	case messages.OrderReassigned:
		return c.handleOrderReassigned(ctx, cloudEvent)
	case messages.OrderAssigned:
		return c.handleOrderAssigned(ctx, cloudEvent)
	default:
		c.logger.Debug("ignoring unhandled order event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}
}

func (c *OrderEventConsumer) handleOrderCancelled(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt messages.OrderCancelledEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse OrderCancelledEvent data", zap.Error(err))
		return nil // Don't retry malformed data
	}

	c.logger.Info("processing order cancelled event",
		zap.String("order_id", evt.OrderID.String()),
		zap.String("reason", evt.Reason),
	)
	return c.dropOrder(ctx, evt.OrderID)
}

func (c *OrderEventConsumer) handleOrderReassigned(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt messages.OrderReassignedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse OrderReassignedEvent data", zap.Error(err))
		return nil
	}

	c.logger.Info("processing order reassigned event",
		zap.String("order_id", evt.OrderID.String()),
		zap.String("from_driver_id", evt.FromDriverID.String()),
		zap.String("to_driver_id", evt.ToDriverID.String()),
	)
	return c.dropOrder(ctx, evt.OrderID)
}

func (c *OrderEventConsumer) handleOrderAssigned(ctx context.Context, cloudEvent kafka.CloudEvent) error {
	var evt messages.OrderAssignedEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse OrderAssignedEvent data", zap.Error(err))
		return nil
	}

	c.logger.Info("processing order assigned event",
		zap.String("order_id", evt.OrderID.String()),
		zap.String("driver_id", evt.DriverID.String()),
	)

	_, err := c.service.AddOrder(ctx, evt.DriverID, application.AddOrderRequest{
		Order: application.StopInput{
			OrderID:      evt.OrderID.String(),
			Latitude:     evt.Latitude,
			Longitude:    evt.Longitude,
			Address:      evt.Address,
			ScheduledFor: evt.ScheduledFor,
		},
	})
	switch {
	case err == nil:
		return nil
	case domain.IsConflict(err):
		c.logger.Debug("order already on the driver's run", zap.String("order_id", evt.OrderID.String()))
		return nil
	case domain.IsValidation(err):
		c.logger.Warn("rejected assigned order", zap.String("order_id", evt.OrderID.String()), zap.Error(err))
		return nil
	default:
		c.logger.Error("failed to add assigned order to run",
			zap.String("order_id", evt.OrderID.String()),
			zap.Error(err),
		)
		return err
	}
}

func (c *OrderEventConsumer) dropOrder(ctx context.Context, orderID uuid.UUID) error {
	err := c.service.CancelOrder(ctx, orderID.String())
	switch {
	case err == nil:
		return nil
	case domain.IsInvalidState(err), domain.IsNotFound(err):
		// Already delivered, or the run finished in the meantime.
		c.logger.Info("order could not be dropped from run",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		return nil
	default:
		c.logger.Error("failed to drop order from run",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)
		return err
	}
}
