package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/foodhub-delivery/service-routing/internal/application"
	"github.com/foodhub-delivery/service-routing/internal/messages"
	"github.com/foodhub-delivery/service-routing/internal/platform/domain"
	"github.com/foodhub-delivery/service-routing/internal/platform/kafka"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubRunCommands struct {
	cancelled []string
	added     []application.AddOrderRequest
	addedFor  []uuid.UUID
	cancelErr error
	addErr    error
}

func (s *stubRunCommands) CancelOrder(_ context.Context, orderID string) error {
	s.cancelled = append(s.cancelled, orderID)
	return s.cancelErr
}

func (s *stubRunCommands) AddOrder(_ context.Context, driverID uuid.UUID, req application.AddOrderRequest) (*application.RunDTO, error) {
	s.addedFor = append(s.addedFor, driverID)
	s.added = append(s.added, req)
	if s.addErr != nil {
		return nil, s.addErr
	}
	return &application.RunDTO{DriverID: driverID}, nil
}

func newTestConsumer(svc RunCommands) *OrderEventConsumer {
	return &OrderEventConsumer{service: svc, logger: zap.NewNop()}
}

func message(t *testing.T, eventType string, data interface{}) kafkago.Message {
	t.Helper()
	ce, err := kafka.NewCloudEvent("service-order", eventType, data)
	require.NoError(t, err)
	b, err := json.Marshal(ce)
	require.NoError(t, err)
	return kafkago.Message{Topic: messages.TopicOrderEvents, Value: b}
}

func TestHandleOrderCancelled(t *testing.T) {
	svc := &stubRunCommands{}
	c := newTestConsumer(svc)
	orderID := uuid.New()

	err := c.handleMessage(context.Background(), message(t, messages.OrderCancelled, messages.OrderCancelledEvent{OrderID: orderID, Reason: "customer"}))
	require.NoError(t, err)
	assert.Equal(t, []string{orderID.String()}, svc.cancelled)
}

func TestHandleOrderReassigned(t *testing.T) {
	svc := &stubRunCommands{}
	c := newTestConsumer(svc)
	orderID := uuid.New()

	err := c.handleMessage(context.Background(), message(t, messages.OrderReassigned, messages.OrderReassignedEvent{
		OrderID: orderID, FromDriverID: uuid.New(), ToDriverID: uuid.New(),
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{orderID.String()}, svc.cancelled)
}

func TestHandleOrderAssigned(t *testing.T) {
	svc := &stubRunCommands{}
	c := newTestConsumer(svc)
	orderID, driverID := uuid.New(), uuid.New()
	lat, lng := 3.14, 101.69

	err := c.handleMessage(context.Background(), message(t, messages.OrderAssigned, messages.OrderAssignedEvent{
		OrderID: orderID, DriverID: driverID, Latitude: &lat, Longitude: &lng, Address: "KL Sentral",
	}))
	require.NoError(t, err)
	require.Len(t, svc.added, 1)
	assert.Equal(t, driverID, svc.addedFor[0])
	assert.Equal(t, orderID.String(), svc.added[0].Order.OrderID)
	assert.Equal(t, &lat, svc.added[0].Order.Latitude)
	assert.Equal(t, "KL Sentral", svc.added[0].Order.Address)
}

func TestHandleMessage_ErrorPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("malformed payload is dropped", func(t *testing.T) {
		c := newTestConsumer(&stubRunCommands{})
		assert.NoError(t, c.handleMessage(ctx, kafkago.Message{Value: []byte("not json")}))
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		svc := &stubRunCommands{}
		c := newTestConsumer(svc)
		assert.NoError(t, c.handleMessage(ctx, message(t, "order.created", map[string]string{"order_id": "x"})))
		assert.Empty(t, svc.cancelled)
		assert.Empty(t, svc.added)
	})

	t.Run("already delivered is not retried", func(t *testing.T) {
		svc := &stubRunCommands{cancelErr: domain.NewInvalidOperationError("stop has already been delivered")}
		c := newTestConsumer(svc)
		assert.NoError(t, c.handleMessage(ctx, message(t, messages.OrderCancelled, messages.OrderCancelledEvent{OrderID: uuid.New()})))
	})

	t.Run("duplicate assignment is not retried", func(t *testing.T) {
		svc := &stubRunCommands{addErr: domain.NewConflictError("order is already on the run")}
		c := newTestConsumer(svc)
		assert.NoError(t, c.handleMessage(ctx, message(t, messages.OrderAssigned, messages.OrderAssignedEvent{OrderID: uuid.New(), DriverID: uuid.New()})))
	})

	t.Run("infrastructure failure is retried", func(t *testing.T) {
		svc := &stubRunCommands{cancelErr: errors.New("connection refused")}
		c := newTestConsumer(svc)
		assert.Error(t, c.handleMessage(ctx, message(t, messages.OrderCancelled, messages.OrderCancelledEvent{OrderID: uuid.New()})))
	})
}
