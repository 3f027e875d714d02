//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/application"
	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	runDomain "github.com/foodhub-delivery/service-routing/internal/domain/run"
	routingEvents "github.com/foodhub-delivery/service-routing/internal/events"
	"github.com/foodhub-delivery/service-routing/internal/platform/database"
	"github.com/foodhub-delivery/service-routing/internal/platform/kafka"
	"github.com/foodhub-delivery/service-routing/internal/repository"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// routingStack holds wired-up routing service components.
type routingStack struct {
	Service         *application.RunService
	Tracker         *application.Tracker
	Consumer        *routingEvents.OrderEventConsumer
	CleanupProducer func()
}

// fixedPosition reports the same device position for every driver.
type fixedPosition struct {
	point route.GeoPoint
}

func (p fixedPosition) Sample(context.Context, uuid.UUID) (route.GeoPoint, error) {
	return p.point, nil
}

// setupContainers starts PostgreSQL and Kafka testcontainers and returns a migrated GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()
	logger, _ := zap.NewDevelopment()

	// Start PostgreSQL container with log-based wait strategy.
	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_routing",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dbConfig := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Int(),
		User:     "test",
		Password: "test",
		DBName:   "test_routing",
		SSLMode:  "disable",
	}

	// Poll until GORM can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(dbConfig, logger)
		return err == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	// Apply the SQL migrations shipped with the service.
	require.NoError(t, database.RunMigrations(dbConfig.DatabaseURL(), "migrations", logger))

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers, "route.events", "order.events")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// setupRoutingStack wires up the full routing service stack.
func setupRoutingStack(t *testing.T, ctx context.Context, db *gorm.DB, brokers []string, position route.GeoPoint) *routingStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	producer := kafka.NewProducer(brokers, logger)
	tracker := application.NewTracker(application.ControllerDeps{
		Repo:         repository.NewGormRunRepository(db),
		Positions:    fixedPosition{point: position},
		Store:        repository.NewGormFulfillmentStore(db),
		Events:       producer,
		Logger:       logger,
		PollInterval: time.Hour,
	})
	runSvc := application.NewRunService(ctx, tracker, noLocations{}, runDomain.DefaultPolicy())

	groupID := fmt.Sprintf("test-routing-%s", uuid.New().String()[:8])
	consumer := routingEvents.NewOrderEventConsumer(brokers, groupID, runSvc, logger)

	return &routingStack{
		Service:         runSvc,
		Tracker:         tracker,
		Consumer:        consumer,
		CleanupProducer: func() { _ = producer.Close() },
	}
}

// noLocations discards location reports.
type noLocations struct{}

func (noLocations) Record(context.Context, uuid.UUID, route.GeoPoint, time.Time) error { return nil }

func (noLocations) Nearby(context.Context, route.GeoPoint, float64) ([]string, error) {
	return nil, nil
}

// seedDriverWithOrders inserts a busy driver and its assigned orders.
func seedDriverWithOrders(t *testing.T, db *gorm.DB, driverID uuid.UUID, orders map[uuid.UUID]route.GeoPoint) {
	t.Helper()
	now := time.Now().UTC()

	driver := repository.DriverModel{
		ID:        driverID,
		Status:    repository.DriverStatusBusy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(&driver).Error, "failed to seed driver")

	i := 0
	for orderID, dest := range orders {
		lat, lng := dest.Lat, dest.Lng
		model := repository.OrderModel{
			ID:        orderID.String(),
			DriverID:  &driverID,
			Status:    repository.OrderStatusAssigned,
			Latitude:  &lat,
			Longitude: &lng,
			Address:   fmt.Sprintf("%d Jalan Test", i+1),
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			UpdatedAt: now,
		}
		require.NoError(t, db.Create(&model).Error, "failed to seed order")
		i++
	}
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// loadRun reads a delivery_runs row back through the repository.
func loadRun(t *testing.T, db *gorm.DB, runID uuid.UUID) *runDomain.DeliveryRun {
	t.Helper()
	run, err := repository.NewGormRunRepository(db).FindByID(context.Background(), runID)
	require.NoError(t, err)
	return run
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
