package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Notice types sent on a driver's notice subject.
const (
	NoticeRecalculating = "recalculating"
	NoticeWarning       = "warning"
)

// PublisherMetrics records NATS publishing activity.
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// PositionMessage is the live position pushed to a driver's position subject.
type PositionMessage struct {
	DriverID  string    `json:"driverId"`
	RunID     string    `json:"runId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// NoticeMessage is a driver-facing notice.
type NoticeMessage struct {
	Type      string    `json:"type"`
	DriverID  string    `json:"driverId"`
	RunID     string    `json:"runId,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// NATSNotifier pushes live positions and notices to drivers over NATS.
type NATSNotifier struct {
	nc          *nats.Conn
	logSubjects bool
	logger      *zap.Logger
	metrics     PublisherMetrics
	now         func() time.Time
}

// NewNATSNotifier connects to NATS. m may be nil.
func NewNATSNotifier(url, name string, logSubjects bool, logger *zap.Logger, m PublisherMetrics) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSNotifier{
		nc:          nc,
		logSubjects: logSubjects,
		logger:      logger,
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close drains pending messages and closes the connection.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		if err := n.nc.Drain(); err != nil {
			n.logger.Warn("nats drain failed", zap.Error(err))
		}
		n.nc.Close()
	}
}

// Ping reports whether the connection is up.
func (n *NATSNotifier) Ping(_ context.Context) error {
	if status := n.nc.Status(); status != nats.CONNECTED {
		return fmt.Errorf("nats connection is %s", status)
	}
	return nil
}

// PublishPosition pushes the driver's live position.
func (n *NATSNotifier) PublishPosition(_ context.Context, driverID, runID uuid.UUID, p route.GeoPoint, at time.Time) error {
	return n.publish(PositionSubject(driverID), PositionMessage{
		DriverID:  driverID.String(),
		RunID:     runID.String(),
		Lat:       p.Lat,
		Lng:       p.Lng,
		Timestamp: at,
	})
}

// NotifyRecalculating tells the driver their route is being recalculated.
func (n *NATSNotifier) NotifyRecalculating(_ context.Context, driverID, runID uuid.UUID) error {
	return n.publish(NoticeSubject(driverID), NoticeMessage{
		Type:      NoticeRecalculating,
		DriverID:  driverID.String(),
		RunID:     runID.String(),
		Message:   "Recalculating route",
		Timestamp: n.now(),
	})
}

// NotifyWarning sends a non-blocking warning to the driver.
func (n *NATSNotifier) NotifyWarning(_ context.Context, driverID uuid.UUID, message string) error {
	return n.publish(NoticeSubject(driverID), NoticeMessage{
		Type:      NoticeWarning,
		DriverID:  driverID.String(),
		Message:   message,
		Timestamp: n.now(),
	})
}

func (n *NATSNotifier) publish(subject string, msg interface{}) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if n.logSubjects {
		n.logger.Debug("nats publish", zap.String("subject", subject))
	}

	start := time.Now()
	err = n.nc.Publish(subject, b)
	if n.metrics != nil {
		n.metrics.PublishObserve(time.Since(start))
		if err != nil {
			n.metrics.NATSPublishErrInc()
		} else {
			n.metrics.NATSPublishedInc()
		}
	}
	return err
}

// PositionSubject is the subject carrying a driver's live position.
func PositionSubject(driverID uuid.UUID) string {
	return fmt.Sprintf("driver.%s.position", subjectToken(driverID.String()))
}

// NoticeSubject is the subject carrying a driver's notices.
func NoticeSubject(driverID uuid.UUID) string {
	return fmt.Sprintf("driver.%s.notice", subjectToken(driverID.String()))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*' or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
