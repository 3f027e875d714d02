package application

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	runDomain "github.com/foodhub-delivery/service-routing/internal/domain/run"
	"github.com/foodhub-delivery/service-routing/internal/messages"
	"github.com/foodhub-delivery/service-routing/internal/platform/kafka"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrControllerStopped is returned when a command reaches a controller whose run has ended.
var ErrControllerStopped = errors.New("run controller stopped")

// DefaultPollInterval is how often a driver's device position is sampled.
const DefaultPollInterval = 10 * time.Second

const eventSource = "service-routing"

// ControllerDeps are the collaborators shared by every run controller.
type ControllerDeps struct {
	Repo            runDomain.RunRepository
	Positions       PositionProvider
	Store           FulfillmentStore
	Notifier        DriverNotifier
	Events          EventPublisher
	Clock           Clock
	Metrics         RunMetrics
	Logger          *zap.Logger
	PollInterval    time.Duration
	AverageSpeedKmh float64
}

func (d ControllerDeps) withDefaults() ControllerDeps {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Metrics == nil {
		d.Metrics = noopMetrics{}
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.PollInterval <= 0 {
		d.PollInterval = DefaultPollInterval
	}
	if d.AverageSpeedKmh <= 0 {
		d.AverageSpeedKmh = route.DefaultAverageSpeedKmh
	}
	return d
}

// RunController owns one live DeliveryRun. Only the goroutine started by Run touches the
// aggregate; every other caller posts a closure to the inbox and waits for the reply.
type RunController struct {
	deps   ControllerDeps
	run    *runDomain.DeliveryRun
	logger *zap.Logger

	inbox    chan func()
	done     chan struct{}
	finished atomic.Bool
}

type commandResult struct {
	dto RunDTO
	err error
}

// NewRunController creates a controller for run. Call Run to start it.
func NewRunController(run *runDomain.DeliveryRun, deps ControllerDeps) *RunController {
	deps = deps.withDefaults()
	return &RunController{
		deps: deps,
		run:  run,
		logger: deps.Logger.With(
			zap.String("run_id", run.ID().String()),
			zap.String("driver_id", run.DriverID().String()),
		),
		inbox: make(chan func()),
		done:  make(chan struct{}),
	}
}

// RunID returns the ID of the owned run.
func (c *RunController) RunID() uuid.UUID { return c.run.ID() }

// DriverID returns the driver of the owned run.
func (c *RunController) DriverID() uuid.UUID { return c.run.DriverID() }

// Done is closed once the controller has stopped.
func (c *RunController) Done() <-chan struct{} { return c.done }

// Finished reports whether the run has reached a terminal status or the controller has stopped.
// It turns true before the command that ended the run replies.
func (c *RunController) Finished() bool { return c.finished.Load() }

// Run processes commands and position polls until the run reaches a terminal status or ctx ends.
func (c *RunController) Run(ctx context.Context) {
	defer close(c.done)
	defer c.finished.Store(true)

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	go c.poll(pollCtx)

	c.logger.Info("run controller started", zap.String("status", c.run.Status().String()))
	for {
		if c.run.Status().IsTerminal() {
			c.logger.Info("run controller finished", zap.String("status", c.run.Status().String()))
			return
		}
		select {
		case <-ctx.Done():
			c.logger.Info("run controller stopped", zap.Error(ctx.Err()))
			return
		case fn := <-c.inbox:
			fn()
		}
	}
}

func (c *RunController) poll(ctx context.Context) {
	ticker := time.NewTicker(c.deps.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.SamplePosition(ctx); err != nil && !errors.Is(err, ErrControllerStopped) && ctx.Err() == nil {
				c.logger.Debug("position poll not applied", zap.Error(err))
			}
		}
	}
}

// do runs fn on the controller goroutine and returns its result.
func (c *RunController) do(ctx context.Context, fn func() (RunDTO, error)) (RunDTO, error) {
	reply := make(chan commandResult, 1)
	cmd := func() {
		dto, err := fn()
		if c.run.Status().IsTerminal() {
			c.finished.Store(true)
		}
		reply <- commandResult{dto: dto, err: err}
	}

	select {
	case c.inbox <- cmd:
	case <-c.done:
		return RunDTO{}, ErrControllerStopped
	case <-ctx.Done():
		return RunDTO{}, ctx.Err()
	}

	// The closure has been taken by the loop and always replies.
	res := <-reply
	return res.dto, res.err
}

// Snapshot returns the current state of the run.
func (c *RunController) Snapshot(ctx context.Context) (RunDTO, error) {
	return c.do(ctx, func() (RunDTO, error) {
		return c.snapshot(), nil
	})
}

// SamplePosition pulls one sample from the position provider and applies it. A failed sample
// keeps the last known position and is reported as a warning only.
func (c *RunController) SamplePosition(ctx context.Context) (RunDTO, error) {
	p, sampleErr := c.deps.Positions.Sample(ctx, c.run.DriverID())
	return c.do(ctx, func() (RunDTO, error) {
		if sampleErr != nil {
			c.handleSampleFailure(ctx, sampleErr)
			return c.snapshot(), nil
		}
		return c.applyPosition(ctx, p)
	})
}

// ApplyPosition applies a known position directly, bypassing the provider.
func (c *RunController) ApplyPosition(ctx context.Context, p route.GeoPoint) (RunDTO, error) {
	return c.do(ctx, func() (RunDTO, error) {
		return c.applyPosition(ctx, p)
	})
}

// MarkDelivered consumes the current target.
func (c *RunController) MarkDelivered(ctx context.Context, stopID string) (RunDTO, error) {
	return c.do(ctx, func() (RunDTO, error) {
		now := c.deps.Clock.Now()
		wasIdle := c.run.Status() == runDomain.StatusIdle
		completed, err := c.run.MarkDelivered(stopID, now)
		if err != nil {
			return RunDTO{}, err
		}
		c.persist(ctx)
		if wasIdle {
			c.logger.Info("run started by a delivery before any position arrived")
			c.publishStarted(ctx, now)
		}
		c.deps.Metrics.StopDelivered()

		if err := c.deps.Store.MarkOrderDelivered(ctx, stopID, now); err != nil {
			c.logger.Warn("failed to mark order delivered", zap.String("order_id", stopID), zap.Error(err))
		}
		if err := c.deps.Store.IncrementDriverDeliveries(ctx, c.run.DriverID()); err != nil {
			c.logger.Warn("failed to increment driver deliveries", zap.Error(err))
		}

		c.publishEvent(ctx, messages.RunStopDelivered, messages.StopDeliveredEvent{
			RunID:       c.run.ID(),
			DriverID:    c.run.DriverID(),
			OrderID:     stopID,
			Remaining:   len(c.run.RemainingStops()),
			DeliveredAt: now,
			OccurredAt:  now,
		})
		c.logger.Info("stop delivered",
			zap.String("stop_id", stopID),
			zap.Int("current_index", c.run.CurrentIndex()),
		)

		if completed {
			c.onCompleted(ctx, now)
		}
		return c.snapshot(), nil
	})
}

// CancelStop drops an undelivered stop from the run.
func (c *RunController) CancelStop(ctx context.Context, stopID string) (RunDTO, error) {
	return c.do(ctx, func() (RunDTO, error) {
		now := c.deps.Clock.Now()
		target, hadTarget := c.run.CurrentTarget()

		completed, err := c.run.CancelStop(stopID, now)
		if err != nil {
			return RunDTO{}, err
		}
		c.persist(ctx)
		c.logger.Info("stop cancelled", zap.String("stop_id", stopID))

		switch {
		case completed:
			c.onCompleted(ctx, now)
		case c.run.Status() == runDomain.StatusCancelled:
			c.onCancelled(ctx, now)
		case hadTarget && target.ID == stopID:
			c.deps.Metrics.Resequenced("stop_cancelled")
			c.publishResequenced(ctx, "stop_cancelled", now)
		}
		return c.snapshot(), nil
	})
}

// Abandon cancels the run with the given reason.
func (c *RunController) Abandon(ctx context.Context, reason string) (RunDTO, error) {
	return c.do(ctx, func() (RunDTO, error) {
		now := c.deps.Clock.Now()
		if err := c.run.Abandon(reason, now); err != nil {
			return RunDTO{}, err
		}
		c.persist(ctx)
		c.onCancelled(ctx, now)
		return c.snapshot(), nil
	})
}

// Supersede cancels the run so a replacement can take over, and returns what the replacement
// needs: the undelivered stops and the last known position.
func (c *RunController) Supersede(ctx context.Context) ([]route.DeliveryStop, *route.GeoPoint, error) {
	var remaining []route.DeliveryStop
	var position *route.GeoPoint

	_, err := c.do(ctx, func() (RunDTO, error) {
		now := c.deps.Clock.Now()
		remaining = c.run.RemainingStops()
		position = c.run.Position()
		if err := c.run.Abandon(runDomain.ReasonSuperseded, now); err != nil {
			return RunDTO{}, err
		}
		c.persist(ctx)
		c.onCancelled(ctx, now)
		return c.snapshot(), nil
	})
	if err != nil {
		return nil, nil, err
	}
	return remaining, position, nil
}

// --- loop-side helpers; only called from the controller goroutine ---

func (c *RunController) applyPosition(ctx context.Context, p route.GeoPoint) (RunDTO, error) {
	now := c.deps.Clock.Now()
	start := time.Now()
	out, err := c.run.ApplyPosition(p, now)
	if err != nil {
		return RunDTO{}, err
	}
	c.deps.Metrics.PositionSampled(true)

	if err := c.deps.Store.UpdateDriverLocation(ctx, c.run.DriverID(), p, now); err != nil {
		c.logger.Warn("failed to persist driver location", zap.Error(err))
	}
	if err := c.deps.Notifier.PublishPosition(ctx, c.run.DriverID(), c.run.ID(), p, now); err != nil {
		c.logger.Warn("failed to publish live position", zap.Error(err))
	}

	switch {
	case out.Started:
		c.deps.Metrics.ObserveSequencing(time.Since(start))
		c.persist(ctx)
		c.publishStarted(ctx, now)
	case out.FirstFix:
		c.deps.Metrics.ObserveSequencing(time.Since(start))
		c.deps.Metrics.Resequenced("first_fix")
		c.persist(ctx)
		c.publishResequenced(ctx, "first_fix", now)
	case out.Resequenced:
		c.deps.Metrics.ObserveSequencing(time.Since(start))
		c.deps.Metrics.Resequenced("deviation")
		c.persist(ctx)
		c.logger.Info("driver deviated, remaining stops re-sequenced",
			zap.String("position", p.String()),
			zap.Strings("remaining", stopIDs(c.run.RemainingStops())),
		)
		if err := c.deps.Notifier.NotifyRecalculating(ctx, c.run.DriverID(), c.run.ID()); err != nil {
			c.logger.Warn("failed to send recalculating notice", zap.Error(err))
		}
		c.publishResequenced(ctx, "deviation", now)
	default:
		c.persist(ctx)
	}
	return c.snapshot(), nil
}

func (c *RunController) handleSampleFailure(ctx context.Context, err error) {
	c.deps.Metrics.PositionSampled(false)
	c.logger.Warn("position sample failed, keeping last known position", zap.Error(err))
	if nerr := c.deps.Notifier.NotifyWarning(ctx, c.run.DriverID(), "location unavailable, using last known position"); nerr != nil {
		c.logger.Debug("failed to send location warning", zap.Error(nerr))
	}
}

func (c *RunController) onCompleted(ctx context.Context, now time.Time) {
	if err := c.deps.Store.ReleaseDriver(ctx, c.run.DriverID()); err != nil {
		c.logger.Warn("failed to release driver", zap.Error(err))
	}
	c.deps.Metrics.RunFinished(runDomain.StatusCompleted.String())
	c.publishEvent(ctx, messages.RunCompleted, messages.RunCompletedEvent{
		RunID:       c.run.ID(),
		DriverID:    c.run.DriverID(),
		Delivered:   len(c.run.DeliveredAt()),
		CompletedAt: now,
		OccurredAt:  now,
	})
	c.logger.Info("run completed", zap.Int("delivered", len(c.run.DeliveredAt())))
}

func (c *RunController) onCancelled(ctx context.Context, now time.Time) {
	reason := c.run.CancelReason()
	if reason == runDomain.ReasonBatchCancelled || reason == runDomain.ReasonNoStopsLeft {
		if err := c.deps.Store.ReleaseDriver(ctx, c.run.DriverID()); err != nil {
			c.logger.Warn("failed to release driver", zap.Error(err))
		}
	}
	c.deps.Metrics.RunFinished(runDomain.StatusCancelled.String())
	c.publishEvent(ctx, messages.RunCancelled, messages.RunCancelledEvent{
		RunID:      c.run.ID(),
		DriverID:   c.run.DriverID(),
		Reason:     reason,
		Remaining:  stopIDs(c.run.RemainingStops()),
		OccurredAt: now,
	})
	c.logger.Info("run cancelled", zap.String("reason", reason))
}

func (c *RunController) publishStarted(ctx context.Context, now time.Time) {
	distance := c.run.RemainingDistanceKm()
	c.publishEvent(ctx, messages.RunStarted, messages.RunStartedEvent{
		RunID:      c.run.ID(),
		DriverID:   c.run.DriverID(),
		StopIDs:    stopIDs(c.run.Stops()),
		DistanceKm: distance,
		EtaMinutes: route.EstimateEtaMinutes(distance, c.deps.AverageSpeedKmh),
		OccurredAt: now,
	})
	c.deps.Metrics.RunStarted()
}

func (c *RunController) publishResequenced(ctx context.Context, reason string, now time.Time) {
	c.publishEvent(ctx, messages.RunResequenced, messages.RunResequencedEvent{
		RunID:        c.run.ID(),
		DriverID:     c.run.DriverID(),
		CurrentIndex: c.run.CurrentIndex(),
		StopIDs:      stopIDs(c.run.Stops()),
		Reason:       reason,
		OccurredAt:   now,
	})
}

// persist writes the run. Failures are logged and never stop the run.
func (c *RunController) persist(ctx context.Context) {
	c.run.IncrementVersion()
	if err := c.deps.Repo.Update(ctx, c.run); err != nil {
		c.run.RollbackVersion()
		c.logger.Warn("failed to persist run", zap.Int64("version", c.run.Version()), zap.Error(err))
	}
}

func (c *RunController) publishEvent(ctx context.Context, eventType string, data interface{}) {
	publishRunEvent(ctx, c.deps.Events, c.logger, c.run.ID(), eventType, data)
}

func (c *RunController) snapshot() RunDTO {
	return toRunDTO(c.run, c.deps.AverageSpeedKmh)
}

func publishRunEvent(ctx context.Context, events EventPublisher, logger *zap.Logger, runID uuid.UUID, eventType string, data interface{}) {
	if events == nil {
		return
	}
	cloudEvent, err := kafka.NewCloudEvent(eventSource, eventType, data)
	if err != nil {
		logger.Error("failed to create cloud event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}
	cloudEvent.Subject = runID.String()

	if err := events.PublishEvent(ctx, messages.TopicRouteEvents, cloudEvent); err != nil {
		logger.Error("failed to publish event",
			zap.String("topic", messages.TopicRouteEvents),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
