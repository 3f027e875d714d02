package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	runDomain "github.com/foodhub-delivery/service-routing/internal/domain/run"
	"github.com/foodhub-delivery/service-routing/internal/messages"
	"github.com/foodhub-delivery/service-routing/internal/platform/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxNearbyRadiusKm = 50.0

// RunService is the application service orchestrating delivery run use cases.
type RunService struct {
	repo      runDomain.RunRepository
	store     FulfillmentStore
	positions PositionProvider
	locations LocationStore
	tracker   *Tracker
	policy    runDomain.Policy
	deps      ControllerDeps
	logger    *zap.Logger

	// ctx parents every controller the service launches; controllers must outlive requests.
	ctx context.Context
}

// NewRunService creates a new RunService. ctx bounds the lifetime of every launched controller.
func NewRunService(
	ctx context.Context,
	tracker *Tracker,
	locations LocationStore,
	policy runDomain.Policy,
) *RunService {
	deps := tracker.deps
	return &RunService{
		repo:      deps.Repo,
		store:     deps.Store,
		positions: deps.Positions,
		locations: locations,
		tracker:   tracker,
		policy:    policy,
		deps:      deps,
		logger:    deps.Logger,
		ctx:       ctx,
	}
}

// AssignBatch creates a run for the driver and starts it when the driver position is known.
func (s *RunService) AssignBatch(ctx context.Context, driverID uuid.UUID, req AssignBatchRequest) (*RunDTO, error) {
	if driverID == uuid.Nil {
		return nil, domain.NewValidationError("driver ID is required")
	}
	if _, running := s.tracker.Get(driverID); running {
		return nil, domain.NewConflictError("driver already has an active run; add orders to it instead")
	}
	if existing, err := s.repo.FindActiveByDriver(ctx, driverID); err == nil {
		return nil, domain.NewConflictError(fmt.Sprintf("driver already has active run %s", existing.ID()))
	} else if !domain.IsNotFound(err) {
		return nil, fmt.Errorf("failed to check active run: %w", err)
	}

	stops, err := s.resolveStops(ctx, driverID, req.Orders)
	if err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		return nil, domain.NewValidationError("a run needs at least one order")
	}

	position, err := s.resolvePosition(ctx, driverID, req.Position)
	if err != nil {
		return nil, err
	}

	return s.createRun(ctx, driverID, position, stops)
}

// MarkDelivered marks the driver's current target delivered.
func (s *RunService) MarkDelivered(ctx context.Context, driverID uuid.UUID, stopID string) (*RunDTO, error) {
	controller, err := s.controllerFor(ctx, driverID)
	if err != nil {
		return nil, err
	}
	result, err := controller.MarkDelivered(ctx, stopID)
	if err != nil {
		return nil, s.translate(err)
	}
	return &result, nil
}

// CancelStop drops an undelivered stop from the driver's run.
func (s *RunService) CancelStop(ctx context.Context, driverID uuid.UUID, stopID string) (*RunDTO, error) {
	controller, err := s.controllerFor(ctx, driverID)
	if err != nil {
		return nil, err
	}
	result, err := controller.CancelStop(ctx, stopID)
	if err != nil {
		return nil, s.translate(err)
	}
	return &result, nil
}

// CancelOrder drops an order from whichever active run still has it. Unknown orders are ignored.
func (s *RunService) CancelOrder(ctx context.Context, orderID string) error {
	r, err := s.repo.FindActiveByStop(ctx, orderID)
	if err != nil {
		if domain.IsNotFound(err) {
			s.logger.Debug("cancelled order is not on an active run", zap.String("order_id", orderID))
			return nil
		}
		return fmt.Errorf("failed to find run for order: %w", err)
	}

	_, err = s.CancelStop(ctx, r.DriverID(), orderID)
	return err
}

// AddOrder supersedes the driver's active run with a fresh one that also contains the new order.
// Without an active run the order starts a new one.
func (s *RunService) AddOrder(ctx context.Context, driverID uuid.UUID, req AddOrderRequest) (*RunDTO, error) {
	stop, err := toDeliveryStop(req.Order)
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("order %s: %v", req.Order.OrderID, err))
	}

	controller, err := s.controllerFor(ctx, driverID)
	if err != nil {
		if domain.IsNotFound(err) {
			position, _ := s.resolvePosition(ctx, driverID, nil)
			return s.createRun(ctx, driverID, position, []route.DeliveryStop{stop})
		}
		return nil, err
	}

	current, err := controller.Snapshot(ctx)
	if err != nil {
		return nil, s.translate(err)
	}
	for _, existing := range current.Stops {
		if existing.ID == stop.ID {
			return nil, domain.NewConflictError(fmt.Sprintf("order %s is already on the run", stop.ID))
		}
	}

	remaining, position, err := controller.Supersede(ctx)
	if err != nil {
		return nil, s.translate(err)
	}
	<-controller.Done()
	stops := append(remaining, stop)

	if position == nil {
		position, _ = s.resolvePosition(ctx, driverID, nil)
	}

	s.logger.Info("run superseded by added order",
		zap.String("driver_id", driverID.String()),
		zap.String("previous_run_id", controller.RunID().String()),
		zap.String("order_id", stop.ID),
	)
	return s.createRun(ctx, driverID, position, stops)
}

// Abandon cancels the driver's active run.
func (s *RunService) Abandon(ctx context.Context, driverID uuid.UUID, reason string) (*RunDTO, error) {
	if reason == "" {
		reason = runDomain.ReasonBatchCancelled
	}
	controller, err := s.controllerFor(ctx, driverID)
	if err != nil {
		return nil, err
	}
	result, err := controller.Abandon(ctx, reason)
	if err != nil {
		return nil, s.translate(err)
	}
	return &result, nil
}

// GetRun returns the driver's active run.
func (s *RunService) GetRun(ctx context.Context, driverID uuid.UUID) (*RunDTO, error) {
	if controller, ok := s.tracker.Get(driverID); ok {
		result, err := controller.Snapshot(ctx)
		if err == nil {
			return &result, nil
		}
		if !errors.Is(err, ErrControllerStopped) {
			return nil, err
		}
	}

	r, err := s.repo.FindActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	result := toRunDTO(r, s.deps.AverageSpeedKmh)
	return &result, nil
}

// ReportLocation records a device location report for the driver.
func (s *RunService) ReportLocation(ctx context.Context, driverID uuid.UUID, req ReportLocationRequest) error {
	p, err := route.NewGeoPoint(req.Latitude, req.Longitude)
	if err != nil {
		return domain.NewValidationError(err.Error())
	}
	at := s.deps.Clock.Now()
	if req.RecordedAt != nil {
		at = req.RecordedAt.UTC()
	}
	if err := s.locations.Record(ctx, driverID, p, at); err != nil {
		return fmt.Errorf("failed to record location: %w", err)
	}
	return nil
}

// NearbyDrivers lists drivers whose latest location is within radiusKm of the given point.
func (s *RunService) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]string, error) {
	p, err := route.NewGeoPoint(lat, lng)
	if err != nil {
		return nil, domain.NewValidationError(err.Error())
	}
	if radiusKm <= 0 || radiusKm > maxNearbyRadiusKm {
		return nil, domain.NewValidationError(fmt.Sprintf("radius must be in (0, %g] km", maxNearbyRadiusKm))
	}
	ids, err := s.locations.Nearby(ctx, p, radiusKm)
	if err != nil {
		return nil, fmt.Errorf("failed to find nearby drivers: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// GetRunStats returns run counts by status and the number of live controllers.
func (s *RunService) GetRunStats(ctx context.Context) (*RunStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	return &RunStatsDTO{
		ByStatus:          counts,
		ActiveControllers: s.tracker.Active(),
	}, nil
}

// PreviewSequence sequences stops without creating a run.
func (s *RunService) PreviewSequence(req SequencePreviewRequest) (*SequencePreviewDTO, error) {
	if req.Start == nil {
		return nil, domain.NewValidationError("start position is required")
	}
	start, err := route.NewGeoPoint(req.Start.Latitude, req.Start.Longitude)
	if err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("start: %v", err))
	}
	stops := make([]route.DeliveryStop, 0, len(req.Stops))
	for _, in := range req.Stops {
		stop, err := toDeliveryStop(in)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("order %s: %v", in.OrderID, err))
		}
		stops = append(stops, stop)
	}

	now := s.deps.Clock.Now()
	if req.Now != nil {
		now = *req.Now
	}

	begin := time.Now()
	ordered := route.NewSequencer(s.policy.UrgencyWindow).Sequence(start, stops, now)
	s.deps.Metrics.ObserveSequencing(time.Since(begin))

	distance := route.RouteDistanceKm(start, ordered)
	eta := route.EstimateEtaMinutes(distance, s.deps.AverageSpeedKmh)
	return &SequencePreviewDTO{
		Stops:      ordered,
		DistanceKm: distance,
		EtaMinutes: eta,
		EtaText:    route.FormatEta(eta),
	}, nil
}

// Resume relaunches controllers for every active run found in the repository.
func (s *RunService) Resume(ctx context.Context) (int, error) {
	runs, err := s.repo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active runs: %w", err)
	}
	for _, r := range runs {
		s.tracker.Launch(s.ctx, r)
	}
	if len(runs) > 0 {
		s.logger.Info("resumed active runs", zap.Int("count", len(runs)))
	}
	return len(runs), nil
}

func (s *RunService) createRun(ctx context.Context, driverID uuid.UUID, position *route.GeoPoint, stops []route.DeliveryStop) (*RunDTO, error) {
	now := s.deps.Clock.Now()
	r, err := runDomain.NewDeliveryRun(driverID, position, stops, s.policy, now)
	if err != nil {
		return nil, err
	}

	started := false
	if position != nil {
		begin := time.Now()
		if err := r.Start(now); err != nil {
			return nil, err
		}
		s.deps.Metrics.ObserveSequencing(time.Since(begin))
		started = true
	}

	for _, stop := range r.UnlocatedStops() {
		s.logger.Warn("stop has no destination coordinates, it will be visited last",
			zap.String("driver_id", driverID.String()),
			zap.String("stop_id", stop.ID),
			zap.String("stop", stop.Label()),
		)
	}

	if err := s.repo.Save(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	if started {
		distance := r.RemainingDistanceKm()
		publishRunEvent(ctx, s.deps.Events, s.logger, r.ID(), messages.RunStarted, messages.RunStartedEvent{
			RunID:      r.ID(),
			DriverID:   driverID,
			StopIDs:    stopIDs(r.Stops()),
			DistanceKm: distance,
			EtaMinutes: route.EstimateEtaMinutes(distance, s.deps.AverageSpeedKmh),
			OccurredAt: now,
		})
		s.deps.Metrics.RunStarted()
	}

	s.logger.Info("run created",
		zap.String("run_id", r.ID().String()),
		zap.String("driver_id", driverID.String()),
		zap.String("status", r.Status().String()),
		zap.Int("stops", len(stops)),
	)

	result := toRunDTO(r, s.deps.AverageSpeedKmh)
	s.tracker.Launch(s.ctx, r)
	return &result, nil
}

func (s *RunService) resolveStops(ctx context.Context, driverID uuid.UUID, orders []StopInput) ([]route.DeliveryStop, error) {
	if len(orders) == 0 {
		stops, err := s.store.FindAssignedOrders(ctx, driverID)
		if err != nil {
			return nil, fmt.Errorf("failed to load assigned orders: %w", err)
		}
		return stops, nil
	}

	stops := make([]route.DeliveryStop, 0, len(orders))
	for _, in := range orders {
		stop, err := toDeliveryStop(in)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("order %s: %v", in.OrderID, err))
		}
		stops = append(stops, stop)
	}
	return stops, nil
}

// resolvePosition prefers an explicit position and falls back to the provider. A provider failure
// is not an error: the run waits idle for its first sample or its first delivery.
func (s *RunService) resolvePosition(ctx context.Context, driverID uuid.UUID, in *PositionInput) (*route.GeoPoint, error) {
	if in != nil {
		p, err := route.NewGeoPoint(in.Latitude, in.Longitude)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("position: %v", err))
		}
		return &p, nil
	}
	if s.positions == nil {
		return nil, nil
	}
	p, err := s.positions.Sample(ctx, driverID)
	if err != nil {
		s.logger.Warn("driver position unavailable, run will start on first sample",
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
		return nil, nil
	}
	return &p, nil
}

func (s *RunService) controllerFor(ctx context.Context, driverID uuid.UUID) (*RunController, error) {
	if controller, ok := s.tracker.Get(driverID); ok {
		return controller, nil
	}
	r, err := s.repo.FindActiveByDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return s.tracker.Launch(s.ctx, r), nil
}

func (s *RunService) translate(err error) error {
	if errors.Is(err, ErrControllerStopped) {
		return domain.NewInvalidOperationError("run has already finished")
	}
	return err
}
