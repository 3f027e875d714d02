package run

import (
	"fmt"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	"github.com/foodhub-delivery/service-routing/internal/platform/domain"
	"github.com/google/uuid"
)

// Cancellation reasons recorded on abandoned runs.
const (
	ReasonDriverOffline  = "driver_offline"
	ReasonBatchCancelled = "batch_cancelled"
	ReasonSuperseded     = "superseded"
	ReasonNoStopsLeft    = "no_stops_left"
)

// DeliveryRun is the aggregate root for one driver's live session over a batch of orders.
//
// stops[:currentIndex] have been delivered and are never reordered again. stops[currentIndex]
// is the current target while the run is en route.
type DeliveryRun struct {
	id       uuid.UUID
	driverID uuid.UUID
	status   RunStatus
	policy   Policy

	position    route.GeoPoint
	hasPosition bool

	stops        []route.DeliveryStop
	currentIndex int
	deviated     bool
	directions   []route.DirectionStep
	deliveredAt  map[string]time.Time

	cancelReason string
	startedAt    *time.Time
	completedAt  *time.Time
	cancelledAt  *time.Time

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// PositionOutcome reports what a position sample did to the run.
type PositionOutcome struct {
	Started     bool
	Deviated    bool
	Resequenced bool
	// FirstFix is set when a run that went en route without a position was sequenced from
	// this one.
	FirstFix bool
}

// NewDeliveryRun creates an idle run over the given stops. position may be nil when the driver's
// location is not yet known.
func NewDeliveryRun(driverID uuid.UUID, position *route.GeoPoint, stops []route.DeliveryStop, policy Policy, now time.Time) (*DeliveryRun, error) {
	if driverID == uuid.Nil {
		return nil, domain.NewValidationError("driver ID is required")
	}

	seen := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		if s.ID == "" {
			return nil, domain.NewValidationError("every stop needs an ID")
		}
		if _, dup := seen[s.ID]; dup {
			return nil, domain.NewValidationError(fmt.Sprintf("duplicate stop ID: %s", s.ID))
		}
		seen[s.ID] = struct{}{}
		if s.Destination != nil {
			if err := s.Destination.Validate(); err != nil {
				return nil, domain.NewValidationError(fmt.Sprintf("stop %s: %v", s.ID, err))
			}
		}
	}

	r := &DeliveryRun{
		id:          uuid.New(),
		driverID:    driverID,
		status:      StatusIdle,
		policy:      policy,
		stops:       append([]route.DeliveryStop(nil), stops...),
		deliveredAt: make(map[string]time.Time),
		version:     1,
		createdAt:   now,
		updatedAt:   now,
	}

	if position != nil {
		if err := position.Validate(); err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("driver position: %v", err))
		}
		r.position = *position
		r.hasPosition = true
	}

	return r, nil
}

// ReconstructDeliveryRun rebuilds a DeliveryRun from persistence data (no validation).
func ReconstructDeliveryRun(
	id uuid.UUID,
	driverID uuid.UUID,
	status RunStatus,
	policy Policy,
	position *route.GeoPoint,
	stops []route.DeliveryStop,
	currentIndex int,
	deviated bool,
	deliveredAt map[string]time.Time,
	cancelReason string,
	startedAt *time.Time,
	completedAt *time.Time,
	cancelledAt *time.Time,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *DeliveryRun {
	if deliveredAt == nil {
		deliveredAt = make(map[string]time.Time)
	}
	r := &DeliveryRun{
		id:           id,
		driverID:     driverID,
		status:       status,
		policy:       policy,
		stops:        stops,
		currentIndex: currentIndex,
		deviated:     deviated,
		deliveredAt:  deliveredAt,
		cancelReason: cancelReason,
		startedAt:    startedAt,
		completedAt:  completedAt,
		cancelledAt:  cancelledAt,
		version:      version,
		createdAt:    createdAt,
		updatedAt:    updatedAt,
	}
	if position != nil {
		r.position = *position
		r.hasPosition = true
	}
	r.refreshDirections()
	return r
}

// --- Getters ---

// ID returns the run's unique identifier.
func (r *DeliveryRun) ID() uuid.UUID { return r.id }

// DriverID returns the driver owning the run.
func (r *DeliveryRun) DriverID() uuid.UUID { return r.driverID }

// Status returns the current run status.
func (r *DeliveryRun) Status() RunStatus { return r.status }

// Policy returns the thresholds the run applies.
func (r *DeliveryRun) Policy() Policy { return r.policy }

// Position returns the last known driver position, or nil if none has been seen.
func (r *DeliveryRun) Position() *route.GeoPoint {
	if !r.hasPosition {
		return nil
	}
	p := r.position
	return &p
}

// Stops returns a copy of the sequenced stops, delivered prefix included.
func (r *DeliveryRun) Stops() []route.DeliveryStop {
	return append([]route.DeliveryStop(nil), r.stops...)
}

// RemainingStops returns a copy of the stops not yet delivered, in visiting order.
func (r *DeliveryRun) RemainingStops() []route.DeliveryStop {
	if r.currentIndex >= len(r.stops) {
		return []route.DeliveryStop{}
	}
	return append([]route.DeliveryStop(nil), r.stops[r.currentIndex:]...)
}

// UnlocatedStops returns the remaining stops that carry no coordinates.
func (r *DeliveryRun) UnlocatedStops() []route.DeliveryStop {
	var out []route.DeliveryStop
	for _, s := range r.RemainingStops() {
		if !s.HasDestination() {
			out = append(out, s)
		}
	}
	return out
}

// CurrentIndex returns the index of the current target in Stops.
func (r *DeliveryRun) CurrentIndex() int { return r.currentIndex }

// IsDeviated reports whether the driver is currently flagged off route.
func (r *DeliveryRun) IsDeviated() bool { return r.deviated }

// Directions returns the guidance from the driver to the current target, if both are located.
func (r *DeliveryRun) Directions() []route.DirectionStep {
	return append([]route.DirectionStep(nil), r.directions...)
}

// DeliveredAt returns the delivery timestamps keyed by stop ID.
func (r *DeliveryRun) DeliveredAt() map[string]time.Time {
	out := make(map[string]time.Time, len(r.deliveredAt))
	for k, v := range r.deliveredAt {
		out[k] = v
	}
	return out
}

// CancelReason returns why the run was cancelled, if it was.
func (r *DeliveryRun) CancelReason() string { return r.cancelReason }

// StartedAt returns when the run went en route.
func (r *DeliveryRun) StartedAt() *time.Time { return r.startedAt }

// CompletedAt returns when the last stop was consumed.
func (r *DeliveryRun) CompletedAt() *time.Time { return r.completedAt }

// CancelledAt returns when the run was cancelled.
func (r *DeliveryRun) CancelledAt() *time.Time { return r.cancelledAt }

// Version returns the optimistic locking version.
func (r *DeliveryRun) Version() int64 { return r.version }

// CreatedAt returns the creation timestamp.
func (r *DeliveryRun) CreatedAt() time.Time { return r.createdAt }

// UpdatedAt returns the last-modified timestamp.
func (r *DeliveryRun) UpdatedAt() time.Time { return r.updatedAt }

// CurrentTarget returns the stop being driven to, or false when the run is not en route.
func (r *DeliveryRun) CurrentTarget() (route.DeliveryStop, bool) {
	if r.status != StatusEnRoute || r.currentIndex >= len(r.stops) {
		return route.DeliveryStop{}, false
	}
	return r.stops[r.currentIndex], true
}

// DistanceToTargetKm returns the straight-line distance to the current target, or false when
// either end is unknown.
func (r *DeliveryRun) DistanceToTargetKm() (float64, bool) {
	target, ok := r.CurrentTarget()
	if !ok || !r.hasPosition || !target.HasDestination() {
		return 0, false
	}
	return route.HaversineDistanceKm(r.position, *target.Destination), true
}

// RemainingDistanceKm returns the length of the untraveled route from the driver position.
func (r *DeliveryRun) RemainingDistanceKm() float64 {
	if !r.hasPosition {
		return 0
	}
	return route.RouteDistanceKm(r.position, r.RemainingStops())
}

// --- Domain behaviour ---

// Start sequences every stop from the driver position and puts the run en route. Without a
// position the stops keep their input order until the first position arrives.
func (r *DeliveryRun) Start(now time.Time) error {
	if !r.status.CanTransitionTo(StatusEnRoute) {
		return domain.NewInvalidStateError(string(r.status), string(StatusEnRoute))
	}
	if len(r.stops) == 0 {
		return domain.NewValidationError("a run needs at least one stop to start")
	}

	if r.hasPosition {
		r.stops = r.policy.sequencer().Sequence(r.position, r.stops, now)
	}
	r.currentIndex = 0
	r.deviated = false
	r.status = StatusEnRoute
	r.startedAt = &now
	r.updatedAt = now
	r.refreshDirections()
	return nil
}

// ApplyPosition records a fresh driver position. An idle run with stops starts on its first
// position. An en-route run re-sequences its remaining stops only on the transition from on
// route to deviated; staying deviated does not re-sequence again.
func (r *DeliveryRun) ApplyPosition(p route.GeoPoint, now time.Time) (PositionOutcome, error) {
	var out PositionOutcome
	if !r.status.IsActive() {
		return out, domain.NewInvalidOperationError(fmt.Sprintf("run is %s", r.status))
	}
	if err := p.Validate(); err != nil {
		return out, domain.NewValidationError(fmt.Sprintf("driver position: %v", err))
	}

	firstFix := !r.hasPosition
	r.position = p
	r.hasPosition = true
	r.updatedAt = now

	if r.status == StatusIdle {
		if len(r.stops) == 0 {
			return out, nil
		}
		if err := r.Start(now); err != nil {
			return out, err
		}
		out.Started = true
		return out, nil
	}

	if firstFix {
		r.deviated = false
		r.resequence(now)
		r.refreshDirections()
		out.FirstFix = true
		return out, nil
	}

	target, ok := r.CurrentTarget()
	if !ok || !target.HasDestination() {
		r.refreshDirections()
		return out, nil
	}

	deviated := route.IsDeviated(p, *target.Destination, r.policy.DeviationThresholdKm)
	out.Deviated = deviated
	switch {
	case deviated && !r.deviated:
		r.deviated = true
		r.resequence(now)
		out.Resequenced = true
	case !deviated:
		r.deviated = false
	}

	r.refreshDirections()
	return out, nil
}

// MarkDelivered consumes the current target. Only the current target may be delivered.
// An idle run is started first, so a driver whose position never arrives can still work
// through the batch in input order. It returns true when that was the last stop.
func (r *DeliveryRun) MarkDelivered(stopID string, now time.Time) (bool, error) {
	if r.status == StatusIdle && len(r.stops) > 0 {
		if r.indexOf(stopID) < 0 {
			return false, domain.NewNotFoundError("Stop", stopID)
		}
		if !r.hasPosition && r.stops[0].ID != stopID {
			return false, domain.NewInvalidOperationError(fmt.Sprintf("stop %s is not the current target (%s)", stopID, r.stops[0].ID))
		}
		if err := r.Start(now); err != nil {
			return false, err
		}
	}
	if r.status != StatusEnRoute {
		return false, domain.NewInvalidOperationError(fmt.Sprintf("cannot deliver a stop while run is %s", r.status))
	}
	target, _ := r.CurrentTarget()
	if target.ID != stopID {
		if r.indexOf(stopID) < 0 {
			return false, domain.NewNotFoundError("Stop", stopID)
		}
		return false, domain.NewInvalidOperationError(fmt.Sprintf("stop %s is not the current target (%s)", stopID, target.ID))
	}

	r.deliveredAt[stopID] = now
	r.currentIndex++
	r.deviated = false
	r.updatedAt = now

	if r.currentIndex == len(r.stops) {
		r.complete(now)
		return true, nil
	}
	r.refreshDirections()
	return false, nil
}

// CancelStop drops an undelivered stop. The order of the other stops is kept unless the dropped
// stop was the current target, in which case the remaining stops are re-sequenced from the driver.
// It returns true when the run completed because nothing was left.
func (r *DeliveryRun) CancelStop(stopID string, now time.Time) (bool, error) {
	if !r.status.IsActive() {
		return false, domain.NewInvalidOperationError(fmt.Sprintf("cannot cancel a stop while run is %s", r.status))
	}
	idx := r.indexOf(stopID)
	if idx < 0 {
		return false, domain.NewNotFoundError("Stop", stopID)
	}
	if idx < r.currentIndex {
		return false, domain.NewInvalidOperationError(fmt.Sprintf("stop %s has already been delivered", stopID))
	}

	r.stops = append(r.stops[:idx:idx], r.stops[idx+1:]...)
	r.updatedAt = now

	if r.status == StatusIdle {
		if len(r.stops) == 0 {
			r.cancel(ReasonNoStopsLeft, now)
		}
		return false, nil
	}

	if r.currentIndex == len(r.stops) {
		r.complete(now)
		return true, nil
	}
	if idx == r.currentIndex {
		r.deviated = false
		r.resequence(now)
	}
	r.refreshDirections()
	return false, nil
}

// Abandon cancels the run; the driver went offline, the batch was withdrawn or the run was
// superseded by a new one.
func (r *DeliveryRun) Abandon(reason string, now time.Time) error {
	if !r.status.CanTransitionTo(StatusCancelled) {
		return domain.NewInvalidStateError(string(r.status), string(StatusCancelled))
	}
	if reason == "" {
		reason = ReasonBatchCancelled
	}
	r.cancel(reason, now)
	return nil
}

// IncrementVersion bumps the version for optimistic locking.
func (r *DeliveryRun) IncrementVersion() {
	r.version++
}

// RollbackVersion undoes IncrementVersion after a write that did not land.
func (r *DeliveryRun) RollbackVersion() {
	if r.version > 1 {
		r.version--
	}
}

// resequence re-orders stops[currentIndex:] from the driver position. The delivered prefix is untouched.
func (r *DeliveryRun) resequence(now time.Time) {
	if !r.hasPosition || r.currentIndex >= len(r.stops) {
		return
	}
	suffix := r.stops[r.currentIndex:]
	ordered := r.policy.sequencer().Sequence(r.position, suffix, now)
	copy(r.stops[r.currentIndex:], ordered)
}

func (r *DeliveryRun) complete(now time.Time) {
	r.status = StatusCompleted
	r.completedAt = &now
	r.deviated = false
	r.directions = nil
	r.updatedAt = now
}

func (r *DeliveryRun) cancel(reason string, now time.Time) {
	r.status = StatusCancelled
	r.cancelReason = reason
	r.cancelledAt = &now
	r.directions = nil
	r.updatedAt = now
}

func (r *DeliveryRun) refreshDirections() {
	target, ok := r.CurrentTarget()
	if !ok || !r.hasPosition || !target.HasDestination() {
		r.directions = nil
		return
	}
	r.directions = route.GenerateDirections(r.position, *target.Destination)
}

func (r *DeliveryRun) indexOf(stopID string) int {
	for i, s := range r.stops {
		if s.ID == stopID {
			return i
		}
	}
	return -1
}
