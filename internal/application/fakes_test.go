package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
	runDomain "github.com/foodhub-delivery/service-routing/internal/domain/run"
	"github.com/foodhub-delivery/service-routing/internal/platform/domain"
	"github.com/foodhub-delivery/service-routing/internal/platform/kafka"
	"github.com/google/uuid"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memoryRunRepo stores detached copies so controllers never share an aggregate with readers.
type memoryRunRepo struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*runDomain.DeliveryRun
}

func newMemoryRunRepo() *memoryRunRepo {
	return &memoryRunRepo{runs: make(map[uuid.UUID]*runDomain.DeliveryRun)}
}

func cloneRun(r *runDomain.DeliveryRun) *runDomain.DeliveryRun {
	return runDomain.ReconstructDeliveryRun(
		r.ID(), r.DriverID(), r.Status(), r.Policy(), r.Position(), r.Stops(),
		r.CurrentIndex(), r.IsDeviated(), r.DeliveredAt(), r.CancelReason(),
		r.StartedAt(), r.CompletedAt(), r.CancelledAt(),
		r.Version(), r.CreatedAt(), r.UpdatedAt(),
	)
}

func (m *memoryRunRepo) FindByID(_ context.Context, id uuid.UUID) (*runDomain.DeliveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.NewNotFoundError("DeliveryRun", id.String())
	}
	return cloneRun(r), nil
}

func (m *memoryRunRepo) FindActiveByDriver(_ context.Context, driverID uuid.UUID) (*runDomain.DeliveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.DriverID() == driverID && r.Status().IsActive() {
			return cloneRun(r), nil
		}
	}
	return nil, domain.NewNotFoundError("DeliveryRun", driverID.String())
}

func (m *memoryRunRepo) FindActiveByStop(_ context.Context, stopID string) (*runDomain.DeliveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if !r.Status().IsActive() {
			continue
		}
		for _, s := range r.RemainingStops() {
			if s.ID == stopID {
				return cloneRun(r), nil
			}
		}
	}
	return nil, domain.NewNotFoundError("DeliveryRun", stopID)
}

func (m *memoryRunRepo) ListActive(_ context.Context) ([]*runDomain.DeliveryRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*runDomain.DeliveryRun
	for _, r := range m.runs {
		if r.Status().IsActive() {
			out = append(out, cloneRun(r))
		}
	}
	return out, nil
}

func (m *memoryRunRepo) Save(_ context.Context, r *runDomain.DeliveryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID()] = cloneRun(r)
	return nil
}

func (m *memoryRunRepo) Update(_ context.Context, r *runDomain.DeliveryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[r.ID()]
	if !ok {
		return domain.NewNotFoundError("DeliveryRun", r.ID().String())
	}
	if stored.Version() != r.Version()-1 {
		return domain.NewConflictError("run was modified by another transaction")
	}
	m.runs[r.ID()] = cloneRun(r)
	return nil
}

func (m *memoryRunRepo) CountByStatus(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int64)
	for _, r := range m.runs {
		counts[r.Status().String()]++
	}
	return counts, nil
}

func (m *memoryRunRepo) get(id uuid.UUID) *runDomain.DeliveryRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[id]
}

// scriptedPositions returns the queued samples in order, then repeats the last one.
type scriptedPositions struct {
	mu      sync.Mutex
	samples []positionSample
}

type positionSample struct {
	point route.GeoPoint
	err   error
}

func (p *scriptedPositions) push(point route.GeoPoint, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, positionSample{point: point, err: err})
}

func (p *scriptedPositions) reset(point route.GeoPoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = []positionSample{{point: point}}
}

func (p *scriptedPositions) Sample(_ context.Context, _ uuid.UUID) (route.GeoPoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.samples) == 0 {
		return route.GeoPoint{}, errors.New("no location permission")
	}
	s := p.samples[0]
	if len(p.samples) > 1 {
		p.samples = p.samples[1:]
	}
	return s.point, s.err
}

type recordingStore struct {
	mu         sync.Mutex
	assigned   []route.DeliveryStop
	delivered  []string
	increments int
	releases   int
	locations  []route.GeoPoint
	failWrites bool
}

func (s *recordingStore) FindAssignedOrders(context.Context, uuid.UUID) ([]route.DeliveryStop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]route.DeliveryStop(nil), s.assigned...), nil
}

func (s *recordingStore) MarkOrderDelivered(_ context.Context, orderID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("database unavailable")
	}
	s.delivered = append(s.delivered, orderID)
	return nil
}

func (s *recordingStore) UpdateDriverLocation(_ context.Context, _ uuid.UUID, p route.GeoPoint, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, p)
	return nil
}

func (s *recordingStore) IncrementDriverDeliveries(context.Context, uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errors.New("database unavailable")
	}
	s.increments++
	return nil
}

func (s *recordingStore) ReleaseDriver(context.Context, uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	return nil
}

func (s *recordingStore) counts() (delivered []string, increments, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.delivered...), s.increments, s.releases
}

type recordingNotifier struct {
	mu            sync.Mutex
	positions     int
	recalculating int
	warnings      []string
}

func (n *recordingNotifier) PublishPosition(context.Context, uuid.UUID, uuid.UUID, route.GeoPoint, time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.positions++
	return nil
}

func (n *recordingNotifier) NotifyRecalculating(context.Context, uuid.UUID, uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recalculating++
	return nil
}

func (n *recordingNotifier) NotifyWarning(_ context.Context, _ uuid.UUID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, message)
	return nil
}

func (n *recordingNotifier) snapshot() (recalculating int, warnings int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.recalculating, len(n.warnings)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []kafka.CloudEvent
}

func (e *recordingEvents) PublishEvent(_ context.Context, _ string, event kafka.CloudEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *recordingEvents) types() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

type memoryLocations struct {
	mu     sync.Mutex
	latest map[uuid.UUID]route.GeoPoint
}

func (l *memoryLocations) Record(_ context.Context, driverID uuid.UUID, p route.GeoPoint, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.latest == nil {
		l.latest = make(map[uuid.UUID]route.GeoPoint)
	}
	l.latest[driverID] = p
	return nil
}

func (l *memoryLocations) Nearby(_ context.Context, p route.GeoPoint, radiusKm float64) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []string
	for id, at := range l.latest {
		if route.HaversineDistanceKm(p, at) <= radiusKm {
			ids = append(ids, id.String())
		}
	}
	return ids, nil
}
