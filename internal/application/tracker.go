package application

import (
	"context"
	"sync"

	runDomain "github.com/foodhub-delivery/service-routing/internal/domain/run"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tracker keeps one running controller per driver and stops them on completion or shutdown.
type Tracker struct {
	deps   ControllerDeps
	logger *zap.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*trackedRun // driverID -> controller
	wg      sync.WaitGroup
}

type trackedRun struct {
	controller *RunController
	cancel     context.CancelFunc
}

// NewTracker creates a Tracker whose controllers share deps.
func NewTracker(deps ControllerDeps) *Tracker {
	deps = deps.withDefaults()
	return &Tracker{
		deps:    deps,
		logger:  deps.Logger,
		running: make(map[uuid.UUID]*trackedRun),
	}
}

// Launch starts a controller for run. A controller already registered for the driver is replaced
// and stopped.
func (t *Tracker) Launch(parent context.Context, run *runDomain.DeliveryRun) *RunController {
	controller := NewRunController(run, t.deps)
	ctx, cancel := context.WithCancel(parent)
	entry := &trackedRun{controller: controller, cancel: cancel}

	t.mu.Lock()
	if prev, exists := t.running[run.DriverID()]; exists {
		prev.cancel()
	}
	t.running[run.DriverID()] = entry
	t.deps.Metrics.SetActiveRuns(len(t.running))
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		controller.Run(ctx)

		t.mu.Lock()
		if current, ok := t.running[run.DriverID()]; ok && current == entry {
			delete(t.running, run.DriverID())
		}
		t.deps.Metrics.SetActiveRuns(len(t.running))
		t.mu.Unlock()
		cancel()
	}()

	return controller
}

// Get returns the running controller of a driver. A controller whose run has already ended is
// treated as absent even while it is still winding down.
func (t *Tracker) Get(driverID uuid.UUID) (*RunController, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.running[driverID]
	if !ok || entry.controller.Finished() {
		return nil, false
	}
	return entry.controller, true
}

// Active returns the number of running controllers.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}

// Shutdown stops every controller and waits for them to exit.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	for _, entry := range t.running {
		entry.cancel()
	}
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("all run controllers stopped")
}
