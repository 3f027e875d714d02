package run

import "fmt"

// RunStatus represents the lifecycle state of a delivery run.
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusEnRoute   RunStatus = "en_route"
	StatusCompleted RunStatus = "completed"
	StatusCancelled RunStatus = "cancelled"
)

// validTransitions defines the state machine for run status transitions.
// Re-sequencing and advancing are not status changes; they happen inside en_route.
var validTransitions = map[RunStatus][]RunStatus{
	StatusIdle:      {StatusEnRoute, StatusCancelled},
	StatusEnRoute:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// IsValid returns true if the status is a recognized run status.
func (s RunStatus) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed.
func (s RunStatus) CanTransitionTo(target RunStatus) bool {
	for _, t := range validTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transitions are possible from this status.
func (s RunStatus) IsTerminal() bool {
	allowed, exists := validTransitions[s]
	if !exists {
		return true
	}
	return len(allowed) == 0
}

// IsActive returns true while the run still owns the driver.
func (s RunStatus) IsActive() bool {
	return s == StatusIdle || s == StatusEnRoute
}

// String returns the string representation of the status.
func (s RunStatus) String() string {
	return string(s)
}

// ParseRunStatus converts a string to a RunStatus, returning an error if invalid.
func ParseRunStatus(s string) (RunStatus, error) {
	status := RunStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid run status: %s", s)
	}
	return status, nil
}
