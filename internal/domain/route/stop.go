package route

import (
	"encoding/json"
	"time"
)

// DeliveryStop is one order's delivery destination as seen by the optimizer.
// Payload is carried through untouched.
type DeliveryStop struct {
	ID           string          `json:"id"`
	Destination  *GeoPoint       `json:"destination,omitempty"`
	ScheduledFor *time.Time      `json:"scheduled_for,omitempty"`
	Address      string          `json:"address,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// HasDestination reports whether the stop carries coordinates.
func (s DeliveryStop) HasDestination() bool {
	return s.Destination != nil
}

// Label returns a display string for the stop, falling back from address to ID.
func (s DeliveryStop) Label() string {
	if s.Address != "" {
		return s.Address
	}
	return s.ID
}

// IsUrgent reports whether the stop is scheduled strictly within the urgency window after now.
func (s DeliveryStop) IsUrgent(now time.Time, window time.Duration) bool {
	if s.ScheduledFor == nil {
		return false
	}
	until := s.ScheduledFor.Sub(now)
	return until > 0 && until < window
}
