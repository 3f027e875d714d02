package run

import (
	"time"

	"github.com/foodhub-delivery/service-routing/internal/domain/route"
)

// Policy holds the tunables a run applies when it evaluates positions and sequences stops.
type Policy struct {
	DeviationThresholdKm float64
	UrgencyWindow        time.Duration
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		DeviationThresholdKm: route.DefaultDeviationThresholdKm,
		UrgencyWindow:        route.DefaultUrgencyWindow,
	}
}

func (p Policy) sequencer() route.Sequencer {
	return route.NewSequencer(p.UrgencyWindow)
}
