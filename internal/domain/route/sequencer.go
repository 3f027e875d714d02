package route

import (
	"math"
	"time"
)

// DefaultUrgencyWindow is how far ahead a scheduled stop starts to win over closer stops.
const DefaultUrgencyWindow = 30 * time.Minute

// urgencyFactor scales the distance priority of an urgent stop.
const urgencyFactor = 0.5

// Sequencer orders stops into a visit plan using a greedy nearest-neighbour heuristic.
//
// At each step the unvisited stop with the smallest priority wins, where priority is the
// great-circle distance from the cursor, halved for stops scheduled inside the urgency
// window. Ties keep input order. Stops without coordinates are never ranked while a
// located stop remains; they are appended last in their original relative order.
type Sequencer struct {
	UrgencyWindow time.Duration
}

// NewSequencer creates a Sequencer; a non-positive window falls back to DefaultUrgencyWindow.
func NewSequencer(urgencyWindow time.Duration) Sequencer {
	if urgencyWindow <= 0 {
		urgencyWindow = DefaultUrgencyWindow
	}
	return Sequencer{UrgencyWindow: urgencyWindow}
}

// SequenceStops orders stops with the default urgency window.
func SequenceStops(start GeoPoint, stops []DeliveryStop, now time.Time) []DeliveryStop {
	return NewSequencer(DefaultUrgencyWindow).Sequence(start, stops, now)
}

// Sequence returns a new slice holding a permutation of stops. The input is not modified.
// This is O(n²) in the number of stops; a driver batch is small.
func (s Sequencer) Sequence(start GeoPoint, stops []DeliveryStop, now time.Time) []DeliveryStop {
	if len(stops) == 0 {
		return []DeliveryStop{}
	}
	if len(stops) == 1 {
		return []DeliveryStop{stops[0]}
	}

	window := s.UrgencyWindow
	if window <= 0 {
		window = DefaultUrgencyWindow
	}

	located := make([]DeliveryStop, 0, len(stops))
	unlocated := make([]DeliveryStop, 0)
	for _, stop := range stops {
		if stop.HasDestination() {
			located = append(located, stop)
		} else {
			unlocated = append(unlocated, stop)
		}
	}

	ordered := make([]DeliveryStop, 0, len(stops))
	visited := make([]bool, len(located))
	cursor := start

	for range located {
		best := -1
		bestPriority := math.Inf(1)

		for i, stop := range located {
			if visited[i] {
				continue
			}
			priority := HaversineDistanceKm(cursor, *stop.Destination)
			if stop.IsUrgent(now, window) {
				priority *= urgencyFactor
			}
			// Strict comparison keeps the first-encountered stop on ties.
			if priority < bestPriority {
				bestPriority = priority
				best = i
			}
		}

		if best < 0 {
			break
		}
		visited[best] = true
		ordered = append(ordered, located[best])
		cursor = *located[best].Destination
	}

	return append(ordered, unlocated...)
}

// RouteDistanceKm sums the leg distances of a sequenced route starting at start.
// Stops without coordinates contribute nothing and do not move the cursor.
func RouteDistanceKm(start GeoPoint, stops []DeliveryStop) float64 {
	total := 0.0
	cursor := start
	for _, stop := range stops {
		if !stop.HasDestination() {
			continue
		}
		total += HaversineDistanceKm(cursor, *stop.Destination)
		cursor = *stop.Destination
	}
	return total
}
