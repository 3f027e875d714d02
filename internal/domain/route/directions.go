package route

import "fmt"

// DirectionStep is one line of driver-facing guidance.
type DirectionStep struct {
	Instruction    string  `json:"instruction"`
	DistanceMeters float64 `json:"distance_meters"`
}

// GenerateDirections produces a synthetic three-step instruction list from one point to another.
// The straight-line distance is computed once and reported on every step; driver-facing copy
// depends on that.
func GenerateDirections(from, to GeoPoint) []DirectionStep {
	meters := HaversineDistanceKm(from, to) * 1000
	heading := CompassDirection(BearingDegrees(from, to))

	return []DirectionStep{
		{Instruction: fmt.Sprintf("Head %s", heading), DistanceMeters: meters},
		{Instruction: fmt.Sprintf("Continue for %s", formatDistance(meters)), DistanceMeters: meters},
		{Instruction: "Arrive at destination", DistanceMeters: meters},
	}
}

func formatDistance(meters float64) string {
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	return fmt.Sprintf("%.0f m", meters)
}
