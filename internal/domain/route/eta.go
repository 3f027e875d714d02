package route

import (
	"fmt"
	"math"
)

// DefaultAverageSpeedKmh is the assumed urban riding speed.
const DefaultAverageSpeedKmh = 20.0

// EstimateEtaMinutes returns the whole minutes needed to cover distanceKm at averageSpeedKmh,
// rounded up. A non-positive speed falls back to DefaultAverageSpeedKmh.
func EstimateEtaMinutes(distanceKm, averageSpeedKmh float64) int {
	if averageSpeedKmh <= 0 {
		averageSpeedKmh = DefaultAverageSpeedKmh
	}
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / averageSpeedKmh * 60))
}

// FormatEta renders a minute count the way the driver app shows it.
func FormatEta(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d mins", minutes)
	}
	return fmt.Sprintf("%d hr %d min", minutes/60, minutes%60)
}
