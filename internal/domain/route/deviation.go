package route

// DefaultDeviationThresholdKm is how far from the current target a driver may drift
// before the remaining route is re-sequenced.
const DefaultDeviationThresholdKm = 2.0

// IsDeviated reports whether current lies strictly further than thresholdKm from target.
// A non-positive threshold falls back to DefaultDeviationThresholdKm.
func IsDeviated(current, target GeoPoint, thresholdKm float64) bool {
	if thresholdKm <= 0 {
		thresholdKm = DefaultDeviationThresholdKm
	}
	return HaversineDistanceKm(current, target) > thresholdKm
}
