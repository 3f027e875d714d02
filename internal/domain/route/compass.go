package route

import "math"

// Compass is one of the eight cardinal and intercardinal directions.
type Compass string

const (
	North     Compass = "N"
	NorthEast Compass = "NE"
	East      Compass = "E"
	SouthEast Compass = "SE"
	South     Compass = "S"
	SouthWest Compass = "SW"
	West      Compass = "W"
	NorthWest Compass = "NW"
)

var compassPoints = [8]Compass{North, NorthEast, East, SouthEast, South, SouthWest, West, NorthWest}

// CompassDirection buckets a bearing into 45° sectors centred on the eight points.
// Bearings outside [0, 360) are normalized first. NaN and ±Inf have no direction and yield the
// empty Compass.
func CompassDirection(bearing float64) Compass {
	if math.IsNaN(bearing) || math.IsInf(bearing, 0) {
		return ""
	}
	b := math.Mod(bearing, 360)
	if b < 0 {
		b += 360
	}
	idx := int(math.Round(b/45)) % 8
	return compassPoints[idx]
}

// String returns the abbreviation.
func (c Compass) String() string {
	return string(c)
}
