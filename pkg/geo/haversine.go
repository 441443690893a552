package geo

import "math"

const earthRadiusMeters = 6_371_000.0

// e6 is the number of microdegrees per degree.
const e6 = 1_000_000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// HaversineE6 is Haversine over microdegree coordinates.
func HaversineE6(lat1, lon1, lat2, lon2 int32) float64 {
	return Haversine(FromE6(lat1), FromE6(lon1), FromE6(lat2), FromE6(lon2))
}

// ToE6 converts degrees to microdegrees, rounding to nearest.
func ToE6(deg float64) int32 {
	return int32(math.Round(deg * e6))
}

// FromE6 converts microdegrees to degrees.
func FromE6(v int32) float64 {
	return float64(v) / e6
}

// SearchBox returns the latitude and longitude half-widths, in
// microdegrees, of a box that contains every point within radiusMeters of
// a point at latitude lat. The longitude span widens with latitude and
// covers the full circle near the poles. A radius of half the Earth's
// circumference or more, including +Inf, covers the whole globe.
func SearchBox(lat, radiusMeters float64) (dLatE6, dLonE6 int64) {
	alpha := min(radiusMeters/earthRadiusMeters*180/math.Pi, 180)
	dLat := alpha
	dLon := 360.0
	if edge := math.Abs(lat) + alpha; edge < 89 {
		dLon = min(alpha/math.Cos(edge*math.Pi/180), 360)
	}
	return int64(math.Ceil(dLat * e6)), int64(math.Ceil(dLon * e6))
}
