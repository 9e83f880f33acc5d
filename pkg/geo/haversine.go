package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	φ1 := toRadians(a.Latitude)
	φ2 := toRadians(b.Latitude)
	Δφ := toRadians(b.Latitude - a.Latitude)
	Δλ := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	// rounding can push h marginally past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// Within reports whether p lies inside the circle of radiusMeters around center and returns
// the raw distance. The comparison uses the distance rounded to the nearest meter, the same
// figure shown to users, and a point on the boundary is inside.
func Within(center, p Point, radiusMeters float64) (bool, float64) {
	d := Distance(center, p)
	return math.Round(d) <= radiusMeters, d
}

// Valid reports whether the point carries a plausible latitude and longitude.
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
