package supplier

import "math"

// earthRadiusMi is the mean Earth radius in miles.
const earthRadiusMi = 3958.8

// HaversineMi returns the great-circle distance between two coordinates
// in miles.
func HaversineMi(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Pow(math.Sin(dLng/2), 2)
	return 2 * earthRadiusMi * math.Asin(math.Sqrt(a))
}

// DistanceFrom computes a supplier's haversine distance from the query
// coordinate. Returns nil when the supplier has no coordinate.
func DistanceFrom(s Supplier, lat, lng float64) *float64 {
	if s.Lat == nil || s.Lng == nil {
		return nil
	}
	d := HaversineMi(lat, lng, *s.Lat, *s.Lng)
	return &d
}
