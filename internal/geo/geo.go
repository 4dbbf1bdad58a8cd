// Package geo holds the distance maths used by marketplace browsing.
package geo

import "math"

// EarthRadiusKm is the mean earth radius used by Haversine.
const EarthRadiusKm = 6371.0

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lng)
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BoundingBox returns the lat/lng box that contains every point within
// radiusKm of center. Used to pre-filter rows before the exact distance check.
// Longitudes wrap: a box crossing the antimeridian has minPt.Lng > maxPt.Lng.
func BoundingBox(center Point, radiusKm float64) (minPt, maxPt Point) {
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi
	minPt = Point{Lat: math.Max(-90, center.Lat-dLat), Lng: -180}
	maxPt = Point{Lat: math.Min(90, center.Lat+dLat), Lng: 180}

	// Near a pole every longitude is in range.
	cos := math.Cos(toRadians(center.Lat))
	if minPt.Lat <= -90 || maxPt.Lat >= 90 || cos <= 1e-9 {
		return minPt, maxPt
	}
	dLng := dLat / cos
	if dLng >= 180 {
		return minPt, maxPt
	}
	minPt.Lng = wrapLng(center.Lng - dLng)
	maxPt.Lng = wrapLng(center.Lng + dLng)
	return minPt, maxPt
}

func wrapLng(lng float64) float64 {
	switch {
	case lng > 180:
		return lng - 360
	case lng < -180:
		return lng + 360
	default:
		return lng
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
