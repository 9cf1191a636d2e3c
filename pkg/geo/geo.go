// Package geo provides the geographic estimates the control plane feeds
// into matching and pricing.
//
// Distance uses the Haversine formula on WGS-84 coordinates. Duration is
// estimated with a constant average speed — geospatial routing is an input
// to this system, not something it computes.
package geo

import (
	"math"

	"github.com/shiva/dgdo/internal/model"
)

// ─── Constants ──────────────────────────────────────────────

const (
	// EarthRadiusKm is the mean radius of Earth in kilometers.
	EarthRadiusKm = 6371.0

	// AverageSpeedKmph is the assumed average city driving speed, used to
	// estimate trip duration when no routing engine is wired in.
	AverageSpeedKmph = 30.0
)

// ─── Distance ───────────────────────────────────────────────

// HaversineKm returns the great-circle distance between two points in
// kilometers.
//
// Complexity: O(1)
func HaversineKm(a, b model.Location) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLon := degToRad(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)

	h := sinLat*sinLat +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*sinLon*sinLon

	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b model.Location) float64 {
	return HaversineKm(a, b) * 1000.0
}

// ─── Duration ───────────────────────────────────────────────

// EstimateDurationSeconds returns the estimated direct travel time between
// two points in seconds, assuming AverageSpeedKmph.
func EstimateDurationSeconds(a, b model.Location) float64 {
	return (HaversineKm(a, b) / AverageSpeedKmph) * 3600.0
}

// ─── Helpers ────────────────────────────────────────────────

func degToRad(deg float64) float64 {
	return deg * (math.Pi / 180.0)
}
