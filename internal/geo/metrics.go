package geo

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Area thresholds in square meters for the zoom hint.
const (
	smallAreaLimit  = 1e6
	mediumAreaLimit = 1e7
)

// Centroid returns the area-weighted centroid of p.
func Centroid(p orb.Polygon) orb.Point {
	c, _ := planar.CentroidArea(p)
	return c
}

// Area returns the geodesic area of p in square meters.
func Area(p orb.Polygon) float64 {
	return math.Abs(geo.Area(p))
}

// ZoomForArea maps an area in square meters to the zoom level map clients
// open the report at.
func ZoomForArea(area float64) int {
	switch {
	case area < smallAreaLimit:
		return 11
	case area < mediumAreaLimit:
		return 12
	default:
		return 13
	}
}
