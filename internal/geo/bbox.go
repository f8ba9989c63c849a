package geo

import (
	"math"

	"github.com/rotisserie/eris"
)

// milesPerDegree approximates one degree of latitude.
const milesPerDegree = 69.0

// poleSnapDegrees is the distance from a pole inside which the longitude span
// covers the full circle.
const poleSnapDegrees = 0.1

// BoundingBox is a lat/lon rectangle. When MinLon > MaxLon the box wraps the
// antimeridian.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// NewBoundingBox returns a box containing every point within radiusMiles of
// center. The box is a superset of the circle; callers still need an exact
// Distance check for each candidate.
func NewBoundingBox(center Point, radiusMiles float64) (BoundingBox, error) {
	if err := center.Validate(); err != nil {
		return BoundingBox{}, eris.Wrap(err, "geo: bounding box center")
	}
	if !finite(radiusMiles) || radiusMiles <= 0 {
		return BoundingBox{}, eris.Wrapf(ErrInvalidRadius, "radius %v", radiusMiles)
	}

	angular := radiusMiles / EarthRadiusMiles
	latSpan := toDegrees(angular)

	box := BoundingBox{
		MinLat: center.Lat - latSpan,
		MaxLat: center.Lat + latSpan,
		MinLon: -180,
		MaxLon: 180,
	}

	nearPole := math.Abs(center.Lat) > 90-poleSnapDegrees
	coversPole := box.MaxLat >= 90 || box.MinLat <= -90
	ratio := math.Sin(angular) / math.Cos(toRadians(center.Lat))

	// A circle reaching a pole, or one wider than the parallel it sits on,
	// spans every meridian.
	if !nearPole && !coversPole && angular < math.Pi/2 && ratio < 1 {
		lonSpan := toDegrees(math.Asin(ratio))
		box.MinLon = center.Lon - lonSpan
		box.MaxLon = center.Lon + lonSpan
		if box.MinLon < -180 {
			box.MinLon += 360
		}
		if box.MaxLon > 180 {
			box.MaxLon -= 360
		}
	}

	box.MinLat = math.Max(box.MinLat, -90)
	box.MaxLat = math.Min(box.MaxLat, 90)
	return box, nil
}

// Wraps reports whether the box crosses the antimeridian.
func (b BoundingBox) Wraps() bool {
	return b.MinLon > b.MaxLon
}

// Contains reports whether p lies inside the box. Invalid points are never
// contained.
func (b BoundingBox) Contains(p Point) bool {
	if !p.Valid() {
		return false
	}
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.Wraps() {
		return p.Lon >= b.MinLon || p.Lon <= b.MaxLon
	}
	return p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// AreaSqMiles is a flat-earth approximation of the box area, accurate for
// boxes of a few hundred miles away from the poles.
func (b BoundingBox) AreaSqMiles() float64 {
	height := (b.MaxLat - b.MinLat) * milesPerDegree
	lonDiff := b.MaxLon - b.MinLon
	if b.Wraps() {
		lonDiff += 360
	}
	avgLat := (b.MinLat + b.MaxLat) / 2
	width := lonDiff * milesPerDegree * math.Cos(toRadians(avgLat))
	return height * math.Abs(width)
}
