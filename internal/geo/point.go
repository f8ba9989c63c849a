// Package geo provides great-circle distance and bounding-box primitives used
// to restrict lead searches to a campaign radius.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
)

// Earth mean radius.
const (
	EarthRadiusMiles = 3959.0
	EarthRadiusKM    = 6371.0
)

// Unit selects the distance unit returned by Distance.
type Unit int

const (
	Miles Unit = iota
	Kilometers
)

func (u Unit) String() string {
	if u == Kilometers {
		return "km"
	}
	return "mi"
}

var (
	// ErrInvalidCoordinate is returned for out-of-range or non-finite coordinates.
	ErrInvalidCoordinate = eris.New("geo: invalid coordinate")
	// ErrInvalidRadius is returned for a non-positive or non-finite radius.
	ErrInvalidRadius = eris.New("geo: invalid radius")
)

// Point is a latitude/longitude pair in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether p is a usable WGS84 coordinate.
func (p Point) Validate() error {
	if !finite(p.Lat) || !finite(p.Lon) {
		return eris.Wrapf(ErrInvalidCoordinate, "non-finite point (%v, %v)", p.Lat, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return eris.Wrapf(ErrInvalidCoordinate, "latitude %v out of range", p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return eris.Wrapf(ErrInvalidCoordinate, "longitude %v out of range", p.Lon)
	}
	return nil
}

// Valid is Validate as a predicate.
func (p Point) Valid() bool {
	return p.Validate() == nil
}

// Distance returns the haversine great-circle distance between a and b.
func Distance(a, b Point, unit Unit) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}

	r := EarthRadiusMiles
	if unit == Kilometers {
		r = EarthRadiusKM
	}
	return r * centralAngle(a, b), nil
}

// DistanceMiles is Distance in miles.
func DistanceMiles(a, b Point) (float64, error) {
	return Distance(a, b, Miles)
}

// Both holds a distance in both supported units.
type Both struct {
	Miles      float64 `json:"miles"`
	Kilometers float64 `json:"kilometers"`
}

// DistanceBoth returns the distance between a and b in miles and kilometers.
func DistanceBoth(a, b Point) (Both, error) {
	if err := a.Validate(); err != nil {
		return Both{}, err
	}
	if err := b.Validate(); err != nil {
		return Both{}, err
	}
	c := centralAngle(a, b)
	return Both{Miles: EarthRadiusMiles * c, Kilometers: EarthRadiusKM * c}, nil
}

// centralAngle is the haversine central angle in radians.
func centralAngle(a, b Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h fractionally past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// MilesToMeters converts statute miles to meters.
func MilesToMeters(mi float64) float64 {
	return mi * 1609.34
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
