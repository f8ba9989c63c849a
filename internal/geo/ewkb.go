package geo

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID is the spatial reference used for stored points (WGS84).
const SRID = 4326

// EWKB encodes p as an SRID 4326 point in little-endian EWKB, suitable for a
// PostGIS geometry column.
func (p Point) EWKB() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g := geom.NewPointFlat(geom.XY, []float64{p.Lon, p.Lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode EWKB")
	}
	return data, nil
}

// PointFromEWKB decodes an EWKB point.
func PointFromEWKB(data []byte) (Point, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return Point{}, eris.Wrap(err, "geo: decode EWKB")
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return Point{}, eris.Errorf("geo: expected point, got %T", g)
	}
	return Point{Lat: pt.Y(), Lon: pt.X()}, nil
}
