package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/multidriver/relay/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// Positions are stored as 3857 so SQLite, which has no spatial awareness, can keep them as plain WKB.
// The simulator frame is local meters: x east, y up, z south.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// GeoPositionFromString parses a "long,lat" or "long,lat,elev" string into a core.GeoPosition.
func GeoPositionFromString(coords string) (core.GeoPosition, error) {
	coordsSplit := strings.Split(coords, ",")
	if len(coordsSplit) < 2 || len(coordsSplit) > 3 {
		return core.GeoPosition{}, ErrInvalidCoordinates
	}
	long, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[0]), 64)
	if err != nil {
		return core.GeoPosition{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(coordsSplit[1]), 64)
	if err != nil {
		return core.GeoPosition{}, ErrInvalidCoordinates
	}
	if long < -180 || long > 180 || lat < -85 || lat > 85 {
		return core.GeoPosition{}, ErrInvalidCoordinates
	}
	var elev float64
	if len(coordsSplit) > 2 {
		elev, err = strconv.ParseFloat(strings.TrimSpace(coordsSplit[2]), 64)
		if err != nil {
			return core.GeoPosition{}, ErrInvalidCoordinates
		}
	}
	return core.GeoPosition{Longitude: long, Latitude: lat, Elevation: elev}, nil
}

// Coords3857From4326 creates a GPS point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	var x, y float64
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ = f(longitude, latitude, 0)
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return geom.Point{}, ErrInvalidCoordinates
	}
	point = geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	return point, nil
}

// Coords4326From3857 converts web mercator meters back to longitude and latitude.
func Coords4326From3857(x, y float64) (longitude, latitude float64) {
	f := wgs84.EPSG().Transform(3857, 4326)
	longitude, latitude, _ = f(x, y, 0)
	return longitude, latitude
}

// Georeferencer places simulator positions on the globe around a fixed origin.
type Georeferencer struct {
	origin core.GeoPosition
	ox, oy float64 // origin in 3857
	scale  float64 // mercator meters per ground meter at the origin latitude
}

// NewGeoreferencer anchors the simulator origin (0,0,0) at origin.
func NewGeoreferencer(origin core.GeoPosition) (*Georeferencer, error) {
	pt, err := Coords3857From4326(origin.Longitude, origin.Latitude)
	if err != nil {
		return nil, err
	}
	xy, ok := pt.XY()
	if !ok {
		return nil, ErrInvalidCoordinates
	}
	return &Georeferencer{
		origin: origin,
		ox:     xy.X,
		oy:     xy.Y,
		scale:  1 / math.Cos(origin.Latitude*math.Pi/180),
	}, nil
}

// Origin returns the WGS84 anchor.
func (g *Georeferencer) Origin() core.GeoPosition {
	return g.origin
}

// Locate converts a local position to WGS84. Accurate within a few kilometers of the origin.
func (g *Georeferencer) Locate(p core.Position3D) core.GeoPosition {
	x := g.ox + p.X*g.scale
	y := g.oy - p.Z*g.scale
	lon, lat := Coords4326From3857(x, y)
	return core.GeoPosition{
		Longitude: lon,
		Latitude:  lat,
		Elevation: g.origin.Elevation + p.Y,
	}
}
