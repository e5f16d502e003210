package geo

import (
	"fmt"

	"github.com/multidriver/relay/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Track builds a WGS84 LineString (lon, lat, elev) from a sequence of positions.
func Track(points []core.GeoPosition) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, fmt.Errorf("track must have at least 2 points, got %d", len(points))
	}

	// Build coordinate sequence for LineString
	flatCoords := make([]float64, 0, len(points)*3)
	for _, p := range points {
		flatCoords = append(flatCoords, p.Longitude, p.Latitude, p.Elevation)
	}

	seq := geom.NewSequence(flatCoords, geom.DimXYZ)
	return geom.NewLineString(seq), nil
}

// TrackGeometry returns a Point for a single position and a LineString otherwise.
func TrackGeometry(points []core.GeoPosition) (geom.Geometry, error) {
	switch len(points) {
	case 0:
		return geom.Geometry{}, fmt.Errorf("track is empty")
	case 1:
		p := points[0]
		return geom.NewPoint(geom.Coordinates{
			XY:   geom.XY{X: p.Longitude, Y: p.Latitude},
			Z:    p.Elevation,
			Type: geom.DimXYZ,
		}).AsGeometry(), nil
	}
	ls, err := Track(points)
	if err != nil {
		return geom.Geometry{}, err
	}
	return ls.AsGeometry(), nil
}
