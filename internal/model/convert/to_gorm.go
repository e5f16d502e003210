// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"database/sql"
	"encoding/json"

	"github.com/multidriver/relay/internal/geo"
	"github.com/multidriver/relay/internal/model"
	"github.com/multidriver/relay/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

type orientationJSON struct {
	Kind    string    `json:"kind"`
	Heading *float64  `json:"heading,omitempty"`
	Rot     []float64 `json:"rot,omitempty"`
}

// geoToPoint projects a WGS84 position to an EPSG:3857 point.
// A nil position yields an empty point.
func geoToPoint(g *core.GeoPosition) geom.Point {
	if g == nil {
		return geom.Point{}
	}
	pt, err := geo.Coords3857From4326(g.Longitude, g.Latitude)
	if err != nil {
		return geom.Point{}
	}
	xy, ok := pt.XY()
	if !ok {
		return geom.Point{}
	}
	return geom.NewPoint(geom.Coordinates{XY: xy, Z: g.Elevation, Type: geom.DimXYZ})
}

// orientationToJSON encodes the orientation tagged union for a JSON column.
func orientationToJSON(s core.EntityState) datatypes.JSON {
	o := orientationJSON{Kind: s.OrientationKind}
	switch s.OrientationKind {
	case core.OrientationHeading:
		h := s.Heading
		o.Heading = &h
	case core.OrientationRotation:
		q := s.Rotation
		o.Rot = []float64{q.W, q.X, q.Y, q.Z}
	default:
		o.Kind = core.OrientationNone
	}
	data, _ := json.Marshal(o)
	return datatypes.JSON(data)
}

// CoreToSession converts a core.Session to a GORM model.Session.
func CoreToSession(s core.Session) model.Session {
	out := model.Session{
		Name:         s.Name,
		Host:         s.Host,
		Port:         s.Port,
		MaxFramerate: s.MaxFramerate,
		RelayVersion: s.RelayVersion,
		Tag:          s.Tag,
		StartTime:    s.StartTime,
	}
	out.ID = s.ID
	if !s.EndTime.IsZero() {
		out.EndTime = sql.NullTime{Time: s.EndTime, Valid: true}
	}
	return out
}

// CoreToEntity converts a core.Entity to a GORM model.Entity.
// SessionID is stamped by the writer.
func CoreToEntity(e core.Entity) model.Entity {
	return model.Entity{
		ID:         e.ID,
		RelayID:    e.RelayID,
		ModelPath:  e.ModelPath,
		DriverName: e.DriverName,
		JoinTime:   e.JoinTime,
	}
}

// CoreToEntityState converts a core.EntityState to a GORM model.EntityState.
func CoreToEntityState(s core.EntityState) model.EntityState {
	out := model.EntityState{
		Time:        s.Time,
		RelayID:     s.RelayID,
		LocalX:      s.Position.X,
		LocalY:      s.Position.Y,
		LocalZ:      s.Position.Z,
		Position:    geoToPoint(s.Geo),
		Orientation: orientationToJSON(s),
		Steering:    s.Steering,
		WheelPos:    s.WheelPos,
	}
	if s.Geo != nil {
		out.Elevation = s.Geo.Elevation
	}
	return out
}
