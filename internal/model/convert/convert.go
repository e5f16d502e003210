package convert

import (
	"encoding/json"

	"github.com/multidriver/relay/internal/geo"
	"github.com/multidriver/relay/internal/model"
	"github.com/multidriver/relay/pkg/core"
)

// SessionToCore converts a GORM Session to a core.Session.
func SessionToCore(s model.Session) core.Session {
	out := core.Session{
		ID:           s.ID,
		Name:         s.Name,
		Host:         s.Host,
		Port:         s.Port,
		MaxFramerate: s.MaxFramerate,
		RelayVersion: s.RelayVersion,
		Tag:          s.Tag,
		StartTime:    s.StartTime,
	}
	if s.EndTime.Valid {
		out.EndTime = s.EndTime.Time
	}
	return out
}

// EntityToCore converts a GORM Entity to a core.Entity.
func EntityToCore(e model.Entity) core.Entity {
	return core.Entity{
		ID:         e.ID,
		RelayID:    e.RelayID,
		ModelPath:  e.ModelPath,
		DriverName: e.DriverName,
		JoinTime:   e.JoinTime,
	}
}

// EntityStateToCore converts a GORM EntityState to a core.EntityState.
// Geo is only set when the stored point is non-empty.
func EntityStateToCore(s model.EntityState) core.EntityState {
	out := core.EntityState{
		RelayID:         s.RelayID,
		Time:            s.Time,
		Position:        core.Position3D{X: s.LocalX, Y: s.LocalY, Z: s.LocalZ},
		OrientationKind: core.OrientationNone,
		Steering:        s.Steering,
		WheelPos:        s.WheelPos,
	}

	if c, ok := s.Position.Coordinates(); ok {
		lon, lat := geo.Coords4326From3857(c.XY.X, c.XY.Y)
		out.Geo = &core.GeoPosition{Longitude: lon, Latitude: lat, Elevation: s.Elevation}
	}

	var o orientationJSON
	if len(s.Orientation) > 0 && json.Unmarshal(s.Orientation, &o) == nil {
		switch {
		case o.Kind == core.OrientationHeading && o.Heading != nil:
			out.OrientationKind = core.OrientationHeading
			out.Heading = *o.Heading
		case o.Kind == core.OrientationRotation && len(o.Rot) == 4:
			out.OrientationKind = core.OrientationRotation
			out.Rotation = core.Quaternion{W: o.Rot[0], X: o.Rot[1], Y: o.Rot[2], Z: o.Rot[3]}
		}
	}
	return out
}
