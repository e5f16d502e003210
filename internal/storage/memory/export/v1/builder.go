package v1

import (
	"math"
	"time"

	"github.com/multidriver/relay/pkg/core"
)

// SessionData contains all the data needed to build an export
type SessionData struct {
	Session  *core.Session
	Entities []*EntityRecord // in join order
}

// EntityRecord groups an entity with all its time-series data
type EntityRecord struct {
	Entity    core.Entity
	States    []core.EntityState
	LeaveTime time.Time
}

// Build creates an Export from the session data
func Build(data *SessionData) Export {
	s := data.Session
	export := Export{
		FormatVersion: FormatVersion,
		RelayVersion:  s.RelayVersion,
		SessionName:   s.Name,
		Host:          s.Host,
		Port:          s.Port,
		MaxFramerate:  s.MaxFramerate,
		Tags:          s.Tag,
		StartTime:     s.StartTime.UTC().Format(time.RFC3339Nano),
		Entities:      make([]Entity, 0, len(data.Entities)),
	}
	if !s.EndTime.IsZero() {
		export.EndTime = s.EndTime.UTC().Format(time.RFC3339Nano)
		export.Duration = round(s.EndTime.Sub(s.StartTime).Seconds(), 3)
	}

	for _, record := range data.Entities {
		entity := Entity{
			ID:         record.Entity.ID,
			RelayID:    record.Entity.RelayID,
			ModelPath:  record.Entity.ModelPath,
			DriverName: record.Entity.DriverName,
			JoinOffset: offset(s.StartTime, record.Entity.JoinTime),
			Positions:  make([][]any, 0, len(record.States)),
		}
		if !record.LeaveTime.IsZero() {
			entity.LeaveOffset = offset(s.StartTime, record.LeaveTime)
		}

		for _, state := range record.States {
			row := []any{
				offset(s.StartTime, state.Time),
				[]float64{state.Position.X, state.Position.Y, state.Position.Z},
				orientation(state),
				[]float64{state.Steering, state.WheelPos},
			}
			if state.Geo != nil {
				row = append(row, []float64{state.Geo.Longitude, state.Geo.Latitude, state.Geo.Elevation})
			}
			entity.Positions = append(entity.Positions, row)
		}

		export.Entities = append(export.Entities, entity)
	}

	return export
}

func orientation(s core.EntityState) any {
	switch s.OrientationKind {
	case core.OrientationHeading:
		return s.Heading
	case core.OrientationRotation:
		return []float64{s.Rotation.W, s.Rotation.X, s.Rotation.Y, s.Rotation.Z}
	default:
		return nil
	}
}

// offset returns milliseconds from start to t, clamped at 0.
func offset(start, t time.Time) int64 {
	if t.Before(start) {
		return 0
	}
	return t.Sub(start).Milliseconds()
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
