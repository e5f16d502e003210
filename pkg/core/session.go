// pkg/core/session.go
package core

import "time"

// Session is one run of the relay, from listen to stop.
type Session struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Host         string    `json:"host"`
	Port         int       `json:"port"`
	MaxFramerate int       `json:"maxFramerate"`
	RelayVersion string    `json:"relayVersion"`
	Tag          string    `json:"tag"`
	StartTime    time.Time `json:"startTime"`
	EndTime      time.Time `json:"endTime"`
}

// Entity is a participant as it joined.
// ID is assigned by the storage backend; RelayID is the registry id (mdv_N).
type Entity struct {
	ID         uint      `json:"id"`
	RelayID    string    `json:"relayId"`
	ModelPath  string    `json:"modelPath"`
	DriverName string    `json:"driverName"`
	JoinTime   time.Time `json:"joinTime"`
}

// EntityState is one motion report of an entity.
type EntityState struct {
	RelayID         string       `json:"relayId"`
	Time            time.Time    `json:"time"`
	Position        Position3D   `json:"position"`
	Geo             *GeoPosition `json:"geo,omitempty"`
	OrientationKind string       `json:"orientationKind"`
	Heading         float64      `json:"heading"`
	Rotation        Quaternion   `json:"rotation"`
	Steering        float64      `json:"steering"`
	WheelPos        float64      `json:"wheelPos"`
}

// EntityRemoval records a participant leaving.
type EntityRemoval struct {
	RelayID string    `json:"relayId"`
	Time    time.Time `json:"time"`
}
