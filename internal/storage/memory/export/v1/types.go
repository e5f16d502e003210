// Package v1 contains the v1 export format for recorded relay sessions.
package v1

// FormatVersion is written into every export.
const FormatVersion = 1

// Export is the root JSON structure for v1 format
type Export struct {
	FormatVersion int      `json:"formatVersion"`
	RelayVersion  string   `json:"relayVersion"`
	SessionName   string   `json:"sessionName"`
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	MaxFramerate  int      `json:"maxFramerate"`
	Tags          string   `json:"tags"`
	StartTime     string   `json:"startTime"`
	EndTime       string   `json:"endTime"`
	Duration      float64  `json:"duration"` // seconds
	Entities      []Entity `json:"entities"`
}

// Entity is one participant and its motion track.
// Positions rows: [offsetMs, [x, y, z], orientation, [steering, wheelPos], [lon, lat, elev]?]
// where orientation is null, a heading in degrees or a [w, x, y, z] quaternion.
type Entity struct {
	ID          uint    `json:"id"`
	RelayID     string  `json:"relayId"`
	ModelPath   string  `json:"modelPath"`
	DriverName  string  `json:"driverName"`
	JoinOffset  int64   `json:"joinOffset"`            // ms since session start
	LeaveOffset int64   `json:"leaveOffset,omitempty"` // 0 while still connected at export
	Positions   [][]any `json:"positions"`
}
