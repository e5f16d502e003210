// pkg/core/types.go
package core

// Position3D is a point in the simulator's local frame: x east, y up, z south.
type Position3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GeoPosition is a WGS84 coordinate. Only filled when georeferencing is enabled.
type GeoPosition struct {
	Longitude float64 `json:"lon"`
	Latitude  float64 `json:"lat"`
	Elevation float64 `json:"elev"`
}

// Quaternion is a rotation in w, x, y, z order.
type Quaternion struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Orientation kinds as recorded.
const (
	OrientationNone     = "none"
	OrientationHeading  = "heading"
	OrientationRotation = "rotation"
)

// UploadMetadata contains metadata sent along with an exported recording.
type UploadMetadata struct {
	SessionName string  `json:"sessionName"`
	Duration    float64 `json:"duration"`
	Entities    int     `json:"entities"`
	Tag         string  `json:"tag"`
}
