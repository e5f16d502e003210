// Package protocol implements the line-oriented XML wire format spoken between
// driving-simulator clients and the relay.
package protocol

import (
	"strconv"
	"strings"
)

// Position is a point in the simulator's local frame.
type Position struct {
	X float64
	Y float64
	Z float64
}

// Quaternion is a full rotation in (w, x, y, z) order.
type Quaternion struct {
	W float64
	X float64
	Y float64
	Z float64
}

// OrientationKind tags which representation an Orientation carries.
type OrientationKind uint8

const (
	// OrientationNone means neither a heading nor a complete quaternion is known.
	OrientationNone OrientationKind = iota
	// OrientationHeading is a single-axis heading in degrees.
	OrientationHeading
	// OrientationRotation is a full quaternion.
	OrientationRotation
)

// Orientation is either a heading, a quaternion, or nothing.
type Orientation struct {
	Kind     OrientationKind
	Heading  float64
	Rotation Quaternion
}

// Heading returns a heading-only orientation.
func Heading(h float64) Orientation {
	return Orientation{Kind: OrientationHeading, Heading: h}
}

// Rotation returns a quaternion orientation.
func Rotation(q Quaternion) Orientation {
	return Orientation{Kind: OrientationRotation, Rotation: q}
}

// Wheel holds steering angle and wheel position.
type Wheel struct {
	Steering float64
	Pos      float64
}

// Motion is the mutable snapshot of one car.
type Motion struct {
	Position    Position
	Orientation Orientation
	Wheel       Wheel
}

// FormatFloat renders f in its shortest natural decimal form ("90", "1.5", "-0.25").
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func joinFloats(values ...float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = FormatFloat(v)
	}
	return strings.Join(parts, ";")
}

// splitFloats parses exactly n ';'-separated numbers.
func splitFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ";")
	if len(parts) != n {
		return nil, ErrMalformed
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, ErrMalformed
		}
		out[i] = v
	}
	return out, nil
}
