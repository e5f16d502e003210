package protocol

import (
	"encoding/xml"
	"strings"
)

// Element names used on the wire.
const (
	ElemUpdate     = "update"
	ElemAdd        = "add"
	ElemChange     = "change"
	ElemRemove     = "remove"
	ElemRegister   = "register"
	ElemRegistered = "registered"
	ElemUnregister = "unregister"
)

// Update accumulates add, change and remove fragments for one consumer.
// Fragments are grouped by kind in the encoded message regardless of call order.
//
//	<update><add .../>*<change .../>*<remove .../>*</update>
type Update struct {
	adds    strings.Builder
	changes strings.Builder
	removes strings.Builder

	nAdd    int
	nChange int
	nRemove int
}

// Add announces a new entity.
func (u *Update) Add(id, modelPath, driverName string) {
	b := &u.adds
	b.WriteString("<add")
	writeAttr(b, "id", id)
	writeAttr(b, "modelPath", modelPath)
	writeAttr(b, "driverName", driverName)
	b.WriteString(" />")
	u.nAdd++
}

// Change carries the current motion snapshot of an entity. The orientation
// attribute is omitted when m has no orientation.
func (u *Update) Change(id string, m Motion) {
	b := &u.changes
	b.WriteString("<change")
	writeAttr(b, "id", id)
	writeMotion(b, m)
	b.WriteString(" />")
	u.nChange++
}

// Remove announces that an entity left.
func (u *Update) Remove(id string) {
	b := &u.removes
	b.WriteString("<remove")
	writeAttr(b, "id", id)
	b.WriteString(" />")
	u.nRemove++
}

// Empty reports whether no fragment was added.
func (u *Update) Empty() bool {
	return u.nAdd+u.nChange+u.nRemove == 0
}

// Counts returns the number of add, change and remove fragments.
func (u *Update) Counts() (adds, changes, removes int) {
	return u.nAdd, u.nChange, u.nRemove
}

// String encodes the message, or returns "" when it is empty.
func (u *Update) String() string {
	if u.Empty() {
		return ""
	}
	var b strings.Builder
	b.Grow(len("<update></update>") + u.adds.Len() + u.changes.Len() + u.removes.Len())
	b.WriteString("<update>")
	b.WriteString(u.adds.String())
	b.WriteString(u.changes.String())
	b.WriteString(u.removes.String())
	b.WriteString("</update>")
	return b.String()
}

// Registered is the handshake reply carrying the id assigned to a client.
func Registered(id string) string {
	var b strings.Builder
	b.WriteString("<registered")
	writeAttr(&b, "id", id)
	b.WriteString(" />")
	return b.String()
}

// Register is the handshake request a client sends.
func Register(modelPath, driverName string) string {
	var b strings.Builder
	b.WriteString("<register")
	writeAttr(&b, "modelPath", modelPath)
	writeAttr(&b, "driverName", driverName)
	b.WriteString(" />")
	return b.String()
}

// ClientUpdate encodes a client's own motion report.
func ClientUpdate(m Motion) string {
	var b strings.Builder
	b.WriteString("<update")
	writeMotion(&b, m)
	b.WriteString(" />")
	return b.String()
}

// Unregister is the message a client sends before leaving.
func Unregister() string {
	return "<unregister />"
}

func writeMotion(b *strings.Builder, m Motion) {
	writeAttr(b, "pos", joinFloats(m.Position.X, m.Position.Y, m.Position.Z))
	switch m.Orientation.Kind {
	case OrientationHeading:
		writeAttr(b, "heading", FormatFloat(m.Orientation.Heading))
	case OrientationRotation:
		q := m.Orientation.Rotation
		writeAttr(b, "rot", joinFloats(q.W, q.X, q.Y, q.Z))
	}
	writeAttr(b, "wheel", joinFloats(m.Wheel.Steering, m.Wheel.Pos))
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteByte(' ')
	b.WriteString(name)
	b.WriteString(`="`)
	// EscapeText only fails when the writer does; strings.Builder never does
	_ = xml.EscapeText(b, []byte(value))
	b.WriteByte('"')
}
