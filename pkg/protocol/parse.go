package protocol

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrMalformed is returned for lines that are not a well-formed message.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownMessage is returned for well-formed elements the relay does not handle.
	ErrUnknownMessage = errors.New("unknown message")
)

// Kind identifies an inbound client message.
type Kind uint8

const (
	KindRegister Kind = iota + 1
	KindUpdate
	KindUnregister
)

func (k Kind) String() string {
	switch k {
	case KindRegister:
		return ElemRegister
	case KindUpdate:
		return ElemUpdate
	case KindUnregister:
		return ElemUnregister
	default:
		return "unknown"
	}
}

// Message is one decoded client line.
type Message struct {
	Kind Kind
	// ID is optional on update/unregister; clients may echo their assigned id.
	ID         string
	ModelPath  string
	DriverName string
	Motion     Motion
}

// Parse decodes a single client line.
func Parse(line string) (Message, error) {
	dec := xml.NewDecoder(strings.NewReader(line))
	start, err := nextStart(dec)
	if err != nil {
		return Message{}, err
	}
	attrs := attrMap(start)

	switch start.Name.Local {
	case ElemRegister:
		return Message{
			Kind:       KindRegister,
			ModelPath:  attrs["modelPath"],
			DriverName: attrs["driverName"],
		}, nil
	case ElemUpdate:
		m, err := motionFromAttrs(attrs)
		if err != nil {
			return Message{}, err
		}
		return Message{Kind: KindUpdate, ID: attrs["id"], Motion: m}, nil
	case ElemUnregister:
		return Message{Kind: KindUnregister, ID: attrs["id"]}, nil
	default:
		return Message{}, fmt.Errorf("%w: <%s>", ErrUnknownMessage, start.Name.Local)
	}
}

// ParseRegistered extracts the id from a handshake reply.
func ParseRegistered(line string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(line))
	start, err := nextStart(dec)
	if err != nil {
		return "", err
	}
	if start.Name.Local != ElemRegistered {
		return "", fmt.Errorf("%w: <%s>", ErrUnknownMessage, start.Name.Local)
	}
	id := attrMap(start)["id"]
	if id == "" {
		return "", ErrMalformed
	}
	return id, nil
}

// FragmentKind identifies one entry of an update message.
type FragmentKind uint8

const (
	FragmentAdd FragmentKind = iota + 1
	FragmentChange
	FragmentRemove
)

// Fragment is one decoded add, change or remove entry.
type Fragment struct {
	Kind       FragmentKind
	ID         string
	ModelPath  string
	DriverName string
	Motion     Motion
}

// DecodeUpdate decodes an <update> message sent by the relay, preserving fragment order.
func DecodeUpdate(msg string) ([]Fragment, error) {
	dec := xml.NewDecoder(strings.NewReader(msg))
	start, err := nextStart(dec)
	if err != nil {
		return nil, err
	}
	if start.Name.Local != ElemUpdate {
		return nil, fmt.Errorf("%w: <%s>", ErrUnknownMessage, start.Name.Local)
	}

	var out []Fragment
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, ErrMalformed
		}
		switch t := tok.(type) {
		case xml.StartElement:
			attrs := attrMap(t)
			f := Fragment{ID: attrs["id"]}
			switch t.Name.Local {
			case ElemAdd:
				f.Kind = FragmentAdd
				f.ModelPath = attrs["modelPath"]
				f.DriverName = attrs["driverName"]
			case ElemChange:
				f.Kind = FragmentChange
				if f.Motion, err = motionFromAttrs(attrs); err != nil {
					return nil, err
				}
			case ElemRemove:
				f.Kind = FragmentRemove
			default:
				return nil, fmt.Errorf("%w: <%s>", ErrUnknownMessage, t.Name.Local)
			}
			out = append(out, f)
		case xml.EndElement:
			if t.Name.Local == ElemUpdate {
				return out, nil
			}
		}
	}
}

// motionFromAttrs builds a Motion. pos is required; heading wins over rot,
// and an incomplete rot yields no orientation.
func motionFromAttrs(attrs map[string]string) (Motion, error) {
	var m Motion

	pos, ok := attrs["pos"]
	if !ok {
		return m, fmt.Errorf("%w: missing pos", ErrMalformed)
	}
	p, err := splitFloats(pos, 3)
	if err != nil {
		return m, fmt.Errorf("%w: pos %q", ErrMalformed, pos)
	}
	m.Position = Position{X: p[0], Y: p[1], Z: p[2]}

	if h, ok := attrs["heading"]; ok {
		v, err := splitFloats(h, 1)
		if err != nil {
			return m, fmt.Errorf("%w: heading %q", ErrMalformed, h)
		}
		m.Orientation = Heading(v[0])
	} else if rot, ok := attrs["rot"]; ok {
		if q, err := splitFloats(rot, 4); err == nil {
			m.Orientation = Rotation(Quaternion{W: q[0], X: q[1], Y: q[2], Z: q[3]})
		}
	}

	if wheel, ok := attrs["wheel"]; ok {
		w, err := splitFloats(wheel, 2)
		if err != nil {
			return m, fmt.Errorf("%w: wheel %q", ErrMalformed, wheel)
		}
		m.Wheel = Wheel{Steering: w[0], Pos: w[1]}
	}

	return m, nil
}

func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return xml.StartElement{}, fmt.Errorf("%w: empty line", ErrMalformed)
		}
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func attrMap(start xml.StartElement) map[string]string {
	attrs := make(map[string]string, len(start.Attr))
	for _, a := range start.Attr {
		attrs[a.Name.Local] = a.Value
	}
	return attrs
}
