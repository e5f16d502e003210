package streaming

import (
	"encoding/json"

	"github.com/multidriver/relay/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartSession = "start_session"
	TypeEndSession   = "end_session"
	TypeAddEntity    = "add_entity"
	TypeEntityState  = "entity_state"
	TypeRemoveEntity = "remove_entity"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartSessionPayload carries the session being recorded.
type StartSessionPayload struct {
	Session *core.Session `json:"session"`
}

// NewEnvelope marshals payload under the given message type.
func NewEnvelope(msgType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: msgType, Payload: raw}, nil
}
