// Package wire defines the JSON frame envelope exchanged over the WebSocket
// and on the broadcast bus. One object per frame.
package wire

import "encoding/json"

// Frame types.
const (
	TypeJoin     = "join"
	TypeTyping   = "typing"
	TypeMessage  = "message"
	TypePresence = "presence" // server -> client only
	TypeError    = "error"    // server -> client only
)

// Error kinds carried on error frames.
const (
	ErrMalformedFrame     = "malformed_frame"
	ErrNotAMember         = "not_a_member"
	ErrThrottled          = "throttled"
	ErrPersistenceFailure = "persistence_failure"
)

type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type JoinPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderLabel    string `json:"senderLabel"`
	IsTyping       bool   `json:"isTyping"`
}

type MessagePayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Body           string `json:"body"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// Marshal builds a frame around an already-marshalable payload. Payload
// marshal errors cannot happen for the payload structs above, so the error
// is swallowed at call sites that pass them.
func Marshal(frameType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: frameType, Payload: raw})
}

// ErrorFrame builds the structured error frame sent to a client instead of a
// raw failure: {"type":"error","error":"<kind>"}.
func ErrorFrame(kind string) []byte {
	b, _ := json.Marshal(Frame{Type: TypeError, Error: kind})
	return b
}
