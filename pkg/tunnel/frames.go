package tunnel

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownFrameType is returned when a frame carries a type tag outside
	// the protocol's closed set
	ErrUnknownFrameType = errors.New("unknown tunnel frame type")
)

// Frame type tags.
const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeEvent      = "event"
	TypeCommand    = "command"
	TypeResponse   = "response"
	TypePing       = "ping"
	TypePong       = "pong"
)

// Frame is the closed set of tunnel protocol frames. Only types in this
// package implement it.
type Frame interface {
	frameType() string
}

// RegisterFrame is the peer's handshake: its identity, capabilities, and
// invocable commands. Must be the first frame on a connection.
type RegisterFrame struct {
	Type         string          `json:"type"`
	InstanceID   string          `json:"instance_id"`
	AppKind      string          `json:"app_kind"`
	DisplayName  string          `json:"display_name"`
	Capabilities []string        `json:"capabilities"`
	Version      string          `json:"version"`
	Platform     string          `json:"platform"`
	CWD          string          `json:"cwd,omitempty"`
	Commands     []string        `json:"commands,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// RegisteredFrame is the server's confirmation of a successful register.
type RegisteredFrame struct {
	Type       string `json:"type"`
	InstanceID string `json:"instance_id"`
	SessionURL string `json:"session_url"`
}

// EventFrame carries an out-of-band event. Peer-originated events flow
// toward interested operators; gateway-originated ones carry registry events
// other than invoke requests.
type EventFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CommandFrame is a gateway-to-peer command invocation, the tunnel rendering
// of a registry invoke request.
type CommandFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame is the peer's reply to a CommandFrame, correlated by ID.
type ResponseFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

// PingFrame is a peer heartbeat; the gateway answers with a PongFrame.
type PingFrame struct {
	Type string `json:"type"`
}

// PongFrame acknowledges a PingFrame.
type PongFrame struct {
	Type string `json:"type"`
}

func (*RegisterFrame) frameType() string   { return TypeRegister }
func (*RegisteredFrame) frameType() string { return TypeRegistered }
func (*EventFrame) frameType() string      { return TypeEvent }
func (*CommandFrame) frameType() string    { return TypeCommand }
func (*ResponseFrame) frameType() string   { return TypeResponse }
func (*PingFrame) frameType() string       { return TypePing }
func (*PongFrame) frameType() string       { return TypePong }

// Decode parses one raw frame into its concrete type.
func Decode(raw []byte) (Frame, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("invalid tunnel frame: %w", err)
	}

	var frame Frame
	switch envelope.Type {
	case TypeRegister:
		frame = &RegisterFrame{}
	case TypeRegistered:
		frame = &RegisteredFrame{}
	case TypeEvent:
		frame = &EventFrame{}
	case TypeCommand:
		frame = &CommandFrame{}
	case TypeResponse:
		frame = &ResponseFrame{}
	case TypePing:
		frame = &PingFrame{}
	case TypePong:
		frame = &PongFrame{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrameType, envelope.Type)
	}

	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("invalid %s frame: %w", envelope.Type, err)
	}
	return frame, nil
}

// Encode serializes a frame, stamping its type tag so callers cannot send a
// frame under the wrong tag.
func Encode(frame Frame) ([]byte, error) {
	switch f := frame.(type) {
	case *RegisterFrame:
		f.Type = TypeRegister
	case *RegisteredFrame:
		f.Type = TypeRegistered
	case *EventFrame:
		f.Type = TypeEvent
	case *CommandFrame:
		f.Type = TypeCommand
	case *ResponseFrame:
		f.Type = TypeResponse
	case *PingFrame:
		f.Type = TypePing
	case *PongFrame:
		f.Type = TypePong
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownFrameType, frame)
	}
	return json.Marshal(frame)
}
