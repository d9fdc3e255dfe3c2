package wsgateway

import "encoding/json"

// Native client frame type tags. The inbound set is closed; dispatch in
// HandleNode covers every tag and logs anything else.
const (
	frameTypeConnect      = "connect"
	frameTypeEvent        = "event"
	frameTypeInvokeResult = "invoke-result"
	frameTypePing         = "ping"
	frameTypePong         = "pong"
)

// frameEnvelope carries just enough to pick the concrete frame type.
type frameEnvelope struct {
	Type string `json:"type"`
}

// connectFrame is the native client handshake.
type connectFrame struct {
	Type   string `json:"type"`
	Client struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName,omitempty"`
		Platform    string `json:"platform,omitempty"`
		Version     string `json:"version,omitempty"`
	} `json:"client"`
	Device struct {
		ID string `json:"id,omitempty"`
	} `json:"device"`
	Caps        []string        `json:"caps,omitempty"`
	Commands    []string        `json:"commands,omitempty"`
	Permissions map[string]bool `json:"permissions,omitempty"`
	PathEnv     string          `json:"pathEnv,omitempty"`
}

// nodeID resolves the stable node identity: the device id when present,
// otherwise the client id.
func (f *connectFrame) nodeID() string {
	if f.Device.ID != "" {
		return f.Device.ID
	}
	return f.Client.ID
}

// invokeResultFrame is a node's reply to an invoke request event.
type invokeResultFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	NodeID  string          `json:"nodeId"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *struct {
		Code    string `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
}

// eventEnvelope is the gateway-to-client event frame.
type eventEnvelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
