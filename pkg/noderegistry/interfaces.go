package noderegistry

import (
	"context"
	"encoding/json"
)

// Error codes surfaced on failed invokes. Every failed InvokeResult carries
// exactly one of these in its Error.Code field.
const (
	// CodeNotConnected means the target node is unknown locally and, when a
	// sync layer is attached, unknown cluster-wide.
	CodeNotConnected = "NOT_CONNECTED"

	// CodeUnavailable means the node is known but the send to it failed.
	CodeUnavailable = "UNAVAILABLE"

	// CodeTimeout means no result was observed within the deadline.
	CodeTimeout = "TIMEOUT"

	// CodeTunnelError means a tunnel peer explicitly reported failure via its
	// own protocol.
	CodeTunnelError = "TUNNEL_ERROR"
)

// EventInvokeRequest is the registry-originated event delivered to a node's
// connection when a command is invoked on it.
const EventInvokeRequest = "node.invoke.request"

// Connection is one live transport to a node device. Implementations are
// supplied by the connection handling layer; the registry only ever sends
// event frames through it and never manages its lifecycle.
type Connection interface {
	// ID returns the unique identifier of this physical connection.
	// A node that reconnects gets a new connection ID even if its node ID
	// stays the same.
	ID() string

	// SendEvent delivers an event frame to the node. Sends are
	// fire-and-forget from the registry's perspective; an error means the
	// frame could not be handed to the transport.
	SendEvent(event string, payload json.RawMessage) error
}

// Registration is the declared state a node presents when it connects.
// Permissions and PathEnv are opaque passthrough fields; the registry stores
// them but never interprets them.
type Registration struct {
	NodeID       string
	Capabilities []string
	Commands     []string
	Permissions  map[string]bool
	PathEnv      string
	DisplayName  string
	Platform     string
	Version      string
	AppKind      string
	CWD          string
	RemoteIP     string
}

// InvokeParams identifies one command invocation on one node.
type InvokeParams struct {
	NodeID  string
	Command string

	// Params is JSON-encoded before being sent to the node; nil means the
	// command takes no parameters.
	Params any

	// TimeoutMs bounds how long the invoke may stay pending. Zero or
	// negative selects the registry's default.
	TimeoutMs int64

	// IdempotencyKey is passed through to the node unchanged.
	IdempotencyKey string
}

// InvokeError is the structured {code, message} pair carried by every failed
// invoke.
type InvokeError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// InvokeResult is the settled outcome of an invoke. Exactly one of Payload
// (OK true) or Error (OK false) is meaningful.
type InvokeResult struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *InvokeError    `json:"error,omitempty"`
}

// InvokeRequestEvent is the payload of an EventInvokeRequest frame.
type InvokeRequestEvent struct {
	ID             string          `json:"id"`
	NodeID         string          `json:"nodeId"`
	Command        string          `json:"command"`
	ParamsJSON     json.RawMessage `json:"paramsJSON,omitempty"`
	TimeoutMs      int64           `json:"timeoutMs,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// ResultFrame is an invoke result arriving from a node, either directly over
// its own connection or forwarded by another component on its behalf.
type ResultFrame struct {
	RequestID string          `json:"id"`
	NodeID    string          `json:"nodeId"`
	OK        bool            `json:"ok"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Error     *InvokeError    `json:"error,omitempty"`
}

// NodeInfo is the descriptor returned by ListAll. Local entries carry a live
// connection on this pod; remote entries were read from the shared store and
// name their owning pod.
type NodeInfo struct {
	NodeID        string   `json:"nodeId"`
	DisplayName   string   `json:"displayName,omitempty"`
	Platform      string   `json:"platform,omitempty"`
	Version       string   `json:"version,omitempty"`
	Capabilities  []string `json:"caps"`
	Commands      []string `json:"commands"`
	ConnectedAtMs int64    `json:"connectedAtMs"`
	RemoteIP      string   `json:"remoteIp,omitempty"`
	Connected     bool     `json:"connected"`
	Local         bool     `json:"local"`
	PodID         string   `json:"podId,omitempty"`
}

// Registry is the node registry contract exposed to callers (operator
// commands, channel plugins, the HTTP API).
type Registry interface {
	// Invoke dispatches a command to a node, locally or across pods, and
	// always settles within the invoke timeout. The error return is non-nil
	// only for caller-side conditions (context cancellation); node-side
	// failures are reported inside the InvokeResult.
	Invoke(ctx context.Context, params InvokeParams) (InvokeResult, error)

	// ListAll returns every known node: local sessions plus, when a sync
	// layer is attached, remote entries from the shared store.
	ListAll(ctx context.Context) []NodeInfo

	// GetInfo returns the descriptor for one node, local or remote.
	GetInfo(ctx context.Context, nodeID string) (NodeInfo, bool)

	// SendEvent delivers an event frame to a locally connected node.
	SendEvent(nodeID, event string, payload json.RawMessage) error
}
