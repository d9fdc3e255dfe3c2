package httpclient

import (
	"encoding/json"
	"time"
)

// Config holds client configuration
type Config struct {
	// ServerURL is the base URL of the gateway HTTP API (e.g., "http://localhost:8080")
	ServerURL string

	// OperatorID is the identifier presented at login
	OperatorID string

	// AdminToken, when set, requests an admin-scoped session
	AdminToken string

	// Timeout for HTTP requests. Must cover the invoke timeout; an invoke
	// call blocks until the node answers or the gateway times it out.
	Timeout time.Duration
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

// AuthResponse represents the response from authentication
type AuthResponse struct {
	Token      string    `json:"token"`
	OperatorID string    `json:"operatorId"`
	IsAdmin    bool      `json:"isAdmin,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// InvokeRequest represents a command invocation request
type InvokeRequest struct {
	Command        string `json:"command"`
	Params         any    `json:"params,omitempty"`
	TimeoutMs      int64  `json:"timeoutMs,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// InvokeError is the structured {code, message} pair on a failed invoke
type InvokeError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// InvokeResponse represents the settled outcome of an invocation
type InvokeResponse struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *InvokeError    `json:"error,omitempty"`
}

// NodeInfo represents one known node, local to a pod or read from the
// shared store
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

// NodesResponse represents the list of known nodes
type NodesResponse struct {
	Nodes []NodeInfo `json:"nodes"`
	Count int        `json:"count"`
}

// SendEventRequest represents a request to push an event to a node
type SendEventRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendEventResponse acknowledges an event push
type SendEventResponse struct {
	Delivered bool `json:"delivered"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Healthy        bool   `json:"healthy"`
	PodID          string `json:"podId,omitempty"`
	ConnectedNodes int    `json:"connectedNodes"`
	PendingInvokes int    `json:"pendingInvokes"`
	SyncAttached   bool   `json:"syncAttached"`
	Message        string `json:"message"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
