package httpapi

import (
	"encoding/json"
	"time"

	registrypkg "github.com/nodegate/nodegate-go/pkg/noderegistry"
)

// Request/Response types for the HTTP API

// AuthRequest represents a login request. Presenting the configured admin
// token grants an admin-scoped JWT.
type AuthRequest struct {
	OperatorID string `json:"operatorId"`
	AdminToken string `json:"adminToken,omitempty"`
}

// AuthResponse represents a login response
type AuthResponse struct {
	Token      string    `json:"token"`
	OperatorID string    `json:"operatorId"`
	IsAdmin    bool      `json:"isAdmin,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// InvokeRequest represents a command invocation request against one node
type InvokeRequest struct {
	Command        string `json:"command"`
	Params         any    `json:"params,omitempty"`
	TimeoutMs      int64  `json:"timeoutMs,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// InvokeResponse represents the settled outcome of an invocation
type InvokeResponse struct {
	OK      bool                     `json:"ok"`
	Payload json.RawMessage          `json:"payload,omitempty"`
	Error   *registrypkg.InvokeError `json:"error,omitempty"`
}

// NodesResponse represents the list of known nodes, local and remote
type NodesResponse struct {
	Nodes []registrypkg.NodeInfo `json:"nodes"`
	Count int                    `json:"count"`
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
