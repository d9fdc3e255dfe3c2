package nodesync

import (
	"context"
	"encoding/json"

	"github.com/nodegate/nodegate-go/pkg/noderegistry"
)

// NodeMeta is the publicly shareable projection of a node session: everything
// another pod needs to list or invoke the node, and nothing tied to the
// owning pod's process (no socket handle).
type NodeMeta struct {
	DisplayName   string   `json:"displayName,omitempty"`
	Platform      string   `json:"platform,omitempty"`
	Version       string   `json:"version,omitempty"`
	AppKind       string   `json:"appKind,omitempty"`
	CWD           string   `json:"cwd,omitempty"`
	RemoteIP      string   `json:"remoteIp,omitempty"`
	Capabilities  []string `json:"caps"`
	Commands      []string `json:"commands"`
	ConnectedAtMs int64    `json:"connectedAtMs"`
}

// RemoteNodeInfo is a NodeMeta as read back from the shared store, keyed by
// node id and carrying the owning pod.
type RemoteNodeInfo struct {
	NodeID string `json:"nodeId"`
	PodID  string `json:"podId"`
	NodeMeta
}

// InvokeRequest is the wire record published to the owning pod's request
// channel. OriginPodID names the channel the result must be routed back to.
type InvokeRequest struct {
	RequestID      string          `json:"requestId"`
	OriginPodID    string          `json:"originPodId"`
	NodeID         string          `json:"nodeId"`
	Command        string          `json:"command"`
	ParamsJSON     json.RawMessage `json:"paramsJSON,omitempty"`
	TimeoutMs      int64           `json:"timeoutMs,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// InvokeResult is the wire record published back to the origin pod's result
// channel once the owning pod has executed the invoke.
type InvokeResult struct {
	RequestID   string                    `json:"requestId"`
	OriginPodID string                    `json:"originPodId"`
	OK          bool                      `json:"ok"`
	Payload     json.RawMessage           `json:"payload,omitempty"`
	Error       *noderegistry.InvokeError `json:"error,omitempty"`
}

// Sync is the cross-pod sync layer. Implementations exist for a Redis-backed
// shared store and for an in-process broker used in tests and single-binary
// deployments.
//
// Transport and storage failures are returned as errors so the caller can
// log them, but they must never be fatal: the registry degrades to
// "not connected" when the sync layer misbehaves.
type Sync interface {
	// PodID returns the identity this pod publishes under. It is fixed at
	// construction so tests can run several simulated pods in one process.
	PodID() string

	// PublishNode writes (or rewrites) a node's metadata under this pod's
	// ownership with a fresh TTL.
	PublishNode(ctx context.Context, nodeID string, meta NodeMeta) error

	// RefreshNode extends the TTL of a node owned by this pod. Called on
	// node heartbeat.
	RefreshNode(ctx context.Context, nodeID string) error

	// RemoveNode deletes a node's entry from the shared store.
	RemoveNode(ctx context.Context, nodeID string) error

	// GetNode reads one node's entry. Returns (nil, nil) when the node is
	// not in the store.
	GetNode(ctx context.Context, nodeID string) (*RemoteNodeInfo, error)

	// ListNodes enumerates every live node across all pods.
	ListNodes(ctx context.Context) ([]RemoteNodeInfo, error)

	// RouteInvoke publishes an invoke request to the target pod's request
	// channel. Fire-and-forget: a nil error means the message was published,
	// not that it was delivered.
	RouteInvoke(ctx context.Context, targetPodID string, req InvokeRequest) error

	// RouteInvokeResult publishes an invoke result to the target pod's
	// result channel.
	RouteInvokeResult(ctx context.Context, targetPodID string, res InvokeResult) error

	// OnInvokeRequest installs the handler for requests arriving on this
	// pod's request channel. Must be called before traffic is expected.
	OnInvokeRequest(handler func(req InvokeRequest))

	// OnInvokeResult installs the handler for results arriving on this pod's
	// result channel.
	OnInvokeResult(handler func(res InvokeResult))

	// Close removes every node owned by this pod from the shared store and
	// tears down subscriptions. Per-node removal failures are collected and
	// logged, never propagated; other pods fall back to TTL expiry for
	// anything left behind.
	Close(ctx context.Context) error
}
