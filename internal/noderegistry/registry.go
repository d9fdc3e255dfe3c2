package noderegistry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	registrypkg "github.com/nodegate/nodegate-go/pkg/noderegistry"
	"github.com/nodegate/nodegate-go/pkg/nodesync"
)

var (
	// ErrClosed is returned when operating on a closed registry
	ErrClosed = errors.New("registry is closed")
	// ErrNotConnected is returned by SendEvent when the node has no local session
	ErrNotConnected = errors.New("node not connected")
)

// pendingInvoke represents one in-flight request awaiting a reply. The entry
// is removed from the pending table exactly once, under the registry mutex,
// before its channel is completed; whichever of result, timeout, or
// disconnect observes the entry first wins and the other paths are no-ops.
type pendingInvoke struct {
	nodeID  string
	command string
	done    chan registrypkg.InvokeResult
	timer   *time.Timer
}

// Registry is the in-memory table of node sessions connected to this pod.
// It dispatches invokes either locally over a session's connection or, when
// a sync layer is attached and the node lives on another pod, through that
// pod's invoke channel. It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	config *Config
	log    *zap.Logger

	nodesByID   map[string]*Session // nodeID -> session
	nodesByConn map[string]string   // connectionID -> nodeID
	pending     map[string]*pendingInvoke

	// Optional sync layer for cross-pod node sharing.
	sync nodesync.Sync

	closed bool
}

// New creates a Registry with the given configuration. A nil config selects
// defaults.
func New(config *Config, log *zap.Logger) (*Registry, error) {
	if config == nil {
		config = NewConfig()
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		config:      config,
		log:         log.Named("noderegistry"),
		nodesByID:   make(map[string]*Session),
		nodesByConn: make(map[string]string),
		pending:     make(map[string]*pendingInvoke),
	}, nil
}

// SetSync attaches a cross-pod sync layer and installs the handlers that
// execute forwarded invokes and resolve forwarded results.
func (r *Registry) SetSync(s nodesync.Sync) {
	r.mu.Lock()
	r.sync = s
	r.mu.Unlock()

	// Invoke requests routed here from other pods: execute as if local and
	// publish the result back to the origin pod's result channel.
	s.OnInvokeRequest(func(req nodesync.InvokeRequest) {
		r.mu.Lock()
		_, local := r.nodesByID[req.NodeID]
		r.mu.Unlock()
		if !local {
			return
		}
		go r.executeForwarded(s, req)
	})

	// Invoke results routed back from other pods resolve this pod's own
	// pending entry. Matching is by request id alone: the entry was created
	// by this pod, so the node id is already pinned.
	s.OnInvokeResult(func(res nodesync.InvokeResult) {
		r.finishPending(res.RequestID, "", registrypkg.InvokeResult{
			OK:      res.OK,
			Payload: res.Payload,
			Error:   res.Error,
		})
	})
}

func (r *Registry) executeForwarded(s nodesync.Sync, req nodesync.InvokeRequest) {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if req.TimeoutMs <= 0 {
		timeout = r.config.DefaultInvokeTimeout
	}
	// Padding past the invoke's own deadline so the timeout outcome is
	// carried back to the origin pod instead of being cut off here.
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	params := registrypkg.InvokeParams{
		NodeID:         req.NodeID,
		Command:        req.Command,
		TimeoutMs:      req.TimeoutMs,
		IdempotencyKey: req.IdempotencyKey,
	}
	if len(req.ParamsJSON) > 0 {
		params.Params = req.ParamsJSON
	}

	result, err := r.Invoke(ctx, params)
	if err != nil {
		// A closed registry means the node is effectively gone from this
		// pod; only deadline errors report as a timeout.
		code := registrypkg.CodeTimeout
		if errors.Is(err, ErrClosed) {
			code = registrypkg.CodeNotConnected
		}
		result = registrypkg.InvokeResult{
			OK:    false,
			Error: &registrypkg.InvokeError{Code: code, Message: err.Error()},
		}
	}

	if err := s.RouteInvokeResult(ctx, req.OriginPodID, nodesync.InvokeResult{
		RequestID:   req.RequestID,
		OriginPodID: req.OriginPodID,
		OK:          result.OK,
		Payload:     result.Payload,
		Error:       result.Error,
	}); err != nil {
		r.log.Warn("failed to route invoke result",
			zap.String("requestId", req.RequestID),
			zap.String("originPod", req.OriginPodID),
			zap.Error(err))
	}
}

// Register inserts a session for the given connection. Duplicate node ids do
// not fail: the newer registration replaces the older in the lookup table,
// and the older connection, if still open, is left for its own disconnect to
// clean up (keyed by connection id, so it cannot evict this session).
func (r *Registry) Register(ctx context.Context, conn registrypkg.Connection, reg registrypkg.Registration) *Session {
	session := &Session{
		NodeID:        reg.NodeID,
		ConnectionID:  conn.ID(),
		Conn:          conn,
		DisplayName:   reg.DisplayName,
		Platform:      reg.Platform,
		Version:       reg.Version,
		AppKind:       reg.AppKind,
		CWD:           reg.CWD,
		RemoteIP:      reg.RemoteIP,
		Capabilities:  reg.Capabilities,
		Commands:      reg.Commands,
		Permissions:   reg.Permissions,
		PathEnv:       reg.PathEnv,
		ConnectedAtMs: time.Now().UnixMilli(),
	}

	r.mu.Lock()
	r.nodesByID[session.NodeID] = session
	r.nodesByConn[session.ConnectionID] = session.NodeID
	s := r.sync
	r.mu.Unlock()

	r.log.Info("node registered",
		zap.String("nodeId", session.NodeID),
		zap.String("connId", session.ConnectionID),
		zap.Int("commands", len(session.Commands)))

	// Publish to the shared store for cross-pod visibility. Detached from
	// the caller: a slow or absent store must not stall registration.
	if s != nil {
		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), r.config.PublishTimeout)
			defer cancel()
			if err := s.PublishNode(pubCtx, session.NodeID, session.Meta()); err != nil {
				r.log.Warn("failed to publish node to shared store",
					zap.String("nodeId", session.NodeID), zap.Error(err))
			}
		}()
	}

	return session
}

// Unregister removes the session for a connection, rejects every pending
// invoke addressed to its node, and deletes the node's shared-store entry.
// Unregistering an unknown connection is a no-op.
func (r *Registry) Unregister(ctx context.Context, connectionID string) (string, bool) {
	r.mu.Lock()
	nodeID, ok := r.nodesByConn[connectionID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.nodesByConn, connectionID)
	// Only evict the id table if this connection still owns the entry; a
	// fast reconnect may have replaced it already.
	if session, exists := r.nodesByID[nodeID]; exists && session.ConnectionID == connectionID {
		delete(r.nodesByID, nodeID)
	}

	var orphaned []*pendingInvoke
	for id, p := range r.pending {
		if p.nodeID != nodeID {
			continue
		}
		delete(r.pending, id)
		orphaned = append(orphaned, p)
	}
	s := r.sync
	r.mu.Unlock()

	for _, p := range orphaned {
		p.timer.Stop()
		p.done <- registrypkg.InvokeResult{
			OK: false,
			Error: &registrypkg.InvokeError{
				Code:    registrypkg.CodeNotConnected,
				Message: fmt.Sprintf("node disconnected (%s)", p.command),
			},
		}
	}

	r.log.Info("node unregistered",
		zap.String("nodeId", nodeID),
		zap.String("connId", connectionID),
		zap.Int("rejectedInvokes", len(orphaned)))

	if s != nil {
		go func() {
			rmCtx, cancel := context.WithTimeout(context.Background(), r.config.PublishTimeout)
			defer cancel()
			if err := s.RemoveNode(rmCtx, nodeID); err != nil {
				r.log.Warn("failed to remove node from shared store",
					zap.String("nodeId", nodeID), zap.Error(err))
			}
		}()
	}

	return nodeID, true
}

// Get returns the local session for a node id, if any.
func (r *Registry) Get(nodeID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.nodesByID[nodeID]
	return session, ok
}

// ListConnected returns the sessions connected to this pod.
func (r *Registry) ListConnected() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.nodesByID))
	for _, s := range r.nodesByID {
		sessions = append(sessions, s)
	}
	return sessions
}

// Touch refreshes the shared-store TTL for the node behind a connection.
// Called on node heartbeat.
func (r *Registry) Touch(ctx context.Context, connectionID string) {
	r.mu.Lock()
	nodeID, ok := r.nodesByConn[connectionID]
	s := r.sync
	r.mu.Unlock()
	if !ok || s == nil {
		return
	}
	if err := s.RefreshNode(ctx, nodeID); err != nil {
		r.log.Warn("failed to refresh node TTL", zap.String("nodeId", nodeID), zap.Error(err))
	}
}

// Invoke dispatches a command to a node. Local sessions take precedence;
// otherwise, with a sync layer attached, the invoke is routed to the node's
// owning pod. The call always settles within the invoke timeout. The error
// return is non-nil only when ctx is cancelled first.
func (r *Registry) Invoke(ctx context.Context, params registrypkg.InvokeParams) (registrypkg.InvokeResult, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return registrypkg.InvokeResult{}, ErrClosed
	}
	session, local := r.nodesByID[params.NodeID]
	s := r.sync
	r.mu.Unlock()

	if local {
		return r.invokeLocal(ctx, session, params)
	}

	if s != nil {
		remote, err := s.GetNode(ctx, params.NodeID)
		if err != nil {
			r.log.Warn("shared store lookup failed", zap.String("nodeId", params.NodeID), zap.Error(err))
		} else if remote != nil {
			return r.invokeRemote(ctx, s, remote, params)
		}
	}

	return notConnected("node not connected"), nil
}

func (r *Registry) invokeLocal(ctx context.Context, session *Session, params registrypkg.InvokeParams) (registrypkg.InvokeResult, error) {
	requestID := uuid.NewString()
	paramsJSON, err := encodeParams(params.Params)
	if err != nil {
		return registrypkg.InvokeResult{}, fmt.Errorf("failed to encode params: %w", err)
	}

	p := r.addPending(requestID, params, "node invoke timed out")

	event := registrypkg.InvokeRequestEvent{
		ID:             requestID,
		NodeID:         params.NodeID,
		Command:        params.Command,
		ParamsJSON:     paramsJSON,
		TimeoutMs:      params.TimeoutMs,
		IdempotencyKey: params.IdempotencyKey,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.removePending(requestID)
		return registrypkg.InvokeResult{}, fmt.Errorf("failed to encode invoke request: %w", err)
	}

	if err := session.Conn.SendEvent(registrypkg.EventInvokeRequest, payload); err != nil {
		r.removePending(requestID)
		r.log.Warn("failed to send invoke to node",
			zap.String("nodeId", params.NodeID),
			zap.String("command", params.Command),
			zap.Error(err))
		return registrypkg.InvokeResult{
			OK:    false,
			Error: &registrypkg.InvokeError{Code: registrypkg.CodeUnavailable, Message: "failed to send invoke to node"},
		}, nil
	}

	return r.await(ctx, requestID, p)
}

func (r *Registry) invokeRemote(ctx context.Context, s nodesync.Sync, remote *nodesync.RemoteNodeInfo, params registrypkg.InvokeParams) (registrypkg.InvokeResult, error) {
	requestID := uuid.NewString()
	paramsJSON, err := encodeParams(params.Params)
	if err != nil {
		return registrypkg.InvokeResult{}, fmt.Errorf("failed to encode params: %w", err)
	}

	p := r.addPending(requestID, params, "remote node invoke timed out")

	req := nodesync.InvokeRequest{
		RequestID:      requestID,
		OriginPodID:    s.PodID(),
		NodeID:         params.NodeID,
		Command:        params.Command,
		ParamsJSON:     paramsJSON,
		TimeoutMs:      params.TimeoutMs,
		IdempotencyKey: params.IdempotencyKey,
	}
	if err := s.RouteInvoke(ctx, remote.PodID, req); err != nil {
		r.removePending(requestID)
		r.log.Warn("failed to route invoke to owning pod",
			zap.String("nodeId", params.NodeID),
			zap.String("targetPod", remote.PodID),
			zap.Error(err))
		return notConnected("cross-pod routing unavailable"), nil
	}

	return r.await(ctx, requestID, p)
}

// addPending registers a pending invoke and arms its timeout. The entry must
// be in the table before the timer is armed: a timer firing against an absent
// entry would no-op and never fire again, leaving the invoke unsettled. Both
// happen under the mutex, so the timer callback (which takes the mutex in
// finishPending) always observes the inserted entry.
func (r *Registry) addPending(requestID string, params registrypkg.InvokeParams, timeoutMsg string) *pendingInvoke {
	timeout := time.Duration(params.TimeoutMs) * time.Millisecond
	if params.TimeoutMs <= 0 {
		timeout = r.config.DefaultInvokeTimeout
	}
	p := &pendingInvoke{
		nodeID:  params.NodeID,
		command: params.Command,
		done:    make(chan registrypkg.InvokeResult, 1),
	}

	r.mu.Lock()
	r.pending[requestID] = p
	p.timer = time.AfterFunc(timeout, func() {
		r.finishPending(requestID, "", registrypkg.InvokeResult{
			OK:    false,
			Error: &registrypkg.InvokeError{Code: registrypkg.CodeTimeout, Message: timeoutMsg},
		})
	})
	r.mu.Unlock()
	return p
}

func (r *Registry) await(ctx context.Context, requestID string, p *pendingInvoke) (registrypkg.InvokeResult, error) {
	select {
	case res := <-p.done:
		return res, nil
	case <-ctx.Done():
		r.removePending(requestID)
		return registrypkg.InvokeResult{}, ctx.Err()
	}
}

// HandleInvokeResult resolves a pending invoke from a result arriving over a
// node's own connection. A result matches only if both the request id and
// the recorded node id agree; anything else is ignored, which makes
// duplicate or stale deliveries harmless.
func (r *Registry) HandleInvokeResult(frame registrypkg.ResultFrame) bool {
	return r.finishPending(frame.RequestID, frame.NodeID, registrypkg.InvokeResult{
		OK:      frame.OK,
		Payload: frame.Payload,
		Error:   frame.Error,
	})
}

// finishPending removes the pending entry and completes it with res.
// matchNodeID, when non-empty, must equal the entry's recorded node id.
// Returns false without side effects when no matching entry exists.
func (r *Registry) finishPending(requestID, matchNodeID string, res registrypkg.InvokeResult) bool {
	r.mu.Lock()
	p, ok := r.pending[requestID]
	if !ok || (matchNodeID != "" && p.nodeID != matchNodeID) {
		r.mu.Unlock()
		return false
	}
	delete(r.pending, requestID)
	r.mu.Unlock()

	p.timer.Stop()
	p.done <- res
	return true
}

// removePending drops a pending entry without completing it. Used when the
// caller abandons the invoke (context cancellation, send failure).
func (r *Registry) removePending(requestID string) {
	r.mu.Lock()
	p, ok := r.pending[requestID]
	if ok {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()
	if ok {
		p.timer.Stop()
	}
}

// PendingCount reports the number of in-flight invokes.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// SendEvent delivers an event frame to a locally connected node.
func (r *Registry) SendEvent(nodeID, event string, payload json.RawMessage) error {
	r.mu.Lock()
	session, ok := r.nodesByID[nodeID]
	r.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	return session.Conn.SendEvent(event, payload)
}

// ListAll returns the union of local sessions and, when a sync layer is
// attached, remote entries from the shared store, de-duplicated by node id
// with local entries taking precedence.
func (r *Registry) ListAll(ctx context.Context) []registrypkg.NodeInfo {
	r.mu.Lock()
	locals := make([]*Session, 0, len(r.nodesByID))
	for _, s := range r.nodesByID {
		locals = append(locals, s)
	}
	s := r.sync
	r.mu.Unlock()

	podID := ""
	if s != nil {
		podID = s.PodID()
	}

	seen := make(map[string]bool, len(locals))
	result := make([]registrypkg.NodeInfo, 0, len(locals))
	for _, session := range locals {
		seen[session.NodeID] = true
		result = append(result, session.Info(podID))
	}

	if s == nil {
		return result
	}

	remotes, err := s.ListNodes(ctx)
	if err != nil {
		r.log.Warn("failed to list remote nodes", zap.Error(err))
		return result
	}
	for _, remote := range remotes {
		if seen[remote.NodeID] {
			continue
		}
		seen[remote.NodeID] = true
		result = append(result, remoteInfo(remote))
	}
	return result
}

// GetInfo returns the descriptor for one node, checking the local table
// first and the shared store second.
func (r *Registry) GetInfo(ctx context.Context, nodeID string) (registrypkg.NodeInfo, bool) {
	r.mu.Lock()
	session, ok := r.nodesByID[nodeID]
	s := r.sync
	r.mu.Unlock()

	if ok {
		podID := ""
		if s != nil {
			podID = s.PodID()
		}
		return session.Info(podID), true
	}
	if s == nil {
		return registrypkg.NodeInfo{}, false
	}
	remote, err := s.GetNode(ctx, nodeID)
	if err != nil {
		r.log.Warn("shared store lookup failed", zap.String("nodeId", nodeID), zap.Error(err))
		return registrypkg.NodeInfo{}, false
	}
	if remote == nil {
		return registrypkg.NodeInfo{}, false
	}
	return remoteInfo(*remote), true
}

// Close rejects every pending invoke and marks the registry unusable.
// Sessions are not closed here; connection lifecycles belong to the
// connection handling layer.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	orphaned := make([]*pendingInvoke, 0, len(r.pending))
	for id, p := range r.pending {
		delete(r.pending, id)
		orphaned = append(orphaned, p)
	}
	r.mu.Unlock()

	for _, p := range orphaned {
		p.timer.Stop()
		p.done <- notConnected("registry shutting down")
	}
	return nil
}

func remoteInfo(remote nodesync.RemoteNodeInfo) registrypkg.NodeInfo {
	return registrypkg.NodeInfo{
		NodeID:        remote.NodeID,
		DisplayName:   remote.DisplayName,
		Platform:      remote.Platform,
		Version:       remote.Version,
		Capabilities:  remote.Capabilities,
		Commands:      remote.Commands,
		ConnectedAtMs: remote.ConnectedAtMs,
		RemoteIP:      remote.RemoteIP,
		Connected:     true,
		Local:         false,
		PodID:         remote.PodID,
	}
}

func notConnected(message string) registrypkg.InvokeResult {
	return registrypkg.InvokeResult{
		OK:    false,
		Error: &registrypkg.InvokeError{Code: registrypkg.CodeNotConnected, Message: message},
	}
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

// Verify that Registry implements the public registry interface at compile time
var _ registrypkg.Registry = (*Registry)(nil)
