package nodesync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodegate/nodegate-go/pkg/nodesync"
)

// Broker is an in-process stand-in for the shared key-value store: a TTL'd
// node table plus fire-and-forget pub/sub channels. Several MemorySync
// instances attached to one Broker behave like pods sharing one store, which
// is how multi-pod scenarios run inside a single test binary.
type Broker struct {
	mu    sync.Mutex
	now   func() time.Time
	nodes map[string]brokerEntry
	subs  map[string]func(payload []byte)
}

type brokerEntry struct {
	info      nodesync.RemoteNodeInfo
	expiresAt time.Time
}

// NewBroker creates an empty in-process broker.
func NewBroker() *Broker {
	return &Broker{
		now:   time.Now,
		nodes: make(map[string]brokerEntry),
		subs:  make(map[string]func(payload []byte)),
	}
}

// SetClock replaces the broker's time source. Tests use this to drive TTL
// expiry without sleeping.
func (b *Broker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Broker) put(nodeID string, info nodesync.RemoteNodeInfo, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[nodeID] = brokerEntry{info: info, expiresAt: b.now().Add(ttl)}
}

func (b *Broker) refresh(nodeID string, ttl time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.nodes[nodeID]
	if !ok || !entry.expiresAt.After(b.now()) {
		return
	}
	entry.expiresAt = b.now().Add(ttl)
	b.nodes[nodeID] = entry
}

func (b *Broker) delete(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, nodeID)
}

func (b *Broker) get(nodeID string) *nodesync.RemoteNodeInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.nodes[nodeID]
	if !ok || !entry.expiresAt.After(b.now()) {
		return nil
	}
	info := entry.info
	return &info
}

func (b *Broker) list() []nodesync.RemoteNodeInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]nodesync.RemoteNodeInfo, 0, len(b.nodes))
	for _, entry := range b.nodes {
		if entry.expiresAt.After(b.now()) {
			out = append(out, entry.info)
		}
	}
	return out
}

func (b *Broker) subscribe(channel string, handler func(payload []byte)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = handler
}

func (b *Broker) unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, channel)
}

// publish delivers to at most one subscriber, asynchronously. No subscriber
// means the message is dropped, same as the real store's pub/sub.
func (b *Broker) publish(channel string, payload []byte) {
	b.mu.Lock()
	handler := b.subs[channel]
	b.mu.Unlock()
	if handler == nil {
		return
	}
	go handler(payload)
}

// MemorySync implements nodesync.Sync against an in-process Broker. One
// instance per simulated pod; the pod id is fixed at construction.
type MemorySync struct {
	podID  string
	broker *Broker
	log    *zap.Logger
	ttl    time.Duration

	mu            sync.Mutex
	owned         map[string]struct{}
	invokeHandler func(req nodesync.InvokeRequest)
	resultHandler func(res nodesync.InvokeResult)
	closed        bool
}

// NewMemorySync attaches a new pod to the broker. An empty podID gets a
// generated one.
func NewMemorySync(podID string, broker *Broker, log *zap.Logger) *MemorySync {
	if podID == "" {
		podID = uuid.NewString()
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &MemorySync{
		podID:  podID,
		broker: broker,
		log:    log.Named("nodesync"),
		ttl:    DefaultNodeTTL,
		owned:  make(map[string]struct{}),
	}
	broker.subscribe(invokeChannel(DefaultKeyPrefix, podID), s.dispatchInvoke)
	broker.subscribe(resultChannel(DefaultKeyPrefix, podID), s.dispatchResult)
	return s
}

// SetNodeTTL overrides the presence TTL. Used by tests.
func (s *MemorySync) SetNodeTTL(ttl time.Duration) {
	s.ttl = ttl
}

// PodID returns the identity this pod publishes under.
func (s *MemorySync) PodID() string {
	return s.podID
}

// PublishNode writes a node's metadata under this pod's ownership.
func (s *MemorySync) PublishNode(ctx context.Context, nodeID string, meta nodesync.NodeMeta) error {
	s.broker.put(nodeID, nodesync.RemoteNodeInfo{NodeID: nodeID, PodID: s.podID, NodeMeta: meta}, s.ttl)
	s.mu.Lock()
	s.owned[nodeID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// RefreshNode extends a node's TTL.
func (s *MemorySync) RefreshNode(ctx context.Context, nodeID string) error {
	s.broker.refresh(nodeID, s.ttl)
	return nil
}

// RemoveNode deletes a node's entry.
func (s *MemorySync) RemoveNode(ctx context.Context, nodeID string) error {
	s.broker.delete(nodeID)
	s.mu.Lock()
	delete(s.owned, nodeID)
	s.mu.Unlock()
	return nil
}

// GetNode reads one node's entry; (nil, nil) when absent or expired.
func (s *MemorySync) GetNode(ctx context.Context, nodeID string) (*nodesync.RemoteNodeInfo, error) {
	return s.broker.get(nodeID), nil
}

// ListNodes enumerates every live node across all attached pods.
func (s *MemorySync) ListNodes(ctx context.Context) ([]nodesync.RemoteNodeInfo, error) {
	return s.broker.list(), nil
}

// RouteInvoke publishes an invoke request to the target pod's channel. The
// record crosses the broker as JSON, same as it would cross the real store.
func (s *MemorySync) RouteInvoke(ctx context.Context, targetPodID string, req nodesync.InvokeRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode invoke request: %w", err)
	}
	s.broker.publish(invokeChannel(DefaultKeyPrefix, targetPodID), payload)
	return nil
}

// RouteInvokeResult publishes an invoke result to the target pod's channel.
func (s *MemorySync) RouteInvokeResult(ctx context.Context, targetPodID string, res nodesync.InvokeResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode invoke result: %w", err)
	}
	s.broker.publish(resultChannel(DefaultKeyPrefix, targetPodID), payload)
	return nil
}

// OnInvokeRequest installs the handler for this pod's request channel.
func (s *MemorySync) OnInvokeRequest(handler func(req nodesync.InvokeRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokeHandler = handler
}

// OnInvokeResult installs the handler for this pod's result channel.
func (s *MemorySync) OnInvokeResult(handler func(res nodesync.InvokeResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultHandler = handler
}

func (s *MemorySync) dispatchInvoke(payload []byte) {
	var req nodesync.InvokeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.log.Warn("malformed invoke request on pod channel", zap.Error(err))
		return
	}
	s.mu.Lock()
	handler := s.invokeHandler
	s.mu.Unlock()
	if handler != nil {
		handler(req)
	}
}

func (s *MemorySync) dispatchResult(payload []byte) {
	var res nodesync.InvokeResult
	if err := json.Unmarshal(payload, &res); err != nil {
		s.log.Warn("malformed invoke result on pod channel", zap.Error(err))
		return
	}
	s.mu.Lock()
	handler := s.resultHandler
	s.mu.Unlock()
	if handler != nil {
		handler(res)
	}
}

// Close removes every node owned by this pod and detaches from the broker.
func (s *MemorySync) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	owned := make([]string, 0, len(s.owned))
	for nodeID := range s.owned {
		owned = append(owned, nodeID)
	}
	s.owned = make(map[string]struct{})
	s.mu.Unlock()

	for _, nodeID := range owned {
		s.broker.delete(nodeID)
	}
	s.broker.unsubscribe(invokeChannel(DefaultKeyPrefix, s.podID))
	s.broker.unsubscribe(resultChannel(DefaultKeyPrefix, s.podID))

	s.log.Info("sync closed", zap.String("podId", s.podID), zap.Int("removedNodes", len(owned)))
	return nil
}

// Verify that MemorySync implements the Sync interface at compile time
var _ nodesync.Sync = (*MemorySync)(nil)
