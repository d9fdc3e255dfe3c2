package nodesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nodegate/nodegate-go/pkg/nodesync"
)

var (
	// ErrEmptyURL is returned when no store URL is configured
	ErrEmptyURL = errors.New("store URL cannot be empty")
)

// RedisConfig represents configuration for a RedisSync
type RedisConfig struct {
	// PodID is the identity this pod publishes under. Empty selects the
	// hostname, falling back to a generated id.
	PodID string

	// URL is the store connection string, e.g. "redis://localhost:6379/0".
	URL string

	// KeyPrefix namespaces keys and channels. Empty selects DefaultKeyPrefix.
	KeyPrefix string

	// NodeTTL is the presence entry lifetime. Zero selects DefaultNodeTTL.
	NodeTTL time.Duration

	// ScanCount is the COUNT hint for directory scans. Zero selects 100.
	ScanCount int64
}

// SetDefaults fills in zero-valued fields
func (c *RedisConfig) SetDefaults() {
	if c.PodID == "" {
		if hostname, err := os.Hostname(); err == nil && hostname != "" {
			c.PodID = hostname
		} else {
			c.PodID = uuid.NewString()
		}
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.NodeTTL == 0 {
		c.NodeTTL = DefaultNodeTTL
	}
	if c.ScanCount == 0 {
		c.ScanCount = 100
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *RedisConfig) Validate() error {
	if c.URL == "" {
		return ErrEmptyURL
	}
	return nil
}

// RedisSync implements nodesync.Sync against a Redis-compatible shared
// store: node presence as hashes with a TTL, the directory as a SCAN over
// the key prefix, and invoke routing over per-pod pub/sub channels.
//
// A dedicated connection carries the subscriptions, since a subscribed
// connection cannot issue other commands.
type RedisSync struct {
	cfg RedisConfig
	log *zap.Logger

	client *redis.Client
	pubsub *redis.PubSub

	mu            sync.Mutex
	owned         map[string]struct{}
	invokeHandler func(req nodesync.InvokeRequest)
	resultHandler func(res nodesync.InvokeResult)
	closed        bool

	done chan struct{}
}

// NewRedisSync creates a RedisSync from the given configuration. Call Start
// to begin receiving routed invokes.
func NewRedisSync(cfg *RedisConfig, log *zap.Logger) (*RedisSync, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}

	return &RedisSync{
		cfg:    *cfg,
		log:    log.Named("nodesync"),
		client: redis.NewClient(opts),
		owned:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start subscribes to this pod's invoke and result channels and begins
// dispatching messages. Handlers should be installed before Start.
func (s *RedisSync) Start(ctx context.Context) error {
	invokeCh := invokeChannel(s.cfg.KeyPrefix, s.cfg.PodID)
	resultCh := resultChannel(s.cfg.KeyPrefix, s.cfg.PodID)

	s.pubsub = s.client.Subscribe(ctx, invokeCh, resultCh)
	// Force the subscription onto the wire so routed invokes cannot be
	// missed between Start returning and the receive loop draining.
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		return fmt.Errorf("failed to subscribe to pod channels: %w", err)
	}

	go s.receiveLoop(invokeCh, resultCh)

	s.log.Info("cross-pod sync started",
		zap.String("podId", s.cfg.PodID),
		zap.String("keyPrefix", s.cfg.KeyPrefix))
	return nil
}

func (s *RedisSync) receiveLoop(invokeCh, resultCh string) {
	defer close(s.done)
	for msg := range s.pubsub.Channel() {
		switch msg.Channel {
		case invokeCh:
			var req nodesync.InvokeRequest
			if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
				s.log.Warn("malformed invoke request on pod channel", zap.Error(err))
				continue
			}
			s.mu.Lock()
			handler := s.invokeHandler
			s.mu.Unlock()
			if handler != nil {
				handler(req)
			}
		case resultCh:
			var res nodesync.InvokeResult
			if err := json.Unmarshal([]byte(msg.Payload), &res); err != nil {
				s.log.Warn("malformed invoke result on pod channel", zap.Error(err))
				continue
			}
			s.mu.Lock()
			handler := s.resultHandler
			s.mu.Unlock()
			if handler != nil {
				handler(res)
			}
		}
	}
}

// PodID returns the identity this pod publishes under.
func (s *RedisSync) PodID() string {
	return s.cfg.PodID
}

// PublishNode stores node metadata in a hash and sets its TTL.
func (s *RedisSync) PublishNode(ctx context.Context, nodeID string, meta nodesync.NodeMeta) error {
	caps, err := json.Marshal(meta.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	commands, err := json.Marshal(meta.Commands)
	if err != nil {
		return fmt.Errorf("failed to encode commands: %w", err)
	}

	fields := map[string]any{
		"podId":         s.cfg.PodID,
		"caps":          string(caps),
		"commands":      string(commands),
		"connectedAtMs": strconv.FormatInt(meta.ConnectedAtMs, 10),
	}
	if meta.DisplayName != "" {
		fields["displayName"] = meta.DisplayName
	}
	if meta.Platform != "" {
		fields["platform"] = meta.Platform
	}
	if meta.Version != "" {
		fields["version"] = meta.Version
	}
	if meta.RemoteIP != "" {
		fields["remoteIp"] = meta.RemoteIP
	}
	if meta.AppKind != "" {
		fields["appKind"] = meta.AppKind
	}
	if meta.CWD != "" {
		fields["cwd"] = meta.CWD
	}

	key := nodeKey(s.cfg.KeyPrefix, nodeID)
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.cfg.NodeTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish node %s: %w", nodeID, err)
	}

	s.mu.Lock()
	s.owned[nodeID] = struct{}{}
	s.mu.Unlock()
	return nil
}

// RefreshNode extends the TTL of a node entry. Called on heartbeat.
func (s *RedisSync) RefreshNode(ctx context.Context, nodeID string) error {
	if err := s.client.Expire(ctx, nodeKey(s.cfg.KeyPrefix, nodeID), s.cfg.NodeTTL).Err(); err != nil {
		return fmt.Errorf("failed to refresh node %s: %w", nodeID, err)
	}
	return nil
}

// RemoveNode deletes a node entry from the store.
func (s *RedisSync) RemoveNode(ctx context.Context, nodeID string) error {
	if err := s.client.Del(ctx, nodeKey(s.cfg.KeyPrefix, nodeID)).Err(); err != nil {
		return fmt.Errorf("failed to remove node %s: %w", nodeID, err)
	}
	s.mu.Lock()
	delete(s.owned, nodeID)
	s.mu.Unlock()
	return nil
}

// GetNode reads one node's entry; (nil, nil) when absent.
func (s *RedisSync) GetNode(ctx context.Context, nodeID string) (*nodesync.RemoteNodeInfo, error) {
	return s.getNodeByKey(ctx, nodeKey(s.cfg.KeyPrefix, nodeID))
}

// ListNodes enumerates all live nodes across pods with a cursor-based scan.
func (s *RedisSync) ListNodes(ctx context.Context) ([]nodesync.RemoteNodeInfo, error) {
	var nodes []nodesync.RemoteNodeInfo
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, nodeKeyPattern(s.cfg.KeyPrefix), s.cfg.ScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan node directory: %w", err)
		}
		for _, key := range keys {
			info, err := s.getNodeByKey(ctx, key)
			if err != nil {
				return nil, err
			}
			if info != nil {
				nodes = append(nodes, *info)
			}
		}
		cursor = next
		if cursor == 0 {
			return nodes, nil
		}
	}
}

// RouteInvoke publishes an invoke request to the owning pod's channel.
func (s *RedisSync) RouteInvoke(ctx context.Context, targetPodID string, req nodesync.InvokeRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode invoke request: %w", err)
	}
	if err := s.client.Publish(ctx, invokeChannel(s.cfg.KeyPrefix, targetPodID), payload).Err(); err != nil {
		return fmt.Errorf("failed to route invoke to pod %s: %w", targetPodID, err)
	}
	return nil
}

// RouteInvokeResult publishes an invoke result back to the origin pod's
// channel.
func (s *RedisSync) RouteInvokeResult(ctx context.Context, targetPodID string, res nodesync.InvokeResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode invoke result: %w", err)
	}
	if err := s.client.Publish(ctx, resultChannel(s.cfg.KeyPrefix, targetPodID), payload).Err(); err != nil {
		return fmt.Errorf("failed to route invoke result to pod %s: %w", targetPodID, err)
	}
	return nil
}

// OnInvokeRequest installs the handler for this pod's request channel.
func (s *RedisSync) OnInvokeRequest(handler func(req nodesync.InvokeRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokeHandler = handler
}

// OnInvokeResult installs the handler for this pod's result channel.
func (s *RedisSync) OnInvokeResult(handler func(res nodesync.InvokeResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultHandler = handler
}

// Close removes every node owned by this pod from the store and tears down
// the subscription. Removal failures are logged per node; other pods fall
// back to TTL expiry for anything left behind.
func (s *RedisSync) Close(ctx context.Context) error {
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

	s.log.Info("shutting down, removing owned nodes",
		zap.String("podId", s.cfg.PodID), zap.Int("count", len(owned)))

	failed := 0
	for _, nodeID := range owned {
		if err := s.client.Del(ctx, nodeKey(s.cfg.KeyPrefix, nodeID)).Err(); err != nil {
			failed++
			s.log.Warn("failed to remove owned node", zap.String("nodeId", nodeID), zap.Error(err))
		}
	}
	if failed > 0 {
		s.log.Warn("some owned nodes were left to expire via TTL", zap.Int("failed", failed))
	}

	if s.pubsub != nil {
		if err := s.pubsub.Close(); err != nil {
			s.log.Warn("failed to close subscription", zap.Error(err))
		}
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	}
	return s.client.Close()
}

func (s *RedisSync) getNodeByKey(ctx context.Context, key string) (*nodesync.RemoteNodeInfo, error) {
	data, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read node entry %s: %w", key, err)
	}
	if len(data) == 0 || data["podId"] == "" {
		return nil, nil
	}

	connectedAtMs, _ := strconv.ParseInt(data["connectedAtMs"], 10, 64)
	info := &nodesync.RemoteNodeInfo{
		NodeID: nodeIDFromKey(s.cfg.KeyPrefix, key),
		PodID:  data["podId"],
		NodeMeta: nodesync.NodeMeta{
			DisplayName:   data["displayName"],
			Platform:      data["platform"],
			Version:       data["version"],
			AppKind:       data["appKind"],
			CWD:           data["cwd"],
			RemoteIP:      data["remoteIp"],
			Capabilities:  decodeStringList(data["caps"]),
			Commands:      decodeStringList(data["commands"]),
			ConnectedAtMs: connectedAtMs,
		},
	}
	return info, nil
}

// decodeStringList tolerates malformed stored JSON rather than failing the
// whole directory read.
func decodeStringList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

// Verify that RedisSync implements the Sync interface at compile time
var _ nodesync.Sync = (*RedisSync)(nil)
