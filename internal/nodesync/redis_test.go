package nodesync

import (
	"errors"
	"testing"
	"time"

	"github.com/nodegate/nodegate-go/pkg/nodesync"
)

func TestRedisConfigDefaults(t *testing.T) {
	c := &RedisConfig{URL: "redis://localhost:6379/0"}
	c.SetDefaults()

	if c.PodID == "" {
		t.Error("Expected pod id to be derived")
	}
	if c.KeyPrefix != DefaultKeyPrefix {
		t.Errorf("Expected default key prefix, got %s", c.KeyPrefix)
	}
	if c.NodeTTL != DefaultNodeTTL {
		t.Errorf("Expected default node TTL, got %v", c.NodeTTL)
	}
	if c.ScanCount != 100 {
		t.Errorf("Expected scan count 100, got %d", c.ScanCount)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Expected config to validate, got %v", err)
	}
}

func TestRedisConfigRequiresURL(t *testing.T) {
	c := &RedisConfig{}
	c.SetDefaults()
	if err := c.Validate(); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("Expected ErrEmptyURL, got %v", err)
	}

	if _, err := NewRedisSync(&RedisConfig{}, nil); err == nil {
		t.Error("Expected NewRedisSync to reject empty URL")
	}
	if _, err := NewRedisSync(nil, nil); err == nil {
		t.Error("Expected NewRedisSync to reject nil config")
	}
}

func TestRedisConfigCustomValuesKept(t *testing.T) {
	c := &RedisConfig{
		PodID:     "pod-9",
		URL:       "redis://localhost:6379/0",
		KeyPrefix: "custom:",
		NodeTTL:   30 * time.Second,
	}
	c.SetDefaults()

	if c.PodID != "pod-9" || c.KeyPrefix != "custom:" || c.NodeTTL != 30*time.Second {
		t.Errorf("Expected custom values to survive SetDefaults, got %+v", c)
	}
}

func TestRedisSyncRejectsBadURL(t *testing.T) {
	if _, err := NewRedisSync(&RedisConfig{URL: "not-a-url"}, nil); err == nil {
		t.Error("Expected invalid store URL to be rejected")
	}
}

// TestRedisHandlersInstallBeforeStart pins the wiring contract: handlers go
// in right after construction, before Start subscribes, so no routed message
// can arrive without a handler in place.
func TestRedisHandlersInstallBeforeStart(t *testing.T) {
	s, err := NewRedisSync(&RedisConfig{URL: "redis://localhost:6379/0"}, nil)
	if err != nil {
		t.Fatalf("NewRedisSync failed: %v", err)
	}

	s.OnInvokeRequest(func(nodesync.InvokeRequest) {})
	s.OnInvokeResult(func(nodesync.InvokeResult) {})

	s.mu.Lock()
	installed := s.invokeHandler != nil && s.resultHandler != nil
	s.mu.Unlock()
	if !installed {
		t.Error("Expected handlers to be installed without Start")
	}
}

func TestKeyNaming(t *testing.T) {
	if got := nodeKey("gateway:", "node-a"); got != "gateway:nodes:node-a" {
		t.Errorf("Unexpected node key %q", got)
	}
	if got := nodeKeyPattern("gateway:"); got != "gateway:nodes:*" {
		t.Errorf("Unexpected pattern %q", got)
	}
	if got := nodeIDFromKey("gateway:", "gateway:nodes:node-a"); got != "node-a" {
		t.Errorf("Unexpected node id %q", got)
	}
	if got := invokeChannel("gateway:", "pod-1"); got != "gateway:invoke:pod-1" {
		t.Errorf("Unexpected invoke channel %q", got)
	}
	if got := resultChannel("gateway:", "pod-1"); got != "gateway:invoke-result:pod-1" {
		t.Errorf("Unexpected result channel %q", got)
	}
}
