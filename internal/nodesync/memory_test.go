package nodesync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nodegate/nodegate-go/internal/noderegistry"
	registrypkg "github.com/nodegate/nodegate-go/pkg/noderegistry"
	"github.com/nodegate/nodegate-go/pkg/nodesync"
)

func TestPublishGetList(t *testing.T) {
	broker := NewBroker()
	s := NewMemorySync("pod-1", broker, nil)
	defer s.Close(context.Background())

	meta := nodesync.NodeMeta{DisplayName: "Node A", Commands: []string{"echo"}}
	if err := s.PublishNode(context.Background(), "node-a", meta); err != nil {
		t.Fatalf("PublishNode failed: %v", err)
	}

	got, err := s.GetNode(context.Background(), "node-a")
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected node entry")
	}
	if got.PodID != "pod-1" {
		t.Errorf("Expected owner pod-1, got %s", got.PodID)
	}
	if got.DisplayName != "Node A" {
		t.Errorf("Expected display name to round-trip, got %q", got.DisplayName)
	}

	// Absent node yields (nil, nil).
	missing, err := s.GetNode(context.Background(), "ghost")
	if err != nil || missing != nil {
		t.Errorf("Expected (nil, nil) for unknown node, got %v %v", missing, err)
	}

	nodes, err := s.ListNodes(context.Background())
	if err != nil {
		t.Fatalf("ListNodes failed: %v", err)
	}
	if len(nodes) != 1 {
		t.Errorf("Expected 1 node, got %d", len(nodes))
	}
}

func TestTTLExpiryAndRefresh(t *testing.T) {
	broker := NewBroker()
	current := time.Now()
	broker.SetClock(func() time.Time { return current })

	s := NewMemorySync("pod-1", broker, nil)
	defer s.Close(context.Background())
	s.SetNodeTTL(60 * time.Second)

	if err := s.PublishNode(context.Background(), "node-a", nodesync.NodeMeta{}); err != nil {
		t.Fatalf("PublishNode failed: %v", err)
	}

	// Refresh at half-life keeps the node alive past the original deadline.
	current = current.Add(40 * time.Second)
	if err := s.RefreshNode(context.Background(), "node-a"); err != nil {
		t.Fatalf("RefreshNode failed: %v", err)
	}
	current = current.Add(40 * time.Second)
	if got, _ := s.GetNode(context.Background(), "node-a"); got == nil {
		t.Fatal("Expected refreshed node to still be present")
	}

	// Without further refreshes the entry expires.
	current = current.Add(61 * time.Second)
	if got, _ := s.GetNode(context.Background(), "node-a"); got != nil {
		t.Fatal("Expected node to have expired")
	}
	if nodes, _ := s.ListNodes(context.Background()); len(nodes) != 0 {
		t.Errorf("Expected expired node to vanish from listing, got %d entries", len(nodes))
	}

	// Refreshing an expired entry must not resurrect it.
	if err := s.RefreshNode(context.Background(), "node-a"); err != nil {
		t.Fatalf("RefreshNode failed: %v", err)
	}
	if got, _ := s.GetNode(context.Background(), "node-a"); got != nil {
		t.Error("Expected refresh of expired node to be a no-op")
	}
}

func TestRemoveNode(t *testing.T) {
	broker := NewBroker()
	s := NewMemorySync("pod-1", broker, nil)
	defer s.Close(context.Background())

	s.PublishNode(context.Background(), "node-a", nodesync.NodeMeta{})
	if err := s.RemoveNode(context.Background(), "node-a"); err != nil {
		t.Fatalf("RemoveNode failed: %v", err)
	}
	if got, _ := s.GetNode(context.Background(), "node-a"); got != nil {
		t.Error("Expected node to be removed")
	}
}

func TestCloseRemovesOwnedNodes(t *testing.T) {
	broker := NewBroker()
	s1 := NewMemorySync("pod-1", broker, nil)
	s2 := NewMemorySync("pod-2", broker, nil)
	defer s2.Close(context.Background())

	s1.PublishNode(context.Background(), "node-a", nodesync.NodeMeta{})
	s2.PublishNode(context.Background(), "node-b", nodesync.NodeMeta{})

	if err := s1.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// pod-1's node is gone, pod-2's survives.
	if got, _ := s2.GetNode(context.Background(), "node-a"); got != nil {
		t.Error("Expected pod-1's node to be removed on close")
	}
	if got, _ := s2.GetNode(context.Background(), "node-b"); got == nil {
		t.Error("Expected pod-2's node to survive")
	}
}

func TestRouteInvokeBetweenPods(t *testing.T) {
	broker := NewBroker()
	s1 := NewMemorySync("pod-1", broker, nil)
	s2 := NewMemorySync("pod-2", broker, nil)
	defer s1.Close(context.Background())
	defer s2.Close(context.Background())

	received := make(chan nodesync.InvokeRequest, 1)
	s2.OnInvokeRequest(func(req nodesync.InvokeRequest) { received <- req })

	err := s1.RouteInvoke(context.Background(), "pod-2", nodesync.InvokeRequest{
		RequestID:   "req-1",
		OriginPodID: "pod-1",
		NodeID:      "node-b",
		Command:     "echo",
		ParamsJSON:  json.RawMessage(`{"text":"hi"}`),
	})
	if err != nil {
		t.Fatalf("RouteInvoke failed: %v", err)
	}

	select {
	case req := <-received:
		if req.RequestID != "req-1" || req.Command != "echo" {
			t.Errorf("Unexpected request: %+v", req)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for routed invoke")
	}

	// Results route back the same way.
	results := make(chan nodesync.InvokeResult, 1)
	s1.OnInvokeResult(func(res nodesync.InvokeResult) { results <- res })

	err = s2.RouteInvokeResult(context.Background(), "pod-1", nodesync.InvokeResult{
		RequestID:   "req-1",
		OriginPodID: "pod-1",
		OK:          true,
		Payload:     json.RawMessage(`{"done":true}`),
	})
	if err != nil {
		t.Fatalf("RouteInvokeResult failed: %v", err)
	}

	select {
	case res := <-results:
		if !res.OK || res.RequestID != "req-1" {
			t.Errorf("Unexpected result: %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for routed result")
	}
}

// fakeConn answers every invoke request through its registry, simulating a
// responsive node client.
type fakeConn struct {
	id       string
	registry *noderegistry.Registry
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendEvent(event string, payload json.RawMessage) error {
	if event != registrypkg.EventInvokeRequest {
		return nil
	}
	var req registrypkg.InvokeRequestEvent
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}
	go c.registry.HandleInvokeResult(registrypkg.ResultFrame{
		RequestID: req.ID,
		NodeID:    req.NodeID,
		OK:        true,
		Payload:   req.ParamsJSON,
	})
	return nil
}

// TestCrossPodInvoke runs two registries against one broker: a node connected
// to pod-2 is invoked through pod-1.
func TestCrossPodInvoke(t *testing.T) {
	broker := NewBroker()
	s1 := NewMemorySync("pod-1", broker, nil)
	s2 := NewMemorySync("pod-2", broker, nil)
	defer s1.Close(context.Background())
	defer s2.Close(context.Background())

	r1, err := noderegistry.New(nil, nil)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	defer r1.Close()
	r2, err := noderegistry.New(nil, nil)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	defer r2.Close()

	r1.SetSync(s1)
	r2.SetSync(s2)

	// Node lives on pod-2.
	conn := &fakeConn{id: "conn-1", registry: r2}
	r2.Register(context.Background(), conn, registrypkg.Registration{
		NodeID:   "node-b",
		Commands: []string{"echo"},
	})

	// Registration publishes to the store asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if info, _ := s1.GetNode(context.Background(), "node-b"); info != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for node to appear in shared store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	result, err := r1.Invoke(context.Background(), registrypkg.InvokeParams{
		NodeID:  "node-b",
		Command: "echo",
		Params:  map[string]string{"text": "cross-pod"},
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !result.OK {
		t.Fatalf("Expected ok result, got %+v", result.Error)
	}
	var params map[string]string
	if err := json.Unmarshal(result.Payload, &params); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if params["text"] != "cross-pod" {
		t.Errorf("Expected echoed params, got %v", params)
	}

	// ListAll on pod-1 sees the remote node.
	nodes := r1.ListAll(context.Background())
	if len(nodes) != 1 {
		t.Fatalf("Expected 1 node, got %d", len(nodes))
	}
	if nodes[0].Local {
		t.Error("Expected node to be remote from pod-1's view")
	}
	if nodes[0].PodID != "pod-2" {
		t.Errorf("Expected owner pod-2, got %s", nodes[0].PodID)
	}
}

// TestForwardedInvokeToClosedOwnerReportsNotConnected routes an invoke to a
// pod whose registry has already shut down; the origin pod must see
// NOT_CONNECTED, not a fabricated timeout.
func TestForwardedInvokeToClosedOwnerReportsNotConnected(t *testing.T) {
	broker := NewBroker()
	s1 := NewMemorySync("pod-1", broker, nil)
	s2 := NewMemorySync("pod-2", broker, nil)
	defer s1.Close(context.Background())
	defer s2.Close(context.Background())

	r1, err := noderegistry.New(nil, nil)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	defer r1.Close()
	r2, err := noderegistry.New(nil, nil)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}

	r1.SetSync(s1)
	r2.SetSync(s2)

	conn := &fakeConn{id: "conn-1", registry: r2}
	r2.Register(context.Background(), conn, registrypkg.Registration{
		NodeID:   "node-b",
		Commands: []string{"echo"},
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		if info, _ := s1.GetNode(context.Background(), "node-b"); info != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for node to appear in shared store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// The owning pod shuts down but its store entry is still visible.
	if err := r2.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	result, err := r1.Invoke(context.Background(), registrypkg.InvokeParams{
		NodeID:  "node-b",
		Command: "echo",
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if result.OK {
		t.Fatal("Expected failed result")
	}
	if result.Error == nil || result.Error.Code != registrypkg.CodeNotConnected {
		t.Errorf("Expected NOT_CONNECTED from closed owner, got %+v", result.Error)
	}
}
