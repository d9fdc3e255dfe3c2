package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("valid_config", func(t *testing.T) {
		config := Config{
			ServerURL:  "http://localhost:8080",
			OperatorID: "test-operator",
		}

		client, err := NewClient(config)
		require.NoError(t, err)
		assert.NotNil(t, client)
		assert.Equal(t, "test-operator", client.config.OperatorID)
		assert.Equal(t, 60*time.Second, client.config.Timeout)
	})

	t.Run("missing_server_url", func(t *testing.T) {
		config := Config{
			OperatorID: "test-operator",
		}

		client, err := NewClient(config)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "ServerURL is required")
	})

	t.Run("missing_operator_id", func(t *testing.T) {
		config := Config{
			ServerURL: "http://localhost:8080",
		}

		client, err := NewClient(config)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "OperatorID is required")
	})

	t.Run("invalid_server_url", func(t *testing.T) {
		config := Config{
			ServerURL:  "://invalid-url",
			OperatorID: "test-operator",
		}

		client, err := NewClient(config)
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "invalid ServerURL")
	})
}

func TestClient_Authenticate(t *testing.T) {
	t.Run("successful_authentication", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			var authReq map[string]string
			err := json.NewDecoder(r.Body).Decode(&authReq)
			require.NoError(t, err)
			assert.Equal(t, "test-operator", authReq["operatorId"])

			response := AuthResponse{
				Token:      "mock-token-123",
				OperatorID: "test-operator",
				ExpiresAt:  time.Now().Add(time.Hour),
			}
			json.NewEncoder(w).Encode(response)
		}))
		defer server.Close()

		config := Config{
			ServerURL:  server.URL,
			OperatorID: "test-operator",
		}
		client, err := NewClient(config)
		require.NoError(t, err)

		err = client.Authenticate(context.Background())
		require.NoError(t, err)
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "mock-token-123", client.GetToken())
	})

	t.Run("failed_authentication", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(ErrorResponse{
				Error:   "Forbidden",
				Message: "Invalid admin token",
				Code:    http.StatusForbidden,
			})
		}))
		defer server.Close()

		config := Config{
			ServerURL:  server.URL,
			OperatorID: "test-operator",
			AdminToken: "wrong",
		}
		client, err := NewClient(config)
		require.NoError(t, err)

		err = client.Authenticate(context.Background())
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "authentication failed")
		assert.False(t, client.IsAuthenticated())
	})
}

func TestClient_ListNodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/nodes", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(NodesResponse{
			Nodes: []NodeInfo{
				{NodeID: "node-a", Connected: true, Local: true},
				{NodeID: "node-b", Connected: true, Local: false, PodID: "pod-2"},
			},
			Count: 2,
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL, OperatorID: "op"})
	require.NoError(t, err)
	client.SetToken("test-token")

	resp, err := client.ListNodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "node-a", resp.Nodes[0].NodeID)
	assert.False(t, resp.Nodes[1].Local)
}

func TestClient_ListNodes_RequiresAuth(t *testing.T) {
	client, err := NewClient(Config{ServerURL: "http://localhost:8080", OperatorID: "op"})
	require.NoError(t, err)

	_, err = client.ListNodes(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not authenticated")
}

func TestClient_Invoke(t *testing.T) {
	t.Run("successful_invoke", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/api/v1/nodes/node-a/invoke", r.URL.Path)

			var req InvokeRequest
			err := json.NewDecoder(r.Body).Decode(&req)
			require.NoError(t, err)
			assert.Equal(t, "echo", req.Command)

			json.NewEncoder(w).Encode(InvokeResponse{
				OK:      true,
				Payload: json.RawMessage(`{"text":"hello"}`),
			})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, OperatorID: "op"})
		require.NoError(t, err)
		client.SetToken("test-token")

		resp, err := client.Invoke(context.Background(), "node-a", InvokeRequest{
			Command: "echo",
			Params:  map[string]string{"text": "hello"},
		})
		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.JSONEq(t, `{"text":"hello"}`, string(resp.Payload))
	})

	t.Run("node_side_failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(InvokeResponse{
				OK:    false,
				Error: &InvokeError{Code: "NOT_CONNECTED", Message: "node not connected: node-a"},
			})
		}))
		defer server.Close()

		client, err := NewClient(Config{ServerURL: server.URL, OperatorID: "op"})
		require.NoError(t, err)
		client.SetToken("test-token")

		resp, err := client.Invoke(context.Background(), "node-a", InvokeRequest{Command: "echo"})
		require.NoError(t, err)
		assert.False(t, resp.OK)
		require.NotNil(t, resp.Error)
		assert.Equal(t, "NOT_CONNECTED", resp.Error.Code)
	})

	t.Run("missing_command", func(t *testing.T) {
		client, err := NewClient(Config{ServerURL: "http://localhost:8080", OperatorID: "op"})
		require.NoError(t, err)
		client.SetToken("test-token")

		_, err = client.Invoke(context.Background(), "node-a", InvokeRequest{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "command is required")
	})
}

func TestClient_GetHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/health", r.URL.Path)
		// Health never requires auth.
		assert.Empty(t, r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode(HealthResponse{
			Healthy:        true,
			PodID:          "pod-1",
			ConnectedNodes: 3,
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL, OperatorID: "op"})
	require.NoError(t, err)

	resp, err := client.GetHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, resp.Healthy)
	assert.Equal(t, "pod-1", resp.PodID)
	assert.Equal(t, 3, resp.ConnectedNodes)
}

func TestClient_SendEvent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/nodes/node-a/events", r.URL.Path)

		var req SendEventRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)
		assert.Equal(t, "custom.event", req.Event)

		json.NewEncoder(w).Encode(SendEventResponse{Delivered: true})
	}))
	defer server.Close()

	client, err := NewClient(Config{ServerURL: server.URL, OperatorID: "op"})
	require.NoError(t, err)
	client.SetToken("test-token")

	err = client.SendEvent(context.Background(), "node-a", "custom.event", json.RawMessage(`{"k":"v"}`))
	require.NoError(t, err)
}
