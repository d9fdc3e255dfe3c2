package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nodegate/nodegate-go/pkg/httpclient"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClientIntegration(t *testing.T) {
	// Create test server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			response := httpclient.AuthResponse{
				Token:      "test-token-123",
				ExpiresAt:  time.Now().Add(time.Hour),
				OperatorID: "test-operator",
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(response)

		case "/api/v1/health":
			response := httpclient.HealthResponse{
				Healthy:        true,
				PodID:          "pod-1",
				ConnectedNodes: 2,
				PendingInvokes: 0,
				Message:        "Gateway is healthy",
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(response)

		case "/api/v1/nodes":
			response := httpclient.NodesResponse{
				Nodes: []httpclient.NodeInfo{
					{NodeID: "node-a", Connected: true, Local: true},
					{NodeID: "node-b", Connected: true, Local: false, PodID: "pod-2"},
				},
				Count: 2,
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(response)

		case "/api/v1/nodes/node-a/invoke":
			response := httpclient.InvokeResponse{
				OK:      true,
				Payload: json.RawMessage(`{"status":"done"}`),
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(response)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	// Test HTTP client operations directly
	config := httpclient.Config{
		ServerURL:  server.URL,
		OperatorID: "test-operator",
		Timeout:    5 * time.Second,
	}
	client, err := httpclient.NewClient(config)
	require.NoError(t, err)

	t.Run("authenticate", func(t *testing.T) {
		ctx := context.Background()
		err := client.Authenticate(ctx)
		require.NoError(t, err)
		assert.True(t, client.IsAuthenticated())
		assert.Equal(t, "test-token-123", client.GetToken())
	})

	t.Run("get health", func(t *testing.T) {
		ctx := context.Background()
		health, err := client.GetHealth(ctx)
		require.NoError(t, err)
		assert.True(t, health.Healthy)
		assert.Equal(t, 2, health.ConnectedNodes)
		assert.Equal(t, "pod-1", health.PodID)
	})

	t.Run("list nodes", func(t *testing.T) {
		ctx := context.Background()
		client.SetToken("test-token")

		resp, err := client.ListNodes(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, "node-a", resp.Nodes[0].NodeID)
		assert.True(t, resp.Nodes[0].Local)
		assert.Equal(t, "pod-2", resp.Nodes[1].PodID)
	})

	t.Run("invoke command", func(t *testing.T) {
		ctx := context.Background()
		client.SetToken("test-token")

		resp, err := client.Invoke(ctx, "node-a", httpclient.InvokeRequest{
			Command: "status",
		})
		require.NoError(t, err)
		assert.True(t, resp.OK)
		assert.JSONEq(t, `{"status":"done"}`, string(resp.Payload))
	})
}

func TestRequireAuthentication(t *testing.T) {
	t.Run("returns error when client is nil", func(t *testing.T) {
		originalClient := client
		client = nil
		defer func() { client = originalClient }()

		err := requireAuthentication()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "client not initialized")
	})

	t.Run("returns error when not authenticated", func(t *testing.T) {
		config := httpclient.Config{
			ServerURL:  "http://localhost:8080",
			OperatorID: "test-operator",
			Timeout:    5 * time.Second,
		}
		testClient, err := httpclient.NewClient(config)
		require.NoError(t, err)

		originalClient := client
		client = testClient
		defer func() { client = originalClient }()

		err = requireAuthentication()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not authenticated")
	})

	t.Run("succeeds when authenticated", func(t *testing.T) {
		config := httpclient.Config{
			ServerURL:  "http://localhost:8080",
			OperatorID: "test-operator",
			Timeout:    5 * time.Second,
		}
		testClient, err := httpclient.NewClient(config)
		require.NoError(t, err)
		testClient.SetToken("test-token")

		originalClient := client
		client = testClient
		defer func() { client = originalClient }()

		err = requireAuthentication()
		assert.NoError(t, err)
	})
}

func TestMainCommandHelp(t *testing.T) {
	// Create a new root command for testing
	rootCmd := &cobra.Command{
		Use:   "nodegate-cli",
		Short: "Gateway HTTP API command line interface",
	}

	// Add subcommands
	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newNodesCommand())
	rootCmd.AddCommand(newInvokeCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newHealthCommand())

	// Capture output
	output := &bytes.Buffer{}
	rootCmd.SetOutput(output)
	rootCmd.SetArgs([]string{"--help"})

	// Execute help command
	err := rootCmd.Execute()
	require.NoError(t, err)

	helpOutput := output.String()

	// Check that all expected commands are listed
	assert.Contains(t, helpOutput, "auth")
	assert.Contains(t, helpOutput, "nodes")
	assert.Contains(t, helpOutput, "invoke")
	assert.Contains(t, helpOutput, "send-event")
	assert.Contains(t, helpOutput, "health")
}

func TestInvalidJSONParams(t *testing.T) {
	config := httpclient.Config{
		ServerURL:  "http://localhost:8080",
		OperatorID: "test-operator",
		Timeout:    5 * time.Second,
	}
	var err error
	client, err = httpclient.NewClient(config)
	require.NoError(t, err)
	client.SetToken("test-token")

	err = runInvoke("node-a", "status", "invalid-json", 0, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON params")
}
