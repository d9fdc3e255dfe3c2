// Package httpclient provides a Go client for the gateway HTTP API: operator
// login, node listing, command invocation, and event pushes.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// Client provides HTTP client for the gateway API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new gateway HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, fmt.Errorf("ServerURL is required")
	}
	if config.OperatorID == "" {
		return nil, fmt.Errorf("OperatorID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
	}

	client := &Client{
		config:     config,
		httpClient: httpClient,
		baseURL:    baseURL,
	}

	return client, nil
}

// Authenticate logs in to the gateway and stores the token
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{
		"operatorId": c.config.OperatorID,
	}
	if c.config.AdminToken != "" {
		authReq["adminToken"] = c.config.AdminToken
	}

	var authResp AuthResponse
	err := c.doRequest(ctx, "POST", "/api/v1/auth/login", authReq, &authResp, false)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	c.token = authResp.Token
	return nil
}

// ListNodes returns every node the gateway knows about, across all pods
func (c *Client) ListNodes(ctx context.Context) (*NodesResponse, error) {
	if c.token == "" {
		return nil, fmt.Errorf("client not authenticated - call Authenticate() first")
	}

	var resp NodesResponse
	err := c.doRequest(ctx, "GET", "/api/v1/nodes", nil, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	return &resp, nil
}

// GetNode returns the descriptor for one node
func (c *Client) GetNode(ctx context.Context, nodeID string) (*NodeInfo, error) {
	if c.token == "" {
		return nil, fmt.Errorf("client not authenticated - call Authenticate() first")
	}

	path := fmt.Sprintf("/api/v1/nodes/%s", url.PathEscape(nodeID))
	var resp NodeInfo
	err := c.doRequest(ctx, "GET", path, nil, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return &resp, nil
}

// Invoke dispatches a command to a node and waits for its result. A non-nil
// error means the call itself failed; a failed command comes back inside the
// InvokeResponse.
func (c *Client) Invoke(ctx context.Context, nodeID string, req InvokeRequest) (*InvokeResponse, error) {
	if c.token == "" {
		return nil, fmt.Errorf("client not authenticated - call Authenticate() first")
	}
	if req.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	path := fmt.Sprintf("/api/v1/nodes/%s/invoke", url.PathEscape(nodeID))
	var resp InvokeResponse
	err := c.doRequest(ctx, "POST", path, req, &resp, true)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke command: %w", err)
	}

	return &resp, nil
}

// SendEvent pushes an event frame to a node (admin only)
func (c *Client) SendEvent(ctx context.Context, nodeID, event string, payload json.RawMessage) error {
	if c.token == "" {
		return fmt.Errorf("client not authenticated - call Authenticate() first")
	}

	path := fmt.Sprintf("/api/v1/nodes/%s/events", url.PathEscape(nodeID))
	req := SendEventRequest{Event: event, Payload: payload}
	var resp SendEventResponse
	err := c.doRequest(ctx, "POST", path, req, &resp, true)
	if err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

// GetHealth returns the health status of the gateway
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, "GET", "/api/v1/health", nil, &resp, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}

	return &resp, nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody interface{}, respBody interface{}, requireAuth bool) error {
	u := &url.URL{Path: path}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(bodyBytes))
		}
		return fmt.Errorf("API error (%d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// IsAuthenticated returns whether the client has a valid token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token (useful for testing or token reuse)
func (c *Client) SetToken(token string) {
	c.token = token
}
