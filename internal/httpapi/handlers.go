package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nodegate/nodegate-go/internal/noderegistry"
	registrypkg "github.com/nodegate/nodegate-go/pkg/noderegistry"
)

// Handlers contains the HTTP request handlers
type Handlers struct {
	registry   *noderegistry.Registry
	jwtAuth    *JWTAuth
	podID      string
	adminToken string
	syncOn     bool
}

// NewHandlers creates a new handlers instance
func NewHandlers(registry *noderegistry.Registry, jwtAuth *JWTAuth, podID, adminToken string, syncOn bool) *Handlers {
	return &Handlers{
		registry:   registry,
		jwtAuth:    jwtAuth,
		podID:      podID,
		adminToken: adminToken,
		syncOn:     syncOn,
	}
}

// Login handles operator authentication and returns a JWT token
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.OperatorID == "" {
		h.writeError(w, "operatorId is required", http.StatusBadRequest)
		return
	}

	// Admin scope requires the configured admin token. An unset token means
	// no login can be admin.
	isAdmin := h.adminToken != "" && req.AdminToken == h.adminToken
	if req.AdminToken != "" && !isAdmin {
		h.writeError(w, "Invalid admin token", http.StatusForbidden)
		return
	}

	token, expiresAt, err := h.jwtAuth.GenerateToken(req.OperatorID, isAdmin)
	if err != nil {
		h.writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, AuthResponse{
		Token:      token,
		OperatorID: req.OperatorID,
		IsAdmin:    isAdmin,
		ExpiresAt:  expiresAt,
	}, http.StatusOK)
}

// ListNodes returns every known node, local sessions plus remote entries
// from the shared store
func (h *Handlers) ListNodes(w http.ResponseWriter, r *http.Request) {
	nodes := h.registry.ListAll(r.Context())
	h.writeJSON(w, NodesResponse{Nodes: nodes, Count: len(nodes)}, http.StatusOK)
}

// GetNode returns the descriptor for one node
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	if nodeID == "" {
		h.writeError(w, "Node ID required", http.StatusBadRequest)
		return
	}

	info, ok := h.registry.GetInfo(r.Context(), nodeID)
	if !ok {
		h.writeError(w, "Node not found", http.StatusNotFound)
		return
	}

	h.writeJSON(w, info, http.StatusOK)
}

// InvokeNode dispatches a command to a node and waits for its result.
// Node-side failures come back inside the response body with HTTP 200;
// only caller-side conditions produce an error status.
func (h *Handlers) InvokeNode(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	if nodeID == "" {
		h.writeError(w, "Node ID required", http.StatusBadRequest)
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Command == "" {
		h.writeError(w, "command is required", http.StatusBadRequest)
		return
	}

	result, err := h.registry.Invoke(r.Context(), registrypkg.InvokeParams{
		NodeID:         nodeID,
		Command:        req.Command,
		Params:         req.Params,
		TimeoutMs:      req.TimeoutMs,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.writeError(w, "Invoke aborted: "+err.Error(), http.StatusServiceUnavailable)
		return
	}

	h.writeJSON(w, InvokeResponse{
		OK:      result.OK,
		Payload: result.Payload,
		Error:   result.Error,
	}, http.StatusOK)
}

// SendEvent pushes an event frame to a locally connected node
func (h *Handlers) SendEvent(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	if nodeID == "" {
		h.writeError(w, "Node ID required", http.StatusBadRequest)
		return
	}

	var req SendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Event == "" {
		h.writeError(w, "event is required", http.StatusBadRequest)
		return
	}

	if err := h.registry.SendEvent(nodeID, req.Event, req.Payload); err != nil {
		if errors.Is(err, noderegistry.ErrNotConnected) {
			h.writeError(w, "Node not connected to this pod", http.StatusNotFound)
			return
		}
		h.writeError(w, "Failed to deliver event: "+err.Error(), http.StatusBadGateway)
		return
	}

	h.writeJSON(w, SendEventResponse{Delivered: true}, http.StatusOK)
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Healthy:        true,
		PodID:          h.podID,
		ConnectedNodes: len(h.registry.ListConnected()),
		PendingInvokes: h.registry.PendingCount(),
		SyncAttached:   h.syncOn,
		Message:        "Gateway is healthy",
	}
	h.writeJSON(w, resp, http.StatusOK)
}

// Helper methods

// writeError writes an error response as JSON
func (h *Handlers) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	if err := json.NewEncoder(w).Encode(errorResp); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
