// Package wsgateway is the connection handling layer: websocket endpoints
// where native node clients and tunnel peers attach, adapted onto the node
// registry. Authentication happens before these handlers run; the registry
// consumes already-authorized connections.
package wsgateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodegate/nodegate-go/internal/noderegistry"
	"github.com/nodegate/nodegate-go/internal/tunnel"
	registrypkg "github.com/nodegate/nodegate-go/pkg/noderegistry"
)

// Config represents configuration for the websocket gateway
type Config struct {
	// HandshakeTimeout bounds how long a connection may sit without its
	// first frame. Zero selects the tunnel default.
	HandshakeTimeout time.Duration

	// SessionURLBase is passed through to tunnel registrations.
	SessionURLBase string
}

// SetDefaults fills in zero-valued fields
func (c *Config) SetDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = tunnel.DefaultHandshakeTimeout
	}
}

// Server hosts the node and tunnel websocket endpoints.
type Server struct {
	cfg      Config
	log      *zap.Logger
	registry *noderegistry.Registry

	// events receives tunnel peer events for fan-out to operators.
	events func(nodeID, event string, data json.RawMessage)
}

// NewServer creates a websocket gateway in front of the registry.
func NewServer(cfg Config, registry *noderegistry.Registry, log *zap.Logger) *Server {
	cfg.SetDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, log: log.Named("wsgateway"), registry: registry}
}

// SetEventSink installs the receiver for tunnel peer events.
func (s *Server) SetEventSink(sink func(nodeID, event string, data json.RawMessage)) {
	s.events = sink
}

// HandleNode serves one native node client connection: connect handshake,
// registration, then invoke results and heartbeats until the socket closes.
func (s *Server) HandleNode(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer c.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()

	handshakeCtx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	_, raw, err := c.Read(handshakeCtx)
	cancel()
	if err != nil {
		s.log.Warn("node handshake failed", zap.Error(err))
		c.Close(websocket.StatusPolicyViolation, "handshake timeout")
		return
	}

	var connect connectFrame
	if err := json.Unmarshal(raw, &connect); err != nil || connect.Type != frameTypeConnect || connect.nodeID() == "" {
		s.log.Warn("invalid connect frame")
		c.Close(websocket.StatusPolicyViolation, "invalid connect frame")
		return
	}

	conn := newWSConn(uuid.NewString(), c)
	reg := registrypkg.Registration{
		NodeID:       connect.nodeID(),
		Capabilities: connect.Caps,
		Commands:     connect.Commands,
		Permissions:  connect.Permissions,
		PathEnv:      connect.PathEnv,
		DisplayName:  connect.Client.DisplayName,
		Platform:     connect.Client.Platform,
		Version:      connect.Client.Version,
		RemoteIP:     remoteIP(r),
	}
	s.registry.Register(ctx, conn, reg)
	defer s.registry.Unregister(context.Background(), conn.ID())

	for {
		_, raw, err := c.Read(ctx)
		if err != nil {
			return
		}
		s.dispatchNodeFrame(ctx, conn, raw)
	}
}

func (s *Server) dispatchNodeFrame(ctx context.Context, conn *wsConn, raw []byte) {
	var envelope frameEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.log.Warn("invalid node frame", zap.Error(err))
		return
	}

	switch envelope.Type {
	case frameTypeInvokeResult:
		var frame invokeResultFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.log.Warn("invalid invoke-result frame", zap.Error(err))
			return
		}
		result := registrypkg.ResultFrame{
			RequestID: frame.ID,
			NodeID:    frame.NodeID,
			OK:        frame.OK,
			Payload:   frame.Payload,
		}
		if frame.Error != nil {
			result.Error = &registrypkg.InvokeError{Code: frame.Error.Code, Message: frame.Error.Message}
		}
		if !s.registry.HandleInvokeResult(result) {
			s.log.Debug("unmatched invoke result", zap.String("requestId", frame.ID))
		}
	case frameTypePing:
		if err := conn.write([]byte(`{"type":"pong"}`)); err != nil {
			s.log.Warn("failed to send pong", zap.Error(err))
		}
		s.registry.Touch(ctx, conn.ID())
	case frameTypePong:
		// Heartbeat ack.
	case frameTypeConnect:
		s.log.Warn("duplicate connect frame ignored")
	case frameTypeEvent:
		// Native clients do not originate events on this path yet.
		s.log.Debug("unexpected event frame from node")
	default:
		s.log.Warn("unknown node frame type", zap.String("type", envelope.Type))
	}
}

// HandleTunnel serves one tunnel peer connection through the protocol
// adapter.
func (s *Server) HandleTunnel(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer c.Close(websocket.StatusInternalError, "closing")

	adapter := tunnel.New(tunnel.Config{
		HandshakeTimeout: s.cfg.HandshakeTimeout,
		SessionURLBase:   s.cfg.SessionURLBase,
		RemoteIP:         remoteIP(r),
	}, s.registry, &wsTransport{conn: c}, s.log)
	if s.events != nil {
		adapter.SetEventSink(s.events)
	}
	defer adapter.HandleClose(context.Background())

	ctx := r.Context()
	for {
		_, raw, err := c.Read(ctx)
		if err != nil {
			return
		}
		adapter.HandleRaw(ctx, raw)
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
