package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodegate/nodegate-go/internal/noderegistry"
	registrypkg "github.com/nodegate/nodegate-go/pkg/noderegistry"
	tunnelpkg "github.com/nodegate/nodegate-go/pkg/tunnel"
)

// NodeRegistry is the slice of the registry the adapter drives. Satisfied by
// *noderegistry.Registry.
type NodeRegistry interface {
	Register(ctx context.Context, conn registrypkg.Connection, reg registrypkg.Registration) *noderegistry.Session
	Unregister(ctx context.Context, connectionID string) (string, bool)
	HandleInvokeResult(frame registrypkg.ResultFrame) bool
	Touch(ctx context.Context, connectionID string)
}

// Transport is the wire to the tunnel peer. Implementations are supplied by
// the connection handling layer (websocket endpoint, or a test fake).
type Transport interface {
	// WriteFrame sends one frame to the peer.
	WriteFrame(ctx context.Context, frame tunnelpkg.Frame) error

	// Close tears the connection down. Used when the handshake times out.
	Close(reason string) error
}

// DefaultHandshakeTimeout bounds how long a peer may wait before sending its
// register frame.
const DefaultHandshakeTimeout = 10 * time.Second

// Config represents configuration for an Adapter
type Config struct {
	// HandshakeTimeout forces connection closure if register never arrives.
	// Zero selects DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// SessionURLBase prefixes the session URL returned in the registered
	// confirmation.
	SessionURLBase string

	// RemoteIP is passed through to the node registration.
	RemoteIP string
}

// SetDefaults fills in zero-valued fields
func (c *Config) SetDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.SessionURLBase == "" {
		c.SessionURLBase = "https://gateway.local/nodes"
	}
}

// Adapter translates one tunnel protocol connection into a node session.
// The peer's register frame becomes a registry registration behind a
// synthetic connection; registry invoke requests are rewritten into command
// frames; the peer's response frames resolve the pending invokes. The
// registry never learns a translation is happening.
//
// Per-connection state machine: awaiting register, then registered for the
// rest of the connection's lifetime.
type Adapter struct {
	cfg       Config
	log       *zap.Logger
	registry  NodeRegistry
	transport Transport
	connID    string

	// events receives peer-originated event frames once registered.
	// Optional; nil drops them with a debug log.
	events func(nodeID, event string, data json.RawMessage)

	mu         sync.Mutex
	registered bool
	nodeID     string
	handshake  *time.Timer
}

// New creates an adapter for one tunnel connection and arms the handshake
// timer.
func New(cfg Config, registry NodeRegistry, transport Transport, log *zap.Logger) *Adapter {
	cfg.SetDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	a := &Adapter{
		cfg:       cfg,
		log:       log.Named("tunnel"),
		registry:  registry,
		transport: transport,
		connID:    uuid.NewString(),
	}
	a.handshake = time.AfterFunc(cfg.HandshakeTimeout, func() {
		a.mu.Lock()
		registered := a.registered
		a.mu.Unlock()
		if !registered {
			a.log.Warn("tunnel peer did not register in time, closing")
			_ = a.transport.Close("handshake timeout")
		}
	})
	return a
}

// ConnectionID returns the synthetic connection id this adapter registers
// under.
func (a *Adapter) ConnectionID() string {
	return a.connID
}

// SetEventSink installs the receiver for peer-originated event frames.
func (a *Adapter) SetEventSink(sink func(nodeID, event string, data json.RawMessage)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = sink
}

// HandleRaw decodes one raw frame from the peer and dispatches it.
// Malformed frames are logged and dropped; the connection stays up.
func (a *Adapter) HandleRaw(ctx context.Context, raw []byte) {
	frame, err := tunnelpkg.Decode(raw)
	if err != nil {
		a.log.Warn("invalid tunnel frame", zap.Error(err))
		return
	}
	a.HandleFrame(ctx, frame)
}

// HandleFrame dispatches one decoded frame from the peer.
func (a *Adapter) HandleFrame(ctx context.Context, frame tunnelpkg.Frame) {
	switch f := frame.(type) {
	case *tunnelpkg.RegisterFrame:
		a.handleRegister(ctx, f)
	case *tunnelpkg.EventFrame:
		a.handleEvent(f)
	case *tunnelpkg.ResponseFrame:
		a.handleResponse(f)
	case *tunnelpkg.PingFrame:
		if err := a.transport.WriteFrame(ctx, &tunnelpkg.PongFrame{}); err != nil {
			a.log.Warn("failed to send pong", zap.Error(err))
		}
		a.registry.Touch(ctx, a.connID)
	case *tunnelpkg.PongFrame:
		// Heartbeat ack, nothing to do.
	default:
		// Command and registered frames only flow gateway to peer.
		a.log.Warn("unexpected frame direction from tunnel peer",
			zap.String("type", fmt.Sprintf("%T", f)))
	}
}

func (a *Adapter) handleRegister(ctx context.Context, frame *tunnelpkg.RegisterFrame) {
	a.mu.Lock()
	if a.registered {
		a.mu.Unlock()
		// Protocol violation; the first registration stands untouched.
		a.log.Warn("duplicate register from tunnel peer", zap.String("nodeId", a.nodeID))
		return
	}
	a.registered = true
	nodeID := frame.InstanceID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	a.nodeID = nodeID
	a.handshake.Stop()
	a.mu.Unlock()

	displayName := frame.DisplayName
	if displayName == "" {
		displayName = "tunnel-node"
	}

	conn := &virtualConn{connID: a.connID, transport: a.transport, log: a.log}
	a.registry.Register(ctx, conn, registrypkg.Registration{
		NodeID:       nodeID,
		Capabilities: frame.Capabilities,
		Commands:     frame.Commands,
		DisplayName:  displayName,
		Platform:     frame.Platform,
		Version:      frame.Version,
		AppKind:      frame.AppKind,
		CWD:          frame.CWD,
		RemoteIP:     a.cfg.RemoteIP,
	})

	if err := a.transport.WriteFrame(ctx, &tunnelpkg.RegisteredFrame{
		InstanceID: nodeID,
		SessionURL: a.cfg.SessionURLBase + "/" + nodeID,
	}); err != nil {
		a.log.Warn("failed to send registered confirmation", zap.Error(err))
	}

	a.log.Info("tunnel node registered",
		zap.String("nodeId", nodeID),
		zap.String("displayName", displayName),
		zap.String("appKind", frame.AppKind),
		zap.Int("caps", len(frame.Capabilities)),
		zap.Int("commands", len(frame.Commands)))
}

func (a *Adapter) handleEvent(frame *tunnelpkg.EventFrame) {
	a.mu.Lock()
	registered := a.registered
	nodeID := a.nodeID
	sink := a.events
	a.mu.Unlock()

	if !registered {
		a.log.Warn("event before register")
		return
	}
	if sink == nil {
		a.log.Debug("tunnel event dropped, no sink",
			zap.String("nodeId", nodeID), zap.String("event", frame.Event))
		return
	}
	sink(nodeID, frame.Event, frame.Data)
}

func (a *Adapter) handleResponse(frame *tunnelpkg.ResponseFrame) {
	a.mu.Lock()
	registered := a.registered
	nodeID := a.nodeID
	a.mu.Unlock()

	if !registered {
		a.log.Warn("response before register")
		return
	}

	result := registrypkg.ResultFrame{
		RequestID: frame.ID,
		NodeID:    nodeID,
		OK:        frame.OK,
		Payload:   frame.Data,
	}
	if frame.Error != "" {
		result.Error = &registrypkg.InvokeError{
			Code:    registrypkg.CodeTunnelError,
			Message: frame.Error,
		}
	}
	if !a.registry.HandleInvokeResult(result) {
		a.log.Debug("unmatched tunnel response", zap.String("requestId", frame.ID))
	}
}

// HandleClose unregisters the synthetic node, failing any invokes in flight
// to it. Safe to call for a connection that never registered.
func (a *Adapter) HandleClose(ctx context.Context) {
	a.handshake.Stop()

	a.mu.Lock()
	registered := a.registered
	nodeID := a.nodeID
	a.mu.Unlock()

	if !registered {
		return
	}
	a.registry.Unregister(ctx, a.connID)
	a.log.Info("tunnel node disconnected", zap.String("nodeId", nodeID))
}

// virtualConn is the synthetic connection registered on the peer's behalf.
// Invoke request events are rewritten into the peer's native command frames;
// everything else passes through as an event frame.
type virtualConn struct {
	connID    string
	transport Transport
	log       *zap.Logger
}

func (c *virtualConn) ID() string {
	return c.connID
}

func (c *virtualConn) SendEvent(event string, payload json.RawMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if event == registrypkg.EventInvokeRequest {
		var req registrypkg.InvokeRequestEvent
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("malformed invoke request event: %w", err)
		}
		params := req.ParamsJSON
		if len(params) == 0 {
			params = json.RawMessage("{}")
		}
		return c.transport.WriteFrame(ctx, &tunnelpkg.CommandFrame{
			ID:     req.ID,
			Method: req.Command,
			Params: params,
		})
	}

	return c.transport.WriteFrame(ctx, &tunnelpkg.EventFrame{Event: event, Data: payload})
}

// Verify that virtualConn satisfies the registry's connection contract
var _ registrypkg.Connection = (*virtualConn)(nil)
