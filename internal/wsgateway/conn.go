package wsgateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"

	tunnelpkg "github.com/nodegate/nodegate-go/pkg/tunnel"
)

const writeTimeout = 10 * time.Second

// wsConn adapts a websocket to the registry's Connection contract. Writes
// are serialized; the websocket allows only one concurrent writer.
type wsConn struct {
	id string

	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(id string, conn *websocket.Conn) *wsConn {
	return &wsConn{id: id, conn: conn}
}

func (c *wsConn) ID() string {
	return c.id
}

func (c *wsConn) SendEvent(event string, payload json.RawMessage) error {
	data, err := json.Marshal(eventEnvelope{Type: frameTypeEvent, Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return c.write(data)
}

func (c *wsConn) write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// wsTransport adapts a websocket to the tunnel adapter's Transport contract.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteFrame(ctx context.Context, frame tunnelpkg.Frame) error {
	data, err := tunnelpkg.Encode(frame)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(reason string) error {
	return t.conn.Close(websocket.StatusPolicyViolation, reason)
}
