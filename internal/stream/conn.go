package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is one open bidirectional stream. Recv blocks until a frame arrives
// or the transport fails; Send is safe for concurrent use.
type Conn interface {
	Send(f Frame) error
	Recv() (*Frame, error)
	Close() error
}

// Dialer opens a Conn for a user, transmitting the identity frame before
// returning. Each engine owns its own dialer instance (chat stream and
// signaling stream are distinct endpoints).
type Dialer interface {
	Dial(ctx context.Context, userID string) (Conn, error)
}

// WSDialer dials a websocket endpoint.
type WSDialer struct {
	url    string
	logger *zap.Logger
}

// NewWSDialer creates a dialer for the given ws:// or wss:// URL.
func NewWSDialer(url string, logger *zap.Logger) *WSDialer {
	return &WSDialer{url: url, logger: logger}
}

// Dial connects and sends the is-init identity frame. The connection is
// returned ready for Recv; the caller owns its lifetime.
func (d *WSDialer) Dial(ctx context.Context, userID string) (Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}
	c := &wsConn{ws: ws}
	if err := c.Send(InitFrame(userID)); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send init frame: %w", err)
	}
	d.logger.Info("stream opened", zap.String("url", d.url), zap.String("user_id", userID))
	return c, nil
}

// wsConn wraps a websocket with a single-writer mutex. Reads stay
// single-goroutine by construction (one Recv loop per engine).
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) Send(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(&f)
}

func (c *wsConn) Recv() (*Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return nil, fmt.Errorf("stream closed by peer: %w", err)
		}
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
