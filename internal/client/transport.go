package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lalith-99/accord/internal/wire"
)

// Conn is an open frame transport. ReadFrame is called from one
// goroutine and WriteFrame from another; Close may be called from either.
type Conn interface {
	WriteFrame(f wire.Frame) error
	ReadFrame() (wire.Frame, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials the server's /ws endpoint with gorilla/websocket.
type WebSocketDialer struct {
	Dialer    *websocket.Dialer
	WriteWait time.Duration
}

func NewWebSocketDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		WriteWait: 10 * time.Second,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := d.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{ws: ws, writeWait: d.WriteWait}, nil
}

type wsConn struct {
	ws        *websocket.Conn
	writeWait time.Duration
}

func (c *wsConn) WriteFrame(f wire.Frame) error {
	data, err := wire.Encode(f)
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame returns an error wrapping wire.ErrMalformedFrame for messages
// that do not decode; the connection is still usable afterwards.
func (c *wsConn) ReadFrame() (wire.Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return wire.Frame{}, err
	}
	return wire.Decode(data)
}

func (c *wsConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// closeCode extracts the websocket close code from a read error, if any.
func closeCode(err error) (int, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	return 0, false
}

// isOrderlyClose reports whether err ends the connection without
// anything having gone wrong.
func isOrderlyClose(err error) bool {
	if code, ok := closeCode(err); ok {
		return code == websocket.CloseNormalClosure || code == websocket.CloseGoingAway
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
