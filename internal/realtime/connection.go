package realtime

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lalith-99/accord/internal/auth"
	"github.com/lalith-99/accord/internal/broker"
	"github.com/lalith-99/accord/internal/router"
	"github.com/lalith-99/accord/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	errHandshakeRequired = errors.New("expected CONNECT frame")
	errAlreadyConnected  = errors.New("already connected")
	errAuthFailed        = errors.New("authentication failed")
	errRateLimited       = errors.New("rate limit exceeded")
	errUnsupported       = errors.New("unsupported command")
	errInternal          = errors.New("internal error")
)

// Connection is one client socket. readPump owns the identity and runs
// on the handler goroutine; writePump owns every write to the socket.
type Connection struct {
	h       *Handler
	ws      *websocket.Conn
	sub     *broker.Subscriber
	addr    string
	limiter *rate.Limiter

	identity *auth.Identity

	mu        sync.Mutex
	closeCode int
	closeText string
}

func newConnection(h *Handler, ws *websocket.Conn, sub *broker.Subscriber, addr string) *Connection {
	return &Connection{
		h:         h,
		ws:        ws,
		sub:       sub,
		addr:      addr,
		limiter:   rate.NewLimiter(h.opts.SendRate, h.opts.SendBurst),
		closeCode: websocket.CloseNormalClosure,
	}
}

func (c *Connection) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		username := ""
		if c.identity != nil {
			username = c.identity.Username
		}
		c.identity = nil
		c.h.hub.RemoveSubscriber(c.sub)
		c.h.logger.Info("websocket disconnected",
			zap.String("remote_addr", c.addr),
			zap.String("username", username),
		)
	}()

	c.ws.SetReadLimit(c.h.opts.MaxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.h.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.h.opts.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		frame, err := wire.Decode(data)
		if err != nil {
			c.replyError(err)
			if c.identity == nil {
				c.closeWith(websocket.CloseProtocolError, "malformed frame")
				return
			}
			continue
		}

		if !c.handle(ctx, frame) {
			return
		}
	}
}

// handle processes one frame and reports whether the connection stays
// open.
func (c *Connection) handle(ctx context.Context, f wire.Frame) bool {
	if c.identity == nil {
		return c.handshake(ctx, f)
	}

	switch f.Command {
	case wire.CommandConnect:
		c.replyError(errAlreadyConnected)
	case wire.CommandSubscribe:
		c.subscribe(ctx, f)
	case wire.CommandUnsubscribe:
		c.h.hub.Unsubscribe(c.sub, f.Subscription)
	case wire.CommandSend:
		c.send(ctx, f)
	case wire.CommandDisconnect:
		c.closeWith(websocket.CloseNormalClosure, "")
		return false
	default:
		c.replyError(errUnsupported)
	}
	return true
}

func (c *Connection) handshake(ctx context.Context, f wire.Frame) bool {
	if f.Command != wire.CommandConnect {
		c.replyError(errHandshakeRequired)
		c.closeWith(websocket.CloseProtocolError, "handshake required")
		return false
	}

	identity, err := c.h.gate.Intercept(ctx, f)
	if err != nil || identity == nil {
		c.reply(wire.Error(errAuthFailed))
		c.closeWith(websocket.ClosePolicyViolation, errAuthFailed.Error())
		return false
	}

	c.identity = identity
	c.reply(wire.Connected(identity.Username))
	c.h.logger.Info("websocket authenticated",
		zap.String("remote_addr", c.addr),
		zap.String("username", identity.Username),
	)
	return true
}

func (c *Connection) subscribe(ctx context.Context, f wire.Frame) {
	if f.Subscription == "" {
		c.replyError(&wire.FieldError{Field: "subscription", Reason: "must not be empty"})
		return
	}
	topic, err := c.h.router.CanSubscribe(ctx, f.Destination)
	if err != nil {
		c.replyError(err)
		return
	}
	// Publications use the canonical lowercase topic, so the hub key must
	// too, whatever uuid spelling the client sent.
	destination := topic.Destination()
	if err := c.h.hub.Subscribe(c.sub, f.Subscription, destination); err != nil {
		c.replyError(err)
		return
	}
	c.h.logger.Debug("subscribed",
		zap.String("username", c.identity.Username),
		zap.String("destination", destination),
	)
}

func (c *Connection) send(ctx context.Context, f wire.Frame) {
	if !c.limiter.Allow() {
		c.replyError(errRateLimited)
		return
	}

	out, err := c.h.router.Dispatch(ctx, c.identity, f.Destination, f.Body)
	if err != nil {
		c.replyError(err)
		return
	}

	payload, err := out.Payload()
	if err != nil {
		c.replyError(err)
		return
	}
	if err := c.h.publisher.Publish(ctx, out.Topic, payload); err != nil {
		c.replyError(err)
	}
}

func (c *Connection) reply(f wire.Frame) {
	data, err := wire.Encode(f)
	if err != nil {
		c.h.logger.Error("failed to encode reply", zap.Error(err))
		return
	}
	c.h.hub.SendTo(c.sub, data)
}

// replyError answers the client with an ERROR frame. Errors the client
// caused are echoed; anything else is logged and reported generically.
func (c *Connection) replyError(err error) {
	switch {
	case errors.Is(err, router.ErrValidation),
		errors.Is(err, router.ErrChannelNotFound),
		errors.Is(err, router.ErrAuthorMismatch),
		errors.Is(err, wire.ErrMalformedFrame),
		errors.Is(err, broker.ErrDuplicateSubscription),
		errors.Is(err, errHandshakeRequired),
		errors.Is(err, errAlreadyConnected),
		errors.Is(err, errRateLimited),
		errors.Is(err, errUnsupported):
		c.h.logger.Debug("rejected frame", zap.String("remote_addr", c.addr), zap.Error(err))
		c.reply(wire.Error(err))
	default:
		c.h.logger.Error("failed to handle frame", zap.String("remote_addr", c.addr), zap.Error(err))
		c.reply(wire.Error(errInternal))
	}
}

// closeWith records the close status for writePump and closes the
// delivery queue. Frames already queued are still written first.
func (c *Connection) closeWith(code int, text string) {
	c.mu.Lock()
	c.closeCode = code
	c.closeText = text
	c.mu.Unlock()
	c.h.hub.RemoveSubscriber(c.sub)
}

// closeStatus is the close frame writePump sends once the queue closes.
// An eviction by the hub overrides whatever was recorded: the client did
// nothing wrong but lost frames, and 1013 tells it to reconnect.
func (c *Connection) closeStatus() (int, string) {
	if c.sub.Evicted() {
		return websocket.CloseTryAgainLater, "too slow to keep up"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeText
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.h.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.sub.Send():
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
			if !ok {
				code, text := c.closeStatus()
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.h.logger.Debug("websocket write failed", zap.String("remote_addr", c.addr), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.h.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Connection) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.h.logger.Warn("frame exceeded maximum size",
			zap.String("remote_addr", c.addr),
			zap.Int64("max_bytes", c.h.opts.MaxFrameBytes),
		)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed):
		c.h.logger.Debug("websocket closed", zap.String("remote_addr", c.addr), zap.Error(err))
	default:
		c.h.logger.Warn("websocket read error", zap.String("remote_addr", c.addr), zap.Error(err))
	}
}
