// Package realtime serves the /ws endpoint: it upgrades HTTP requests,
// authenticates the CONNECT handshake, and moves frames between each
// socket, the router and the broker.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/accord/internal/auth"
	"github.com/lalith-99/accord/internal/broker"
	"github.com/lalith-99/accord/internal/router"
	"github.com/lalith-99/accord/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Gate authenticates the CONNECT frame.
type Gate interface {
	Intercept(ctx context.Context, f wire.Frame) (*auth.Identity, error)
}

// Dispatcher turns SEND frames into publications.
type Dispatcher interface {
	Dispatch(ctx context.Context, identity *auth.Identity, destination string, body json.RawMessage) (*router.Outbound, error)
	CanSubscribe(ctx context.Context, destination string) (wire.Topic, error)
}

type Options struct {
	MaxFrameBytes int64
	SendRate      rate.Limit
	SendBurst     int
	QueueSize     int

	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxFrameBytes: 16 * 1024,
		SendRate:      5,
		SendBurst:     10,
		QueueSize:     256,
		PingPeriod:    54 * time.Second,
		PongWait:      60 * time.Second,
		WriteWait:     10 * time.Second,
	}
}

type Handler struct {
	gate      Gate
	router    Dispatcher
	hub       *broker.Hub
	publisher broker.Publisher
	upgrader  websocket.Upgrader
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	conns  map[*Connection]struct{}
	closed bool
}

// NewHandler wires a socket handler. Subscriptions are kept in hub;
// publications go through publisher, which is the hub itself on a single
// instance or a broker.RedisRelay feeding it.
func NewHandler(gate Gate, dispatcher Dispatcher, hub *broker.Hub, publisher broker.Publisher, origins *OriginPolicy, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		gate:      gate,
		router:    dispatcher,
		hub:       hub,
		publisher: publisher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
		opts:   opts,
		logger: logger,
		conns:  make(map[*Connection]struct{}),
	}
}

// ServeWS upgrades the request and serves the connection until it
// closes.
func (h *Handler) ServeWS(c *gin.Context) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server shutting down"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", c.Request.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := newConnection(h, ws, broker.NewSubscriber(uuid.NewString(), h.opts.QueueSize), c.Request.RemoteAddr)
	if !h.track(conn) {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
		conn.writePump()
		return
	}
	defer h.untrack(conn)

	h.logger.Info("websocket connected", zap.String("remote_addr", conn.addr))
	go conn.writePump()
	conn.readPump()
}

// Shutdown closes every open connection with a going-away close frame
// and refuses new ones.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Connection, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		conn.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info("realtime connections closed", zap.Int("count", len(conns)))
}

// ConnectionCount reports the number of open sockets.
func (h *Handler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Handler) track(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}
