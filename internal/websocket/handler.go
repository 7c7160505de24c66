package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventSink consumes inbound frames and connection closures. The hub
// implements it; the indirection keeps this package free of business logic.
type EventSink interface {
	HandleFrame(ctx context.Context, senderID string, frame []byte)
	HandleClose(ctx context.Context, senderID string)
}

var upgrader = websocket.Upgrader{
	// Browser clients connect from arbitrary dev origins; the service
	// carries no credentials, so origin checking stays permissive.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests to WebSocket connections and pumps their
// frames into the event sink. Each connection gets a fresh uuid as its
// participant identity; the identity dies with the connection.
type Handler struct {
	registry *Registry
	sink     EventSink
	logger   *zap.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, sink EventSink, logger *zap.Logger) *Handler {
	return &Handler{
		registry: registry,
		sink:     sink,
		logger:   logger,
	}
}

// HandleWebSocket upgrades the request and serves the connection until the
// peer goes away, then runs disconnect cleanup.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	socket, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(uuid.New().String(), socket)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error("failed to register connection", zap.Error(err))
		_ = conn.Close()
		return
	}

	h.logger.Info("participant connected", zap.String("participant", conn.ID()))
	h.readLoop(r.Context(), conn)
}

// readLoop forwards frames in arrival order. Running on the connection's
// own goroutine keeps one participant's events sequential while separate
// participants dispatch concurrently.
func (h *Handler) readLoop(ctx context.Context, conn *Conn) {
	defer func() {
		h.sink.HandleClose(context.WithoutCancel(ctx), conn.ID())
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.logger.Info("participant disconnected", zap.String("participant", conn.ID()))
	}()

	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("connection read failed",
					zap.String("participant", conn.ID()),
					zap.Error(err))
			}
			return
		}
		h.sink.HandleFrame(ctx, conn.ID(), frame)
	}
}
