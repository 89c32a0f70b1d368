// ABOUTME: Websocket gateway that authenticates sockets and runs the event loop
// ABOUTME: Handshake auth happens before the upgrade so failures stay plain HTTP

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skillswap/chat-gateway/internal/auth"
	"github.com/skillswap/chat-gateway/internal/chat"
	"github.com/skillswap/chat-gateway/internal/room"
)

// Gateway terminates websocket connections and routes client events to the
// chat service. It also serves the HTTP surface (history, health, upgrade).
type Gateway struct {
	rooms    *room.Manager
	chat     *chat.Service
	verifier auth.TokenVerifier
	metrics  *Metrics
	logger   *slog.Logger

	upgrader   websocket.Upgrader
	sendBuffer int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithSendBuffer overrides the per-connection outbound buffer size.
func WithSendBuffer(size int) Option {
	return func(g *Gateway) {
		if size > 0 {
			g.sendBuffer = size
		}
	}
}

// WithCheckOrigin overrides the upgrade origin policy. The default accepts
// same-origin requests only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(g *Gateway) { g.upgrader.CheckOrigin = fn }
}

// New creates a Gateway wired to the given room manager and chat service.
func New(rooms *room.Manager, chatSvc *chat.Service, verifier auth.TokenVerifier, logger *slog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		rooms:    rooms,
		chat:     chatSvc,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sendBuffer: room.SendBufferSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandleWS authenticates the handshake and, on success, upgrades the socket
// and runs the connection until the client disconnects. Invalid credentials
// are refused with 401 before any upgrade happens.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	identity, err := auth.Authenticate(r, g.verifier)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid credential"})
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newConnection(identity.ConnectionID, identity.UserID, ws, g.sendBuffer, g.logger)
	g.logger.Info("connection opened", "connection_id", conn.id, "user_id", conn.userID)
	g.metrics.connectionOpened()

	// Every connection listens on its owner's personal topic for the whole
	// session; conversation topics come and go with join/leave.
	g.rooms.Subscribe(room.UserTopic(identity.UserID), conn.id, conn.out)

	go conn.writePump()
	g.readLoop(auth.WithIdentity(r.Context(), identity), conn)

	g.rooms.UnsubscribeAll(conn.id)
	conn.shutdown()
	g.metrics.connectionClosed()
	g.logger.Info("connection closed", "connection_id", conn.id, "user_id", conn.userID)
}

// readLoop consumes client frames until the socket errors or closes.
func (g *Gateway) readLoop(ctx context.Context, conn *connection) {
	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.logger.Debug("read failed", "error", err)
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendErrorEvent(conn, chat.CodeValidation, "malformed event")
			continue
		}
		g.dispatch(ctx, conn, env)
	}
}
