// ABOUTME: Dispatches decoded client events to the chat service
// ABOUTME: Maps service errors onto the in-channel error taxonomy

package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/skillswap/chat-gateway/internal/chat"
	"github.com/skillswap/chat-gateway/internal/room"
)

// envelope is the client frame shape. Data stays raw until the event name
// selects a payload type.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type conversationRef struct {
	ConversationID int64 `json:"conversationId"`
}

type sendRequest struct {
	ConversationID int64  `json:"conversationId"`
	Message        string `json:"message"`
}

// dispatch routes one client event. A panicking handler takes down only the
// event, not the connection.
func (g *Gateway) dispatch(ctx context.Context, conn *connection, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			conn.logger.Error("handler panic", "event", env.Event, "panic", r)
		}
	}()

	g.metrics.eventHandled(env.Event)

	switch env.Event {
	case chat.EventConversationJoin:
		g.handleJoin(ctx, conn, env.Data)
	case chat.EventConversationLeave:
		g.handleLeave(conn, env.Data)
	case chat.EventMessageSend:
		g.handleSend(ctx, conn, env.Data)
	case chat.EventConversationClose:
		g.handleClose(ctx, conn, env.Data)
	default:
		g.sendErrorEvent(conn, chat.CodeValidation, "unknown event")
	}
}

func (g *Gateway) handleJoin(ctx context.Context, conn *connection, data json.RawMessage) {
	var req conversationRef
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendErrorEvent(conn, chat.CodeValidation, "malformed payload")
		return
	}
	if err := g.chat.Authorize(ctx, conn.userID, req.ConversationID); err != nil {
		g.sendServiceError(conn, err)
		return
	}

	g.rooms.Subscribe(room.ConversationTopic(req.ConversationID), conn.id, conn.out)
	conn.send(room.Event{
		Name: chat.EventConversationJoined,
		Data: &chat.JoinedPayload{ConversationID: req.ConversationID},
	})
}

// handleLeave drops the room subscription. Leaving a conversation the client
// never joined is a no-op, not an error.
func (g *Gateway) handleLeave(conn *connection, data json.RawMessage) {
	var req conversationRef
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendErrorEvent(conn, chat.CodeValidation, "malformed payload")
		return
	}
	if err := chat.ValidateConversationID(req.ConversationID); err != nil {
		g.sendServiceError(conn, err)
		return
	}
	g.rooms.Unsubscribe(room.ConversationTopic(req.ConversationID), conn.id)
}

func (g *Gateway) handleSend(ctx context.Context, conn *connection, data json.RawMessage) {
	var req sendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendErrorEvent(conn, chat.CodeValidation, "malformed payload")
		return
	}
	if _, err := g.chat.Send(ctx, conn.userID, req.ConversationID, req.Message); err != nil {
		g.sendServiceError(conn, err)
	}
}

func (g *Gateway) handleClose(ctx context.Context, conn *connection, data json.RawMessage) {
	var req conversationRef
	if err := json.Unmarshal(data, &req); err != nil {
		g.sendErrorEvent(conn, chat.CodeValidation, "malformed payload")
		return
	}
	payload, err := g.chat.Close(ctx, conn.userID, req.ConversationID)
	if err != nil {
		g.sendServiceError(conn, err)
		return
	}
	// A repeat close broadcasts nothing, so acknowledge the caller directly.
	if payload.ClosedBy == nil {
		conn.send(room.Event{Name: chat.EventConversationClosed, Data: payload})
	}
}

// sendServiceError translates a service error into an in-channel error
// event. Infrastructure failures are logged server-side only; the client
// sees silence rather than a leaked internal.
func (g *Gateway) sendServiceError(conn *connection, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		g.sendErrorEvent(conn, chat.CodeValidation, err.Error())
	case errors.Is(err, chat.ErrForbidden):
		g.sendErrorEvent(conn, chat.CodeForbidden, "operation not allowed")
	default:
		conn.logger.Error("event handling failed", "error", err)
	}
}

func (g *Gateway) sendErrorEvent(conn *connection, code, message string) {
	g.metrics.errorSent(code)
	if !conn.send(room.Event{Name: chat.EventError, Data: &chat.ErrorPayload{Code: code, Message: message}}) {
		g.metrics.eventDropped()
	}
}
