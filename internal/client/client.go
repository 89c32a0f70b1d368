// ABOUTME: Websocket client for the chat gateway with typed event delivery
// ABOUTME: Writes are serialized; inbound events surface on a single channel

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skillswap/chat-gateway/internal/chat"
)

const (
	dialTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	eventBufferSize = 64
)

// Event is one decoded server frame. Data stays raw; callers decode it with
// the payload type matching Name.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// Client is a connected chat session. Safe for concurrent use; all writes
// funnel through one mutex and all inbound events through Events().
type Client struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	events  chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects and authenticates against a gateway websocket endpoint.
// url is the ws:// or wss:// address of the upgrade route.
func Dial(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{"Authorization": []string{"Bearer " + token}}

	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("connection refused: invalid credential")
		}
		return nil, fmt.Errorf("dialing gateway: %w", err)
	}

	c := &Client{
		ws:     ws,
		logger: logger,
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers server events in arrival order. The channel closes when
// the connection drops or Close is called.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Join subscribes this connection to a conversation's live events. Room
// membership does not survive reconnects; call Join again after redialing.
func (c *Client) Join(conversationID int64) error {
	return c.write(chat.EventConversationJoin, map[string]any{"conversationId": conversationID})
}

// Leave unsubscribes from a conversation. Fire-and-forget; no ack arrives.
func (c *Client) Leave(conversationID int64) error {
	return c.write(chat.EventConversationLeave, map[string]any{"conversationId": conversationID})
}

// Send submits a message. Confirmation arrives as a message:new echo.
func (c *Client) Send(conversationID int64, message string) error {
	return c.write(chat.EventMessageSend, map[string]any{
		"conversationId": conversationID,
		"message":        message,
	})
}

// SendOptimistic stages the message on the timeline first so the UI shows it
// immediately, then submits it. Returns the placeholder id.
func (c *Client) SendOptimistic(tl *Timeline, self *chat.UserSummary, conversationID int64, message string) (uuid.UUID, error) {
	tempID := tl.AppendLocal(self, message)
	if err := c.Send(conversationID, message); err != nil {
		return tempID, err
	}
	return tempID, nil
}

// CloseConversation permanently closes a conversation for both participants.
func (c *Client) CloseConversation(conversationID int64) error {
	return c.write(chat.EventConversationClose, map[string]any{"conversationId": conversationID})
}

// Close tears down the connection. Pending events already decoded are still
// delivered before Events() closes.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Client) write(name string, data any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return fmt.Errorf("connection closed")
	default:
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		var ev Event
		if err := c.ws.ReadJSON(&ev); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("connection read ended", "error", err)
			}
			return
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}

// DecodeMessage decodes a message:new payload.
func DecodeMessage(ev Event) (*chat.MessagePayload, error) {
	return decodeAs[chat.MessagePayload](ev, chat.EventMessageNew)
}

// DecodeClosed decodes a conversation:closed payload.
func DecodeClosed(ev Event) (*chat.ClosedPayload, error) {
	return decodeAs[chat.ClosedPayload](ev, chat.EventConversationClosed)
}

// DecodeNewConversation decodes a conversation:new payload.
func DecodeNewConversation(ev Event) (*chat.NewConversationPayload, error) {
	return decodeAs[chat.NewConversationPayload](ev, chat.EventConversationNew)
}

// DecodeUpdated decodes a conversation:updated payload.
func DecodeUpdated(ev Event) (*chat.UpdatedPayload, error) {
	return decodeAs[chat.UpdatedPayload](ev, chat.EventConversationUpdated)
}

// DecodeError decodes an error payload.
func DecodeError(ev Event) (*chat.ErrorPayload, error) {
	return decodeAs[chat.ErrorPayload](ev, chat.EventError)
}

func decodeAs[T any](ev Event, want string) (*T, error) {
	if ev.Name != want {
		return nil, fmt.Errorf("event is %q, not %q", ev.Name, want)
	}
	var payload T
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", want, err)
	}
	return &payload, nil
}
