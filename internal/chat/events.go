// ABOUTME: Wire event catalog and payload types for the conversation channel
// ABOUTME: Defines the error taxonomy and the projections sent to clients

package chat

import (
	"time"

	"github.com/skillswap/chat-gateway/internal/store"
)

// Client -> server event names
const (
	EventConversationJoin  = "conversation:join"
	EventConversationLeave = "conversation:leave"
	EventMessageSend       = "message:send"
	EventConversationClose = "conversation:close"
)

// Server -> client event names
const (
	EventConversationJoined  = "conversation:joined"
	EventMessageNew          = "message:new"
	EventConversationUpdated = "conversation:updated"
	EventConversationClosed  = "conversation:closed"
	EventConversationNew     = "conversation:new"
	EventError               = "error"
)

// Error codes carried in error events. FORBIDDEN deliberately covers "not a
// participant", "conversation closed" and "conversation does not exist" so
// the response never leaks which condition failed.
const (
	CodeForbidden  = "FORBIDDEN"
	CodeValidation = "VALIDATION"
)

// Message content limits
const (
	MaxContentLength = 2000
)

// History page limits
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// UserSummary is the public projection of a user included in events
type UserSummary struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// MessageView is a fully materialized message as sent to clients. Sender is
// nil when the sending user no longer holds a participant link; the content
// itself is never withheld.
type MessageView struct {
	ID             int64        `json:"id"`
	ConversationID int64        `json:"conversationId"`
	Sender         *UserSummary `json:"sender,omitempty"`
	Content        string       `json:"content"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// ConversationSummary is the payload of a conversation:new event: everything
// the receiver's conversation-list view needs to render the new entry,
// including the receiver's existing relationship toward the sender.
type ConversationSummary struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Partner     *UserSummary `json:"partner"`
	IsFollowed  bool         `json:"isFollowed"`
	Rating      *int         `json:"rating"`
	LastMessage *MessageView `json:"lastMessage"`
}

// JoinedPayload acknowledges a successful conversation:join
type JoinedPayload struct {
	ConversationID int64 `json:"conversationId"`
}

// MessagePayload carries a new message to conversation viewers
type MessagePayload struct {
	ConversationID int64        `json:"conversationId"`
	Message        *MessageView `json:"message"`
}

// UpdatedPayload refreshes conversation-list views for participants not
// currently viewing the conversation
type UpdatedPayload struct {
	ConversationID int64        `json:"conversationId"`
	LastMessage    *MessageView `json:"lastMessage"`
}

// ClosedPayload announces a conversation close. ClosedBy is nil when the
// conversation was already closed (idempotent repeat).
type ClosedPayload struct {
	ConversationID int64        `json:"conversationId"`
	ClosedBy       *UserSummary `json:"closedBy"`
}

// NewConversationPayload carries the conversation:new event to the
// receiver's personal topic
type NewConversationPayload struct {
	Conversation *ConversationSummary `json:"conversation"`
}

// ErrorPayload is the in-channel error event
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HistoryPage is the response of the message history endpoint. NextCursor is
// nil exactly when no older history remains.
type HistoryPage struct {
	Messages   []*MessageView `json:"messages"`
	NextCursor *int64         `json:"nextCursor"`
}

// Summary converts a stored user into its public projection
func Summary(u *store.User) *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		AvatarURL:   u.AvatarURL,
	}
}
