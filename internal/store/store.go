// ABOUTME: Store interface and data types for chat-gateway persistence
// ABOUTME: Defines Conversation, Message, participant records and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ConversationStatus is the lifecycle state of a conversation.
// Transitions only ever go open -> close; a closed conversation is never reopened.
type ConversationStatus string

const (
	StatusOpen  ConversationStatus = "open"
	StatusClose ConversationStatus = "close"
)

// User is the public projection of a member consumed by this subsystem.
// Account management itself lives outside the gateway; the store only
// resolves ids to display summaries.
type User struct {
	ID          int64
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

// Conversation is a two-party exchange thread
type Conversation struct {
	ID        int64
	Title     string
	Status    ConversationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single persisted message within a conversation.
// IDs are assigned by the database and are monotonically increasing,
// which is what makes them usable as pagination cursors.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	ReceiverID     int64
	Content        string
	CreatedAt      time.Time
	UpdatedAt      *time.Time
}

// ConversationState is the single load the message channel needs before a
// send: the conversation row, its current participant links, and how many
// messages already exist (zero means the next send is the first message).
type ConversationState struct {
	Conversation *Conversation
	Participants []*User
	MessageCount int64
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Users (public summaries only)
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id int64) (*User, error)

	// Conversations and participant links
	CreateConversation(ctx context.Context, title string, userA, userB int64) (*Conversation, error)
	GetConversationState(ctx context.Context, id int64) (*ConversationState, error)
	GetConversationForUser(ctx context.Context, id, userID int64) (*Conversation, error)
	IsParticipant(ctx context.Context, userID, conversationID int64) (bool, error)
	Participants(ctx context.Context, conversationID int64) ([]*User, error)
	CloseConversation(ctx context.Context, id int64) error

	// Messages
	CreateMessage(ctx context.Context, msg *Message) error
	ListMessagesBefore(ctx context.Context, conversationID, cursor int64, limit int) ([]*Message, error)

	// Social lookups (read-only collaborators)
	HasFollow(ctx context.Context, followerID, followedID int64) (bool, error)
	GetRating(ctx context.Context, raterID, ratedID int64) (*int, error)

	// Close releases any resources held by the store
	Close() error
}
