// ABOUTME: Service is the central layer for message send, close, and authorization
// ABOUTME: Persists first, broadcasts only after the write is durable

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/skillswap/chat-gateway/internal/room"
	"github.com/skillswap/chat-gateway/internal/store"
)

// Service-level errors, mapped to the wire taxonomy by the transport layer
var (
	// ErrValidation covers malformed input: bad id shape, empty or oversized content
	ErrValidation = errors.New("validation failed")
	// ErrForbidden covers every authorization failure without distinguishing why
	ErrForbidden = errors.New("forbidden")
)

// persistTimeout bounds detached persistence writes. Once a send begins
// persisting it runs to completion even if the connection goes away.
const persistTimeout = 5 * time.Second

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	GetConversationState(ctx context.Context, id int64) (*store.ConversationState, error)
	GetConversationForUser(ctx context.Context, id, userID int64) (*store.Conversation, error)
	IsParticipant(ctx context.Context, userID, conversationID int64) (bool, error)
	Participants(ctx context.Context, conversationID int64) ([]*store.User, error)
	CloseConversation(ctx context.Context, id int64) error
	CreateMessage(ctx context.Context, msg *store.Message) error
	ListMessagesBefore(ctx context.Context, conversationID, cursor int64, limit int) ([]*store.Message, error)
	HasFollow(ctx context.Context, followerID, followedID int64) (bool, error)
	GetRating(ctx context.Context, raterID, ratedID int64) (*int, error)
}

// Publisher defines what the service needs from the room layer
type Publisher interface {
	Publish(topic string, event room.Event)
}

// Service validates, persists and fans out conversation activity.
// Broadcasts only ever happen after the corresponding write has durably
// succeeded; a failed write is logged server-side and nothing is emitted.
type Service struct {
	store  ConversationStore
	rooms  Publisher
	logger *slog.Logger
}

// New creates a conversation service
func New(store ConversationStore, rooms Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		rooms:  rooms,
		logger: logger.With("component", "chat"),
	}
}

// Authorize checks that a user may join a conversation. Returns
// ErrValidation for a malformed id, ErrForbidden when no participant link
// exists. Checked against the store on every call; membership is never
// cached across reconnects.
func (s *Service) Authorize(ctx context.Context, userID, conversationID int64) error {
	if conversationID <= 0 {
		return fmt.Errorf("%w: conversation id must be a positive integer", ErrValidation)
	}

	ok, err := s.store.IsParticipant(ctx, userID, conversationID)
	if err != nil {
		return fmt.Errorf("checking participant link: %w", err)
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// ValidateConversationID checks the id shape alone, used by leave where no
// authorization check applies.
func ValidateConversationID(conversationID int64) error {
	if conversationID <= 0 {
		return fmt.Errorf("%w: conversation id must be a positive integer", ErrValidation)
	}
	return nil
}

// Send validates, persists and broadcasts a new message from senderID.
//
// Fan-out after the durable write:
//   - message:new to the conversation topic (active viewers)
//   - conversation:new to the receiver's personal topic, only when this was
//     the first message ever in the conversation
//   - conversation:updated to every participant's personal topic, so list
//     views refresh even for participants not currently viewing
func (s *Service) Send(ctx context.Context, senderID, conversationID int64, content string) (*MessageView, error) {
	// 1. Validate input; no side effects on failure
	if conversationID <= 0 {
		return nil, fmt.Errorf("%w: conversation id must be a positive integer", ErrValidation)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: message content is empty", ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return nil, fmt.Errorf("%w: message content exceeds %d characters", ErrValidation, MaxContentLength)
	}

	// 2. Load conversation, participant links and message count in one shot
	state, err := s.store.GetConversationState(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	// 3+4. Closed, absent and non-participant all surface identically
	if state.Conversation.Status == store.StatusClose {
		return nil, ErrForbidden
	}
	var sender, receiver *store.User
	for _, p := range state.Participants {
		if p.ID == senderID {
			sender = p
		} else {
			receiver = p
		}
	}
	if sender == nil || receiver == nil {
		return nil, ErrForbidden
	}

	// 5+6. Persist message and conversation timestamp atomically. The write
	// uses a detached context: once persistence begins it is never abandoned
	// mid-write, even if the caller disconnects.
	msg := &store.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiver.ID,
		Content:        content,
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.CreateMessage(saveCtx, msg); err != nil {
		s.logger.Error("failed to save message",
			"error", err,
			"conversation_id", conversationID,
			"sender_id", senderID)
		return nil, fmt.Errorf("saving message: %w", err)
	}

	view := &MessageView{
		ID:             msg.ID,
		ConversationID: conversationID,
		Sender:         Summary(sender),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}

	s.logger.Debug("message sent",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"sender_id", senderID,
		"receiver_id", receiver.ID)

	// 7. Broadcast to active viewers
	s.rooms.Publish(room.ConversationTopic(conversationID), room.Event{
		Name: EventMessageNew,
		Data: &MessagePayload{ConversationID: conversationID, Message: view},
	})

	// 8. First message ever: notify the receiver's personal topic only
	if state.MessageCount == 0 {
		s.rooms.Publish(room.UserTopic(receiver.ID), room.Event{
			Name: EventConversationNew,
			Data: &NewConversationPayload{
				Conversation: s.conversationSummary(ctx, state.Conversation, sender, receiver, view),
			},
		})
	}

	// 9. Refresh every participant's conversation list
	for _, p := range state.Participants {
		s.rooms.Publish(room.UserTopic(p.ID), room.Event{
			Name: EventConversationUpdated,
			Data: &UpdatedPayload{ConversationID: conversationID, LastMessage: view},
		})
	}

	return view, nil
}

// Close transitions a conversation to closed and fans the transition out to
// the conversation topic and every participant's personal topic. Closing an
// already-closed conversation performs no write and no broadcast; the
// returned payload has a nil ClosedBy and the transport delivers it to the
// caller alone.
func (s *Service) Close(ctx context.Context, userID, conversationID int64) (*ClosedPayload, error) {
	if conversationID <= 0 {
		return nil, fmt.Errorf("%w: conversation id must be a positive integer", ErrValidation)
	}

	// Load filtered by caller participation: nonexistent and not-a-member
	// are indistinguishable
	conv, err := s.store.GetConversationForUser(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	if conv.Status == store.StatusClose {
		return &ClosedPayload{ConversationID: conversationID, ClosedBy: nil}, nil
	}

	participants, err := s.store.Participants(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.CloseConversation(saveCtx, conversationID); err != nil {
		s.logger.Error("failed to close conversation",
			"error", err,
			"conversation_id", conversationID,
			"user_id", userID)
		return nil, fmt.Errorf("closing conversation: %w", err)
	}

	var closedBy *UserSummary
	for _, p := range participants {
		if p.ID == userID {
			closedBy = Summary(p)
		}
	}

	payload := &ClosedPayload{ConversationID: conversationID, ClosedBy: closedBy}
	event := room.Event{Name: EventConversationClosed, Data: payload}

	s.rooms.Publish(room.ConversationTopic(conversationID), event)
	for _, p := range participants {
		s.rooms.Publish(room.UserTopic(p.ID), event)
	}

	s.logger.Info("conversation closed",
		"conversation_id", conversationID,
		"closed_by", userID)

	return payload, nil
}

// conversationSummary assembles the conversation:new payload, enriched with
// the receiver's follow and rating status toward the sender. A failed lookup
// degrades to the zero value rather than dropping the event.
func (s *Service) conversationSummary(ctx context.Context, conv *store.Conversation, sender, receiver *store.User, last *MessageView) *ConversationSummary {
	followed, err := s.store.HasFollow(ctx, receiver.ID, sender.ID)
	if err != nil {
		s.logger.Error("failed to load follow status",
			"error", err, "follower_id", receiver.ID, "followed_id", sender.ID)
	}
	rating, err := s.store.GetRating(ctx, receiver.ID, sender.ID)
	if err != nil {
		s.logger.Error("failed to load rating status",
			"error", err, "rater_id", receiver.ID, "rated_id", sender.ID)
	}

	return &ConversationSummary{
		ID:          conv.ID,
		Title:       conv.Title,
		Status:      string(conv.Status),
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   last.CreatedAt, // the message write bumped the conversation timestamp
		Partner:     Summary(sender),
		IsFollowed:  followed,
		Rating:      rating,
		LastMessage: last,
	}
}
