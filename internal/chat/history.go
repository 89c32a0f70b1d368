// ABOUTME: Cursor-based history pagination over a conversation's messages
// ABOUTME: Pages walk backwards by id; responses are chronological for direct rendering

package chat

import (
	"context"
	"fmt"

	"github.com/skillswap/chat-gateway/internal/store"
)

// History returns a page of messages for a conversation, oldest to newest.
// The viewer must hold a participant link; otherwise the conversation is
// reported as not found (store.ErrNotFound), indistinguishable from a
// conversation that does not exist.
//
// cursor selects messages with id < cursor; zero means "newest page".
// NextCursor is the id of the oldest message in the page when older history
// remains, nil when the page exhausted it.
func (s *Service) History(ctx context.Context, viewerID, conversationID int64, limit int, cursor int64) (*HistoryPage, error) {
	if conversationID <= 0 {
		return nil, fmt.Errorf("%w: conversation id must be a positive integer", ErrValidation)
	}

	// Clamp limit to [1,100], default 50
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	ok, err := s.store.IsParticipant(ctx, viewerID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("checking participant link: %w", err)
	}
	if !ok {
		return nil, store.ErrNotFound
	}

	// Current links decide whether each message still shows its sender
	participants, err := s.store.Participants(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}
	summaries := make(map[int64]*UserSummary, len(participants))
	for _, p := range participants {
		summaries[p.ID] = Summary(p)
	}

	// Fetch one extra row to learn whether older history remains
	msgs, err := s.store.ListMessagesBefore(ctx, conversationID, cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	// Reverse the descending page into chronological order. A sender that
	// was later removed from the conversation is omitted from the
	// projection; the content is kept.
	views := make([]*MessageView, len(msgs))
	for i, m := range msgs {
		views[len(msgs)-1-i] = &MessageView{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Sender:         summaries[m.SenderID],
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		}
	}

	page := &HistoryPage{Messages: views}
	if hasMore && len(views) > 0 {
		oldest := views[0].ID
		page.NextCursor = &oldest
	}
	return page, nil
}
