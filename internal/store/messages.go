// ABOUTME: Message persistence for the SQLite store
// ABOUTME: Transactional create (message + conversation timestamp) and cursor pagination

package store

import (
	"context"
	"fmt"
	"time"
)

// CreateMessage persists a message and bumps the owning conversation's
// updated_at as one atomic unit. Either both writes become durable or
// neither does; no reader can observe the message without the timestamp
// bump. The assigned id and creation time are written back into msg.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *Message) error {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, receiver_id, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Content, ts)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading message id: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		ts, msg.ConversationID); err != nil {
		return fmt.Errorf("updating conversation timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now

	s.logger.Debug("message saved",
		"message_id", id,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID)
	return nil
}

// ListMessagesBefore returns up to limit messages for a conversation,
// newest first. When cursor is positive only messages with id < cursor are
// returned; a zero cursor means "start from the newest". Callers that need
// chronological order reverse the page themselves.
func (s *SQLiteStore) ListMessagesBefore(ctx context.Context, conversationID, cursor int64, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, conversation_id, sender_id, receiver_id, content, created_at, updated_at
		FROM messages
		WHERE conversation_id = ?
	`
	args := []any{conversationID}

	if cursor > 0 {
		query += ` AND id < ?`
		args = append(args, cursor)
	}

	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg := &Message{}
		var createdAt string
		var updatedAt *string

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.ReceiverID,
			&msg.Content,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp: %w", err)
		}
		if updatedAt != nil {
			parsed, err := time.Parse(time.RFC3339, *updatedAt)
			if err != nil {
				return nil, fmt.Errorf("parsing message updated_at: %w", err)
			}
			msg.UpdatedAt = &parsed
		}

		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}
