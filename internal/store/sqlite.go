// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/participant persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single connection: pragmas apply to every statement and SQLite holds a
	// database-wide write lock regardless
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			display_name TEXT NOT NULL,
			avatar_url   TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			title      TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'open',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,

			CHECK (status IN ('open', 'close'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_updated
			ON conversations(updated_at DESC);

		CREATE TABLE IF NOT EXISTS participants (
			user_id         INTEGER NOT NULL,
			conversation_id INTEGER NOT NULL,
			created_at      TEXT NOT NULL,

			PRIMARY KEY (user_id, conversation_id),
			FOREIGN KEY (user_id) REFERENCES users(id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_participants_conversation
			ON participants(conversation_id);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			sender_id       INTEGER NOT NULL,
			receiver_id     INTEGER NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			updated_at      TEXT,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, id DESC);

		CREATE TABLE IF NOT EXISTS follows (
			follower_id INTEGER NOT NULL,
			followed_id INTEGER NOT NULL,
			created_at  TEXT NOT NULL,

			PRIMARY KEY (follower_id, followed_id)
		);

		CREATE TABLE IF NOT EXISTS ratings (
			rater_id   INTEGER NOT NULL,
			rated_id   INTEGER NOT NULL,
			score      INTEGER NOT NULL,
			created_at TEXT NOT NULL,

			PRIMARY KEY (rater_id, rated_id),
			CHECK (score BETWEEN 1 AND 5)
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// CreateUser persists a user summary. If user.ID is zero the database
// assigns one and the struct is updated in place.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if user.ID != 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO users (id, display_name, avatar_url, created_at) VALUES (?, ?, ?, ?)`,
			user.ID, user.DisplayName, user.AvatarURL, user.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("inserting user: %w", err)
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (display_name, avatar_url, created_at) VALUES (?, ?, ?)`,
		user.DisplayName, user.AvatarURL, user.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	user.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading user id: %w", err)
	}
	return nil
}

// GetUser retrieves a user summary by id
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	user := &User{}
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, avatar_url, created_at FROM users WHERE id = ?`, id).
		Scan(&user.ID, &user.DisplayName, &user.AvatarURL, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	user.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing user timestamp: %w", err)
	}
	return user, nil
}

// CreateConversation creates a conversation and both participant links in a
// single transaction. The two-participant shape is the invariant the rest of
// the gateway relies on to derive the receiver of a message.
func (s *SQLiteStore) CreateConversation(ctx context.Context, title string, userA, userB int64) (*Conversation, error) {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (title, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		title, string(StatusOpen), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading conversation id: %w", err)
	}

	for _, userID := range []int64{userA, userB} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (user_id, conversation_id, created_at) VALUES (?, ?, ?)`,
			userID, id, ts); err != nil {
			return nil, fmt.Errorf("inserting participant %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing conversation: %w", err)
	}

	s.logger.Debug("conversation created", "conversation_id", id, "user_a", userA, "user_b", userB)

	return &Conversation{
		ID:        id,
		Title:     title,
		Status:    StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetConversationState loads a conversation together with its current
// participant links and message count in one call. Returns ErrNotFound if
// the conversation does not exist.
func (s *SQLiteStore) GetConversationState(ctx context.Context, id int64) (*ConversationState, error) {
	conv, err := s.getConversation(ctx, id)
	if err != nil {
		return nil, err
	}

	participants, err := s.Participants(ctx, id)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, id).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	return &ConversationState{
		Conversation: conv,
		Participants: participants,
		MessageCount: count,
	}, nil
}

// GetConversationForUser loads a conversation only if userID holds a
// participant link for it. A missing conversation and a conversation the
// user is not part of are both reported as ErrNotFound, so callers cannot
// distinguish the two cases.
func (s *SQLiteStore) GetConversationForUser(ctx context.Context, id, userID int64) (*Conversation, error) {
	conv := &Conversation{}
	var status, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.title, c.status, c.created_at, c.updated_at
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE c.id = ? AND p.user_id = ?
	`, id, userID).Scan(&conv.ID, &conv.Title, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Status = ConversationStatus(status)
	if err := parseConversationTimes(conv, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return conv, nil
}

// IsParticipant reports whether userID holds a participant link for the conversation
func (s *SQLiteStore) IsParticipant(ctx context.Context, userID, conversationID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM participants WHERE user_id = ? AND conversation_id = ?`,
		userID, conversationID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying participant link: %w", err)
	}
	return true, nil
}

// Participants returns the user summaries currently linked to a conversation
func (s *SQLiteStore) Participants(ctx context.Context, conversationID int64) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.display_name, u.avatar_url, u.created_at
		FROM users u
		JOIN participants p ON p.user_id = u.id
		WHERE p.conversation_id = ?
		ORDER BY u.id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user := &User{}
		var createdAt string
		if err := rows.Scan(&user.ID, &user.DisplayName, &user.AvatarURL, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		user.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing participant timestamp: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating participant rows: %w", err)
	}
	return users, nil
}

// CloseConversation marks a conversation closed. Returns ErrNotFound if the
// conversation does not exist. Closing an already-closed conversation is a
// no-op at this layer; the caller decides idempotency semantics before
// calling.
func (s *SQLiteStore) CloseConversation(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`,
		string(StatusClose), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("closing conversation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("conversation closed", "conversation_id", id)
	return nil
}

// RemoveParticipant drops a participant link without touching the
// conversation or its messages. Leave semantics are driven by an external
// subsystem; this exists so tests can produce the "sender no longer a
// participant" projection case.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, userID, conversationID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE user_id = ? AND conversation_id = ?`,
		userID, conversationID)
	if err != nil {
		return fmt.Errorf("removing participant: %w", err)
	}
	return nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// getConversation loads a bare conversation row
func (s *SQLiteStore) getConversation(ctx context.Context, id int64) (*Conversation, error) {
	conv := &Conversation{}
	var status, createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, status, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&conv.ID, &conv.Title, &status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}

	conv.Status = ConversationStatus(status)
	if err := parseConversationTimes(conv, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return conv, nil
}

// parseConversationTimes fills the conversation timestamp fields from their
// stored RFC3339 representations
func parseConversationTimes(conv *Conversation, createdAt, updatedAt string) error {
	var err error
	conv.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return fmt.Errorf("parsing created_at: %w", err)
	}
	conv.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return fmt.Errorf("parsing updated_at: %w", err)
	}
	return nil
}
