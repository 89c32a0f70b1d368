// ABOUTME: Read-only follow and rating lookups used for conversation-creation events
// ABOUTME: The follow/rating records themselves are written by external subsystems

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HasFollow reports whether followerID follows followedID
func (s *SQLiteStore) HasFollow(ctx context.Context, followerID, followedID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM follows WHERE follower_id = ? AND followed_id = ?`,
		followerID, followedID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying follow: %w", err)
	}
	return true, nil
}

// GetRating returns the score raterID has given ratedID, or nil if no
// rating exists
func (s *SQLiteStore) GetRating(ctx context.Context, raterID, ratedID int64) (*int, error) {
	var score int
	err := s.db.QueryRowContext(ctx,
		`SELECT score FROM ratings WHERE rater_id = ? AND rated_id = ?`,
		raterID, ratedID).Scan(&score)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying rating: %w", err)
	}
	return &score, nil
}

// AddFollow records a follow edge. Exists for tests and local seeding; the
// production writer is the follow subsystem.
func (s *SQLiteStore) AddFollow(ctx context.Context, followerID, followedID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO follows (follower_id, followed_id, created_at) VALUES (?, ?, ?)`,
		followerID, followedID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting follow: %w", err)
	}
	return nil
}

// AddRating records a rating. Exists for tests and local seeding; the
// production writer is the rating subsystem.
func (s *SQLiteStore) AddRating(ctx context.Context, raterID, ratedID int64, score int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO ratings (rater_id, rated_id, score, created_at) VALUES (?, ?, ?, ?)`,
		raterID, ratedID, score, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("inserting rating: %w", err)
	}
	return nil
}
