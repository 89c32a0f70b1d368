// ABOUTME: Client-side timeline that reconciles optimistic sends with server events
// ABOUTME: Entries carry an explicit pending/confirmed state, never a sign convention

package client

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillswap/chat-gateway/internal/chat"
)

// seenLimit bounds the dedupe set. Oldest ids are evicted first; a timeline
// never holds more live history than this in practice.
const seenLimit = 4096

// EntryState tags a timeline entry as locally optimistic or server-confirmed.
type EntryState int

const (
	StatePending EntryState = iota
	StateConfirmed
)

// Entry is one message in the local timeline. While pending it is known only
// by its TempID; once the server echo arrives it carries the real ID.
type Entry struct {
	State     EntryState
	TempID    uuid.UUID
	ID        int64
	Sender    *chat.UserSummary
	Content   string
	CreatedAt time.Time
}

// Timeline holds one conversation's messages as the local user sees them:
// optimistic sends appear immediately, server events confirm or extend, and
// every inbound message is deduplicated by its true identifier.
type Timeline struct {
	mu      sync.Mutex
	selfID  int64
	entries []Entry

	seen      map[int64]struct{}
	seenOrder *list.List
}

// NewTimeline creates a timeline for the given local user.
func NewTimeline(selfID int64) *Timeline {
	return &Timeline{
		selfID:    selfID,
		seen:      make(map[int64]struct{}),
		seenOrder: list.New(),
	}
}

// AppendLocal inserts an optimistic message and returns its placeholder id.
// The caller shows the entry immediately and then issues the actual send.
func (t *Timeline) AppendLocal(sender *chat.UserSummary, content string) uuid.UUID {
	tempID := uuid.New()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		State:     StatePending,
		TempID:    tempID,
		Sender:    sender,
		Content:   content,
		CreatedAt: time.Now(),
	})
	return tempID
}

// Apply folds one message:new event into the timeline. Self-echoes confirm
// the oldest pending entry instead of appending; sends are matched by sender
// identity, never by content. Returns true when the visible timeline changed.
func (t *Timeline) Apply(msg *chat.MessageView) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isSeen(msg.ID) {
		return false
	}
	t.markSeen(msg.ID)

	if msg.Sender != nil && msg.Sender.ID == t.selfID {
		if t.confirmOldestPending(msg) {
			return true
		}
		// Echo for a send this timeline never staged (another device, or a
		// reconnect). Fall through and append it as confirmed.
	}

	t.entries = append(t.entries, Entry{
		State:     StateConfirmed,
		ID:        msg.ID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	})
	return true
}

// ApplyHistory prepends an older page, skipping anything already present.
// Pages arrive chronological, so relative order within the page is kept.
func (t *Timeline) ApplyHistory(page *chat.HistoryPage) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := make([]Entry, 0, len(page.Messages))
	for _, msg := range page.Messages {
		if t.isSeen(msg.ID) {
			continue
		}
		t.markSeen(msg.ID)
		added = append(added, Entry{
			State:     StateConfirmed,
			ID:        msg.ID,
			Sender:    msg.Sender,
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	if len(added) > 0 {
		t.entries = append(added, t.entries...)
	}
	return len(added)
}

// Entries returns a snapshot of the timeline in display order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// PendingCount reports how many optimistic entries still await their echo.
func (t *Timeline) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.State == StatePending {
			n++
		}
	}
	return n
}

// confirmOldestPending upgrades the first pending entry in place. Pending
// sends confirm in FIFO order because the server serializes one connection's
// sends. Must be called with mu held.
func (t *Timeline) confirmOldestPending(msg *chat.MessageView) bool {
	for i := range t.entries {
		if t.entries[i].State != StatePending {
			continue
		}
		t.entries[i] = Entry{
			State:     StateConfirmed,
			ID:        msg.ID,
			Sender:    msg.Sender,
			Content:   t.entries[i].Content,
			CreatedAt: msg.CreatedAt,
		}
		return true
	}
	return false
}

func (t *Timeline) isSeen(id int64) bool {
	_, ok := t.seen[id]
	return ok
}

// markSeen records a server id, evicting the oldest entry once the set is
// full. Must be called with mu held.
func (t *Timeline) markSeen(id int64) {
	if len(t.seen) >= seenLimit {
		if front := t.seenOrder.Front(); front != nil {
			delete(t.seen, front.Value.(int64))
			t.seenOrder.Remove(front)
		}
	}
	t.seen[id] = struct{}{}
	t.seenOrder.PushBack(id)
}
