// ABOUTME: Tests for the conversation service send/close/authorize flows
// ABOUTME: Uses a real SQLite store and a capturing publisher to assert fan-out

package chat

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/chat-gateway/internal/room"
	"github.com/skillswap/chat-gateway/internal/store"
)

// capturePublisher records events by topic for assertions
type capturePublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	Topic string
	Event room.Event
}

func (c *capturePublisher) Publish(topic string, event room.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{Topic: topic, Event: event})
}

// on returns the events published to a topic with a given name
func (c *capturePublisher) on(topic, name string) []room.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []room.Event
	for _, e := range c.events {
		if e.Topic == topic && e.Event.Name == name {
			out = append(out, e.Event)
		}
	}
	return out
}

func (c *capturePublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type fixture struct {
	svc   *Service
	store *store.SQLiteStore
	pub   *capturePublisher
	conv  *store.Conversation
	alice int64
	bob   int64
}

// newFixture seeds two users and an open conversation between them
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	alice := &store.User{DisplayName: "Alice"}
	bob := &store.User{DisplayName: "Bob"}
	require.NoError(t, s.CreateUser(ctx, alice))
	require.NoError(t, s.CreateUser(ctx, bob))

	conv, err := s.CreateConversation(ctx, "Knife sharpening for photography tips", alice.ID, bob.ID)
	require.NoError(t, err)

	pub := &capturePublisher{}
	return &fixture{
		svc:   New(s, pub, nil),
		store: s,
		pub:   pub,
		conv:  conv,
		alice: alice.ID,
		bob:   bob.ID,
	}
}

func TestSend_ValidationFailuresHaveNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		convID  int64
		content string
	}{
		{"zero conversation id", 0, "hi"},
		{"negative conversation id", -1, "hi"},
		{"empty content", f.conv.ID, ""},
		{"whitespace only", f.conv.ID, "   \n\t "},
		{"oversized content", f.conv.ID, strings.Repeat("x", MaxContentLength+1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Send(ctx, f.alice, tc.convID, tc.content)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	// Nothing was persisted or broadcast
	state, err := f.store.GetConversationState(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Zero(t, state.MessageCount)
	assert.Zero(t, f.pub.count())
}

func TestSend_ContentAtLimitIsAccepted(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), f.alice, f.conv.ID, strings.Repeat("x", MaxContentLength))
	assert.NoError(t, err)
}

func TestSend_NonexistentConversationIsForbidden(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), f.alice, 9999, "hi")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, f.pub.count())
}

func TestSend_ClosedConversationIsForbiddenEvenForParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.CloseConversation(ctx, f.conv.ID))

	_, err := f.svc.Send(ctx, f.alice, f.conv.ID, "hi")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestSend_NonParticipantIsForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	carol := &store.User{DisplayName: "Carol"}
	require.NoError(t, f.store.CreateUser(ctx, carol))

	_, err := f.svc.Send(ctx, carol.ID, f.conv.ID, "let me in")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Zero(t, f.pub.count())
}

func TestSend_BroadcastsToConversationTopic(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Send(context.Background(), f.alice, f.conv.ID, "Hi")
	require.NoError(t, err)
	require.NotZero(t, view.ID)
	require.NotNil(t, view.Sender)
	assert.Equal(t, f.alice, view.Sender.ID)

	events := f.pub.on(room.ConversationTopic(f.conv.ID), EventMessageNew)
	require.Len(t, events, 1, "conversation topic should receive exactly one message:new")

	payload, ok := events[0].Data.(*MessagePayload)
	require.True(t, ok)
	assert.Equal(t, "Hi", payload.Message.Content)
	assert.Equal(t, f.conv.ID, payload.ConversationID)
}

func TestSend_FirstMessageNotifiesReceiverOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Bob follows Alice and has rated her; the receiver's relationship
	// toward the sender rides along on conversation:new
	require.NoError(t, f.store.AddFollow(ctx, f.bob, f.alice))
	require.NoError(t, f.store.AddRating(ctx, f.bob, f.alice, 5))

	_, err := f.svc.Send(ctx, f.alice, f.conv.ID, "Hi")
	require.NoError(t, err)

	// Scenario: receiver's personal topic gets conversation:new with the
	// first message as lastMessage
	events := f.pub.on(room.UserTopic(f.bob), EventConversationNew)
	require.Len(t, events, 1)

	payload, ok := events[0].Data.(*NewConversationPayload)
	require.True(t, ok)
	assert.Equal(t, "Hi", payload.Conversation.LastMessage.Content)
	assert.Equal(t, f.alice, payload.Conversation.Partner.ID)
	assert.True(t, payload.Conversation.IsFollowed)
	require.NotNil(t, payload.Conversation.Rating)
	assert.Equal(t, 5, *payload.Conversation.Rating)

	// Not to the sender, not to the conversation room
	assert.Empty(t, f.pub.on(room.UserTopic(f.alice), EventConversationNew))
	assert.Empty(t, f.pub.on(room.ConversationTopic(f.conv.ID), EventConversationNew))
}

func TestSend_ConversationNewFiresExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Send(ctx, f.alice, f.conv.ID, "first")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, f.bob, f.conv.ID, "second")
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, f.alice, f.conv.ID, "third")
	require.NoError(t, err)

	total := len(f.pub.on(room.UserTopic(f.alice), EventConversationNew)) +
		len(f.pub.on(room.UserTopic(f.bob), EventConversationNew))
	assert.Equal(t, 1, total, "conversation:new must fire on the first message only")
}

func TestSend_UpdatedGoesToEveryParticipant(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Send(context.Background(), f.alice, f.conv.ID, "ping")
	require.NoError(t, err)

	for _, userID := range []int64{f.alice, f.bob} {
		events := f.pub.on(room.UserTopic(userID), EventConversationUpdated)
		require.Len(t, events, 1, "user %d should receive conversation:updated", userID)

		payload, ok := events[0].Data.(*UpdatedPayload)
		require.True(t, ok)
		assert.Equal(t, "ping", payload.LastMessage.Content)
	}
}

func TestSend_TrimsContentBeforePersisting(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Send(context.Background(), f.alice, f.conv.ID, "  hello  \n")
	require.NoError(t, err)
	assert.Equal(t, "hello", view.Content)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	carol := &store.User{DisplayName: "Carol"}
	require.NoError(t, f.store.CreateUser(ctx, carol))

	assert.NoError(t, f.svc.Authorize(ctx, f.alice, f.conv.ID))
	assert.NoError(t, f.svc.Authorize(ctx, f.bob, f.conv.ID))
	assert.ErrorIs(t, f.svc.Authorize(ctx, carol.ID, f.conv.ID), ErrForbidden)
	assert.ErrorIs(t, f.svc.Authorize(ctx, f.alice, 9999), ErrForbidden)
	assert.ErrorIs(t, f.svc.Authorize(ctx, f.alice, 0), ErrValidation)
	assert.ErrorIs(t, f.svc.Authorize(ctx, f.alice, -4), ErrValidation)
}

func TestClose_ValidationAndAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Close(ctx, f.alice, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Close(ctx, f.alice, 9999)
	assert.ErrorIs(t, err, ErrForbidden)

	carol := &store.User{DisplayName: "Carol"}
	require.NoError(t, f.store.CreateUser(ctx, carol))
	_, err = f.svc.Close(ctx, carol.ID, f.conv.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestClose_BroadcastsToRoomAndAllParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, err := f.svc.Close(ctx, f.alice, f.conv.ID)
	require.NoError(t, err)
	require.NotNil(t, payload.ClosedBy)
	assert.Equal(t, f.alice, payload.ClosedBy.ID)

	// Scenario: conversation topic and both personal topics see the close,
	// attributed to the acting user
	topics := []string{
		room.ConversationTopic(f.conv.ID),
		room.UserTopic(f.alice),
		room.UserTopic(f.bob),
	}
	for _, topic := range topics {
		events := f.pub.on(topic, EventConversationClosed)
		require.Len(t, events, 1, "topic %s should receive conversation:closed", topic)

		got, ok := events[0].Data.(*ClosedPayload)
		require.True(t, ok)
		require.NotNil(t, got.ClosedBy)
		assert.Equal(t, f.alice, got.ClosedBy.ID)
	}

	state, err := f.store.GetConversationState(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusClose, state.Conversation.Status)
}

func TestClose_AlreadyClosedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Close(ctx, f.alice, f.conv.ID)
	require.NoError(t, err)

	before := f.pub.count()
	updatedAt := func() string {
		state, err := f.store.GetConversationState(ctx, f.conv.ID)
		require.NoError(t, err)
		return state.Conversation.UpdatedAt.String()
	}
	stamp := updatedAt()

	payload, err := f.svc.Close(ctx, f.bob, f.conv.ID)
	require.NoError(t, err)
	assert.Nil(t, payload.ClosedBy, "repeat close reports closedBy = null")
	assert.Equal(t, before, f.pub.count(), "repeat close must not broadcast")
	assert.Equal(t, stamp, updatedAt(), "repeat close must not write")
}
