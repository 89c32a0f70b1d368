// ABOUTME: Tests for client event dispatch over a live websocket
// ABOUTME: Exercises join/leave/send/close flows and the error taxonomy

package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/chat-gateway/internal/chat"
	"github.com/skillswap/chat-gateway/internal/store"
)

func decodeError(t *testing.T, ev serverEvent) chat.ErrorPayload {
	t.Helper()
	require.Equal(t, chat.EventError, ev.Event)
	var payload chat.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	return payload
}

func TestDispatch_UnknownEvent(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(f.alice.ID)

	sendEvent(t, ws, "conversation:rename", map[string]any{"conversationId": f.conv.ID})

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeValidation, payload.Code)
	require.Equal(t, "unknown event", payload.Message)
}

func TestDispatch_MalformedFrame(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(f.alice.ID)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeValidation, payload.Code)
	require.Equal(t, "malformed event", payload.Message)
}

func TestJoin_MalformedPayload(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(f.alice.ID)

	sendEvent(t, ws, chat.EventConversationJoin, map[string]any{"conversationId": "seven"})

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeValidation, payload.Code)
}

func TestJoin_NonParticipantGetsForbidden(t *testing.T) {
	f := newWSFixture(t)

	mallory := &store.User{DisplayName: "Mallory"}
	require.NoError(t, f.store.CreateUser(context.Background(), mallory))
	ws := f.dial(mallory.ID)

	sendEvent(t, ws, chat.EventConversationJoin, map[string]any{"conversationId": f.conv.ID})

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeForbidden, payload.Code)
	require.Equal(t, "operation not allowed", payload.Message)
}

func TestJoin_NonexistentConversationGetsForbidden(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(f.alice.ID)

	sendEvent(t, ws, chat.EventConversationJoin, map[string]any{"conversationId": 9999})

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeForbidden, payload.Code)
}

func TestJoin_ZeroIDIsValidationNotForbidden(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(f.alice.ID)

	sendEvent(t, ws, chat.EventConversationJoin, map[string]any{"conversationId": 0})

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeValidation, payload.Code)
}

func TestSend_EmptyContentValidation(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(f.alice.ID)
	joinConversation(t, ws, f.conv.ID)

	sendEvent(t, ws, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID,
		"message":        "   ",
	})

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeValidation, payload.Code)
}

func TestSend_ClosedConversationForbidden(t *testing.T) {
	f := newWSFixture(t)
	require.NoError(t, f.store.CloseConversation(context.Background(), f.conv.ID))

	ws := f.dial(f.alice.ID)
	sendEvent(t, ws, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID,
		"message":        "too late",
	})

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeForbidden, payload.Code)
}

func TestSend_WithoutJoiningStillDelivers(t *testing.T) {
	f := newWSFixture(t)

	aliceWS := f.dial(f.alice.ID)
	bobWS := f.dial(f.bob.ID)
	joinConversation(t, bobWS, f.conv.ID)

	// Sending requires participation, not room membership.
	sendEvent(t, aliceWS, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID,
		"message":        "drive-by",
	})

	ev := readEvent(t, bobWS)
	require.Equal(t, chat.EventMessageNew, ev.Event)
	var payload chat.MessagePayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	require.Equal(t, "drive-by", payload.Message.Content)
	require.Equal(t, f.alice.ID, payload.Message.Sender.ID)
}

func TestLeave_StopsRoomDeliveryButNotPersonalTopic(t *testing.T) {
	f := newWSFixture(t)

	aliceWS := f.dial(f.alice.ID)
	bobWS := f.dial(f.bob.ID)
	joinConversation(t, aliceWS, f.conv.ID)
	joinConversation(t, bobWS, f.conv.ID)

	sendEvent(t, aliceWS, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID, "message": "before leave",
	})
	require.Equal(t, chat.EventMessageNew, readEvent(t, bobWS).Event)
	require.Equal(t, chat.EventConversationNew, readEvent(t, bobWS).Event)
	require.Equal(t, chat.EventConversationUpdated, readEvent(t, bobWS).Event)

	sendEvent(t, bobWS, chat.EventConversationLeave, map[string]any{"conversationId": f.conv.ID})

	// No leave ack exists; a join ack on the same connection proves the
	// earlier leave frame was processed before alice sends again.
	other, err := f.store.CreateConversation(context.Background(), "Sync", f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	joinConversation(t, bobWS, other.ID)

	sendEvent(t, aliceWS, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID, "message": "after leave",
	})

	ev := readEvent(t, bobWS)
	require.Equal(t, chat.EventConversationUpdated, ev.Event)
	var updated chat.UpdatedPayload
	require.NoError(t, json.Unmarshal(ev.Data, &updated))
	require.Equal(t, "after leave", updated.LastMessage.Content)
	expectNoEvent(t, bobWS)
}

func TestLeave_UnjoinedConversationIsNoOp(t *testing.T) {
	f := newWSFixture(t)
	ws := f.dial(f.alice.ID)

	sendEvent(t, ws, chat.EventConversationLeave, map[string]any{"conversationId": f.conv.ID})
	expectNoEvent(t, ws)
}

func TestClose_BroadcastsToRoomAndParticipants(t *testing.T) {
	f := newWSFixture(t)

	aliceWS := f.dial(f.alice.ID)
	bobWS := f.dial(f.bob.ID)
	joinConversation(t, aliceWS, f.conv.ID)
	joinConversation(t, bobWS, f.conv.ID)

	sendEvent(t, aliceWS, chat.EventConversationClose, map[string]any{"conversationId": f.conv.ID})

	// Joined clients hear it twice: once through the room, once through
	// their personal topic.
	for _, ws := range []*websocket.Conn{aliceWS, bobWS} {
		ev := readEvent(t, ws)
		require.Equal(t, chat.EventConversationClosed, ev.Event)
		var payload chat.ClosedPayload
		require.NoError(t, json.Unmarshal(ev.Data, &payload))
		require.Equal(t, f.conv.ID, payload.ConversationID)
		require.NotNil(t, payload.ClosedBy)
		require.Equal(t, f.alice.ID, payload.ClosedBy.ID)

		require.Equal(t, chat.EventConversationClosed, readEvent(t, ws).Event)
	}
}

func TestClose_RepeatAcksCallerOnly(t *testing.T) {
	f := newWSFixture(t)

	aliceWS := f.dial(f.alice.ID)
	bobWS := f.dial(f.bob.ID)
	joinConversation(t, bobWS, f.conv.ID)

	require.NoError(t, f.store.CloseConversation(context.Background(), f.conv.ID))

	sendEvent(t, aliceWS, chat.EventConversationClose, map[string]any{"conversationId": f.conv.ID})

	ev := readEvent(t, aliceWS)
	require.Equal(t, chat.EventConversationClosed, ev.Event)
	var payload chat.ClosedPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	require.Nil(t, payload.ClosedBy)

	expectNoEvent(t, bobWS)
}

func TestClose_NonParticipantForbidden(t *testing.T) {
	f := newWSFixture(t)

	mallory := &store.User{DisplayName: "Mallory"}
	require.NoError(t, f.store.CreateUser(context.Background(), mallory))
	ws := f.dial(mallory.ID)

	sendEvent(t, ws, chat.EventConversationClose, map[string]any{"conversationId": f.conv.ID})

	payload := decodeError(t, readEvent(t, ws))
	require.Equal(t, chat.CodeForbidden, payload.Code)
}
