// ABOUTME: End-to-end websocket tests over a real HTTP server and store
// ABOUTME: Covers handshake auth, personal-topic delivery and connection lifecycle

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/skillswap/chat-gateway/internal/auth"
	"github.com/skillswap/chat-gateway/internal/chat"
	"github.com/skillswap/chat-gateway/internal/room"
	"github.com/skillswap/chat-gateway/internal/store"
)

const readTimeout = 2 * time.Second

type wsFixture struct {
	t        *testing.T
	server   *httptest.Server
	store    *store.SQLiteStore
	verifier *auth.JWTVerifier

	alice *store.User
	bob   *store.User
	conv  *store.Conversation
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rooms := room.NewManager(logger)
	verifier := auth.NewJWTVerifier([]byte("test-secret"))
	gw := New(rooms, chat.New(st, rooms, logger), verifier, logger)

	server := httptest.NewServer(gw.Router())
	t.Cleanup(server.Close)

	ctx := context.Background()
	alice := &store.User{DisplayName: "Alice"}
	require.NoError(t, st.CreateUser(ctx, alice))
	bob := &store.User{DisplayName: "Bob"}
	require.NoError(t, st.CreateUser(ctx, bob))
	conv, err := st.CreateConversation(ctx, "Guitar lessons", alice.ID, bob.ID)
	require.NoError(t, err)

	return &wsFixture{t: t, server: server, store: st, verifier: verifier, alice: alice, bob: bob, conv: conv}
}

func (f *wsFixture) token(userID int64) string {
	f.t.Helper()
	token, err := f.verifier.Generate(userID, time.Hour)
	require.NoError(f.t, err)
	return token
}

func (f *wsFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws"
}

func (f *wsFixture) dial(userID int64) *websocket.Conn {
	f.t.Helper()
	header := http.Header{"Authorization": []string{"Bearer " + f.token(userID)}}
	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { _ = ws.Close() })
	return ws
}

type serverEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func sendEvent(t *testing.T, ws *websocket.Conn, name string, data any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]any{"event": name, "data": data}))
}

func readEvent(t *testing.T, ws *websocket.Conn) serverEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(readTimeout)))
	var ev serverEvent
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

// expectNoEvent asserts that nothing arrives within a short window.
func expectNoEvent(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var ev serverEvent
	err := ws.ReadJSON(&ev)
	require.Error(t, err, "unexpected event %q", ev.Event)
}

func joinConversation(t *testing.T, ws *websocket.Conn, conversationID int64) {
	t.Helper()
	sendEvent(t, ws, chat.EventConversationJoin, map[string]any{"conversationId": conversationID})
	ev := readEvent(t, ws)
	require.Equal(t, chat.EventConversationJoined, ev.Event)

	var payload chat.JoinedPayload
	require.NoError(t, json.Unmarshal(ev.Data, &payload))
	require.Equal(t, conversationID, payload.ConversationID)
}

func TestHandleWS_MissingTokenIsRefusedBeforeUpgrade(t *testing.T) {
	f := newWSFixture(t)

	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body, readErr := io.ReadAll(resp.Body)
	require.NoError(t, readErr)
	require.JSONEq(t, `{"error":"invalid credential"}`, string(body))
}

func TestHandleWS_GarbageTokenIsRefused(t *testing.T) {
	f := newWSFixture(t)

	header := http.Header{"Authorization": []string{"Bearer not-a-token"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandleWS_TokenAcceptedViaQueryParam(t *testing.T) {
	f := newWSFixture(t)

	ws, _, err := websocket.DefaultDialer.Dial(f.wsURL()+"?token="+f.token(f.alice.ID), nil)
	require.NoError(t, err)
	defer ws.Close()

	joinConversation(t, ws, f.conv.ID)
}

func TestPersonalTopic_FirstMessageReachesReceiver(t *testing.T) {
	f := newWSFixture(t)

	aliceWS := f.dial(f.alice.ID)
	bobWS := f.dial(f.bob.ID)

	// Join acks double as a sync barrier: once acked, the connection's
	// personal-topic subscription is live too.
	joinConversation(t, aliceWS, f.conv.ID)
	joinConversation(t, bobWS, f.conv.ID)

	sendEvent(t, aliceWS, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID,
		"message":        "hi, still up for Tuesday?",
	})

	// Bob sees the room broadcast, then the conversation-list events on his
	// personal topic, in publish order.
	ev := readEvent(t, bobWS)
	require.Equal(t, chat.EventMessageNew, ev.Event)

	ev = readEvent(t, bobWS)
	require.Equal(t, chat.EventConversationNew, ev.Event)
	var created chat.NewConversationPayload
	require.NoError(t, json.Unmarshal(ev.Data, &created))
	require.Equal(t, f.conv.ID, created.Conversation.ID)
	require.Equal(t, f.alice.ID, created.Conversation.Partner.ID)
	require.Equal(t, "hi, still up for Tuesday?", created.Conversation.LastMessage.Content)

	ev = readEvent(t, bobWS)
	require.Equal(t, chat.EventConversationUpdated, ev.Event)

	// The sender never gets conversation:new, only the room broadcast and
	// the list refresh.
	ev = readEvent(t, aliceWS)
	require.Equal(t, chat.EventMessageNew, ev.Event)
	ev = readEvent(t, aliceWS)
	require.Equal(t, chat.EventConversationUpdated, ev.Event)
	expectNoEvent(t, aliceWS)
}

func TestPersonalTopic_ReceiverNeedNotJoinTheRoom(t *testing.T) {
	f := newWSFixture(t)

	aliceWS := f.dial(f.alice.ID)
	bobWS := f.dial(f.bob.ID)

	joinConversation(t, aliceWS, f.conv.ID)
	// Bob stays out of the room; an unrelated join syncs his connection.
	other, err := f.store.CreateConversation(context.Background(), "Spanish practice", f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	joinConversation(t, bobWS, other.ID)

	sendEvent(t, aliceWS, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID,
		"message":        "first",
	})

	ev := readEvent(t, bobWS)
	require.Equal(t, chat.EventConversationNew, ev.Event)
	ev = readEvent(t, bobWS)
	require.Equal(t, chat.EventConversationUpdated, ev.Event)
}

func TestHandleWS_TwoConnectionsSameUserBothReceive(t *testing.T) {
	f := newWSFixture(t)

	aliceWS := f.dial(f.alice.ID)
	bobPhone := f.dial(f.bob.ID)
	bobLaptop := f.dial(f.bob.ID)

	joinConversation(t, aliceWS, f.conv.ID)
	joinConversation(t, bobPhone, f.conv.ID)
	joinConversation(t, bobLaptop, f.conv.ID)

	sendEvent(t, aliceWS, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID,
		"message":        "ping",
	})

	for _, ws := range []*websocket.Conn{bobPhone, bobLaptop} {
		ev := readEvent(t, ws)
		require.Equal(t, chat.EventMessageNew, ev.Event)
		var payload chat.MessagePayload
		require.NoError(t, json.Unmarshal(ev.Data, &payload))
		require.Equal(t, "ping", payload.Message.Content)
	}
}

func TestHandleWS_DisconnectCleansUpSubscriptions(t *testing.T) {
	f := newWSFixture(t)

	aliceWS := f.dial(f.alice.ID)
	bobWS := f.dial(f.bob.ID)
	joinConversation(t, aliceWS, f.conv.ID)
	joinConversation(t, bobWS, f.conv.ID)

	require.NoError(t, bobWS.Close())

	// Sending still works with one live subscriber; alice gets her events.
	sendEvent(t, aliceWS, chat.EventMessageSend, map[string]any{
		"conversationId": f.conv.ID,
		"message":        "anyone there?",
	})
	ev := readEvent(t, aliceWS)
	require.Equal(t, chat.EventMessageNew, ev.Event)
}
