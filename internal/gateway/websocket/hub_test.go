package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plotline/internal/chat"
)

func newWsTestServer(t *testing.T, handler ChatHandler) (*Hub, string) {
	t.Helper()

	hub := NewHub()
	hub.SetChatHandler(handler)
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialWs(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestHub_PingPong(t *testing.T) {
	_, url := newWsTestServer(t, nil)
	conn := dialWs(t, url)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: TypePing}))
	frame := readFrame(t, conn)
	assert.Equal(t, TypePong, frame["type"])
}

func TestHub_ChatTurnRelay(t *testing.T) {
	handler := func(ctx context.Context, req chat.TurnRequest) (<-chan chat.Event, error) {
		events := make(chan chat.Event, 4)
		events <- chat.Event{Type: chat.EventReceived, ConversationID: "conv-1", MessageID: "msg-1"}
		events <- chat.Event{Type: chat.EventChunk, Delta: "Hel"}
		events <- chat.Event{Type: chat.EventChunk, Delta: "lo"}
		events <- chat.Event{Type: chat.EventComplete, ConversationID: "conv-1", MessageID: "msg-2", Content: "Hello"}
		close(events)
		return events, nil
	}

	_, url := newWsTestServer(t, handler)
	conn := dialWs(t, url)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: TypeChat, Message: "hi"}))

	frame := readFrame(t, conn)
	assert.Equal(t, chat.EventReceived, frame["type"])
	assert.Equal(t, "conv-1", frame["conversation_id"])

	frame = readFrame(t, conn)
	assert.Equal(t, chat.EventChunk, frame["type"])
	assert.Equal(t, "Hel", frame["delta"])

	frame = readFrame(t, conn)
	assert.Equal(t, "lo", frame["delta"])

	frame = readFrame(t, conn)
	assert.Equal(t, chat.EventComplete, frame["type"])
	assert.Equal(t, "Hello", frame["content"])
}

func TestHub_DisconnectMidStream(t *testing.T) {
	// The turn keeps emitting buffered events after the client is gone,
	// the way a buffered provider stream does; relaying them into a
	// disconnected client must not bring the hub down.
	handler := func(ctx context.Context, req chat.TurnRequest) (<-chan chat.Event, error) {
		events := make(chan chat.Event, 64)
		go func() {
			defer close(events)
			events <- chat.Event{Type: chat.EventReceived, ConversationID: "conv-1", MessageID: "msg-1"}
			for i := 0; i < 50; i++ {
				events <- chat.Event{Type: chat.EventChunk, Delta: "x"}
				time.Sleep(2 * time.Millisecond)
			}
			events <- chat.Event{Type: chat.EventComplete, Content: strings.Repeat("x", 50)}
		}()
		return events, nil
	}

	hub, url := newWsTestServer(t, handler)
	conn := dialWs(t, url)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: TypeChat, Message: "hi"}))
	readFrame(t, conn)
	readFrame(t, conn)
	conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	// The hub keeps serving new connections after the disconnect.
	conn2 := dialWs(t, url)
	require.NoError(t, conn2.WriteJSON(ClientFrame{Type: TypePing}))
	frame := readFrame(t, conn2)
	assert.Equal(t, TypePong, frame["type"])
}

func TestHub_EmptyMessageRejected(t *testing.T) {
	called := false
	handler := func(ctx context.Context, req chat.TurnRequest) (<-chan chat.Event, error) {
		called = true
		return nil, nil
	}

	_, url := newWsTestServer(t, handler)
	conn := dialWs(t, url)

	require.NoError(t, conn.WriteJSON(ClientFrame{Type: TypeChat}))
	frame := readFrame(t, conn)
	assert.Equal(t, chat.EventError, frame["type"])
	assert.Equal(t, "VALIDATION_FAILED", frame["code"])
	assert.False(t, called, "empty messages are rejected before dispatch")
}

func TestHub_MalformedFrame(t *testing.T) {
	_, url := newWsTestServer(t, nil)
	conn := dialWs(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, chat.EventError, frame["type"])
	assert.Equal(t, "INVALID_REQUEST", frame["code"])
}

func TestHub_ClientCount(t *testing.T) {
	hub, url := newWsTestServer(t, nil)
	conn := dialWs(t, url)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}
