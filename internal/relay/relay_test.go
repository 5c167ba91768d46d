package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/emperor-arena/internal/domain"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

func session(topic string, status domain.Status) domain.Session {
	sess := domain.NewSession()
	sess.Topic = topic
	sess.Status = status
	return sess
}

func TestHubKeepsNewestForSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	sub := hub.Subscribe()

	hub.Publish(session("a", domain.StatusLoading))
	hub.Publish(session("b", domain.StatusActive))
	hub.Publish(session("c", domain.StatusPaused))

	got := <-sub.C()
	require.Equal(t, "c", got.Topic)
	select {
	case extra := <-sub.C():
		t.Fatalf("unexpected extra snapshot %q", extra.Topic)
	default:
	}
}

func TestHubSubscribeReceivesLatest(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(session("seed", domain.StatusIdle))

	sub := hub.Subscribe()
	require.Equal(t, "seed", (<-sub.C()).Topic)
	require.Equal(t, 1, hub.Len())

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	require.Zero(t, hub.Len())

	hub.Publish(session("after", domain.StatusIdle))
	select {
	case <-sub.C():
		t.Fatal("unsubscribed subscriber received a snapshot")
	default:
	}
}

func TestSSEHandlerStreamsSnapshots(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(session("first", domain.StatusIdle))
	srv := httptest.NewServer(NewSSEHandler(hub, 20*time.Millisecond, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	next := func() string {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed")
			return line
		case <-time.After(2 * time.Second):
			t.Fatal("timed out reading SSE stream")
			return ""
		}
	}

	require.Equal(t, "retry: 5000", next())
	require.Equal(t, "", next())
	require.Equal(t, "event: session", next())
	data := next()
	require.True(t, strings.HasPrefix(data, "data: "))
	var got domain.Session
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &got))
	require.Equal(t, "first", got.Topic)

	var sawPing bool
	for i := 0; i < 20 && !sawPing; i++ {
		sawPing = next() == "event: ping"
	}
	require.True(t, sawPing)
}

func TestWebSocketHandlerPushesSnapshots(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(session("opening", domain.StatusIdle))
	srv := httptest.NewServer(NewWebSocketHandler(hub, []string{"*"}, nil))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })

	read := func() wsMessage {
		_, data, err := ws.Read(ctx)
		require.NoError(t, err)
		var msg wsMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}

	msg := read()
	require.Equal(t, "session", msg.Type)
	require.Equal(t, "opening", msg.Session.Topic)

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(session("opening", domain.StatusLoading))
	msg = read()
	require.Equal(t, domain.StatusLoading, msg.Session.Status)

	require.NoError(t, ws.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)))
	require.Equal(t, "pong", read().Type)
}

func TestWebSocketHandlerRejectsOrigin(t *testing.T) {
	hub := NewHub(nil)
	h := NewWebSocketHandler(hub, []string{"https://arena.example"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.Zero(t, hub.Len())
}
