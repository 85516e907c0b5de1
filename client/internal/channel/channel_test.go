package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"feedsync/client/internal/model"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

func nextEvent(t *testing.T, h Handle) Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatalf("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return Event{}
}

func TestDecodeNotification(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		payload string
		want    model.NotificationMessage
		ok      bool
	}{
		{name: "flat json", payload: `{"message":"bob created a new post"}`, want: model.NotificationMessage{Message: "bob created a new post"}, ok: true},
		{name: "with kind", payload: `{"message":"hi","kind":"post_created"}`, want: model.NotificationMessage{Message: "hi", Kind: "post_created"}, ok: true},
		{name: "event envelope", payload: `{"event":"notification","data":{"message":"alice followed you"}}`, want: model.NotificationMessage{Message: "alice followed you"}, ok: true},
		{name: "other event", payload: `{"event":"presence","data":{"message":"x"}}`, ok: false},
		{name: "plain text", payload: "alice followed you", want: model.NotificationMessage{Message: "alice followed you"}, ok: true},
		{name: "empty", payload: "  ", ok: false},
		{name: "json without message", payload: `{"foo":"bar"}`, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := DecodeNotification([]byte(tt.payload), now)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			tt.want.ReceivedAt = now
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestFilterKafkaMessage(t *testing.T) {
	now := time.Now()
	if _, ok := FilterKafkaMessage("u1", []byte("u2"), []byte(`{"message":"x"}`), now); ok {
		t.Fatalf("message for another user should be filtered")
	}
	msg, ok := FilterKafkaMessage("u1", []byte("u1"), []byte(`{"message":"x"}`), now)
	if !ok || msg.Message != "x" {
		t.Fatalf("expected message for u1, got %+v ok=%v", msg, ok)
	}
}

func TestKafkaReaderConfigPerIdentity(t *testing.T) {
	src := NewKafkaSource(KafkaConfig{Brokers: []string{"k:9092"}, Topic: "notifications", GroupID: "feedsync"}, nil)
	cfg := src.readerConfig("u1")
	if cfg.GroupID != "feedsync-u1" {
		t.Fatalf("unexpected group id %q", cfg.GroupID)
	}
	if cfg.Topic != "notifications" {
		t.Fatalf("unexpected topic %q", cfg.Topic)
	}
	if _, err := NewKafkaSource(KafkaConfig{}, nil).Open(context.Background(), "u1"); err == nil {
		t.Fatalf("expected error without brokers")
	}
}

func TestRedisChannelName(t *testing.T) {
	src := NewRedisSource(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), "", nil)
	if got := src.ChannelName("u1"); got != "notifications:u1" {
		t.Fatalf("unexpected channel name %q", got)
	}
}

func TestRedisSubscribeFailureIsErrorEvent(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	h, err := NewRedisSource(client, "n:", nil).Open(context.Background(), "u1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	if ev := nextEvent(t, h); ev.Kind != EventError {
		t.Fatalf("expected error event, got %s", ev.Kind)
	}
}

// mockNotificationServer 模拟推送服务端的 websocket 端点
type mockNotificationServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader
	conns    chan *websocket.Conn
	userIDs  chan string
}

func newMockNotificationServer() *mockNotificationServer {
	m := &mockNotificationServer{
		conns:   make(chan *websocket.Conn, 4),
		userIDs: make(chan string, 4),
	}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.userIDs <- r.URL.Query().Get("userId")
		conn, err := m.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.conns <- conn
	}))
	return m
}

func (m *mockNotificationServer) wsURL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http") + "/ws"
}

func (m *mockNotificationServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-m.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for websocket connection")
	}
	return nil
}

func TestWebSocketSourceLifecycle(t *testing.T) {
	mock := newMockNotificationServer()
	defer mock.server.Close()

	src := NewWebSocketSource(WebSocketConfig{URL: mock.wsURL(), HandshakeTimeout: time.Second}, nil)
	h, err := src.Open(context.Background(), "u1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	if ev := nextEvent(t, h); ev.Kind != EventConnect {
		t.Fatalf("expected connect, got %s", ev.Kind)
	}
	if got := <-mock.userIDs; got != "u1" {
		t.Fatalf("expected userId=u1, got %q", got)
	}

	server := mock.accept(t)
	if err := server.WriteMessage(websocket.TextMessage, []byte(`{"event":"notification","data":{"message":"bob created a new post"}}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	ev := nextEvent(t, h)
	if ev.Kind != EventNotification || ev.Notification.Message != "bob created a new post" {
		t.Fatalf("unexpected event %+v", ev)
	}

	_ = server.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	ev = nextEvent(t, h)
	if ev.Kind != EventDisconnect {
		t.Fatalf("expected disconnect, got %s", ev.Kind)
	}
	if !strings.Contains(ev.Reason, "1001") {
		t.Fatalf("expected close code in reason, got %q", ev.Reason)
	}
}

func TestWebSocketSourceDialFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	src := NewWebSocketSource(WebSocketConfig{URL: "ws" + strings.TrimPrefix(server.URL, "http")}, nil)
	h, err := src.Open(context.Background(), "u1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer h.Close()

	ev := nextEvent(t, h)
	if ev.Kind != EventError || ev.Err == nil {
		t.Fatalf("expected error event, got %+v", ev)
	}
	if !strings.Contains(ev.Err.Error(), "403") {
		t.Fatalf("expected status in error, got %v", ev.Err)
	}
}

func TestWebSocketCloseStopsEvents(t *testing.T) {
	mock := newMockNotificationServer()
	defer mock.server.Close()

	src := NewWebSocketSource(WebSocketConfig{URL: mock.wsURL()}, nil)
	h, err := src.Open(context.Background(), "u1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ev := nextEvent(t, h); ev.Kind != EventConnect {
		t.Fatalf("expected connect, got %s", ev.Kind)
	}
	mock.accept(t)

	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case _, ok := <-h.Events():
		if ok {
			t.Fatalf("expected events channel closed after Close")
		}
	case <-time.After(time.Second):
		t.Fatalf("events channel not closed")
	}
	// 幂等
	if err := h.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemorySourceJournal(t *testing.T) {
	src := NewMemorySource()
	h1, _ := src.Open(context.Background(), "u1")
	_ = h1.Close()
	_ = h1.Close()
	h2, _ := src.Open(context.Background(), "u2")

	want := []string{"open:u1", "close:u1", "open:u2"}
	got := src.Journal()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected journal %v, got %v", want, got)
	}
	if src.Live() != 1 {
		t.Fatalf("expected 1 live handle, got %d", src.Live())
	}

	mh := h2.(*MemoryHandle)
	mh.Notify("hello")
	if ev := nextEvent(t, h2); ev.Kind != EventNotification || ev.Notification.Message != "hello" {
		t.Fatalf("unexpected event %+v", ev)
	}

	src.FailOpen = errors.New("refused")
	if _, err := src.Open(context.Background(), "u3"); err == nil {
		t.Fatalf("expected open failure")
	}
}
