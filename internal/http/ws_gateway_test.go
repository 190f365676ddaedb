package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
)

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func startServer(t *testing.T, env *testEnv) string {
	t.Helper()
	srv := httptest.NewServer(env.router)
	t.Cleanup(func() {
		env.gateway.Shutdown()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, env *testEnv, wsURL, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+env.token(t, userID), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next lee el siguiente evento con el nombre dado, descartando los demás.
func next(t *testing.T, conn *websocket.Conn, name string) wireEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", name, err)
		}
		if ev.Event == name {
			return ev
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, name string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": name, "data": data}); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGateway_RejectsBeforeUpgrade(t *testing.T) {
	env := newTestEnv(t)
	wsURL := startServer(t, env)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected handshake failure without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL+"?token=garbage", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %v %v", resp, err)
	}
	if env.registry.Len() != 0 {
		t.Fatalf("rejected connections must not register")
	}
}

func TestGateway_SubprotocolToken(t *testing.T) {
	env := newTestEnv(t)
	wsURL := startServer(t, env)

	dialer := websocket.Dialer{Subprotocols: []string{"bearer", env.token(t, "alice")}}
	conn, resp, err := dialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.Header.Get("Sec-WebSocket-Protocol") != "bearer" {
		t.Fatalf("expected bearer subprotocol to be selected")
	}
	next(t, conn, "online_users")
}

func TestGateway_PresenceAndSelfDestruct(t *testing.T) {
	env := newTestEnv(t)
	wsURL := startServer(t, env)

	alice := dial(t, env, wsURL, "alice")
	var online []string
	if err := json.Unmarshal(next(t, alice, "online_users").Data, &online); err != nil {
		t.Fatalf("decode online users: %v", err)
	}
	if len(online) != 1 || online[0] != "alice" {
		t.Fatalf("unexpected online users %v", online)
	}

	bob := dial(t, env, wsURL, "bob")
	next(t, bob, "online_users")
	var joined struct {
		UserID string `json:"userId"`
	}
	_ = json.Unmarshal(next(t, alice, "user_connected").Data, &joined)
	if joined.UserID != "bob" {
		t.Fatalf("expected user_connected for bob, got %q", joined.UserID)
	}

	send(t, alice, "send_message", map[string]string{"recipientId": "bob", "content": "hello"})
	var received struct {
		ID                string `json:"id"`
		Content           string `json:"content"`
		SenderID          string `json:"senderId"`
		SelfDestructTimer *int   `json:"selfDestructTimer"`
	}
	if err := json.Unmarshal(next(t, bob, "receive_message").Data, &received); err != nil {
		t.Fatalf("decode receive_message: %v", err)
	}
	if received.Content != "hello" || received.SenderID != "alice" {
		t.Fatalf("unexpected message %+v", received)
	}
	if received.SelfDestructTimer == nil || *received.SelfDestructTimer != 30 {
		t.Fatalf("expected 30s self destruct timer")
	}
	next(t, alice, "message_sent")

	send(t, bob, "typing", map[string]string{"recipientId": "alice"})
	var typing struct {
		UserID string `json:"userId"`
	}
	_ = json.Unmarshal(next(t, alice, "user_typing").Data, &typing)
	if typing.UserID != "bob" {
		t.Fatalf("unexpected typing payload %+v", typing)
	}

	send(t, bob, "mark_as_read", map[string]string{"messageId": received.ID})
	var read struct {
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(next(t, alice, "message_read").Data, &read)
	if read.MessageID != received.ID {
		t.Fatalf("unexpected read receipt %+v", read)
	}

	waitFor(t, "self destruct timer", func() bool { return env.scheduler.Pending() == 1 })
	env.clock.Advance(30 * time.Second)

	for _, conn := range []*websocket.Conn{alice, bob} {
		var deleted struct {
			MessageID string `json:"messageId"`
		}
		_ = json.Unmarshal(next(t, conn, "message_deleted").Data, &deleted)
		if deleted.MessageID != received.ID {
			t.Fatalf("unexpected deleted id %q", deleted.MessageID)
		}
	}
	if env.store.Len() != 0 {
		t.Fatalf("expected message removed from store")
	}

	_ = bob.Close()
	var left struct {
		UserID string `json:"userId"`
	}
	_ = json.Unmarshal(next(t, alice, "user_disconnected").Data, &left)
	if left.UserID != "bob" {
		t.Fatalf("expected user_disconnected for bob, got %q", left.UserID)
	}
}

func TestGateway_ErrorsKeepConnectionOpen(t *testing.T) {
	env := newTestEnv(t)
	wsURL := startServer(t, env)
	alice := dial(t, env, wsURL, "alice")
	next(t, alice, "online_users")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(next(t, alice, "error").Data, &payload)
	if payload.Message != "invalid payload" {
		t.Fatalf("unexpected error %q", payload.Message)
	}

	send(t, alice, "shout", map[string]string{})
	_ = json.Unmarshal(next(t, alice, "error").Data, &payload)
	if payload.Message != "unknown event" {
		t.Fatalf("unexpected error %q", payload.Message)
	}

	send(t, alice, "send_message", map[string]string{"recipientId": "bob", "content": "   "})
	_ = json.Unmarshal(next(t, alice, "error").Data, &payload)
	if payload.Message != "invalid message" {
		t.Fatalf("unexpected error %q", payload.Message)
	}
	if env.store.Len() != 0 {
		t.Fatalf("invalid sends must not persist")
	}
}

func TestGateway_LastConnectionWins(t *testing.T) {
	env := newTestEnv(t)
	wsURL := startServer(t, env)

	bob := dial(t, env, wsURL, "bob")
	next(t, bob, "online_users")

	first := dial(t, env, wsURL, "alice")
	next(t, first, "online_users")
	next(t, bob, "user_connected")

	second := dial(t, env, wsURL, "alice")
	next(t, second, "online_users")
	next(t, bob, "user_connected")

	// La conexión reemplazada recibe el cierre.
	_ = first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	conn, ok := env.registry.Lookup("alice")
	if !ok || conn == nil {
		t.Fatalf("alice must stay online after the old connection closes")
	}

	send(t, second, "typing", map[string]string{"recipientId": "bob"})
	ev := next(t, bob, "user_typing")
	if ev.Event != "user_typing" {
		t.Fatalf("unexpected event %q", ev.Event)
	}
	if env.registry.Len() != 2 {
		t.Fatalf("expected two online users, got %d", env.registry.Len())
	}
}

func TestExtractToken(t *testing.T) {
	cases := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=abc" }, "abc"},
		{"authorization", func(r *http.Request) { r.Header.Set("Authorization", "bearer xyz") }, "xyz"},
		{"subprotocol", func(r *http.Request) { r.Header.Set("Sec-WebSocket-Protocol", "bearer, tok") }, "tok"},
		{"none", func(r *http.Request) {}, ""},
		{"bearer without token", func(r *http.Request) { r.Header.Set("Sec-WebSocket-Protocol", "bearer") }, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.setup(r)
			if got := extractToken(r); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
