package relay

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType string
		wantText string
	}{
		{
			name:     "valid transcription",
			raw:      `{"type":"transcription_finalized","text":"hello","meetingId":"m1"}`,
			wantType: "transcription_finalized",
			wantText: "hello",
		},
		{
			name:     "valid chat",
			raw:      `{"type":"chat","text":"hi"}`,
			wantType: "chat",
			wantText: "hi",
		},
		{
			name:     "malformed JSON wraps as chat",
			raw:      `not json at all`,
			wantType: "chat",
			wantText: "not json at all",
		},
		{
			name:     "JSON without type wraps as chat",
			raw:      `{"text":"orphan"}`,
			wantType: "chat",
			wantText: `{"text":"orphan"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ParseMessage([]byte(tt.raw))
			if msg.Type != tt.wantType {
				t.Errorf("Expected type %q, got %q", tt.wantType, msg.Type)
			}
			if msg.Text != tt.wantText {
				t.Errorf("Expected text %q, got %q", tt.wantText, msg.Text)
			}
		})
	}
}

func TestMeetingScoping(t *testing.T) {
	tests := []struct {
		name       string
		subScope   string
		msgScope   string
		wantListed bool
	}{
		{"both unscoped", "", "", true},
		{"unscoped subscriber sees scoped message", "", "m1", true},
		{"scoped subscriber sees unscoped message", "m1", "", true},
		{"matching meetings", "m1", "m1", true},
		{"different meetings", "m1", "m2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub(nil)
			var got []Message
			h.Subscribe(tt.subScope, func(m Message) { got = append(got, m) })

			h.Broadcast(Message{Type: "chat", Text: "hi", MeetingID: tt.msgScope})

			if tt.wantListed && len(got) != 1 {
				t.Errorf("Expected delivery, got %d messages", len(got))
			}
			if !tt.wantListed && len(got) != 0 {
				t.Errorf("Expected message filtered, got %d messages", len(got))
			}
		})
	}
}

func TestUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	count := 0
	unsub := h.Subscribe("", func(Message) { count++ })
	unsub()

	h.Broadcast(Message{Type: "chat", Text: "hi"})
	if count != 0 {
		t.Errorf("Expected no deliveries after unsubscribe, got %d", count)
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (s *fakeSender) Send(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func TestBroadcastReachesMirror(t *testing.T) {
	h := NewHub(nil)
	sender := &fakeSender{}
	h.SetMirror(sender)

	h.Broadcast(Message{Type: "chat", Text: "out"})

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("Expected 1 mirrored message, got %d", len(sender.sent))
	}
}

func TestRemoteDeliveryDoesNotEcho(t *testing.T) {
	h := NewHub(nil)
	sender := &fakeSender{}
	h.SetMirror(sender)

	var got []Message
	h.Subscribe("", func(m Message) { got = append(got, m) })

	h.DeliverRemote(Message{Type: "chat", Text: "from remote"})

	if len(got) != 1 {
		t.Fatalf("Expected local delivery of remote message, got %d", len(got))
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 0 {
		t.Errorf("Remote message must not echo back to the mirror, got %d", len(sender.sent))
	}
}

func TestMirrorSendFailureCounted(t *testing.T) {
	h := NewHub(nil)
	h.SetMirror(&fakeSender{err: fmt.Errorf("broken pipe")})

	h.Broadcast(Message{Type: "chat", Text: "out"})

	stats := h.GetStats()
	if stats.MirrorDrops != 1 {
		t.Errorf("Expected 1 mirror drop, got %d", stats.MirrorDrops)
	}
}

func TestConnectMirrorRejectsNonLoopback(t *testing.T) {
	h := NewHub(nil)
	tests := []string{
		"ws://example.com/ws",
		"ws://10.0.0.5:8081/ws",
		"http://localhost:8081/ws",
	}
	for _, u := range tests {
		if _, err := ConnectMirror(u, h, nil); err == nil {
			t.Errorf("Expected ConnectMirror to reject %q", u)
		}
	}
}

func TestConnectMirrorNoRetry(t *testing.T) {
	h := NewHub(nil)
	start := time.Now()
	// Nothing listens here; the single dial must fail fast.
	_, err := ConnectMirror("ws://127.0.0.1:1/ws", h, nil)
	if err == nil {
		t.Fatal("Expected dial failure")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Dial took %v, expected a single short attempt", elapsed)
	}
}

func TestMirrorRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan Message, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Errorf("Server read failed: %v", err)
			return
		}
		received <- msg

		// Push one message back down to the mirror.
		reply := Message{Type: "chat", Text: "pong"}
		if err := conn.WriteJSON(reply); err != nil {
			t.Errorf("Server write failed: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	h := NewHub(nil)
	local := make(chan Message, 4)
	h.Subscribe("", func(m Message) { local <- m })

	m, err := ConnectMirror(wsURL, h, nil)
	if err != nil {
		t.Fatalf("ConnectMirror failed: %v", err)
	}
	defer m.Close()

	h.Broadcast(Message{Type: "transcription_finalized", Text: "hello", MeetingID: "m1"})

	select {
	case got := <-received:
		if got.Text != "hello" || got.MeetingID != "m1" {
			t.Errorf("Server received unexpected message: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Relay server never received the broadcast")
	}

	select {
	case got := <-local:
		if got.Text != "pong" {
			t.Errorf("Expected remote reply %q, got %q", "pong", got.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Remote reply never reached local subscribers")
	}
}
