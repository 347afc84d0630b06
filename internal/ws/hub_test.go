package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/andresmv/credithub/internal/pubsub"
)

type fakeConn struct {
	incoming chan []byte
	closed   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 8),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b, ok := <-c.incoming:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, b, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error { return nil }

func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drainServerMessages(t *testing.T, s *Session, want int) []serverMessage {
	t.Helper()
	msgs := make([]serverMessage, 0, want)
	for len(msgs) < want {
		select {
		case b := <-s.send:
			var msg serverMessage
			if err := json.Unmarshal(b, &msg); err != nil {
				t.Fatalf("unmarshal server message: %v", err)
			}
			msgs = append(msgs, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d messages", len(msgs), want)
		}
	}
	return msgs
}

func TestSessionDefaultsToFullStream(t *testing.T) {
	s := newSession(newFakeConn(), testLogger())

	if !s.wants("any-application") {
		t.Fatal("session without subscriptions should receive everything")
	}
}

func TestSessionSubscribeAndUnsubscribe(t *testing.T) {
	conn := newFakeConn()
	s := newSession(conn, testLogger())

	conn.incoming <- []byte(`{"action":"subscribe","application_id":"app-1"}`)
	conn.incoming <- []byte(`{"action":"ping"}`)
	conn.incoming <- []byte(`{"action":"unsubscribe","application_id":"app-1"}`)
	conn.incoming <- []byte(`not json`)
	conn.incoming <- []byte(`{"action":"dance"}`)
	close(conn.incoming)

	s.readLoop()

	msgs := drainServerMessages(t, s, 5)
	wantTypes := []string{"subscribed", "pong", "unsubscribed", "error", "error"}
	for i, want := range wantTypes {
		if msgs[i].Type != want {
			t.Errorf("message %d type = %q, want %q", i, msgs[i].Type, want)
		}
	}

	if !s.wants("anything") {
		t.Error("after unsubscribing the last filter the session is back on the full stream")
	}
}

func TestSessionFiltersAfterSubscribe(t *testing.T) {
	conn := newFakeConn()
	s := newSession(conn, testLogger())

	conn.incoming <- []byte(`{"action":"subscribe","application_id":"app-1"}`)
	close(conn.incoming)
	s.readLoop()

	if !s.wants("app-1") {
		t.Error("subscribed application should pass the filter")
	}
	if s.wants("app-2") {
		t.Error("unrelated application should be filtered out")
	}
}

func TestHubBroadcastRespectsSubscriptions(t *testing.T) {
	h := NewHub(testLogger(), nil)

	all := newSession(newFakeConn(), testLogger())
	filtered := newSession(newFakeConn(), testLogger())
	filtered.subscriptions["app-1"] = struct{}{}

	h.add(all)
	h.add(filtered)
	if h.Count() != 2 {
		t.Fatalf("Count = %d, want 2", h.Count())
	}

	h.Broadcast(pubsub.Update{
		Type: pubsub.TypeApplicationUpdate,
		Data: pubsub.UpdateData{ID: "app-2", Status: "APPROVED"},
	})

	if got := len(all.send); got != 1 {
		t.Errorf("unfiltered session received %d messages, want 1", got)
	}
	if got := len(filtered.send); got != 0 {
		t.Errorf("filtered session received %d messages, want 0", got)
	}

	h.Broadcast(pubsub.Update{
		Type: pubsub.TypeApplicationUpdate,
		Data: pubsub.UpdateData{ID: "app-1", Status: "REJECTED"},
	})

	if got := len(filtered.send); got != 1 {
		t.Errorf("filtered session received %d messages for its application, want 1", got)
	}
}

func TestHubEvictsBlockedSession(t *testing.T) {
	h := NewHub(testLogger(), nil)

	s := newSession(newFakeConn(), testLogger())
	h.add(s)

	for i := 0; i < sendBuffer; i++ {
		if !s.trySend([]byte("{}")) {
			t.Fatalf("fill write %d rejected", i)
		}
	}

	h.Broadcast(pubsub.Update{
		Type: pubsub.TypeApplicationUpdate,
		Data: pubsub.UpdateData{ID: "app-1", Status: "APPROVED"},
	})

	select {
	case <-s.done:
	default:
		t.Fatal("session with a full buffer should have been closed")
	}
}
