package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// idleTimeout closes sessions that send nothing, not even a ping.
	idleTimeout = 60 * time.Second
	// pingInterval keeps intermediaries from reaping quiet connections.
	pingInterval = 20 * time.Second

	sendBuffer = 16
)

// Conn is the part of *websocket.Conn the session uses; tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

type clientMessage struct {
	Action        string `json:"action"`
	ApplicationID string `json:"application_id"`
}

type serverMessage struct {
	Type          string `json:"type"`
	ApplicationID string `json:"application_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

type Session struct {
	conn   Conn
	logger *slog.Logger

	mu            sync.Mutex
	subscriptions map[string]struct{}

	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn Conn, logger *slog.Logger) *Session {
	return &Session{
		conn:          conn,
		logger:        logger,
		subscriptions: make(map[string]struct{}),
		send:          make(chan []byte, sendBuffer),
		done:          make(chan struct{}),
	}
}

// wants reports whether the session should receive updates for this
// application. No subscriptions means the full stream.
func (s *Session) wants(applicationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.subscriptions) == 0 {
		return true
	}
	_, ok := s.subscriptions[applicationID]
	return ok
}

func (s *Session) trySend(b []byte) bool {
	select {
	case s.send <- b:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

func (s *Session) run(ctx context.Context) {
	go s.writeLoop(ctx)

	s.sendMessage(serverMessage{Type: "welcome"})
	s.readLoop()
}

func (s *Session) readLoop() {
	for {
		s.conn.SetReadDeadline(time.Now().Add(idleTimeout))

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.close()
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(serverMessage{Type: "error", Error: "malformed message"})
			continue
		}

		switch msg.Action {
		case "subscribe":
			if msg.ApplicationID == "" {
				s.sendMessage(serverMessage{Type: "error", Error: "application_id required"})
				continue
			}
			s.mu.Lock()
			s.subscriptions[msg.ApplicationID] = struct{}{}
			s.mu.Unlock()
			s.sendMessage(serverMessage{Type: "subscribed", ApplicationID: msg.ApplicationID})

		case "unsubscribe":
			s.mu.Lock()
			delete(s.subscriptions, msg.ApplicationID)
			s.mu.Unlock()
			s.sendMessage(serverMessage{Type: "unsubscribed", ApplicationID: msg.ApplicationID})

		case "ping":
			s.sendMessage(serverMessage{Type: "pong"})

		default:
			s.sendMessage(serverMessage{Type: "error", Error: "unknown action"})
		}
	}
}

func (s *Session) sendMessage(msg serverMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.trySend(b)
}

func (s *Session) writeLoop(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.close()
			return
		case <-s.done:
			return
		case b := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				s.close()
				return
			}
		case <-ping.C:
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}
