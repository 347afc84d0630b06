package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/andresmv/credithub/internal/observability"
	"github.com/andresmv/credithub/internal/pubsub"
)

// Hub tracks websocket sessions and fans application updates out to them.
// Delivery is best effort: a slow or dead session is evicted, never waited
// on.
type Hub struct {
	logger *slog.Logger
	prom   *observability.Prom

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

func NewHub(logger *slog.Logger, prom *observability.Prom) *Hub {
	return &Hub{
		logger:   logger,
		prom:     prom,
		sessions: make(map[*Session]struct{}),
	}
}

func (h *Hub) add(s *Session) {
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	n := len(h.sessions)
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.WsConnections.Set(float64(n))
	}
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	delete(h.sessions, s)
	n := len(h.sessions)
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.WsConnections.Set(float64(n))
	}
}

// Broadcast delivers an update to every interested session. Sessions with
// explicit subscriptions receive only matching applications; sessions with
// none receive the whole stream.
func (h *Hub) Broadcast(update pubsub.Update) {
	b, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("ws.marshal_failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		if s.wants(update.Data.ID) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.trySend(b) {
			h.logger.Debug("ws.session_evicted", "reason", "send_buffer_full")
			s.close()
		}
	}
}

// ServeConn runs one session to completion. Intended to be called from the
// HTTP handler after the upgrade.
func (h *Hub) ServeConn(ctx context.Context, conn Conn) {
	s := newSession(conn, h.logger)

	h.add(s)
	defer func() {
		h.remove(s)
		s.close()
	}()

	s.run(ctx)
}

// Count reports active sessions, for health payloads.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
