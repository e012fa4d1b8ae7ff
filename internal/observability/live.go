package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// LiveServer pushes a JSON-encoded Snapshot to every connected
// websocket client each time Broadcast is called, grounded on the
// teacher's gorilla/websocket signaling channel
// (mesh/transport/signaling_native.go) but as a fan-out server rather
// than a single-peer client.
type LiveServer struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu   sync.Mutex
	subs map[*websocket.Conn]struct{}
}

// NewLiveServer creates a LiveServer. A nil logger falls back to
// slog.Default.
func NewLiveServer(logger *slog.Logger) *LiveServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LiveServer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Observability is a local/operator-facing surface, not a
			// browser-facing one; same-origin checks don't apply.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "observability.live"),
		subs:   make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request to a websocket and registers it as a
// subscriber until a read from the connection fails.
func (s *LiveServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.subs[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	// Subscribers only ever receive; inbound data messages are read
	// and discarded, and the subscription ends once a read fails (the
	// close handshake or a dropped connection).
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Broadcast pushes snap as JSON to every currently connected
// subscriber, one after another, dropping (and closing) any
// connection whose write fails. Writes have no deadline, so a client
// that is slow to read delays the writes to the clients after it.
func (s *LiveServer) Broadcast(snap Snapshot) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.subs))
	for c := range s.subs {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(snap); err != nil {
			s.logger.Debug("dropping unresponsive subscriber", "error", err)
			s.mu.Lock()
			delete(s.subs, c)
			s.mu.Unlock()
			_ = c.Close()
		}
	}
}

// Subscribers reports the current subscriber count.
func (s *LiveServer) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Run broadcasts counters' current snapshot every interval until ctx
// is cancelled.
func (s *LiveServer) Run(ctx context.Context, counters *Counters, interval time.Duration, now func() time.Time) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Broadcast(counters.Snapshot(now()))
		}
	}
}
