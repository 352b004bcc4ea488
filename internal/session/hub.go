package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/samirrijal/civicmap/internal/adapters/liveview"
	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/core/usecases"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

// Hub tracks the live sessions of this process.
type Hub struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHub(deps Deps) *Hub {
	return &Hub{deps: deps, sessions: make(map[string]*Session)}
}

// Open creates and starts a session writing to out. An empty clientID gets a
// fresh one, which the session announces to the browser.
func (h *Hub) Open(ctx context.Context, clientID string, out liveview.Transport) *Session {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	h.mu.Lock()
	deps := h.deps
	h.mu.Unlock()
	s := newSession(ctx, uuid.NewString(), clientID, out, deps)

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	metrics.LiveSessionsActive.Inc()

	s.Start(ctx)
	return s
}

// SetPublisher installs the event publisher and report service for sessions
// opened from now on. The hub itself may be the publisher.
func (h *Hub) SetPublisher(events ports.EventPublisher, reports *usecases.ReportService) {
	h.mu.Lock()
	h.deps.Events = events
	h.deps.Reports = reports
	h.mu.Unlock()
}

// Close ends a session opened by this hub.
func (h *Hub) Close(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.id]
	delete(h.sessions, s.id)
	h.mu.Unlock()
	if !ok {
		return
	}
	metrics.LiveSessionsActive.Dec()
	s.Close()
}

// Count returns the number of open sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// IssueReported refreshes every live map showing the new issue. It is the
// handler for broker events and returns the number of maps refreshed.
func (h *Hub) IssueReported(ctx context.Context, ev *domain.IssueReported) int {
	h.mu.RLock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.RUnlock()

	n := 0
	for _, s := range list {
		if s.IssueReported(ctx, ev) {
			n++
		}
	}
	return n
}

// PublishIssueReported lets the hub stand in for the broker when none is
// configured: reports reach the live maps of this process only.
func (h *Hub) PublishIssueReported(ctx context.Context, ev *domain.IssueReported) error {
	h.IssueReported(ctx, ev)
	return nil
}

// PublishViewpointChanged is a no-op without a broker.
func (h *Hub) PublishViewpointChanged(ctx context.Context, ev *domain.ViewpointChanged) error {
	return nil
}

// Shutdown closes every session.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	list := make([]*Session, 0, len(h.sessions))
	for id, s := range h.sessions {
		list = append(list, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()
	for _, s := range list {
		metrics.LiveSessionsActive.Dec()
		s.Close()
	}
}
