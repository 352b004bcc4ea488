package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
)

// ViewpointService reads and writes a client's stored viewpoint outside a
// live session.
type ViewpointService struct {
	repo   ports.ViewpointRepository
	events ports.EventPublisher
}

// NewViewpointService creates a new ViewpointService. events may be nil.
func NewViewpointService(repo ports.ViewpointRepository, events ports.EventPublisher) *ViewpointService {
	return &ViewpointService{repo: repo, events: events}
}

// Get returns the stored viewpoint or domain.ErrNotFound.
func (s *ViewpointService) Get(ctx context.Context, clientID string) (*domain.Viewpoint, error) {
	return s.repo.Load(ctx, clientID)
}

// Put replaces the stored viewpoint. Only the point and label are kept.
func (s *ViewpointService) Put(ctx context.Context, clientID string, v domain.Viewpoint) error {
	if !v.Point().Valid() {
		return fmt.Errorf("viewpoint %v,%v: %w", v.Lat, v.Lng, domain.ErrInvalidInput)
	}
	v.Label = strings.TrimSpace(v.Label)
	if v.Label == "" {
		v.Label = domain.LabelSelectedLocation
	}
	v.BoundingBox = nil
	if err := s.repo.Save(ctx, clientID, v); err != nil {
		return fmt.Errorf("save viewpoint: %w", err)
	}
	s.announce(ctx, clientID, &v)
	return nil
}

// Delete clears the stored viewpoint.
func (s *ViewpointService) Delete(ctx context.Context, clientID string) error {
	if err := s.repo.Delete(ctx, clientID); err != nil {
		return fmt.Errorf("delete viewpoint: %w", err)
	}
	s.announce(ctx, clientID, nil)
	return nil
}

func (s *ViewpointService) announce(ctx context.Context, clientID string, v *domain.Viewpoint) {
	if s.events == nil {
		return
	}
	ev := &domain.ViewpointChanged{ClientID: clientID, Viewpoint: v, Source: "api"}
	if err := s.events.PublishViewpointChanged(ctx, ev); err != nil {
		slog.Warn("publish viewpoint change failed", "client_id", clientID, "error", err)
	}
}
