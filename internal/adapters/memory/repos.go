// Package memory provides in-process repositories used when Postgres is
// disabled and in tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// ViewpointRepo implements ports.ViewpointRepository in memory.
type ViewpointRepo struct {
	mu    sync.RWMutex
	items map[string]domain.Viewpoint
}

func NewViewpointRepo() *ViewpointRepo {
	return &ViewpointRepo{items: make(map[string]domain.Viewpoint)}
}

func (r *ViewpointRepo) Load(ctx context.Context, clientID string) (*domain.Viewpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[clientID]
	if !ok {
		return nil, fmt.Errorf("viewpoint for %s: %w", clientID, domain.ErrNotFound)
	}
	return &v, nil
}

func (r *ViewpointRepo) Save(ctx context.Context, clientID string, v domain.Viewpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.BoundingBox = nil
	r.items[clientID] = v
	return nil
}

func (r *ViewpointRepo) Delete(ctx context.Context, clientID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, clientID)
	return nil
}

// PreferenceRepo implements ports.PreferenceRepository in memory.
type PreferenceRepo struct {
	mu    sync.RWMutex
	langs map[string]string
}

func NewPreferenceRepo() *PreferenceRepo {
	return &PreferenceRepo{langs: make(map[string]string)}
}

func (r *PreferenceRepo) GetLanguage(ctx context.Context, clientID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.langs[clientID]
	if !ok {
		return "", fmt.Errorf("language for %s: %w", clientID, domain.ErrNotFound)
	}
	return lang, nil
}

func (r *PreferenceRepo) SetLanguage(ctx context.Context, clientID, language string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.langs[clientID] = language
	return nil
}
