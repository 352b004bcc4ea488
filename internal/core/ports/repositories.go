package ports

import (
	"context"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// ViewpointRepository is the durable per-client viewpoint record.
// Only lat, lng and label are persisted; the bounding box is transient.
type ViewpointRepository interface {
	// Load returns domain.ErrNotFound when the client has no record.
	Load(ctx context.Context, clientID string) (*domain.Viewpoint, error)
	Save(ctx context.Context, clientID string, v domain.Viewpoint) error
	Delete(ctx context.Context, clientID string) error
}

// PreferenceRepository persists per-client preferences.
type PreferenceRepository interface {
	// GetLanguage returns domain.ErrNotFound when nothing was stored.
	GetLanguage(ctx context.Context, clientID string) (string, error)
	SetLanguage(ctx context.Context, clientID, language string) error
}
