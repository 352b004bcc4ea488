package ports

import (
	"context"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// IssueAPI is the civic backend's issue resource.
type IssueAPI interface {
	// ListInBounds returns issues inside b. An empty status means every status.
	ListInBounds(ctx context.Context, b domain.Bounds, status string) ([]domain.Issue, error)
	ListNear(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.Issue, error)
	Get(ctx context.Context, id string) (*domain.Issue, error)
	Create(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error)
	Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error)
}

// SolutionAPI is the civic backend's solution wiki.
type SolutionAPI interface {
	List(ctx context.Context, q domain.SolutionQuery) ([]domain.Solution, error)
	ListNear(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.Solution, error)
	Get(ctx context.Context, id string) (*domain.Solution, error)
	Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error)
	SuggestEdit(ctx context.Context, s domain.EditSuggestion) error
	Categories(ctx context.Context) ([]domain.Category, error)
}

// Geocoder turns text into places and points into labels.
type Geocoder interface {
	Search(ctx context.Context, query string, limit int) ([]domain.Place, error)
	Reverse(ctx context.Context, p domain.GeoPoint, zoom int) (*domain.ReversePlace, error)
}

// Geolocator asks the user's device for its position. Denial and timeout
// are reported as domain.ErrLocationUnavailable.
type Geolocator interface {
	CurrentPosition(ctx context.Context) (domain.GeoPoint, error)
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishIssueReported(ctx context.Context, event *domain.IssueReported) error
	PublishViewpointChanged(ctx context.Context, event *domain.ViewpointChanged) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeIssueReported(ctx context.Context, handler func(ctx context.Context, event *domain.IssueReported) error) error
}

// ReportSubmitter hands a validated draft to whatever creates the issue:
// the backend directly, or a durable workflow in front of it.
type ReportSubmitter interface {
	Submit(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error)
}

// Presenter pushes user-visible state to the client of one session.
type Presenter interface {
	// Alert shows a transient, non-fatal message.
	Alert(message string)
	// Publish sends a named state snapshot (search box, map overlay, nearby lists).
	Publish(topic string, payload any)
}
