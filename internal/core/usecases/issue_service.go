package usecases

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

// IssueService is a read-through cache in front of the backend's issue resource.
type IssueService struct {
	issues ports.IssueAPI
	cache  ports.CacheService
}

// NewIssueService creates a new IssueService. cache may be nil.
func NewIssueService(issues ports.IssueAPI, cache ports.CacheService) *IssueService {
	return &IssueService{issues: issues, cache: cache}
}

// ListInBounds returns the issues inside b, optionally filtered by status.
func (s *IssueService) ListInBounds(ctx context.Context, b domain.Bounds, status string) ([]domain.Issue, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("bounds %s: %w", b.BBoxParam(), domain.ErrInvalidInput)
	}

	// Try cache
	cacheKey := fmt.Sprintf("issues:bbox:%.4f:%.4f:%.4f:%.4f:%s", b.MinLng, b.MinLat, b.MaxLng, b.MaxLat, status)
	if issues, ok := cached[[]domain.Issue](ctx, s.cache, cacheKey, "issues_bbox"); ok {
		return issues, nil
	}

	issues, err := s.issues.ListInBounds(ctx, b, status)
	if err != nil {
		return nil, err
	}

	// Short TTL: new reports show up on the next pan.
	putCached(ctx, s.cache, cacheKey, issues, 30)
	return issues, nil
}

// ListNear returns issues around p.
func (s *IssueService) ListNear(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.Issue, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("point %v: %w", p, domain.ErrInvalidInput)
	}
	return s.issues.ListNear(ctx, p, radiusMeters)
}

// Get returns a single issue.
func (s *IssueService) Get(ctx context.Context, id string) (*domain.Issue, error) {
	cacheKey := "issues:id:" + id
	if issue, ok := cached[domain.Issue](ctx, s.cache, cacheKey, "issue_get"); ok {
		return &issue, nil
	}

	issue, err := s.issues.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	putCached(ctx, s.cache, cacheKey, issue, 60)
	return issue, nil
}

// Create forwards a validated draft to the backend.
func (s *IssueService) Create(ctx context.Context, draft domain.IssueDraft) (*domain.Issue, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return s.issues.Create(ctx, draft)
}

// Vote records an up or down vote and drops the cached detail.
func (s *IssueService) Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error) {
	tally, err := s.issues.Vote(ctx, id, dir)
	if err != nil {
		metrics.Votes.WithLabelValues("issue", "error").Inc()
		return domain.VoteTally{}, err
	}
	metrics.Votes.WithLabelValues("issue", "ok").Inc()
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "issues:id:"+id)
	}
	return tally, nil
}

// cached reads a JSON value from the cache. A miss, a cache error and an
// undecodable value all count as a miss.
func cached[T any](ctx context.Context, cache ports.CacheService, key, op string) (T, bool) {
	var v T
	if cache == nil {
		return v, false
	}
	data, err := cache.Get(ctx, key)
	if err != nil {
		metrics.CacheMisses.WithLabelValues(op).Inc()
		return v, false
	}
	if err := json.Unmarshal(data, &v); err != nil {
		metrics.CacheMisses.WithLabelValues(op).Inc()
		return v, false
	}
	metrics.CacheHits.WithLabelValues(op).Inc()
	return v, true
}

func putCached(ctx context.Context, cache ports.CacheService, key string, v any, ttlSeconds int) {
	if cache == nil {
		return
	}
	if data, err := json.Marshal(v); err == nil {
		_ = cache.Set(ctx, key, data, ttlSeconds)
	}
}
