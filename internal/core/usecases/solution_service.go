package usecases

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

const categoriesKey = "categories"

// SolutionService serves the solution wiki and the category list.
type SolutionService struct {
	solutions ports.SolutionAPI
	cache     ports.CacheService
	local     *cache.Cache
}

// NewSolutionService creates a new SolutionService. cache may be nil; the
// category list is always kept in process.
func NewSolutionService(solutions ports.SolutionAPI, c ports.CacheService) *SolutionService {
	return &SolutionService{
		solutions: solutions,
		cache:     c,
		local:     cache.New(time.Hour, 10*time.Minute),
	}
}

// List returns solutions matching q.
func (s *SolutionService) List(ctx context.Context, q domain.SolutionQuery) ([]domain.Solution, error) {
	q.Search = strings.TrimSpace(q.Search)
	cacheKey := fmt.Sprintf("solutions:list:%s:%s:%s", q.Category, q.Language, strings.ToLower(q.Search))
	if sols, ok := cached[[]domain.Solution](ctx, s.cache, cacheKey, "solutions_list"); ok {
		return sols, nil
	}

	sols, err := s.solutions.List(ctx, q)
	if err != nil {
		return nil, err
	}
	putCached(ctx, s.cache, cacheKey, sols, 300)
	return sols, nil
}

// ListNear returns solutions relevant around p.
func (s *SolutionService) ListNear(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.Solution, error) {
	return s.solutions.ListNear(ctx, p, radiusMeters)
}

// Get returns a single solution with its steps.
func (s *SolutionService) Get(ctx context.Context, id string) (*domain.Solution, error) {
	cacheKey := "solutions:id:" + id
	if sol, ok := cached[domain.Solution](ctx, s.cache, cacheKey, "solution_get"); ok {
		return &sol, nil
	}

	sol, err := s.solutions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	putCached(ctx, s.cache, cacheKey, sol, 600)
	return sol, nil
}

// Vote records an up or down vote on a solution.
func (s *SolutionService) Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error) {
	tally, err := s.solutions.Vote(ctx, id, dir)
	if err != nil {
		metrics.Votes.WithLabelValues("solution", "error").Inc()
		return domain.VoteTally{}, err
	}
	metrics.Votes.WithLabelValues("solution", "ok").Inc()
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "solutions:id:"+id)
	}
	return tally, nil
}

// SuggestEdit submits an edit proposal for review.
func (s *SolutionService) SuggestEdit(ctx context.Context, sg domain.EditSuggestion) error {
	sg.Text = strings.TrimSpace(sg.Text)
	if sg.SolutionID == "" || sg.Text == "" {
		return fmt.Errorf("suggestion needs a solution and text: %w", domain.ErrInvalidInput)
	}
	return s.solutions.SuggestEdit(ctx, sg)
}

// Categories returns the category list, cached in process for an hour.
func (s *SolutionService) Categories(ctx context.Context) ([]domain.Category, error) {
	if v, found := s.local.Get(categoriesKey); found {
		metrics.CacheHits.WithLabelValues("categories").Inc()
		return v.([]domain.Category), nil
	}
	metrics.CacheMisses.WithLabelValues("categories").Inc()

	cats, err := s.solutions.Categories(ctx)
	if err != nil {
		return nil, err
	}
	s.local.Set(categoriesKey, cats, cache.DefaultExpiration)
	return cats, nil
}
