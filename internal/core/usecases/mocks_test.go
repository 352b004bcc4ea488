package usecases_test

import (
	"context"
	"errors"
	"sync"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// --- Mock IssueAPI ---

type mockIssueAPI struct {
	listInBoundsFn func(ctx context.Context, b domain.Bounds, status string) ([]domain.Issue, error)
	getFn          func(ctx context.Context, id string) (*domain.Issue, error)
	createFn       func(ctx context.Context, d domain.IssueDraft) (*domain.Issue, error)
	voteFn         func(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error)
}

func (m *mockIssueAPI) ListInBounds(ctx context.Context, b domain.Bounds, status string) ([]domain.Issue, error) {
	if m.listInBoundsFn != nil {
		return m.listInBoundsFn(ctx, b, status)
	}
	return nil, nil
}

func (m *mockIssueAPI) ListNear(ctx context.Context, p domain.GeoPoint, r float64) ([]domain.Issue, error) {
	return nil, nil
}

func (m *mockIssueAPI) Get(ctx context.Context, id string) (*domain.Issue, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockIssueAPI) Create(ctx context.Context, d domain.IssueDraft) (*domain.Issue, error) {
	if m.createFn != nil {
		return m.createFn(ctx, d)
	}
	return &domain.Issue{ID: "new", Title: d.Title}, nil
}

func (m *mockIssueAPI) Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error) {
	if m.voteFn != nil {
		return m.voteFn(ctx, id, dir)
	}
	return domain.VoteTally{}, nil
}

// --- Mock SolutionAPI ---

type mockSolutionAPI struct {
	listFn       func(ctx context.Context, q domain.SolutionQuery) ([]domain.Solution, error)
	suggestFn    func(ctx context.Context, s domain.EditSuggestion) error
	categoriesFn func(ctx context.Context) ([]domain.Category, error)
}

func (m *mockSolutionAPI) List(ctx context.Context, q domain.SolutionQuery) ([]domain.Solution, error) {
	if m.listFn != nil {
		return m.listFn(ctx, q)
	}
	return nil, nil
}

func (m *mockSolutionAPI) ListNear(ctx context.Context, p domain.GeoPoint, r float64) ([]domain.Solution, error) {
	return nil, nil
}

func (m *mockSolutionAPI) Get(ctx context.Context, id string) (*domain.Solution, error) {
	return nil, domain.ErrNotFound
}

func (m *mockSolutionAPI) Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error) {
	return domain.VoteTally{}, nil
}

func (m *mockSolutionAPI) SuggestEdit(ctx context.Context, s domain.EditSuggestion) error {
	if m.suggestFn != nil {
		return m.suggestFn(ctx, s)
	}
	return nil
}

func (m *mockSolutionAPI) Categories(ctx context.Context) ([]domain.Category, error) {
	if m.categoriesFn != nil {
		return m.categoriesFn(ctx)
	}
	return nil, nil
}

// --- Mock CacheService ---

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMockCache() *mockCache { return &mockCache{data: map[string][]byte{}} }

func (c *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (c *mockCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// --- Mock repositories and publisher ---

type mockPrefRepo struct {
	langs map[string]string
	err   error
}

func (m *mockPrefRepo) GetLanguage(ctx context.Context, clientID string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	l, ok := m.langs[clientID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return l, nil
}

func (m *mockPrefRepo) SetLanguage(ctx context.Context, clientID, lang string) error {
	if m.langs == nil {
		m.langs = map[string]string{}
	}
	m.langs[clientID] = lang
	return nil
}

type mockViewpointRepo struct {
	saved   map[string]domain.Viewpoint
	deleted []string
}

func (m *mockViewpointRepo) Load(ctx context.Context, clientID string) (*domain.Viewpoint, error) {
	v, ok := m.saved[clientID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &v, nil
}

func (m *mockViewpointRepo) Save(ctx context.Context, clientID string, v domain.Viewpoint) error {
	if m.saved == nil {
		m.saved = map[string]domain.Viewpoint{}
	}
	m.saved[clientID] = v
	return nil
}

func (m *mockViewpointRepo) Delete(ctx context.Context, clientID string) error {
	delete(m.saved, clientID)
	m.deleted = append(m.deleted, clientID)
	return nil
}

type mockPublisher struct {
	reported   []*domain.IssueReported
	viewpoints []*domain.ViewpointChanged
	err        error
}

func (m *mockPublisher) PublishIssueReported(ctx context.Context, ev *domain.IssueReported) error {
	m.reported = append(m.reported, ev)
	return m.err
}

func (m *mockPublisher) PublishViewpointChanged(ctx context.Context, ev *domain.ViewpointChanged) error {
	m.viewpoints = append(m.viewpoints, ev)
	return m.err
}
