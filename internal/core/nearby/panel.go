// Package nearby lists the most-supported open issues and solutions around
// the current viewpoint.
package nearby

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/location"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/debounce"
	"github.com/samirrijal/civicmap/internal/pkg/geospatial"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

const (
	DefaultRadiusMeters = 5000
	DefaultLimit        = 5
)

const alertLoadFailed = "Failed to load nearby issues and solutions."

// Result is one nearby listing.
type Result struct {
	Issues    []domain.Issue    `json:"issues"`
	Solutions []domain.Solution `json:"solutions"`
}

// Finder runs the nearby query. It is shared by the live panel and the
// stateless REST and GraphQL endpoints.
type Finder struct {
	Issues       ports.IssueAPI
	Solutions    ports.SolutionAPI
	RadiusMeters float64
	Limit        int
}

// Find fetches issues and solutions around p in parallel. Resolved issues are
// dropped; both lists are ordered by upvotes and capped.
func (f Finder) Find(ctx context.Context, p domain.GeoPoint) (Result, error) {
	radius, limit := f.RadiusMeters, f.Limit
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	var res Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		issues, err := f.Issues.ListNear(gctx, p, radius)
		if err != nil {
			return fmt.Errorf("nearby issues: %w", err)
		}
		res.Issues = TopIssues(issues, p, limit)
		return nil
	})
	g.Go(func() error {
		sols, err := f.Solutions.ListNear(gctx, p, radius)
		if err != nil {
			return fmt.Errorf("nearby solutions: %w", err)
		}
		res.Solutions = TopSolutions(sols, limit)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// TopIssues keeps unresolved issues, most upvoted first, at most limit. Each
// kept issue carries its great-circle distance from origin.
func TopIssues(in []domain.Issue, origin domain.GeoPoint, limit int) []domain.Issue {
	out := make([]domain.Issue, 0, len(in))
	for _, is := range in {
		if is.Resolved() {
			continue
		}
		is.Distance = geospatial.Haversine(origin.Lat, origin.Lng, is.Location.Lat, is.Location.Lng)
		out = append(out, is)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Upvotes > out[j].Upvotes })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// TopSolutions orders solutions by upvotes, at most limit.
func TopSolutions(in []domain.Solution, limit int) []domain.Solution {
	out := append([]domain.Solution(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Upvotes > out[j].Upvotes })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// State is what the panel shows.
type State struct {
	Loading   bool              `json:"loading"`
	Error     string            `json:"error,omitempty"`
	Point     *domain.GeoPoint  `json:"point,omitempty"`
	Issues    []domain.Issue    `json:"issues"`
	Solutions []domain.Solution `json:"solutions"`
}

// Panel keeps a nearby listing in step with the location store.
type Panel struct {
	finder    Finder
	presenter ports.Presenter
	dispatch  func(func())
	logger    *slog.Logger

	seq         debounce.Sequence
	unsubscribe func()

	mu    sync.Mutex
	state State
}

// Option configures a Panel.
type Option func(*Panel)

func WithRadius(meters float64) Option { return func(p *Panel) { p.finder.RadiusMeters = meters } }

func WithLimit(n int) Option { return func(p *Panel) { p.finder.Limit = n } }

func WithPresenter(pr ports.Presenter) Option { return func(p *Panel) { p.presenter = pr } }

// WithDispatcher sets how store-triggered refreshes are run.
func WithDispatcher(d func(f func())) Option { return func(p *Panel) { p.dispatch = d } }

func WithLogger(l *slog.Logger) Option { return func(p *Panel) { p.logger = l } }

func NewPanel(issues ports.IssueAPI, solutions ports.SolutionAPI, opts ...Option) *Panel {
	p := &Panel{
		finder:   Finder{Issues: issues, Solutions: solutions, RadiusMeters: DefaultRadiusMeters, Limit: DefaultLimit},
		dispatch: func(f func()) { go f() },
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Attach subscribes to store and refreshes for its current viewpoint, if any.
func (p *Panel) Attach(ctx context.Context, store *location.Store) {
	p.unsubscribe = store.Subscribe(func(v *domain.Viewpoint, _ location.Source) {
		if v == nil {
			p.clear()
			return
		}
		pt := v.Point()
		p.dispatch(func() { _ = p.Refresh(ctx, pt) })
	})
	if v, ok := store.Get(); ok {
		pt := v.Point()
		p.dispatch(func() { _ = p.Refresh(ctx, pt) })
	}
}

// Detach stops following the store.
func (p *Panel) Detach() {
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	p.seq.Invalidate()
}

// Refresh reloads both lists around pt. A failure keeps the previous lists.
func (p *Panel) Refresh(ctx context.Context, pt domain.GeoPoint) error {
	ticket := p.seq.Next()
	p.mu.Lock()
	p.state.Loading = true
	p.state.Point = &pt
	snap := p.snapshotLocked()
	p.mu.Unlock()
	p.publish(snap)

	res, err := p.finder.Find(ctx, pt)

	p.mu.Lock()
	if !p.seq.IsLatest(ticket) {
		p.mu.Unlock()
		metrics.StaleResponsesDiscarded.WithLabelValues("nearby").Inc()
		return nil
	}
	p.state.Loading = false
	if err != nil {
		p.state.Error = alertLoadFailed
	} else {
		p.state.Error = ""
		p.state.Issues = res.Issues
		p.state.Solutions = res.Solutions
	}
	snap = p.snapshotLocked()
	p.mu.Unlock()
	p.publish(snap)

	if err != nil {
		p.logger.Warn("nearby refresh failed", "lat", pt.Lat, "lng", pt.Lng, "error", err)
		return err
	}
	return nil
}

// VoteIssue casts a vote and then reloads both lists.
func (p *Panel) VoteIssue(ctx context.Context, id string, dir domain.VoteDirection) error {
	if _, err := p.finder.Issues.Vote(ctx, id, dir); err != nil {
		metrics.Votes.WithLabelValues("issue", "error").Inc()
		p.alert("Failed to record your vote.")
		return fmt.Errorf("vote issue %s: %w", id, err)
	}
	metrics.Votes.WithLabelValues("issue", "ok").Inc()
	return p.refreshCurrent(ctx)
}

// VoteSolution casts a vote and then reloads both lists.
func (p *Panel) VoteSolution(ctx context.Context, id string, dir domain.VoteDirection) error {
	if _, err := p.finder.Solutions.Vote(ctx, id, dir); err != nil {
		metrics.Votes.WithLabelValues("solution", "error").Inc()
		p.alert("Failed to record your vote.")
		return fmt.Errorf("vote solution %s: %w", id, err)
	}
	metrics.Votes.WithLabelValues("solution", "ok").Inc()
	return p.refreshCurrent(ctx)
}

// State returns a copy of the panel state.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Panel) refreshCurrent(ctx context.Context) error {
	p.mu.Lock()
	pt := p.state.Point
	p.mu.Unlock()
	if pt == nil {
		return nil
	}
	return p.Refresh(ctx, *pt)
}

func (p *Panel) clear() {
	p.seq.Invalidate()
	p.mu.Lock()
	p.state = State{}
	p.mu.Unlock()
	p.publish(State{})
}

func (p *Panel) snapshotLocked() State {
	st := p.state
	st.Issues = append([]domain.Issue(nil), p.state.Issues...)
	st.Solutions = append([]domain.Solution(nil), p.state.Solutions...)
	if p.state.Point != nil {
		pt := *p.state.Point
		st.Point = &pt
	}
	return st
}

func (p *Panel) publish(st State) {
	if p.presenter != nil {
		p.presenter.Publish("nearby", st)
	}
}

func (p *Panel) alert(msg string) {
	if p.presenter != nil {
		p.presenter.Alert(msg)
	}
}
