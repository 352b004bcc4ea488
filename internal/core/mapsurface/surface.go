// Package mapsurface keeps a client's map viewport and the shared viewpoint in
// step, and draws the issues of the visible area.
//
// Store to map: a viewpoint with a bounding box always fits the view to it;
// a bare point re-centres only when it is further than the threshold from the
// current centre. Map to store: every user move-end re-fetches issues at once
// and, after a quiet period, reverse-geocodes the centre into a new viewpoint.
package mapsurface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/location"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/debounce"
	"github.com/samirrijal/civicmap/internal/pkg/geospatial"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

// State is the lifecycle of one map mount.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Destroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MoveCause tells a user pan/zoom apart from a move the surface asked for.
type MoveCause int

const (
	MoveByUser MoveCause = iota
	MoveProgrammatic
)

// Config holds the surface's tunables.
type Config struct {
	DefaultCenter     domain.GeoPoint
	DefaultZoom       int
	FitPaddingPx      int
	FitMaxZoom        int
	RecenterThreshold float64 // degrees
	ReverseDebounce   time.Duration
	HeatRadiusMeters  float64
	StatusFilter      string
}

// DefaultConfig centres on New Delhi.
func DefaultConfig() Config {
	return Config{
		DefaultCenter:     domain.GeoPoint{Lat: 28.6139, Lng: 77.2090},
		DefaultZoom:       12,
		FitPaddingPx:      50,
		FitMaxZoom:        15,
		RecenterThreshold: 0.0005,
		ReverseDebounce:   800 * time.Millisecond,
		HeatRadiusMeters:  150,
	}
}

// Overlay is the status the map shows on top of the tiles.
type Overlay struct {
	State      string `json:"state"`
	Loading    bool   `json:"loading"`
	IssueCount int    `json:"issue_count"`
	Clustered  bool   `json:"clustered"`
}

const alertIssuesFailed = "Could not load issues for this area."

// Surface owns one map instance and everything drawn on it.
type Surface struct {
	ctx       context.Context
	host      ports.MapHost
	store     *location.Store
	issues    ports.IssueAPI
	geocoder  ports.Geocoder
	presenter ports.Presenter
	onClick   func(domain.Issue)
	cfg       Config
	clock     debounce.Clock
	dispatch  func(func())
	logger    *slog.Logger

	reverse    *debounce.Debouncer
	fetchSeq   debounce.Sequence
	reverseSeq debounce.Sequence

	mu          sync.Mutex
	state       State
	view        ports.MapView
	sink        markerSink
	current     []domain.Issue
	byID        map[string]domain.Issue
	loading     bool
	unsubscribe func()

	renderMu sync.Mutex
	circles  []ports.Layer
}

// Option configures a Surface.
type Option func(*Surface)

func WithConfig(c Config) Option { return func(s *Surface) { s.cfg = c } }

func WithClock(c debounce.Clock) Option { return func(s *Surface) { s.clock = c } }

// WithDispatcher sets how issue fetches are run off the caller's goroutine.
// Tests pass a function that runs f inline.
func WithDispatcher(d func(f func())) Option { return func(s *Surface) { s.dispatch = d } }

func WithPresenter(p ports.Presenter) Option { return func(s *Surface) { s.presenter = p } }

// WithMarkerClick sets the host callback run when an issue marker is clicked.
func WithMarkerClick(fn func(domain.Issue)) Option { return func(s *Surface) { s.onClick = fn } }

func WithLogger(l *slog.Logger) Option { return func(s *Surface) { s.logger = l } }

// New creates an unmounted surface. ctx bounds the background work the
// surface starts itself (debounced reverse geocoding, dispatched fetches).
func New(ctx context.Context, host ports.MapHost, store *location.Store, issues ports.IssueAPI, geocoder ports.Geocoder, opts ...Option) *Surface {
	s := &Surface{
		ctx:      ctx,
		host:     host,
		store:    store,
		issues:   issues,
		geocoder: geocoder,
		cfg:      DefaultConfig(),
		dispatch: func(f func()) { go f() },
		logger:   slog.Default(),
		byID:     map[string]domain.Issue{},
	}
	for _, o := range opts {
		o(s)
	}
	s.reverse = debounce.New(s.cfg.ReverseDebounce, s.clock)
	return s
}

// State returns the lifecycle state.
func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mount creates the map instance. Calling it while a mount is in progress or
// already done is a no-op, so a second instance is never created. A destroyed
// surface may be mounted again.
func (s *Surface) Mount(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Initializing || s.state == Ready {
		s.mu.Unlock()
		return nil
	}
	s.state = Initializing
	s.mu.Unlock()
	s.publishOverlay()

	plugin, err := s.host.LoadClusterPlugin(ctx)
	if err != nil {
		s.logger.Info("marker clustering unavailable", "error", err)
		plugin = nil
	}

	center, zoom := s.cfg.DefaultCenter, s.cfg.DefaultZoom
	vp, hasVP := s.store.Get()
	if hasVP {
		center = vp.Point()
	}

	view, err := s.host.Mount(ctx, center, zoom)
	if err != nil {
		s.mu.Lock()
		if s.state == Initializing {
			s.state = Uninitialized
		}
		s.mu.Unlock()
		s.publishOverlay()
		return fmt.Errorf("mount map: %w", err)
	}

	s.mu.Lock()
	if s.state != Initializing {
		// Destroyed while the host was mounting.
		s.mu.Unlock()
		return view.Remove()
	}
	s.view = view
	s.sink = newSink(view, plugin)
	s.state = Ready
	s.unsubscribe = s.store.Subscribe(s.applyViewpoint)
	s.mu.Unlock()

	s.logger.Debug("map mounted", "sink", s.sink.Kind(), "center", center)
	s.publishOverlay()

	// Re-read after subscribing: the store may have moved while the host was
	// mounting, and a bounding box is only honoured by fitting.
	if cur, ok := s.store.Get(); ok && (!hasVP || !samePlace(cur, vp) || cur.BoundingBox != nil) {
		s.applyViewpoint(&cur, location.SourceRestore)
	}
	s.dispatch(func() { s.fetchIssues(s.ctx) })
	return nil
}

// Destroy releases the map instance and detaches from the store.
func (s *Surface) Destroy() error {
	s.mu.Lock()
	if s.state != Ready && s.state != Initializing {
		s.mu.Unlock()
		return nil
	}
	s.state = Destroyed
	view, sink, unsubscribe := s.view, s.sink, s.unsubscribe
	s.view, s.sink, s.unsubscribe = nil, nil, nil
	s.current = nil
	s.byID = map[string]domain.Issue{}
	s.loading = false
	s.mu.Unlock()

	s.reverse.Cancel()
	s.fetchSeq.Invalidate()
	s.reverseSeq.Invalidate()
	if unsubscribe != nil {
		unsubscribe()
	}

	var errs []error
	s.renderMu.Lock()
	if sink != nil {
		errs = append(errs, sink.Clear())
	}
	errs = append(errs, s.clearCirclesLocked())
	s.renderMu.Unlock()
	if view != nil {
		errs = append(errs, view.Remove())
	}
	s.publishOverlay()
	return errors.Join(errs...)
}

// MoveEnd handles the end of a pan or zoom. Issues are re-fetched at once.
// A user move also schedules one reverse geocode of the new centre once the
// map has been still for the debounce window.
func (s *Surface) MoveEnd(ctx context.Context, cause MoveCause) {
	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return
	}
	view := s.view
	s.mu.Unlock()

	s.dispatch(func() { s.fetchIssues(ctx) })

	if cause != MoveByUser {
		return
	}
	center, zoom := view.Center(), view.Zoom()
	s.reverseSeq.Invalidate()
	s.reverse.Trigger(func() { s.reverseGeocode(center, zoom) })
}

// MarkerClicked resolves a clicked marker to its issue and runs the click callback.
func (s *Surface) MarkerClicked(issueID string) (domain.Issue, error) {
	s.mu.Lock()
	issue, ok := s.byID[issueID]
	s.mu.Unlock()
	if !ok {
		return domain.Issue{}, fmt.Errorf("issue %s not on map: %w", issueID, domain.ErrNotFound)
	}
	if s.onClick != nil {
		s.onClick(issue)
	}
	return issue, nil
}

// RefreshIfVisible re-fetches issues when p lies inside the current viewport.
func (s *Surface) RefreshIfVisible(ctx context.Context, p domain.GeoPoint) bool {
	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return false
	}
	view := s.view
	s.mu.Unlock()

	if !view.Bounds().Contains(p) {
		return false
	}
	s.dispatch(func() { s.fetchIssues(ctx) })
	return true
}

// Issues returns the issues currently drawn.
func (s *Surface) Issues() []domain.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Issue(nil), s.current...)
}

// Overlay returns the loading flag and the issue count of the visible area.
func (s *Surface) Overlay() Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlayLocked()
}

func (s *Surface) overlayLocked() Overlay {
	return Overlay{
		State:      s.state.String(),
		Loading:    s.loading,
		IssueCount: len(s.current),
		Clustered:  s.sink != nil && s.sink.Kind() == "cluster",
	}
}

// applyViewpoint is the store listener.
func (s *Surface) applyViewpoint(v *domain.Viewpoint, source location.Source) {
	if v == nil {
		return
	}
	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return
	}
	view := s.view
	s.mu.Unlock()

	// A viewpoint from elsewhere supersedes any reverse geocode of an
	// earlier pan.
	if source != location.SourceMap {
		s.reverse.Cancel()
		s.reverseSeq.Invalidate()
	}

	if v.BoundingBox != nil {
		if err := view.FitBounds(*v.BoundingBox, s.cfg.FitPaddingPx, s.cfg.FitMaxZoom); err != nil {
			s.logger.Warn("fit bounds failed", "error", err)
		}
		return
	}

	c := view.Center()
	if geospatial.DegreeDistance(c.Lat, c.Lng, v.Lat, v.Lng) <= s.cfg.RecenterThreshold {
		return
	}
	if err := view.SetView(v.Point(), view.Zoom()); err != nil {
		s.logger.Warn("set view failed", "error", err)
	}
}

func samePlace(a, b domain.Viewpoint) bool {
	return a.Lat == b.Lat && a.Lng == b.Lng && a.Label == b.Label && (a.BoundingBox == nil) == (b.BoundingBox == nil)
}

func (s *Surface) fetchIssues(ctx context.Context) {
	s.mu.Lock()
	if s.state != Ready {
		s.mu.Unlock()
		return
	}
	view := s.view
	ticket := s.fetchSeq.Next()
	s.loading = true
	s.mu.Unlock()
	s.publishOverlay()

	issues, err := s.issues.ListInBounds(ctx, view.Bounds(), s.cfg.StatusFilter)

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.Lock()
	if s.state != Ready || !s.fetchSeq.IsLatest(ticket) {
		s.mu.Unlock()
		metrics.StaleResponsesDiscarded.WithLabelValues("issue_fetch").Inc()
		return
	}
	s.loading = false
	if err != nil {
		s.mu.Unlock()
		metrics.IssueFetches.WithLabelValues("error").Inc()
		s.logger.Warn("issue fetch failed", "error", err)
		s.alert(alertIssuesFailed)
		s.publishOverlay()
		return
	}
	s.current = issues
	s.byID = make(map[string]domain.Issue, len(issues))
	for _, is := range issues {
		s.byID[is.ID] = is
	}
	sink := s.sink
	s.mu.Unlock()

	metrics.IssueFetches.WithLabelValues("ok").Inc()
	if err := s.renderLocked(view, sink, issues); err != nil {
		s.logger.Warn("render issues failed", "error", err)
	}
	s.publishOverlay()
}

// renderLocked rebuilds every heat circle and marker. Caller holds renderMu.
func (s *Surface) renderLocked(view ports.MapView, sink markerSink, issues []domain.Issue) error {
	if err := s.clearCirclesLocked(); err != nil {
		s.logger.Debug("remove stale circles", "error", err)
	}

	markers := make([]domain.Marker, 0, len(issues))
	for _, is := range issues {
		layer, err := view.AddHeatCircle(domain.HeatCircleFor(is, s.cfg.HeatRadiusMeters))
		if err != nil {
			return fmt.Errorf("add heat circle %s: %w", is.ID, err)
		}
		s.circles = append(s.circles, layer)
		markers = append(markers, domain.MarkerFor(is))
	}
	return sink.Replace(markers)
}

func (s *Surface) clearCirclesLocked() error {
	var errs []error
	for _, l := range s.circles {
		if err := l.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	s.circles = nil
	return errors.Join(errs...)
}

func (s *Surface) reverseGeocode(center domain.GeoPoint, zoom int) {
	ticket := s.reverseSeq.Next()
	label := domain.LabelSelectedLocation

	place, err := s.geocoder.Reverse(s.ctx, center, zoom)
	switch {
	case err != nil:
		s.logger.Warn("reverse geocode failed", "lat", center.Lat, "lng", center.Lng, "error", err)
	case place != nil:
		if l := place.Label(zoom); l != "" {
			label = l
		}
	}

	if !s.reverseSeq.IsLatest(ticket) || s.State() != Ready {
		metrics.StaleResponsesDiscarded.WithLabelValues("reverse_geocode").Inc()
		return
	}
	s.store.SetFrom(s.ctx, location.SourceMap, &domain.Viewpoint{Lat: center.Lat, Lng: center.Lng, Label: label})
}

func (s *Surface) publishOverlay() {
	if s.presenter == nil {
		return
	}
	s.presenter.Publish("map", s.Overlay())
}

func (s *Surface) alert(msg string) {
	if s.presenter != nil {
		s.presenter.Alert(msg)
	}
}
