// Package placesearch turns free-text input into a candidate viewpoint.
//
// Only text typed by the user starts a search. Labels pushed by the location
// store replace the visible text silently: they cancel any pending search and
// never open the result list.
package placesearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/location"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/debounce"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

const (
	DefaultDebounce  = 500 * time.Millisecond
	DefaultMinLength = 3
	DefaultLimit     = 5
)

const (
	alertSearchFailed   = "Location search failed. Please try again."
	alertLocationFailed = "Could not get your location. Please check browser permissions."
)

// State is what the search box shows.
type State struct {
	Text    string         `json:"text"`
	Open    bool           `json:"open"`
	Loading bool           `json:"loading"`
	Results []domain.Place `json:"results"`
}

// Search is the debounced place search box of one session.
type Search struct {
	ctx       context.Context
	store     *location.Store
	geocoder  ports.Geocoder
	geo       ports.Geolocator
	presenter ports.Presenter
	logger    *slog.Logger

	delay     time.Duration
	clock     debounce.Clock
	minLength int
	limit     int

	debouncer   *debounce.Debouncer
	seq         debounce.Sequence
	unsubscribe func()

	mu    sync.Mutex
	state State
}

// Option configures a Search.
type Option func(*Search)

func WithDebounce(d time.Duration) Option { return func(s *Search) { s.delay = d } }
func WithClock(c debounce.Clock) Option { return func(s *Search) { s.clock = c } }
func WithMinLength(n int) Option { return func(s *Search) { s.minLength = n } }
func WithLimit(n int) Option { return func(s *Search) { s.limit = n } }
func WithPresenter(p ports.Presenter) Option { return func(s *Search) { s.presenter = p } }
func WithGeolocator(g ports.Geolocator) Option { return func(s *Search) { s.geo = g } }
func WithLogger(l *slog.Logger) Option { return func(s *Search) { s.logger = l } }

// New creates a search box bound to store. ctx bounds every geocoder call the
// box makes on its own (debounced searches).
func New(ctx context.Context, store *location.Store, geocoder ports.Geocoder, opts ...Option) *Search {
	s := &Search{
		ctx:       ctx,
		store:     store,
		geocoder:  geocoder,
		logger:    slog.Default(),
		delay:     DefaultDebounce,
		minLength: DefaultMinLength,
		limit:     DefaultLimit,
	}
	for _, o := range opts {
		o(s)
	}
	s.debouncer = debounce.New(s.delay, s.clock)

	if v, ok := store.Get(); ok {
		s.state.Text = v.Label
	}
	s.unsubscribe = store.Subscribe(s.onViewpoint)
	return s
}

// Type records text typed by the user and (re)starts the debounce window.
func (s *Search) Type(text string) {
	s.mu.Lock()
	s.state.Text = text
	s.state.Open = true
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	query := strings.TrimSpace(text)
	s.debouncer.Trigger(func() { s.run(query) })
}

// Select writes the result at index into the location store. Candidates with
// non-numeric coordinates are ignored.
func (s *Search) Select(ctx context.Context, index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.state.Results) {
		s.mu.Unlock()
		return fmt.Errorf("result %d of %d: %w", index, len(s.state.Results), domain.ErrInvalidInput)
	}
	place := s.state.Results[index]
	s.state.Open = false
	vp, ok := place.Viewpoint()
	if ok {
		s.state.Text = vp.Label
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.debouncer.Cancel()
	s.seq.Invalidate()
	s.publish(snap)

	if !ok {
		s.logger.Debug("ignoring place with non-numeric coordinates", "display_name", place.DisplayName)
		return nil
	}
	s.store.SetFrom(ctx, location.SourceSearch, &vp)
	return nil
}

// Dismiss closes the result list, as an outside click does.
func (s *Search) Dismiss() {
	s.mu.Lock()
	s.state.Open = false
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

// UseCurrentLocation closes the list and resolves the device position into
// the store. Failures are shown as an alert and returned. A repeat request
// while the device is still answering is ignored.
func (s *Search) UseCurrentLocation(ctx context.Context) error {
	s.Dismiss()
	if err := s.store.ResolveFromDevice(ctx, s.geo); err != nil {
		if errors.Is(err, domain.ErrAlreadyLocating) {
			return nil
		}
		s.alert(alertLocationFailed)
		return err
	}
	return nil
}

// State returns a copy of what the box currently shows.
func (s *Search) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close detaches from the store and drops any pending search.
func (s *Search) Close() {
	s.unsubscribe()
	s.debouncer.Cancel()
	s.seq.Invalidate()
}

func (s *Search) onViewpoint(v *domain.Viewpoint, _ location.Source) {
	s.debouncer.Cancel()
	s.seq.Invalidate()

	s.mu.Lock()
	if v != nil && v.Label != "" {
		s.state.Text = v.Label
	}
	s.state.Open = false
	s.state.Loading = false
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)
}

func (s *Search) run(query string) {
	if utf8.RuneCountInString(query) < s.minLength {
		s.seq.Invalidate()
		s.mu.Lock()
		s.state.Results = nil
		s.state.Loading = false
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.publish(snap)
		return
	}

	ticket := s.seq.Next()
	s.mu.Lock()
	s.state.Loading = true
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	places, err := s.geocoder.Search(s.ctx, query, s.limit)

	s.mu.Lock()
	if !s.seq.IsLatest(ticket) {
		s.mu.Unlock()
		metrics.StaleResponsesDiscarded.WithLabelValues("place_search").Inc()
		return
	}
	s.state.Loading = false
	switch {
	case err == nil:
		s.state.Results = places
		s.state.Open = true
	case errors.Is(err, domain.ErrGeocodeParse):
		s.state.Results = nil
	}
	snap = s.snapshotLocked()
	s.mu.Unlock()
	s.publish(snap)

	if err != nil && !errors.Is(err, domain.ErrGeocodeParse) {
		s.logger.Warn("place search failed", "query", query, "error", err)
		s.alert(alertSearchFailed)
	}
}

func (s *Search) snapshotLocked() State {
	st := s.state
	if s.state.Results != nil {
		st.Results = append([]domain.Place(nil), s.state.Results...)
	}
	return st
}

func (s *Search) publish(st State) {
	if s.presenter != nil {
		s.presenter.Publish("search", st)
	}
}

func (s *Search) alert(msg string) {
	if s.presenter != nil {
		s.presenter.Alert(msg)
	}
}
