package placesearch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/location"
	"github.com/samirrijal/civicmap/internal/core/placesearch"
	"github.com/samirrijal/civicmap/internal/pkg/debounce"
)

type fakeGeocoder struct {
	mu       sync.Mutex
	queries  []string
	searchFn func(q string) ([]domain.Place, error)
}

func (g *fakeGeocoder) Search(ctx context.Context, q string, limit int) ([]domain.Place, error) {
	g.mu.Lock()
	g.queries = append(g.queries, q)
	fn := g.searchFn
	g.mu.Unlock()
	if fn != nil {
		return fn(q)
	}
	return []domain.Place{{Lat: "28.6", Lon: "77.2", DisplayName: q + ", India"}}, nil
}

func (g *fakeGeocoder) Reverse(ctx context.Context, p domain.GeoPoint, zoom int) (*domain.ReversePlace, error) {
	return nil, errors.New("not used")
}

func (g *fakeGeocoder) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.queries...)
}

type fakePresenter struct {
	mu     sync.Mutex
	alerts []string
	topics []string
}

func (p *fakePresenter) Alert(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, msg)
}

func (p *fakePresenter) Publish(topic string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
}

type fakeGeolocator struct{ err error }

func (g fakeGeolocator) CurrentPosition(ctx context.Context) (domain.GeoPoint, error) {
	if g.err != nil {
		return domain.GeoPoint{}, g.err
	}
	return domain.GeoPoint{Lat: 12.97, Lng: 77.59}, nil
}

type fixture struct {
	clock     *debounce.ManualClock
	store     *location.Store
	geocoder  *fakeGeocoder
	presenter *fakePresenter
	search    *placesearch.Search
}

func newFixture(t *testing.T, opts ...placesearch.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:     debounce.NewManualClock(),
		store:     location.NewStore("c1", nil),
		geocoder:  &fakeGeocoder{},
		presenter: &fakePresenter{},
	}
	base := []placesearch.Option{
		placesearch.WithClock(f.clock),
		placesearch.WithPresenter(f.presenter),
	}
	f.search = placesearch.New(context.Background(), f.store, f.geocoder, append(base, opts...)...)
	t.Cleanup(f.search.Close)
	return f
}

func TestSearch_ShortQueryNeverHitsNetwork(t *testing.T) {
	f := newFixture(t)

	f.search.Type("d")
	f.search.Type("de")
	f.clock.Advance(time.Second)

	assert.Empty(t, f.geocoder.calls())
	assert.Nil(t, f.search.State().Results)
}

func TestSearch_DebouncedSingleRequest(t *testing.T) {
	f := newFixture(t)

	for _, q := range []string{"d", "de", "del", "delh"} {
		f.search.Type(q)
		f.clock.Advance(100 * time.Millisecond)
	}
	f.clock.Advance(399 * time.Millisecond)
	assert.Empty(t, f.geocoder.calls(), "no request inside the debounce window")

	f.clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"delh"}, f.geocoder.calls())

	st := f.search.State()
	assert.True(t, st.Open)
	assert.False(t, st.Loading)
	require.Len(t, st.Results, 1)
	assert.Equal(t, "delh, India", st.Results[0].DisplayName)
}

func TestSearch_ShortQueryClearsResults(t *testing.T) {
	f := newFixture(t)

	f.search.Type("delhi")
	f.clock.Advance(500 * time.Millisecond)
	require.Len(t, f.search.State().Results, 1)

	f.search.Type("de")
	f.clock.Advance(500 * time.Millisecond)
	assert.Nil(t, f.search.State().Results)
	assert.Len(t, f.geocoder.calls(), 1)
}

func TestSearch_StoreLabelDoesNotSearchOrOpen(t *testing.T) {
	f := newFixture(t)

	f.store.SetFrom(context.Background(), location.SourceMap, &domain.Viewpoint{Lat: 28.63, Lng: 77.21, Label: "Connaught Place"})
	f.clock.Advance(2 * time.Second)

	st := f.search.State()
	assert.Equal(t, "Connaught Place", st.Text)
	assert.False(t, st.Open)
	assert.Empty(t, f.geocoder.calls())
}

func TestSearch_StoreLabelCancelsPendingUserSearch(t *testing.T) {
	f := newFixture(t)

	f.search.Type("karol bagh")
	f.clock.Advance(300 * time.Millisecond)
	f.store.SetFrom(context.Background(), location.SourceMap, &domain.Viewpoint{Lat: 1, Lng: 1, Label: "Elsewhere"})
	f.clock.Advance(time.Second)

	assert.Empty(t, f.geocoder.calls())
	assert.Equal(t, "Elsewhere", f.search.State().Text)
}

func TestSearch_StaleResponseDiscarded(t *testing.T) {
	f := newFixture(t)
	f.geocoder.searchFn = func(q string) ([]domain.Place, error) {
		// The map moves while the request is in flight.
		f.store.SetFrom(context.Background(), location.SourceMap, &domain.Viewpoint{Lat: 1, Lng: 1, Label: "Moved"})
		return []domain.Place{{Lat: "1", Lon: "2", DisplayName: "late"}}, nil
	}

	f.search.Type("delhi")
	f.clock.Advance(500 * time.Millisecond)

	st := f.search.State()
	assert.Nil(t, st.Results)
	assert.False(t, st.Open)
	assert.Equal(t, "Moved", st.Text)
}

func TestSearch_SelectWritesViewpointWithBox(t *testing.T) {
	f := newFixture(t)
	f.geocoder.searchFn = func(q string) ([]domain.Place, error) {
		return []domain.Place{
			{Lat: "28.6517", Lon: "77.2219", DisplayName: "Chandni Chowk, Delhi", BoundingBox: []string{"28.64", "28.66", "77.21", "77.23"}},
		}, nil
	}
	f.search.Type("chandni")
	f.clock.Advance(500 * time.Millisecond)

	require.NoError(t, f.search.Select(context.Background(), 0))

	got, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, "Chandni Chowk", got.Label)
	require.NotNil(t, got.BoundingBox)
	assert.Equal(t, domain.Bounds{MinLat: 28.64, MinLng: 77.21, MaxLat: 28.66, MaxLng: 77.23}, *got.BoundingBox)

	st := f.search.State()
	assert.False(t, st.Open)
	assert.Equal(t, "Chandni Chowk", st.Text)

	f.clock.Advance(time.Second)
	assert.Len(t, f.geocoder.calls(), 1, "selection does not trigger another search")
}

func TestSearch_SelectNonNumericIsNoop(t *testing.T) {
	f := newFixture(t)
	f.geocoder.searchFn = func(q string) ([]domain.Place, error) {
		return []domain.Place{{Lat: "n/a", Lon: "77.2", DisplayName: "Broken"}}, nil
	}
	f.search.Type("broken")
	f.clock.Advance(500 * time.Millisecond)

	require.NoError(t, f.search.Select(context.Background(), 0))
	_, ok := f.store.Get()
	assert.False(t, ok)
	assert.False(t, f.search.State().Open)
}

func TestSearch_SelectOutOfRange(t *testing.T) {
	f := newFixture(t)
	err := f.search.Select(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearch_NetworkFailureAlertsAndKeepsResults(t *testing.T) {
	f := newFixture(t)
	f.search.Type("delhi")
	f.clock.Advance(500 * time.Millisecond)
	require.Len(t, f.search.State().Results, 1)

	f.geocoder.searchFn = func(q string) ([]domain.Place, error) {
		return nil, fmt.Errorf("search: %w", domain.ErrNetworkFailure)
	}
	f.search.Type("delhi gate")
	f.clock.Advance(500 * time.Millisecond)

	assert.Len(t, f.search.State().Results, 1)
	assert.Len(t, f.presenter.alerts, 1)
}

func TestSearch_ParseFailureEmptiesResultsSilently(t *testing.T) {
	f := newFixture(t)
	f.geocoder.searchFn = func(q string) ([]domain.Place, error) {
		return nil, fmt.Errorf("decode: %w", domain.ErrGeocodeParse)
	}
	f.search.Type("delhi")
	f.clock.Advance(500 * time.Millisecond)

	assert.Nil(t, f.search.State().Results)
	assert.Empty(t, f.presenter.alerts)
}

func TestSearch_Dismiss(t *testing.T) {
	f := newFixture(t)
	f.search.Type("delhi")
	f.clock.Advance(500 * time.Millisecond)
	require.True(t, f.search.State().Open)

	f.search.Dismiss()
	assert.False(t, f.search.State().Open)
}

func TestSearch_UseCurrentLocation(t *testing.T) {
	f := newFixture(t, placesearch.WithGeolocator(fakeGeolocator{}))
	require.NoError(t, f.search.UseCurrentLocation(context.Background()))

	got, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, domain.LabelCurrentLocation, got.Label)
	assert.Equal(t, domain.LabelCurrentLocation, f.search.State().Text)
}

func TestSearch_UseCurrentLocationDenied(t *testing.T) {
	f := newFixture(t, placesearch.WithGeolocator(fakeGeolocator{err: errors.New("denied")}))
	f.store.Set(context.Background(), &domain.Viewpoint{Lat: 1, Lng: 2, Label: "Before"})

	err := f.search.UseCurrentLocation(context.Background())
	require.ErrorIs(t, err, domain.ErrLocationUnavailable)

	got, _ := f.store.Get()
	assert.Equal(t, "Before", got.Label)
	assert.Len(t, f.presenter.alerts, 1)
}

type slowGeolocator struct {
	started chan struct{}
	release chan struct{}
}

func (g slowGeolocator) CurrentPosition(ctx context.Context) (domain.GeoPoint, error) {
	close(g.started)
	<-g.release
	return domain.GeoPoint{Lat: 28.61, Lng: 77.21}, nil
}

func TestSearch_RepeatedUseCurrentLocationDoesNotAlert(t *testing.T) {
	geo := slowGeolocator{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, placesearch.WithGeolocator(geo))

	done := make(chan error, 1)
	go func() { done <- f.search.UseCurrentLocation(context.Background()) }()
	<-geo.started

	require.NoError(t, f.search.UseCurrentLocation(context.Background()))
	close(geo.release)
	require.NoError(t, <-done)

	assert.Empty(t, f.presenter.alerts)
	got, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, domain.LabelCurrentLocation, got.Label)
}

func TestSearch_InitialTextFromStore(t *testing.T) {
	store := location.NewStore("c1", nil)
	store.Set(context.Background(), &domain.Viewpoint{Lat: 1, Lng: 2, Label: "Pune"})

	s := placesearch.New(context.Background(), store, &fakeGeocoder{}, placesearch.WithClock(debounce.NewManualClock()))
	defer s.Close()
	assert.Equal(t, "Pune", s.State().Text)
}
