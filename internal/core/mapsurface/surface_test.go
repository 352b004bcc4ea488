package mapsurface_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/location"
	"github.com/samirrijal/civicmap/internal/core/mapsurface"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/debounce"
)

// --- Fakes ---

type fakeLayer struct {
	removed *int
}

func (l fakeLayer) Remove() error {
	*l.removed++
	return nil
}

type fakeView struct {
	mu       sync.Mutex
	center   domain.GeoPoint
	zoom     int
	setViews []domain.GeoPoint
	fits     []domain.Bounds
	fitPad   []int
	fitZoom  []int
	circles  []domain.HeatCircle
	markers  []domain.Marker
	layersRm int
	removed  bool
}

func (v *fakeView) Center() domain.GeoPoint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.center
}

func (v *fakeView) Zoom() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom
}

func (v *fakeView) Bounds() domain.Bounds {
	c := v.Center()
	return domain.Bounds{MinLat: c.Lat - 0.01, MinLng: c.Lng - 0.01, MaxLat: c.Lat + 0.01, MaxLng: c.Lng + 0.01}
}

func (v *fakeView) SetView(center domain.GeoPoint, zoom int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setViews = append(v.setViews, center)
	v.center, v.zoom = center, zoom
	return nil
}

func (v *fakeView) FitBounds(b domain.Bounds, paddingPx, maxZoom int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fits = append(v.fits, b)
	v.fitPad = append(v.fitPad, paddingPx)
	v.fitZoom = append(v.fitZoom, maxZoom)
	v.center = b.Center()
	return nil
}

func (v *fakeView) AddHeatCircle(c domain.HeatCircle) (ports.Layer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.circles = append(v.circles, c)
	return fakeLayer{removed: &v.layersRm}, nil
}

func (v *fakeView) AddMarker(m domain.Marker) (ports.Layer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markers = append(v.markers, m)
	return fakeLayer{removed: &v.layersRm}, nil
}

func (v *fakeView) Remove() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.removed = true
	return nil
}

func (v *fakeView) pan(p domain.GeoPoint) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.center = p
}

type fakeGroup struct {
	markers []domain.Marker
	removed bool
}

func (g *fakeGroup) AddMarkers(m []domain.Marker) error {
	g.markers = append(g.markers, m...)
	return nil
}

func (g *fakeGroup) Remove() error {
	g.removed = true
	return nil
}

type fakePlugin struct {
	groups []*fakeGroup
}

func (p *fakePlugin) NewClusterGroup(view ports.MapView) (ports.ClusterGroup, error) {
	g := &fakeGroup{}
	p.groups = append(p.groups, g)
	return g, nil
}

type fakeHost struct {
	views  []*fakeView
	plugin *fakePlugin
	err    error
	// mounting runs while Mount is in progress, before the view is returned.
	mounting func()
}

func (h *fakeHost) Mount(ctx context.Context, center domain.GeoPoint, zoom int) (ports.MapView, error) {
	if h.err != nil {
		return nil, h.err
	}
	v := &fakeView{center: center, zoom: zoom}
	h.views = append(h.views, v)
	if h.mounting != nil {
		h.mounting()
	}
	return v, nil
}

func (h *fakeHost) LoadClusterPlugin(ctx context.Context) (ports.ClusterPlugin, error) {
	if h.plugin == nil {
		return nil, nil
	}
	return h.plugin, nil
}

func (h *fakeHost) view() *fakeView { return h.views[len(h.views)-1] }

type fakeIssues struct {
	mu       sync.Mutex
	bounds   []domain.Bounds
	listFn   func(call int, b domain.Bounds) ([]domain.Issue, error)
	fixtures []domain.Issue
}

func (f *fakeIssues) ListInBounds(ctx context.Context, b domain.Bounds, status string) ([]domain.Issue, error) {
	f.mu.Lock()
	f.bounds = append(f.bounds, b)
	call, fn := len(f.bounds), f.listFn
	f.mu.Unlock()
	if fn != nil {
		return fn(call, b)
	}
	return f.fixtures, nil
}

func (f *fakeIssues) ListNear(ctx context.Context, p domain.GeoPoint, r float64) ([]domain.Issue, error) {
	return nil, nil
}

func (f *fakeIssues) Get(ctx context.Context, id string) (*domain.Issue, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeIssues) Create(ctx context.Context, d domain.IssueDraft) (*domain.Issue, error) {
	return nil, errors.New("not used")
}

func (f *fakeIssues) Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error) {
	return domain.VoteTally{}, errors.New("not used")
}

func (f *fakeIssues) calls() []domain.Bounds {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Bounds(nil), f.bounds...)
}

type fakeGeocoder struct {
	reverses  []domain.GeoPoint
	place     *domain.ReversePlace
	err       error
	reversing func()
}

func (g *fakeGeocoder) Search(ctx context.Context, q string, limit int) ([]domain.Place, error) {
	return nil, nil
}

func (g *fakeGeocoder) Reverse(ctx context.Context, p domain.GeoPoint, zoom int) (*domain.ReversePlace, error) {
	g.reverses = append(g.reverses, p)
	if g.reversing != nil {
		g.reversing()
	}
	return g.place, g.err
}

type fixture struct {
	clock    *debounce.ManualClock
	host     *fakeHost
	store    *location.Store
	issues   *fakeIssues
	geocoder *fakeGeocoder
	surface  *mapsurface.Surface
	clicked  []domain.Issue
}

func newFixture(t *testing.T, host *fakeHost) *fixture {
	t.Helper()
	f := &fixture{
		clock: debounce.NewManualClock(),
		host:  host,
		store: location.NewStore("c1", nil),
		issues: &fakeIssues{fixtures: []domain.Issue{
			{ID: "1", Title: "Pothole", Status: domain.StatusReported, Upvotes: 4, Location: domain.GeoPoint{Lat: 28.614, Lng: 77.209}},
			{ID: "2", Title: "Streetlight", Status: domain.StatusResolved, Location: domain.GeoPoint{Lat: 28.615, Lng: 77.21}},
		}},
		geocoder: &fakeGeocoder{place: &domain.ReversePlace{
			DisplayName: "Janpath, Connaught Place, New Delhi",
			Address:     domain.Address{Road: "Janpath", Suburb: "Connaught Place", City: "New Delhi"},
		}},
	}
	f.surface = mapsurface.New(context.Background(), host, f.store, f.issues, f.geocoder,
		mapsurface.WithClock(f.clock),
		mapsurface.WithDispatcher(func(fn func()) { fn() }),
		mapsurface.WithMarkerClick(func(is domain.Issue) { f.clicked = append(f.clicked, is) }),
	)
	return f
}

func mounted(t *testing.T, host *fakeHost) *fixture {
	t.Helper()
	f := newFixture(t, host)
	require.NoError(t, f.surface.Mount(context.Background()))
	return f
}

// --- Lifecycle ---

func TestSurface_MountIsIdempotent(t *testing.T) {
	f := mounted(t, &fakeHost{})
	require.NoError(t, f.surface.Mount(context.Background()))

	assert.Len(t, f.host.views, 1)
	assert.Equal(t, mapsurface.Ready, f.surface.State())
	assert.Equal(t, mapsurface.DefaultConfig().DefaultCenter, f.host.view().Center())
}

func TestSurface_MountCentresOnStoredViewpoint(t *testing.T) {
	f := newFixture(t, &fakeHost{})
	f.store.Set(context.Background(), &domain.Viewpoint{Lat: 19.07, Lng: 72.87, Label: "Mumbai"})

	require.NoError(t, f.surface.Mount(context.Background()))
	assert.Equal(t, domain.GeoPoint{Lat: 19.07, Lng: 72.87}, f.host.view().Center())
}

func TestSurface_ViewpointSetDuringMountIsApplied(t *testing.T) {
	host := &fakeHost{}
	f := newFixture(t, host)
	host.mounting = func() {
		f.store.SetFrom(context.Background(), location.SourceSearch, &domain.Viewpoint{Lat: 19.07, Lng: 72.87, Label: "Mumbai"})
	}

	require.NoError(t, f.surface.Mount(context.Background()))

	view := f.host.view()
	require.Len(t, view.setViews, 1)
	assert.Equal(t, domain.GeoPoint{Lat: 19.07, Lng: 72.87}, view.Center())
}

func TestSurface_UnchangedViewpointDuringMountDoesNotMove(t *testing.T) {
	f := newFixture(t, &fakeHost{})
	f.store.Set(context.Background(), &domain.Viewpoint{Lat: 19.07, Lng: 72.87, Label: "Mumbai"})

	require.NoError(t, f.surface.Mount(context.Background()))

	assert.Empty(t, f.host.view().setViews)
	assert.Empty(t, f.host.view().fits)
}

func TestSurface_MountFailureReturnsToUninitialized(t *testing.T) {
	f := newFixture(t, &fakeHost{err: errors.New("container missing")})
	require.Error(t, f.surface.Mount(context.Background()))
	assert.Equal(t, mapsurface.Uninitialized, f.surface.State())
}

func TestSurface_DestroyAndRemount(t *testing.T) {
	f := mounted(t, &fakeHost{})
	first := f.host.view()

	require.NoError(t, f.surface.Destroy())
	assert.True(t, first.removed)
	assert.Equal(t, mapsurface.Destroyed, f.surface.State())

	f.store.Set(context.Background(), &domain.Viewpoint{Lat: 10, Lng: 10, Label: "far"})
	assert.Empty(t, first.setViews, "destroyed surface is detached from the store")

	require.NoError(t, f.surface.Mount(context.Background()))
	assert.Len(t, f.host.views, 2)
	assert.Equal(t, mapsurface.Ready, f.surface.State())
}

// --- Store To Map ---

func TestSurface_SmallMoveDoesNotRecentre(t *testing.T) {
	f := mounted(t, &fakeHost{})
	c := f.host.view().Center()

	f.store.Set(context.Background(), &domain.Viewpoint{Lat: c.Lat + 0.0003, Lng: c.Lng + 0.0003, Label: "nearby"})
	assert.Empty(t, f.host.view().setViews)

	f.store.Set(context.Background(), &domain.Viewpoint{Lat: c.Lat + 0.01, Lng: c.Lng, Label: "further"})
	require.Len(t, f.host.view().setViews, 1)
	assert.Equal(t, 12, f.host.view().Zoom(), "zoom preserved")
}

func TestSurface_BoundingBoxAlwaysFits(t *testing.T) {
	f := mounted(t, &fakeHost{})
	c := f.host.view().Center()
	box := domain.Bounds{MinLat: c.Lat - 0.0001, MinLng: c.Lng - 0.0001, MaxLat: c.Lat + 0.0001, MaxLng: c.Lng + 0.0001}

	f.store.Set(context.Background(), &domain.Viewpoint{Lat: c.Lat, Lng: c.Lng, Label: "here", BoundingBox: &box})

	view := f.host.view()
	assert.Equal(t, []domain.Bounds{box}, view.fits)
	assert.Equal(t, []int{50}, view.fitPad)
	assert.Equal(t, []int{15}, view.fitZoom)
	assert.Empty(t, view.setViews)
}

func TestSurface_DeniedGeolocationLeavesMapAlone(t *testing.T) {
	f := mounted(t, &fakeHost{})
	err := f.store.ResolveFromDevice(context.Background(), deniedGeolocator{})
	require.ErrorIs(t, err, domain.ErrLocationUnavailable)

	view := f.host.view()
	assert.Empty(t, view.setViews)
	assert.Empty(t, view.fits)
}

type deniedGeolocator struct{}

func (deniedGeolocator) CurrentPosition(ctx context.Context) (domain.GeoPoint, error) {
	return domain.GeoPoint{}, errors.New("User denied Geolocation")
}

// --- Map To Store ---

// northOf returns the latitude meters north of lat.
func northOf(lat, meters float64) float64 { return lat + meters/111320.0 }

func TestSurface_UserPanFetchesAndReverseGeocodesOnce(t *testing.T) {
	f := mounted(t, &fakeHost{})
	require.Len(t, f.issues.calls(), 1, "initial fetch on mount")

	view := f.host.view()
	start := view.Center()
	moved := domain.GeoPoint{Lat: northOf(start.Lat, 200), Lng: start.Lng}
	view.pan(moved)
	f.surface.MoveEnd(context.Background(), mapsurface.MoveByUser)

	calls := f.issues.calls()
	require.Len(t, calls, 2, "fetch is not debounced")
	assert.InDelta(t, moved.Lat, calls[1].Center().Lat, 1e-9)

	f.clock.Advance(799 * time.Millisecond)
	assert.Empty(t, f.geocoder.reverses)
	f.clock.Advance(time.Millisecond)
	require.Len(t, f.geocoder.reverses, 1)

	got, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, "Connaught Place", got.Label, "mid zoom uses the suburb")
	assert.Equal(t, moved, got.Point())
	assert.Nil(t, got.BoundingBox)
	assert.Empty(t, view.setViews, "pushed viewpoint matches the centre, no feedback move")
}

func TestSurface_RapidPansReverseGeocodeOnce(t *testing.T) {
	f := mounted(t, &fakeHost{})
	view := f.host.view()
	for i := 1; i <= 4; i++ {
		view.pan(domain.GeoPoint{Lat: 28.6 + float64(i)/100, Lng: 77.2})
		f.surface.MoveEnd(context.Background(), mapsurface.MoveByUser)
		f.clock.Advance(300 * time.Millisecond)
	}
	f.clock.Advance(time.Second)

	require.Len(t, f.geocoder.reverses, 1)
	assert.InDelta(t, 28.64, f.geocoder.reverses[0].Lat, 1e-9)
	assert.Len(t, f.issues.calls(), 5)
}

func TestSurface_SearchDuringReverseDebounceWins(t *testing.T) {
	f := mounted(t, &fakeHost{})
	view := f.host.view()
	view.pan(domain.GeoPoint{Lat: 28.65, Lng: 77.2})
	f.surface.MoveEnd(context.Background(), mapsurface.MoveByUser)
	f.clock.Advance(300 * time.Millisecond)

	box := domain.Bounds{MinLat: 18.89, MinLng: 72.77, MaxLat: 19.27, MaxLng: 72.98}
	f.store.SetFrom(context.Background(), location.SourceSearch, &domain.Viewpoint{Lat: 19.07, Lng: 72.87, Label: "Mumbai", BoundingBox: &box})
	f.clock.Advance(time.Second)

	assert.Empty(t, f.geocoder.reverses)
	got, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, "Mumbai", got.Label)
	assert.Equal(t, []domain.Bounds{box}, view.fits)
	assert.Empty(t, view.setViews, "map is not pulled back to the pan")
}

func TestSurface_SearchDuringReverseLookupWins(t *testing.T) {
	f := mounted(t, &fakeHost{})
	view := f.host.view()
	f.geocoder.reversing = func() {
		f.store.SetFrom(context.Background(), location.SourceSearch, &domain.Viewpoint{Lat: 19.07, Lng: 72.87, Label: "Mumbai"})
	}
	view.pan(domain.GeoPoint{Lat: 28.65, Lng: 77.2})
	f.surface.MoveEnd(context.Background(), mapsurface.MoveByUser)
	f.clock.Advance(time.Second)

	require.Len(t, f.geocoder.reverses, 1)
	got, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, "Mumbai", got.Label, "late reverse result is discarded")
}

func TestSurface_ProgrammaticMoveSkipsReverseGeocode(t *testing.T) {
	f := mounted(t, &fakeHost{})
	f.surface.MoveEnd(context.Background(), mapsurface.MoveProgrammatic)
	f.clock.Advance(time.Second)

	assert.Empty(t, f.geocoder.reverses)
	assert.Len(t, f.issues.calls(), 2)
}

func TestSurface_ReverseFailureFallsBackToSelectedLocation(t *testing.T) {
	f := mounted(t, &fakeHost{})
	f.geocoder.err = domain.ErrNetworkFailure

	f.surface.MoveEnd(context.Background(), mapsurface.MoveByUser)
	f.clock.Advance(800 * time.Millisecond)

	got, ok := f.store.Get()
	require.True(t, ok)
	assert.Equal(t, domain.LabelSelectedLocation, got.Label)
}

func TestSurface_DestroyCancelsPendingReverse(t *testing.T) {
	f := mounted(t, &fakeHost{})
	f.surface.MoveEnd(context.Background(), mapsurface.MoveByUser)
	require.NoError(t, f.surface.Destroy())
	f.clock.Advance(time.Second)

	assert.Empty(t, f.geocoder.reverses)
	_, ok := f.store.Get()
	assert.False(t, ok)
}

// --- Rendering ---

func TestSurface_FlatMarkersRebuiltOnEachFetch(t *testing.T) {
	f := mounted(t, &fakeHost{})
	view := f.host.view()
	require.Len(t, view.markers, 2)
	require.Len(t, view.circles, 2)
	assert.Equal(t, domain.HeatColorOpen, view.circles[0].Color)
	assert.Equal(t, domain.HeatColorResolved, view.circles[1].Color)
	assert.False(t, f.surface.Overlay().Clustered)

	f.surface.MoveEnd(context.Background(), mapsurface.MoveProgrammatic)
	assert.Len(t, view.markers, 4)
	assert.Equal(t, 4, view.layersRm, "old circles and markers removed")
	assert.Equal(t, 2, f.surface.Overlay().IssueCount)
}

func TestSurface_ClusteredMarkers(t *testing.T) {
	plugin := &fakePlugin{}
	f := mounted(t, &fakeHost{plugin: plugin})
	require.Len(t, plugin.groups, 1)
	assert.Len(t, plugin.groups[0].markers, 2)
	assert.Empty(t, f.host.view().markers, "no flat markers when clustering")
	assert.True(t, f.surface.Overlay().Clustered)

	f.surface.MoveEnd(context.Background(), mapsurface.MoveProgrammatic)
	require.Len(t, plugin.groups, 2)
	assert.True(t, plugin.groups[0].removed)
	assert.False(t, plugin.groups[1].removed)
}

func TestSurface_StaleFetchDiscarded(t *testing.T) {
	f := newFixture(t, &fakeHost{})
	late := []domain.Issue{{ID: "old", Location: domain.GeoPoint{Lat: 1, Lng: 1}}}
	fresh := []domain.Issue{{ID: "new", Location: domain.GeoPoint{Lat: 2, Lng: 2}}}
	f.issues.listFn = func(call int, b domain.Bounds) ([]domain.Issue, error) {
		if call == 1 {
			// A newer fetch starts and completes while this one is in flight.
			f.surface.MoveEnd(context.Background(), mapsurface.MoveProgrammatic)
			return late, nil
		}
		return fresh, nil
	}
	require.NoError(t, f.surface.Mount(context.Background()))

	got := f.surface.Issues()
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
	assert.Len(t, f.host.view().markers, 1)
}

func TestSurface_FetchErrorKeepsIssues(t *testing.T) {
	f := mounted(t, &fakeHost{})
	f.issues.listFn = func(int, domain.Bounds) ([]domain.Issue, error) { return nil, domain.ErrNetworkFailure }

	f.surface.MoveEnd(context.Background(), mapsurface.MoveProgrammatic)
	assert.Len(t, f.surface.Issues(), 2)
	assert.False(t, f.surface.Overlay().Loading)
}

func TestSurface_MarkerClicked(t *testing.T) {
	f := mounted(t, &fakeHost{})

	is, err := f.surface.MarkerClicked("1")
	require.NoError(t, err)
	assert.Equal(t, "Pothole", is.Title)
	require.Len(t, f.clicked, 1)

	_, err = f.surface.MarkerClicked("nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSurface_RefreshIfVisible(t *testing.T) {
	f := mounted(t, &fakeHost{})
	c := f.host.view().Center()

	assert.True(t, f.surface.RefreshIfVisible(context.Background(), c))
	assert.False(t, f.surface.RefreshIfVisible(context.Background(), domain.GeoPoint{Lat: 0, Lng: 0}))
	assert.Len(t, f.issues.calls(), 2)
}
