package liveview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/geospatial"
)

// ErrViewRemoved is returned by a view after Remove.
var ErrViewRemoved = errors.New("map view removed")

// Viewport is the browser's report of what a map shows.
type Viewport struct {
	MapID  string          `json:"map_id"`
	Center domain.GeoPoint `json:"center"`
	Zoom   int             `json:"zoom"`
	Bounds domain.Bounds   `json:"bounds"`
	// User is true when the move came from a pan or zoom gesture.
	User bool `json:"user"`
}

// Size is the map container in CSS pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Host implements ports.MapHost for the map container of one browser.
type Host struct {
	ch            *Channel
	pluginTimeout time.Duration

	mu        sync.Mutex
	clustered bool
	size      Size
	view      *View
}

// NewHost creates a host. pluginTimeout bounds loading the clustering script.
func NewHost(ch *Channel, pluginTimeout time.Duration) *Host {
	if pluginTimeout <= 0 {
		pluginTimeout = 3 * time.Second
	}
	return &Host{ch: ch, pluginTimeout: pluginTimeout, size: Size{Width: 800, Height: 600}}
}

// Announce records the browser's capabilities from its hello event.
func (h *Host) Announce(clustered bool, size Size) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clustered = clustered
	if size.Width > 0 && size.Height > 0 {
		h.size = size
	}
}

// LoadClusterPlugin asks the browser to load its clustering plugin. A browser
// that did not announce the capability yields no plugin and no error.
func (h *Host) LoadClusterPlugin(ctx context.Context) (ports.ClusterPlugin, error) {
	h.mu.Lock()
	clustered := h.clustered
	h.mu.Unlock()
	if !clustered {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, h.pluginTimeout)
	defer cancel()
	if _, err := h.ch.Request(ctx, CmdClusterLoad, nil); err != nil {
		return nil, err
	}
	return clusterPlugin{ch: h.ch}, nil
}

type mountArgs struct {
	MapID  string          `json:"map_id"`
	Center domain.GeoPoint `json:"center"`
	Zoom   int             `json:"zoom"`
}

// Mount creates the map in the browser and waits until it is up. The reply
// may carry the initial viewport.
func (h *Host) Mount(ctx context.Context, center domain.GeoPoint, zoom int) (ports.MapView, error) {
	id := uuid.NewString()
	data, err := h.ch.Request(ctx, CmdMapMount, mountArgs{MapID: id, Center: center, Zoom: zoom})
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	size := h.size
	h.mu.Unlock()

	v := &View{id: id, ch: h.ch, size: size, center: center, zoom: zoom}
	var vp Viewport
	if len(data) > 0 && json.Unmarshal(data, &vp) == nil && vp.Bounds.Valid() && vp.Bounds != (domain.Bounds{}) {
		v.center, v.zoom, v.bounds = vp.Center, vp.Zoom, vp.Bounds
	} else {
		v.bounds = estimateBounds(center, zoom, size)
	}

	h.mu.Lock()
	h.view = v
	h.mu.Unlock()
	return v, nil
}

// Moved applies a reported viewport to the current view. Reports for another
// or a removed map are ignored and yield false.
func (h *Host) Moved(vp Viewport) bool {
	h.mu.Lock()
	v := h.view
	h.mu.Unlock()
	if v == nil || v.id != vp.MapID {
		return false
	}
	return v.moved(vp)
}

// View is one map instance in the browser. Its position is the last one the
// browser reported or the server commanded.
type View struct {
	id   string
	ch   *Channel
	size Size

	mu      sync.Mutex
	center  domain.GeoPoint
	zoom    int
	bounds  domain.Bounds
	removed bool
}

// ID returns the map id shared with the browser.
func (v *View) ID() string { return v.id }

func (v *View) Center() domain.GeoPoint {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.center
}

func (v *View) Zoom() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom
}

func (v *View) Bounds() domain.Bounds {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bounds
}

type setViewArgs struct {
	MapID  string          `json:"map_id"`
	Center domain.GeoPoint `json:"center"`
	Zoom   int             `json:"zoom"`
}

func (v *View) SetView(center domain.GeoPoint, zoom int) error {
	if err := v.live(); err != nil {
		return err
	}
	if err := v.ch.Notify(CmdSetView, setViewArgs{MapID: v.id, Center: center, Zoom: zoom}); err != nil {
		return err
	}
	v.mu.Lock()
	v.center, v.zoom = center, zoom
	v.bounds = estimateBounds(center, zoom, v.size)
	v.mu.Unlock()
	return nil
}

type fitBoundsArgs struct {
	MapID     string        `json:"map_id"`
	Bounds    domain.Bounds `json:"bounds"`
	PaddingPx int           `json:"padding_px"`
	MaxZoom   int           `json:"max_zoom"`
}

func (v *View) FitBounds(b domain.Bounds, paddingPx, maxZoom int) error {
	if err := v.live(); err != nil {
		return err
	}
	if err := v.ch.Notify(CmdFitBounds, fitBoundsArgs{MapID: v.id, Bounds: b, PaddingPx: paddingPx, MaxZoom: maxZoom}); err != nil {
		return err
	}
	zoom := geospatial.ZoomForBounds(b.MinLat, b.MinLng, b.MaxLat, b.MaxLng, v.size.Width, v.size.Height, paddingPx, maxZoom)
	v.mu.Lock()
	v.center, v.zoom, v.bounds = b.Center(), zoom, b
	v.mu.Unlock()
	return nil
}

type layerArgs struct {
	MapID   string `json:"map_id"`
	LayerID string `json:"layer_id"`
	Circle  any    `json:"circle,omitempty"`
	Marker  any    `json:"marker,omitempty"`
}

func (v *View) AddHeatCircle(c domain.HeatCircle) (ports.Layer, error) {
	return v.addLayer(CmdAddCircle, layerArgs{Circle: c})
}

func (v *View) AddMarker(m domain.Marker) (ports.Layer, error) {
	return v.addLayer(CmdAddMarker, layerArgs{Marker: m})
}

func (v *View) addLayer(cmd string, args layerArgs) (ports.Layer, error) {
	if err := v.live(); err != nil {
		return nil, err
	}
	args.MapID, args.LayerID = v.id, uuid.NewString()
	if err := v.ch.Notify(cmd, args); err != nil {
		return nil, err
	}
	return &layer{ch: v.ch, mapID: v.id, id: args.LayerID}, nil
}

// Remove tells the browser to dispose of the map. Later calls are no-ops.
func (v *View) Remove() error {
	v.mu.Lock()
	if v.removed {
		v.mu.Unlock()
		return nil
	}
	v.removed = true
	v.mu.Unlock()

	err := v.ch.Notify(CmdMapRemove, struct {
		MapID string `json:"map_id"`
	}{v.id})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (v *View) live() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.removed {
		return fmt.Errorf("map %s: %w", v.id, ErrViewRemoved)
	}
	return nil
}

func (v *View) moved(vp Viewport) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.removed {
		return false
	}
	v.center, v.zoom = vp.Center, vp.Zoom
	if vp.Bounds.Valid() && vp.Bounds != (domain.Bounds{}) {
		v.bounds = vp.Bounds
	} else {
		v.bounds = estimateBounds(vp.Center, vp.Zoom, v.size)
	}
	return true
}

type layer struct {
	ch    *Channel
	mapID string
	id    string
}

func (l *layer) Remove() error {
	err := l.ch.Notify(CmdLayerRemove, struct {
		MapID   string `json:"map_id"`
		LayerID string `json:"layer_id"`
	}{l.mapID, l.id})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

type clusterPlugin struct {
	ch *Channel
}

func (p clusterPlugin) NewClusterGroup(view ports.MapView) (ports.ClusterGroup, error) {
	v, ok := view.(*View)
	if !ok {
		return nil, fmt.Errorf("cluster group on foreign view %T: %w", view, ErrCommandFailed)
	}
	if err := v.live(); err != nil {
		return nil, err
	}
	return &clusterGroup{ch: p.ch, mapID: v.id, id: uuid.NewString()}, nil
}

// clusterGroup is created in the browser together with its markers.
type clusterGroup struct {
	ch    *Channel
	mapID string
	id    string
	added bool
}

type clusterArgs struct {
	MapID   string          `json:"map_id"`
	LayerID string          `json:"layer_id"`
	Markers []domain.Marker `json:"markers"`
}

func (g *clusterGroup) AddMarkers(markers []domain.Marker) error {
	if err := g.ch.Notify(CmdAddCluster, clusterArgs{MapID: g.mapID, LayerID: g.id, Markers: markers}); err != nil {
		return err
	}
	g.added = true
	return nil
}

func (g *clusterGroup) Remove() error {
	if !g.added {
		return nil
	}
	return (&layer{ch: g.ch, mapID: g.mapID, id: g.id}).Remove()
}

// estimateBounds approximates the visible box for a web-mercator view of
// size centred on c. It is replaced by the browser's report on the next move.
func estimateBounds(c domain.GeoPoint, zoom int, size Size) domain.Bounds {
	degPerPx := 360.0 / (256.0 * math.Exp2(float64(max(0, zoom))))
	halfW := float64(size.Width) / 2 * degPerPx
	halfH := float64(size.Height) / 2 * degPerPx
	return domain.Bounds{
		MinLat: max(-90, c.Lat-halfH),
		MaxLat: min(90, c.Lat+halfH),
		MinLng: max(-180, c.Lng-halfW),
		MaxLng: min(180, c.Lng+halfW),
	}
}
