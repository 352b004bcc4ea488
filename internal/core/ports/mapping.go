package ports

import (
	"context"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

// MapHost creates map instances inside a client's map container.
type MapHost interface {
	// Mount attaches a new map instance to the container.
	Mount(ctx context.Context, center domain.GeoPoint, zoom int) (MapView, error)
	// LoadClusterPlugin probes for the marker-clustering capability. A nil
	// plugin with a nil error means clustering is unavailable.
	LoadClusterPlugin(ctx context.Context) (ClusterPlugin, error)
}

// MapView is one mounted map instance.
type MapView interface {
	Center() domain.GeoPoint
	Zoom() int
	Bounds() domain.Bounds
	SetView(center domain.GeoPoint, zoom int) error
	FitBounds(b domain.Bounds, paddingPx, maxZoom int) error
	AddHeatCircle(c domain.HeatCircle) (Layer, error)
	AddMarker(m domain.Marker) (Layer, error)
	// Remove releases the instance and detaches its listeners.
	Remove() error
}

// Layer is something drawn on a map that can be taken off again.
type Layer interface {
	Remove() error
}

// ClusterPlugin groups markers that are close on screen.
type ClusterPlugin interface {
	NewClusterGroup(view MapView) (ClusterGroup, error)
}

// ClusterGroup is a single clustering layer holding many markers.
type ClusterGroup interface {
	AddMarkers(markers []domain.Marker) error
	Remove() error
}
