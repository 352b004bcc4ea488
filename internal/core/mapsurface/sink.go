package mapsurface

import (
	"errors"
	"fmt"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
)

// markerSink receives the full marker set on every issue change. It is chosen
// once per mount depending on whether clustering is available.
type markerSink interface {
	Replace(markers []domain.Marker) error
	Clear() error
	Kind() string
}

func newSink(view ports.MapView, plugin ports.ClusterPlugin) markerSink {
	if plugin != nil {
		return &clusterSink{view: view, plugin: plugin}
	}
	return &flatSink{view: view}
}

// flatSink adds every marker to the map individually.
type flatSink struct {
	view   ports.MapView
	layers []ports.Layer
}

func (f *flatSink) Kind() string { return "flat" }

func (f *flatSink) Replace(markers []domain.Marker) error {
	if err := f.Clear(); err != nil {
		return err
	}
	for _, m := range markers {
		l, err := f.view.AddMarker(m)
		if err != nil {
			return fmt.Errorf("add marker %s: %w", m.IssueID, err)
		}
		f.layers = append(f.layers, l)
	}
	return nil
}

func (f *flatSink) Clear() error {
	var errs []error
	for _, l := range f.layers {
		if err := l.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	f.layers = nil
	return errors.Join(errs...)
}

// clusterSink puts all markers into one cluster layer, rebuilt from scratch
// on every change.
type clusterSink struct {
	view   ports.MapView
	plugin ports.ClusterPlugin
	group  ports.ClusterGroup
}

func (c *clusterSink) Kind() string { return "cluster" }

func (c *clusterSink) Replace(markers []domain.Marker) error {
	if err := c.Clear(); err != nil {
		return err
	}
	g, err := c.plugin.NewClusterGroup(c.view)
	if err != nil {
		return fmt.Errorf("new cluster group: %w", err)
	}
	c.group = g
	if err := g.AddMarkers(markers); err != nil {
		return fmt.Errorf("add %d markers to cluster: %w", len(markers), err)
	}
	return nil
}

func (c *clusterSink) Clear() error {
	if c.group == nil {
		return nil
	}
	err := c.group.Remove()
	c.group = nil
	return err
}
