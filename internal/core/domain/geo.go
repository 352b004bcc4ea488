package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within WGS 84 bounds.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Center returns the midpoint of the box.
func (b Bounds) Center() GeoPoint {
	return GeoPoint{Lat: (b.MinLat + b.MaxLat) / 2, Lng: (b.MinLng + b.MaxLng) / 2}
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Valid reports whether the box is non-inverted and inside WGS 84 bounds.
func (b Bounds) Valid() bool {
	return b.MinLat <= b.MaxLat && b.MinLng <= b.MaxLng &&
		GeoPoint{Lat: b.MinLat, Lng: b.MinLng}.Valid() &&
		GeoPoint{Lat: b.MaxLat, Lng: b.MaxLng}.Valid()
}

// BBoxParam renders the box in the backend's query order: minLng,minLat,maxLng,maxLat.
func (b Bounds) BBoxParam() string {
	return strings.Join([]string{
		strconv.FormatFloat(b.MinLng, 'f', -1, 64),
		strconv.FormatFloat(b.MinLat, 'f', -1, 64),
		strconv.FormatFloat(b.MaxLng, 'f', -1, 64),
		strconv.FormatFloat(b.MaxLat, 'f', -1, 64),
	}, ",")
}

// ParseBBox parses a "minLng,minLat,maxLng,maxLat" query value.
func ParseBBox(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("bbox needs 4 comma-separated numbers: %w", ErrInvalidInput)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("bbox value %q: %w", p, ErrInvalidInput)
		}
		v[i] = f
	}
	b := Bounds{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	if !b.Valid() {
		return Bounds{}, fmt.Errorf("bbox out of range or inverted: %w", ErrInvalidInput)
	}
	return b, nil
}

// Viewpoint is the single shared notion of where the user is looking.
// It is always replaced as a whole, never patched.
type Viewpoint struct {
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Label       string  `json:"label"`
	BoundingBox *Bounds `json:"bounding_box,omitempty"`
}

// Point returns the viewpoint's coordinate.
func (v Viewpoint) Point() GeoPoint { return GeoPoint{Lat: v.Lat, Lng: v.Lng} }

// Clone returns a deep copy so that holders cannot mutate a shared snapshot.
func (v *Viewpoint) Clone() *Viewpoint {
	if v == nil {
		return nil
	}
	c := *v
	if v.BoundingBox != nil {
		bb := *v.BoundingBox
		c.BoundingBox = &bb
	}
	return &c
}

// Labels used for viewpoints that do not come from a geocoder.
const (
	LabelCurrentLocation  = "Current Location"
	LabelSelectedLocation = "Selected Location"
)
