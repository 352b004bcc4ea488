package domain

import (
	"strconv"
	"strings"
)

// Place is one forward-geocoding candidate as the geocoder returns it.
// Coordinates arrive as strings; BoundingBox is [minLat, maxLat, minLng, maxLng].
type Place struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox,omitempty"`
}

// ShortName is the first comma-separated segment of the display name.
func (p Place) ShortName() string {
	return firstSegment(p.DisplayName)
}

// Viewpoint converts the candidate into a viewpoint. It reports false when the
// coordinates are not numeric. A malformed box is dropped, not fatal.
func (p Place) Viewpoint() (Viewpoint, bool) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
	if err != nil {
		return Viewpoint{}, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
	if err != nil {
		return Viewpoint{}, false
	}
	if !(GeoPoint{Lat: lat, Lng: lng}).Valid() {
		return Viewpoint{}, false
	}

	label := p.ShortName()
	if label == "" {
		label = LabelSelectedLocation
	}
	return Viewpoint{Lat: lat, Lng: lng, Label: label, BoundingBox: p.bounds()}, true
}

func (p Place) bounds() *Bounds {
	if len(p.BoundingBox) != 4 {
		return nil
	}
	var v [4]float64
	for i, s := range p.BoundingBox {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		v[i] = f
	}
	b := Bounds{MinLat: v[0], MaxLat: v[1], MinLng: v[2], MaxLng: v[3]}
	if !b.Valid() {
		return nil
	}
	return &b
}

// Address holds the reverse-geocoder's address components we label with.
type Address struct {
	Road          string `json:"road,omitempty"`
	Neighbourhood string `json:"neighbourhood,omitempty"`
	Building      string `json:"building,omitempty"`
	Suburb        string `json:"suburb,omitempty"`
	CityDistrict  string `json:"city_district,omitempty"`
	District      string `json:"district,omitempty"`
	City          string `json:"city,omitempty"`
	Town          string `json:"town,omitempty"`
	Village       string `json:"village,omitempty"`
	State         string `json:"state,omitempty"`
	Country       string `json:"country,omitempty"`
}

// ReversePlace is a reverse-geocoding answer.
type ReversePlace struct {
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
}

// Label picks a human label for the zoom level: street detail when zoomed in,
// neighbourhood-scale names at mid zoom, settlement or region when zoomed out.
// It falls back to the first segment of the display name.
func (r ReversePlace) Label(zoom int) string {
	a := r.Address
	low := []string{a.City, a.Town, a.Village, a.State, a.Country}
	mid := append([]string{a.Suburb, a.CityDistrict, a.District}, low...)
	high := append([]string{a.Road, a.Neighbourhood, a.Building}, mid...)

	var tier []string
	switch {
	case zoom <= 10:
		tier = low
	case zoom <= 14:
		tier = mid
	default:
		tier = high
	}
	for _, s := range tier {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return firstSegment(r.DisplayName)
}

func firstSegment(s string) string {
	head, _, _ := strings.Cut(s, ",")
	return strings.TrimSpace(head)
}
