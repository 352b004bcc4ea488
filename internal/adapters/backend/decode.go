package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

// Response shapes the issue list endpoint is known to produce.
const (
	ShapeFeatureCollection          = "feature_collection"
	ShapePaginatedFeatureCollection = "paginated_feature_collection"
	ShapePaginatedArray             = "paginated_array"
	ShapeArray                      = "array"
)

// DecodeIssues normalizes an issue list response into issues. It accepts a
// GeoJSON FeatureCollection, the same wrapped in a paginated "results"
// envelope, a paginated plain array and a bare array. Items may be GeoJSON
// features or plain objects.
func DecodeIssues(data []byte) ([]domain.Issue, error) {
	issues, shape, err := decodeIssues(data)
	if err != nil {
		return nil, err
	}
	metrics.IssueFetchShape.WithLabelValues(shape).Inc()
	return issues, nil
}

func decodeIssues(data []byte) ([]domain.Issue, string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty issue list: %w", domain.ErrNetworkFailure)
	}

	if data[0] == '[' {
		items, err := decodeItems(data)
		return items, ShapeArray, err
	}

	var env struct {
		Features json.RawMessage `json:"features"`
		Results  json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("decode issue list: %v: %w", err, domain.ErrNetworkFailure)
	}

	switch {
	case len(env.Features) > 0:
		items, err := decodeItems(env.Features)
		return items, ShapeFeatureCollection, err
	case len(env.Results) > 0:
		res := bytes.TrimSpace(env.Results)
		if len(res) > 0 && res[0] == '[' {
			items, err := decodeItems(res)
			return items, ShapePaginatedArray, err
		}
		var inner struct {
			Features json.RawMessage `json:"features"`
		}
		if err := json.Unmarshal(res, &inner); err != nil {
			return nil, "", fmt.Errorf("decode issue results: %v: %w", err, domain.ErrNetworkFailure)
		}
		if len(inner.Features) == 0 {
			return []domain.Issue{}, ShapePaginatedFeatureCollection, nil
		}
		items, err := decodeItems(inner.Features)
		return items, ShapePaginatedFeatureCollection, err
	}
	return []domain.Issue{}, ShapeFeatureCollection, nil
}

func decodeItems(data []byte) ([]domain.Issue, error) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return []domain.Issue{}, nil
	}
	var raw []issueWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode issues: %v: %w", err, domain.ErrNetworkFailure)
	}
	out := make([]domain.Issue, 0, len(raw))
	for _, w := range raw {
		if is, ok := w.issue(); ok {
			out = append(out, is)
		}
	}
	return out, nil
}

// DecodeIssue decodes a single issue detail.
func DecodeIssue(data []byte) (*domain.Issue, error) {
	var w issueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode issue: %v: %w", err, domain.ErrNetworkFailure)
	}
	is, ok := w.issue()
	if !ok {
		return nil, fmt.Errorf("issue without id: %w", domain.ErrNetworkFailure)
	}
	return &is, nil
}

// issueWire is either a GeoJSON feature or a plain issue object.
type issueWire struct {
	issueFields
	Geometry   *pointWire   `json:"geometry"`
	Properties *issueFields `json:"properties"`
}

type issueFields struct {
	ID            flexString      `json:"id"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Category      json.RawMessage `json:"category"`
	CategoryName  string          `json:"category_name"`
	Status        string          `json:"status"`
	StatusDisplay string          `json:"status_display"`
	Upvotes       int             `json:"upvotes"`
	Downvotes     int             `json:"downvotes"`
	CreatedAt     *time.Time      `json:"created_at"`
	Location      *pointWire      `json:"location"`
	LocationLat   *float64        `json:"location_lat"`
	LocationLng   *float64        `json:"location_lng"`
}

type pointWire struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func (p *pointWire) point() (domain.GeoPoint, bool) {
	if p == nil || len(p.Coordinates) < 2 {
		return domain.GeoPoint{}, false
	}
	// GeoJSON order is lng, lat.
	return domain.GeoPoint{Lat: p.Coordinates[1], Lng: p.Coordinates[0]}, true
}

func (w issueWire) issue() (domain.Issue, bool) {
	f := w.issueFields
	if w.Properties != nil {
		f = *w.Properties
		if f.ID == "" {
			f.ID = w.ID
		}
	}
	if f.ID == "" {
		return domain.Issue{}, false
	}

	is := domain.Issue{
		ID:            string(f.ID),
		Title:         f.Title,
		Description:   f.Description,
		Category:      firstNonEmpty(f.CategoryName, categoryName(f.Category)),
		Status:        domain.IssueStatus(strings.ToLower(f.Status)),
		StatusDisplay: f.StatusDisplay,
		Upvotes:       f.Upvotes,
		Downvotes:     f.Downvotes,
		CreatedAt:     f.CreatedAt,
	}

	switch {
	case w.Geometry != nil:
		is.Location, _ = w.Geometry.point()
	case f.Location != nil:
		is.Location, _ = f.Location.point()
	case f.LocationLat != nil && f.LocationLng != nil:
		is.Location = domain.GeoPoint{Lat: *f.LocationLat, Lng: *f.LocationLng}
	}
	return is, true
}

// DecodeSolutions decodes a solution list, bare or in a "results" envelope.
func DecodeSolutions(data []byte) ([]domain.Solution, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var env struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode solutions: %v: %w", err, domain.ErrNetworkFailure)
		}
		data = env.Results
		if len(data) == 0 {
			return []domain.Solution{}, nil
		}
	}
	var raw []solutionWire
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode solutions: %v: %w", err, domain.ErrNetworkFailure)
	}
	out := make([]domain.Solution, 0, len(raw))
	for _, w := range raw {
		out = append(out, w.solution())
	}
	return out, nil
}

// DecodeSolution decodes a solution detail.
func DecodeSolution(data []byte) (*domain.Solution, error) {
	var w solutionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode solution: %v: %w", err, domain.ErrNetworkFailure)
	}
	s := w.solution()
	return &s, nil
}

type solutionWire struct {
	ID           flexString      `json:"id"`
	Title        string          `json:"title"`
	Category     json.RawMessage `json:"category"`
	CategoryName string          `json:"category_name"`
	Language     string          `json:"language"`
	SuccessRate  float64         `json:"success_rate"`
	Upvotes      int             `json:"upvotes"`
	Downvotes    int             `json:"downvotes"`
	IsVerified   bool            `json:"is_verified"`
	Steps        json.RawMessage `json:"steps"`
}

func (w solutionWire) solution() domain.Solution {
	return domain.Solution{
		ID:          string(w.ID),
		Title:       w.Title,
		Category:    firstNonEmpty(w.CategoryName, categoryName(w.Category)),
		Language:    w.Language,
		SuccessRate: w.SuccessRate,
		Upvotes:     w.Upvotes,
		Downvotes:   w.Downvotes,
		IsVerified:  w.IsVerified,
		Steps:       decodeSteps(w.Steps),
	}
}

// categoryName accepts a nested category object or a bare name or id.
func categoryName(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Name != "" {
		return obj.Name
	}
	var s flexString
	if err := json.Unmarshal(raw, &s); err == nil {
		return string(s)
	}
	return ""
}

// decodeSteps accepts a list of strings or a list of objects carrying the
// step text under "description", "text", "title" or "step".
func decodeSteps(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var objs []map[string]any
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil
	}
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		for _, k := range []string{"description", "text", "title", "step"} {
			if s, ok := o[k].(string); ok && s != "" {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// DecodeCategories decodes the category list, bare or paginated.
func DecodeCategories(data []byte) ([]domain.Category, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var env struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("decode categories: %v: %w", err, domain.ErrNetworkFailure)
		}
		data = env.Results
	}
	var raw []struct {
		ID   flexString `json:"id"`
		Name string     `json:"name"`
		Slug string     `json:"slug"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode categories: %v: %w", err, domain.ErrNetworkFailure)
	}
	out := make([]domain.Category, len(raw))
	for i, c := range raw {
		out[i] = domain.Category{ID: string(c.ID), Name: c.Name, Slug: c.Slug}
	}
	return out, nil
}

// DecodeTally decodes a vote answer. Solution votes may carry only a success rate.
func DecodeTally(data []byte) (domain.VoteTally, error) {
	var t domain.VoteTally
	if len(bytes.TrimSpace(data)) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("decode vote: %v: %w", err, domain.ErrNetworkFailure)
	}
	return t, nil
}

// flexString decodes JSON strings and numbers alike; the backend uses
// integer ids in some deployments and UUIDs in others.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
