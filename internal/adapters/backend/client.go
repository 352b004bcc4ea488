// Package backend is the HTTP client for the civic platform's issue and
// solution API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/civicmap/internal/core/domain"
)

const maxBody = 8 << 20

// Client talks to the backend. Use Issues and Solutions for the port
// implementations.
type Client struct {
	base *url.URL
	http *http.Client
}

// New creates a client for baseURL (e.g. http://localhost:8000).
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend base url %q: %w", baseURL, domain.ErrInvalidInput)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{base: u, http: &http.Client{Timeout: timeout}}, nil
}

// Issues returns the issue resource client.
func (c *Client) Issues() *Issues { return &Issues{c: c} }

// Solutions returns the solution wiki client.
func (c *Client) Solutions() *Solutions { return &Solutions{c: c} }

// do sends one request and returns the body of a 2xx answer. Non-2xx answers
// map to domain sentinels: 400 invalid input, 404 not found, 409 vote
// conflict, anything else network failure.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any) ([]byte, error) {
	ctx, span := otel.Tracer("BackendClient").Start(ctx, op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	))
	defer span.End()

	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", op, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("%s: %v: %w", op, err, domain.ErrNetworkFailure)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%s: read body: %v: %w", op, err, domain.ErrNetworkFailure)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	span.SetStatus(codes.Error, resp.Status)
	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = domain.ErrInvalidInput
	case http.StatusNotFound:
		sentinel = domain.ErrNotFound
	case http.StatusConflict:
		sentinel = domain.ErrVoteConflict
	default:
		sentinel = domain.ErrNetworkFailure
	}
	return nil, fmt.Errorf("%s: HTTP %d %s: %w", op, resp.StatusCode, snippet(data), sentinel)
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', 6, 64) }

// Issues implements ports.IssueAPI.
type Issues struct{ c *Client }

const issuesPath = "/api/issues/issues/"

func (i *Issues) ListInBounds(ctx context.Context, b domain.Bounds, status string) ([]domain.Issue, error) {
	q := url.Values{"bbox": {b.BBoxParam()}}
	if status != "" {
		q.Set("status", status)
	}
	data, err := i.c.do(ctx, "ListIssuesInBounds", http.MethodGet, issuesPath, q, nil)
	if err != nil {
		return nil, err
	}
	return DecodeIssues(data)
}

// ListNear asks for issues within radiusMeters of p; the backend takes the
// radius in kilometres.
func (i *Issues) ListNear(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.Issue, error) {
	q := url.Values{
		"lat":    {formatFloat(p.Lat)},
		"lng":    {formatFloat(p.Lng)},
		"radius": {strconv.FormatFloat(radiusMeters/1000, 'f', -1, 64)},
	}
	data, err := i.c.do(ctx, "ListIssuesNear", http.MethodGet, issuesPath, q, nil)
	if err != nil {
		return nil, err
	}
	return DecodeIssues(data)
}

func (i *Issues) Get(ctx context.Context, id string) (*domain.Issue, error) {
	data, err := i.c.do(ctx, "GetIssue", http.MethodGet, issuesPath+url.PathEscape(id)+"/", nil, nil)
	if err != nil {
		return nil, err
	}
	return DecodeIssue(data)
}

type createIssueBody struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CategoryID  string    `json:"category_id"`
	Location    pointWire `json:"location"`
}

func (i *Issues) Create(ctx context.Context, d domain.IssueDraft) (*domain.Issue, error) {
	if d.Location == nil {
		return nil, fmt.Errorf("create issue without location: %w", domain.ErrInvalidInput)
	}
	body := createIssueBody{
		Title:       d.Title,
		Description: d.Description,
		CategoryID:  d.CategoryID,
		Location:    pointWire{Type: "Point", Coordinates: []float64{d.Location.Lng, d.Location.Lat}},
	}
	data, err := i.c.do(ctx, "CreateIssue", http.MethodPost, issuesPath, nil, body)
	if err != nil {
		return nil, err
	}
	issue, err := DecodeIssue(data)
	if err != nil {
		return nil, err
	}
	if issue.Location == (domain.GeoPoint{}) {
		issue.Location = *d.Location
	}
	return issue, nil
}

func (i *Issues) Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error) {
	path := issuesPath + url.PathEscape(id) + "/" + string(dir) + "/"
	data, err := i.c.do(ctx, "VoteIssue", http.MethodPost, path, nil, nil)
	if err != nil {
		return domain.VoteTally{}, err
	}
	return DecodeTally(data)
}

// Solutions implements ports.SolutionAPI.
type Solutions struct{ c *Client }

const (
	solutionsPath   = "/api/wiki/solutions/"
	suggestionsPath = "/api/wiki/suggestions/"
	categoriesPath  = "/api/wiki/categories/"
)

func (s *Solutions) List(ctx context.Context, f domain.SolutionQuery) ([]domain.Solution, error) {
	q := url.Values{}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Language != "" {
		q.Set("language", f.Language)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	data, err := s.c.do(ctx, "ListSolutions", http.MethodGet, solutionsPath, q, nil)
	if err != nil {
		return nil, err
	}
	return DecodeSolutions(data)
}

// ListNear sends the point along; deployments without geographic filtering
// ignore it and return the general list.
func (s *Solutions) ListNear(ctx context.Context, p domain.GeoPoint, radiusMeters float64) ([]domain.Solution, error) {
	q := url.Values{
		"lat":    {formatFloat(p.Lat)},
		"lng":    {formatFloat(p.Lng)},
		"radius": {strconv.FormatFloat(radiusMeters/1000, 'f', -1, 64)},
	}
	data, err := s.c.do(ctx, "ListSolutionsNear", http.MethodGet, solutionsPath, q, nil)
	if err != nil {
		return nil, err
	}
	return DecodeSolutions(data)
}

func (s *Solutions) Get(ctx context.Context, id string) (*domain.Solution, error) {
	data, err := s.c.do(ctx, "GetSolution", http.MethodGet, solutionsPath+url.PathEscape(id)+"/", nil, nil)
	if err != nil {
		return nil, err
	}
	return DecodeSolution(data)
}

func (s *Solutions) Vote(ctx context.Context, id string, dir domain.VoteDirection) (domain.VoteTally, error) {
	path := solutionsPath + url.PathEscape(id) + "/" + string(dir) + "/"
	data, err := s.c.do(ctx, "VoteSolution", http.MethodPost, path, nil, nil)
	if err != nil {
		return domain.VoteTally{}, err
	}
	return DecodeTally(data)
}

func (s *Solutions) SuggestEdit(ctx context.Context, sg domain.EditSuggestion) error {
	_, err := s.c.do(ctx, "SuggestEdit", http.MethodPost, suggestionsPath, nil, sg)
	return err
}

func (s *Solutions) Categories(ctx context.Context) ([]domain.Category, error) {
	data, err := s.c.do(ctx, "ListCategories", http.MethodGet, categoriesPath, nil, nil)
	if err != nil {
		return nil, err
	}
	return DecodeCategories(data)
}
