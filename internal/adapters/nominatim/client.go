// Package nominatim implements ports.Geocoder against an OpenStreetMap
// Nominatim server, within its usage policy: one request per second and an
// identifying User-Agent. Answers are cached in process and, when
// configured, in Valkey.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

// Config configures a Client.
type Config struct {
	BaseURL           string
	UserAgent         string
	Email             string
	RequestsPerSecond float64
	CacheTTL          time.Duration
	Timeout           time.Duration
}

// Client is a rate-limited, cached Nominatim client.
type Client struct {
	base    string
	ua      string
	email   string
	http    *http.Client
	limiter *rate.Limiter
	local   *cache.Cache
	shared  ports.CacheService
	ttl     time.Duration
}

// New creates a client. shared may be nil.
func New(cfg Config, shared ports.CacheService) *Client {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	local := min(cfg.CacheTTL, time.Hour)
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		ua:      cfg.UserAgent,
		email:   cfg.Email,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		local:   cache.New(local, 2*local),
		shared:  shared,
		ttl:     cfg.CacheTTL,
	}
}

type searchResult struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	DisplayName string   `json:"display_name"`
	BoundingBox []string `json:"boundingbox"`
}

// Search forward-geocodes query, preserving the server's ranking.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]domain.Place, error) {
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = 5
	}
	key := fmt.Sprintf("geo:search:%d:%s", limit, strings.ToLower(query))

	var places []domain.Place
	if c.cached(ctx, "search", key, &places) {
		return places, nil
	}

	q := url.Values{
		"format": {"json"},
		"q":      {query},
		"limit":  {strconv.Itoa(limit)},
	}
	data, err := c.get(ctx, "search", "/search", q)
	if err != nil {
		return nil, err
	}

	var raw []searchResult
	if err := json.Unmarshal(data, &raw); err != nil {
		metrics.GeocoderRequests.WithLabelValues("search", "parse_error").Inc()
		return nil, fmt.Errorf("decode search results: %v: %w", err, domain.ErrGeocodeParse)
	}
	places = make([]domain.Place, len(raw))
	for i, r := range raw {
		places[i] = domain.Place{Lat: r.Lat, Lon: r.Lon, DisplayName: r.DisplayName, BoundingBox: r.BoundingBox}
	}
	metrics.GeocoderRequests.WithLabelValues("search", "ok").Inc()

	c.store(ctx, key, places)
	return places, nil
}

type reverseResult struct {
	Error       string         `json:"error"`
	DisplayName string         `json:"display_name"`
	Address     domain.Address `json:"address"`
}

// Reverse looks up the address at p for the given map zoom.
func (c *Client) Reverse(ctx context.Context, p domain.GeoPoint, zoom int) (*domain.ReversePlace, error) {
	key := fmt.Sprintf("geo:reverse:%.5f:%.5f:%d", p.Lat, p.Lng, zoom)

	var place domain.ReversePlace
	if c.cached(ctx, "reverse", key, &place) {
		return &place, nil
	}

	q := url.Values{
		"format":         {"json"},
		"lat":            {strconv.FormatFloat(p.Lat, 'f', 6, 64)},
		"lon":            {strconv.FormatFloat(p.Lng, 'f', 6, 64)},
		"zoom":           {strconv.Itoa(zoom)},
		"addressdetails": {"1"},
	}
	data, err := c.get(ctx, "reverse", "/reverse", q)
	if err != nil {
		return nil, err
	}

	var raw reverseResult
	if err := json.Unmarshal(data, &raw); err != nil {
		metrics.GeocoderRequests.WithLabelValues("reverse", "parse_error").Inc()
		return nil, fmt.Errorf("decode reverse result: %v: %w", err, domain.ErrGeocodeParse)
	}
	if raw.Error != "" {
		metrics.GeocoderRequests.WithLabelValues("reverse", "parse_error").Inc()
		return nil, fmt.Errorf("reverse %v,%v: %s: %w", p.Lat, p.Lng, raw.Error, domain.ErrGeocodeParse)
	}
	metrics.GeocoderRequests.WithLabelValues("reverse", "ok").Inc()

	place = domain.ReversePlace{DisplayName: raw.DisplayName, Address: raw.Address}
	c.store(ctx, key, place)
	return &place, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values) ([]byte, error) {
	ctx, span := otel.Tracer("Nominatim").Start(ctx, op, trace.WithAttributes(
		attribute.String("geocoder.op", op),
	))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.GeocoderRequests.WithLabelValues(op, "cancelled").Inc()
		return nil, fmt.Errorf("%s: wait for rate limit: %v: %w", op, err, domain.ErrNetworkFailure)
	}

	if c.email != "" {
		q.Set("email", c.email)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		metrics.GeocoderRequests.WithLabelValues(op, "network_error").Inc()
		return nil, fmt.Errorf("%s: %v: %w", op, err, domain.ErrNetworkFailure)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.GeocoderRequests.WithLabelValues(op, "network_error").Inc()
		return nil, fmt.Errorf("%s: read body: %v: %w", op, err, domain.ErrNetworkFailure)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		metrics.GeocoderRequests.WithLabelValues(op, "http_"+strconv.Itoa(resp.StatusCode)).Inc()
		return nil, fmt.Errorf("%s: HTTP %d: %w", op, resp.StatusCode, domain.ErrNetworkFailure)
	}
	return data, nil
}

// cached looks key up in process, then in the shared cache.
func (c *Client) cached(ctx context.Context, op, key string, dst any) bool {
	if v, ok := c.local.Get(key); ok {
		if data, ok := v.([]byte); ok && json.Unmarshal(data, dst) == nil {
			metrics.GeocoderCacheHits.WithLabelValues(op).Inc()
			return true
		}
	}
	if c.shared == nil {
		return false
	}
	data, err := c.shared.Get(ctx, key)
	if err != nil || json.Unmarshal(data, dst) != nil {
		return false
	}
	c.local.Set(key, data, cache.DefaultExpiration)
	metrics.GeocoderCacheHits.WithLabelValues(op).Inc()
	return true
}

func (c *Client) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.local.Set(key, data, cache.DefaultExpiration)
	if c.shared != nil {
		_ = c.shared.Set(ctx, key, data, int(c.ttl/time.Second))
	}
}
