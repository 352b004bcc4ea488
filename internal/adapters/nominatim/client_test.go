package nominatim_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samirrijal/civicmap/internal/adapters/nominatim"
	"github.com/samirrijal/civicmap/internal/core/domain"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("miss")
	}
	return v, nil
}

func (m *memCache) Set(ctx context.Context, key string, value []byte, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(ctx context.Context, key string) error { return nil }

func newClient(t *testing.T, h http.HandlerFunc, shared *memCache) *nominatim.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := nominatim.Config{
		BaseURL:           srv.URL,
		UserAgent:         "civicmap-test/1.0",
		Email:             "ops@example.org",
		RequestsPerSecond: 100,
		Timeout:           2 * time.Second,
	}
	if shared == nil {
		return nominatim.New(cfg, nil)
	}
	return nominatim.New(cfg, shared)
}

func TestSearch_SendsPolicyHeadersAndParams(t *testing.T) {
	var ua, format, limit, email, q string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		format = r.URL.Query().Get("format")
		limit = r.URL.Query().Get("limit")
		email = r.URL.Query().Get("email")
		q = r.URL.Query().Get("q")
		_, _ = io.WriteString(w, `[{"lat":"28.6517","lon":"77.2219","display_name":"Chandni Chowk, Delhi","boundingbox":["28.64","28.66","77.21","77.23"]}]`)
	}, nil)

	places, err := c.Search(context.Background(), " chandni chowk ", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ua != "civicmap-test/1.0" || format != "json" || limit != "5" || email != "ops@example.org" || q != "chandni chowk" {
		t.Errorf("unexpected request ua=%q format=%q limit=%q email=%q q=%q", ua, format, limit, email, q)
	}
	if len(places) != 1 || places[0].DisplayName != "Chandni Chowk, Delhi" || len(places[0].BoundingBox) != 4 {
		t.Errorf("unexpected places %+v", places)
	}
}

func TestSearch_CachedInProcess(t *testing.T) {
	var hits atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}, nil)

	for i := 0; i < 3; i++ {
		if _, err := c.Search(context.Background(), "Delhi", 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 upstream call, got %d", hits.Load())
	}
}

func TestSearch_SharedCacheServesOtherInstances(t *testing.T) {
	shared := &memCache{data: map[string][]byte{}}
	var hits atomic.Int32
	h := func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, `[{"lat":"1","lon":"2","display_name":"X"}]`)
	}
	a := newClient(t, h, shared)
	b := newClient(t, h, shared)

	if _, err := a.Search(context.Background(), "x marks", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	places, err := b.Search(context.Background(), "x marks", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits.Load() != 1 || len(places) != 1 {
		t.Errorf("expected shared cache hit, upstream calls=%d places=%d", hits.Load(), len(places))
	}
}

func TestSearch_ErrorMapping(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "broken" {
			_, _ = io.WriteString(w, `{"unexpected":true}`)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}, nil)

	if _, err := c.Search(context.Background(), "broken", 5); !errors.Is(err, domain.ErrGeocodeParse) {
		t.Errorf("expected ErrGeocodeParse, got %v", err)
	}
	if _, err := c.Search(context.Background(), "throttled", 5); !errors.Is(err, domain.ErrNetworkFailure) {
		t.Errorf("expected ErrNetworkFailure, got %v", err)
	}
}

func TestReverse_AddressDetails(t *testing.T) {
	var details, zoom string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		details = r.URL.Query().Get("addressdetails")
		zoom = r.URL.Query().Get("zoom")
		_, _ = io.WriteString(w, `{"display_name":"Janpath, Connaught Place, New Delhi, Delhi, India",
			"address":{"road":"Janpath","suburb":"Connaught Place","city":"New Delhi","state":"Delhi","country":"India"}}`)
	}, nil)

	place, err := c.Reverse(context.Background(), domain.GeoPoint{Lat: 28.6289, Lng: 77.2181}, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if details != "1" || zoom != "16" {
		t.Errorf("expected addressdetails=1 zoom=16, got %s %s", details, zoom)
	}
	if got := place.Label(16); got != "Janpath" {
		t.Errorf("expected Janpath, got %s", got)
	}
	if got := place.Label(8); got != "New Delhi" {
		t.Errorf("expected New Delhi, got %s", got)
	}
}

func TestReverse_UnableToGeocode(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"Unable to geocode"}`)
	}, nil)
	_, err := c.Reverse(context.Background(), domain.GeoPoint{Lat: 0, Lng: -160}, 12)
	if !errors.Is(err, domain.ErrGeocodeParse) {
		t.Errorf("expected ErrGeocodeParse, got %v", err)
	}
}

func TestSearch_CancelledWhileRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()
	c := nominatim.New(nominatim.Config{BaseURL: srv.URL, UserAgent: "t", RequestsPerSecond: 0.01}, nil)

	if _, err := c.Search(context.Background(), "first", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Search(ctx, "second", 5); !errors.Is(err, domain.ErrNetworkFailure) {
		t.Errorf("expected ErrNetworkFailure while throttled, got %v", err)
	}
}
