package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("civicmap-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry.ServiceName != "civicmap-test" {
		t.Errorf("expected service name civicmap-test, got %s", cfg.Telemetry.ServiceName)
	}
	if cfg.Session.DefaultLat != 28.6139 || cfg.Session.DefaultLng != 77.2090 {
		t.Errorf("unexpected default center %v,%v", cfg.Session.DefaultLat, cfg.Session.DefaultLng)
	}
	if cfg.Session.SearchDebounce() != 500*time.Millisecond {
		t.Errorf("expected 500ms search debounce, got %s", cfg.Session.SearchDebounce())
	}
	if cfg.Session.ReverseDebounce() != 800*time.Millisecond {
		t.Errorf("expected 800ms reverse debounce, got %s", cfg.Session.ReverseDebounce())
	}
	if cfg.Geocoder.RequestsPerSecond != 1 {
		t.Errorf("expected 1 rps geocoder limit, got %g", cfg.Geocoder.RequestsPerSecond)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CIVICMAP_SERVER_PORT", "9090")
	t.Setenv("CIVICMAP_SESSION_MAP_STATUS_FILTER", "reported")

	cfg, err := Load("civicmap-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Session.MapStatusFilter != "reported" {
		t.Errorf("expected status filter reported, got %q", cfg.Session.MapStatusFilter)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 0, ReadTimeout: 1, WriteTimeout: 1},
		Database: DatabaseConfig{Enabled: true, Port: 5432},
		Backend:  BackendConfig{BaseURL: "http://x", TimeoutSeconds: 1},
		Geocoder: GeocoderConfig{BaseURL: "http://y", RequestsPerSecond: 5},
		Session: SessionConfig{
			DefaultZoom: 12, FitMaxZoom: 15, RecenterThresholdDeg: 0.0005,
			SearchDebounceMs: 500, ReverseDebounceMs: 800, SearchMinLength: 3,
			NearbyRadiusMeters: 5000, GeolocateTimeoutSecs: 10,
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"server.port", "database.host", "database.user", "user_agent", "requests_per_second"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in error, got:\n%s", want, msg)
		}
	}
}

func TestValidate_OptionalServicesDisabled(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 8080, ReadTimeout: 1, WriteTimeout: 1},
		Backend:  BackendConfig{BaseURL: "http://x", TimeoutSeconds: 1},
		Geocoder: GeocoderConfig{BaseURL: "http://y", UserAgent: "t", RequestsPerSecond: 1},
		Session: SessionConfig{
			DefaultZoom: 12, FitMaxZoom: 15, RecenterThresholdDeg: 0.0005,
			SearchDebounceMs: 500, ReverseDebounceMs: 800, SearchMinLength: 3,
			NearbyRadiusMeters: 5000, GeolocateTimeoutSecs: 10,
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
