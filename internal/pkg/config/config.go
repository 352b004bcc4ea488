package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Geocoder  GeocoderConfig  `mapstructure:"geocoder"`
	Session   SessionConfig   `mapstructure:"session"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	AllowOrigins string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port"`
	TaskQueue string `mapstructure:"task_queue"`
}

// BackendConfig points at the civic issues/solutions REST API.
type BackendConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// GeocoderConfig configures the Nominatim client. Nominatim's usage policy
// requires an identifying User-Agent and at most one request per second.
type GeocoderConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"`
	Email             string  `mapstructure:"email"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	CacheTTLSeconds   int     `mapstructure:"cache_ttl_seconds"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
}

// SessionConfig carries the map and timing defaults of a live session.
type SessionConfig struct {
	DefaultLat             float64 `mapstructure:"default_lat"`
	DefaultLng             float64 `mapstructure:"default_lng"`
	DefaultZoom            int     `mapstructure:"default_zoom"`
	FitPaddingPx           int     `mapstructure:"fit_padding_px"`
	FitMaxZoom             int     `mapstructure:"fit_max_zoom"`
	RecenterThresholdDeg   float64 `mapstructure:"recenter_threshold_deg"`
	SearchDebounceMs       int     `mapstructure:"search_debounce_ms"`
	SearchMinLength        int     `mapstructure:"search_min_length"`
	SearchLimit            int     `mapstructure:"search_limit"`
	ReverseDebounceMs      int     `mapstructure:"reverse_debounce_ms"`
	HeatRadiusMeters       float64 `mapstructure:"heat_radius_meters"`
	NearbyRadiusMeters     float64 `mapstructure:"nearby_radius_meters"`
	NearbyLimit            int     `mapstructure:"nearby_limit"`
	GeolocateTimeoutSecs   int     `mapstructure:"geolocate_timeout_seconds"`
	MapStatusFilter        string  `mapstructure:"map_status_filter"`
	DefaultLanguage        string  `mapstructure:"default_language"`
	ClusterPluginTimeoutMs int     `mapstructure:"cluster_plugin_timeout_ms"`
}

func (s SessionConfig) SearchDebounce() time.Duration {
	return time.Duration(s.SearchDebounceMs) * time.Millisecond
}

func (s SessionConfig) ReverseDebounce() time.Duration {
	return time.Duration(s.ReverseDebounceMs) * time.Millisecond
}

func (s SessionConfig) GeolocateTimeout() time.Duration {
	return time.Duration(s.GeolocateTimeoutSecs) * time.Second
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: CIVICMAP_GEOCODER_USER_AGENT → geocoder.user_agent
	v.SetEnvPrefix("CIVICMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.allow_origins", "http://localhost:3000, http://localhost:5173")

	v.SetDefault("database.enabled", true)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "civicmap")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "civicmap")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.enabled", true)
	v.SetDefault("valkey.addr", "localhost:6379")

	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)

	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.task_queue", "issue-reports")

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout_seconds", 10)

	v.SetDefault("geocoder.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocoder.user_agent", "civicmap/1.0")
	v.SetDefault("geocoder.email", "")
	v.SetDefault("geocoder.requests_per_second", 1.0)
	v.SetDefault("geocoder.cache_ttl_seconds", 86400)
	v.SetDefault("geocoder.timeout_seconds", 10)

	v.SetDefault("session.default_lat", 28.6139)
	v.SetDefault("session.default_lng", 77.2090)
	v.SetDefault("session.default_zoom", 12)
	v.SetDefault("session.fit_padding_px", 50)
	v.SetDefault("session.fit_max_zoom", 15)
	v.SetDefault("session.recenter_threshold_deg", 0.0005)
	v.SetDefault("session.search_debounce_ms", 500)
	v.SetDefault("session.search_min_length", 3)
	v.SetDefault("session.search_limit", 5)
	v.SetDefault("session.reverse_debounce_ms", 800)
	v.SetDefault("session.heat_radius_meters", 150.0)
	v.SetDefault("session.nearby_radius_meters", 5000.0)
	v.SetDefault("session.nearby_limit", 5)
	v.SetDefault("session.geolocate_timeout_seconds", 10)
	v.SetDefault("session.map_status_filter", "")
	v.SetDefault("session.default_language", "en")
	v.SetDefault("session.cluster_plugin_timeout_ms", 3000)
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Database.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Temporal.Enabled && c.Temporal.HostPort == "" {
		errs = append(errs, "temporal.host_port is required")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Backend.TimeoutSeconds <= 0 {
		errs = append(errs, "backend.timeout_seconds must be positive")
	}
	if c.Geocoder.BaseURL == "" {
		errs = append(errs, "geocoder.base_url is required")
	}
	if strings.TrimSpace(c.Geocoder.UserAgent) == "" {
		errs = append(errs, "geocoder.user_agent is required by the Nominatim usage policy")
	}
	if c.Geocoder.RequestsPerSecond <= 0 || c.Geocoder.RequestsPerSecond > 1 {
		errs = append(errs, fmt.Sprintf("geocoder.requests_per_second must be in (0, 1], got %g", c.Geocoder.RequestsPerSecond))
	}
	if c.Session.DefaultZoom < 0 || c.Session.DefaultZoom > 19 {
		errs = append(errs, fmt.Sprintf("session.default_zoom must be 0-19, got %d", c.Session.DefaultZoom))
	}
	if c.Session.FitMaxZoom < 0 || c.Session.FitMaxZoom > 19 {
		errs = append(errs, fmt.Sprintf("session.fit_max_zoom must be 0-19, got %d", c.Session.FitMaxZoom))
	}
	if c.Session.RecenterThresholdDeg <= 0 {
		errs = append(errs, "session.recenter_threshold_deg must be positive")
	}
	if c.Session.SearchDebounceMs <= 0 || c.Session.ReverseDebounceMs <= 0 {
		errs = append(errs, "session debounce windows must be positive")
	}
	if c.Session.SearchMinLength < 1 {
		errs = append(errs, "session.search_min_length must be at least 1")
	}
	if c.Session.NearbyRadiusMeters <= 0 {
		errs = append(errs, "session.nearby_radius_meters must be positive")
	}
	if c.Session.GeolocateTimeoutSecs <= 0 {
		errs = append(errs, "session.geolocate_timeout_seconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
