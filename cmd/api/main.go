package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/civicmap/internal/adapters/backend"
	"github.com/samirrijal/civicmap/internal/adapters/http"
	"github.com/samirrijal/civicmap/internal/adapters/memory"
	natsadapter "github.com/samirrijal/civicmap/internal/adapters/nats"
	"github.com/samirrijal/civicmap/internal/adapters/nominatim"
	"github.com/samirrijal/civicmap/internal/adapters/postgres"
	"github.com/samirrijal/civicmap/internal/adapters/valkey"
	"github.com/samirrijal/civicmap/internal/core/domain"
	"github.com/samirrijal/civicmap/internal/core/nearby"
	"github.com/samirrijal/civicmap/internal/core/ports"
	"github.com/samirrijal/civicmap/internal/core/usecases"
	"github.com/samirrijal/civicmap/internal/pkg/config"
	"github.com/samirrijal/civicmap/internal/pkg/logging"
	"github.com/samirrijal/civicmap/internal/pkg/telemetry"
	"github.com/samirrijal/civicmap/internal/session"
	"github.com/samirrijal/civicmap/internal/workflows"
)

func main() {
	cfg, err := config.Load("civicmap-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup(logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Per-client records: Postgres when enabled, process memory otherwise
	var (
		db         *postgres.DB
		viewpoints ports.ViewpointRepository = memory.NewViewpointRepo()
		prefs      ports.PreferenceRepository = memory.NewPreferenceRepo()
	)
	if cfg.Database.Enabled {
		db, err = postgres.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		go db.ReportPoolStats(ctx, 15*time.Second)
		viewpoints = postgres.NewViewpointRepo(db)
		prefs = postgres.NewPreferenceRepo(db)
	}

	// Cache
	var (
		cache  *valkey.Cache
		shared ports.CacheService
	)
	if cfg.Valkey.Enabled {
		cache, err = valkey.New(cfg.Valkey.Addr)
		if err != nil {
			slog.Warn("valkey unavailable", "error", err)
			cache = nil
		} else {
			defer cache.Close()
			shared = cache
		}
	}

	// Upstreams
	api, err := backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout())
	if err != nil {
		log.Fatalf("backend: %v", err)
	}
	geocoder := nominatim.New(nominatim.Config{
		BaseURL:           cfg.Geocoder.BaseURL,
		UserAgent:         cfg.Geocoder.UserAgent,
		Email:             cfg.Geocoder.Email,
		RequestsPerSecond: cfg.Geocoder.RequestsPerSecond,
		CacheTTL:          time.Duration(cfg.Geocoder.CacheTTLSeconds) * time.Second,
		Timeout:           time.Duration(cfg.Geocoder.TimeoutSeconds) * time.Second,
	}, shared)

	// Events: NATS when reachable; otherwise the hub relays reports to the
	// live maps of this process.
	var events ports.EventPublisher
	var broker http.BrokerStatus
	if cfg.NATS.Enabled {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable", "error", err)
		} else {
			defer pub.Close()
			events, broker = pub, pub
		}
	}

	// Report submission: durable workflow when Temporal is enabled
	var submitter ports.ReportSubmitter = usecases.DirectSubmitter{Issues: api.Issues()}
	if cfg.Temporal.Enabled {
		tc, err := client.Dial(client.Options{HostPort: cfg.Temporal.HostPort})
		if err != nil {
			slog.Warn("temporal unavailable, submitting reports directly", "error", err)
		} else {
			defer tc.Close()
			submitter = &workflows.Submitter{Client: tc, TaskQueue: cfg.Temporal.TaskQueue}
		}
	}

	// Use cases
	issueSvc := usecases.NewIssueService(api.Issues(), shared)
	solutionSvc := usecases.NewSolutionService(api.Solutions(), shared)
	prefSvc := usecases.NewPreferenceService(prefs, cfg.Session.DefaultLanguage)

	hub := session.NewHub(session.Deps{
		Issues:     api.Issues(),
		Solutions:  api.Solutions(),
		Geocoder:   geocoder,
		Viewpoints: viewpoints,
		Prefs:      prefSvc,
		Config:     cfg.Session,
		Logger:     slog.Default(),
	})
	defer hub.Shutdown()
	if events == nil {
		events = hub
	}
	reportSvc := usecases.NewReportService(submitter, events)
	hub.SetPublisher(events, reportSvc)

	if cfg.NATS.Enabled && broker != nil {
		sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats subscriber unavailable", "error", err)
		} else {
			defer sub.Close()
			err = sub.SubscribeIssueReported(ctx, func(ctx context.Context, ev *domain.IssueReported) error {
				n := hub.IssueReported(ctx, ev)
				slog.Debug("issue reported", "issue_id", ev.Issue.ID, "maps_refreshed", n)
				return nil
			})
			if err != nil {
				slog.Warn("subscribe issue reported failed", "error", err)
			}
		}
	}

	deps := &http.Dependencies{
		Issues:          issueSvc,
		Solutions:       solutionSvc,
		Reports:         reportSvc,
		Viewpoints:      usecases.NewViewpointService(viewpoints, events),
		Prefs:           prefSvc,
		Geocoder:        geocoder,
		Nearby:          nearby.Finder{Issues: issueSvc, Solutions: solutionSvc, RadiusMeters: cfg.Session.NearbyRadiusMeters, Limit: cfg.Session.NearbyLimit},
		Hub:             hub,
		SearchLimit:     cfg.Session.SearchLimit,
		SearchMinLength: cfg.Session.SearchMinLength,
		DocsPath:        http.DefaultSpecPath,
		Broker:          broker,
		DB:              db,
		Cache:           cache,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "civicmap gateway",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
