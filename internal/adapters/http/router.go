package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/civicmap/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

// locationAliasSunset is when /v1/location/:client_id goes away.
var locationAliasSunset = time.Date(2027, time.April, 1, 0, 0, 0, 0, time.UTC)

// SetupRoutes registers all REST, GraphQL, and live socket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip)
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// Request ID
	app.Use(requestid.New())

	// Propagate request ID into slog context
	app.Use(RequestIDLogMiddleware())

	// Access logs (structured HTTP request logging)
	app.Use(AccessLogMiddleware())

	// Rate limiting: 120 requests per minute per IP. The live socket is
	// exempt; a session is one long request.
	app.Use(limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/v1/live"
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(DeprecationMiddleware([]DeprecatedRoute{{
		Path:        "/v1/location/:client_id",
		SunsetDate:  locationAliasSunset,
		Alternative: "/v1/clients/:client_id/viewpoint",
	}}))

	// ETag for conditional caching
	app.Use(ETagMiddleware())

	// Default Cache-Control headers
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// Live session socket. Registered before the timeout group so the
	// session is not cut off after 15s.
	app.Use("/v1/live", LiveUpgradeGuard())
	app.Get("/v1/live", websocket.New(LiveHandler(deps), websocket.Config{
		HandshakeTimeout: 10 * time.Second,
	}))

	// REST API v1, 15s per-request timeout
	v1 := app.Group("/v1")
	v1.Get("/stats", withTimeout(StatsHandler(deps)))

	v1.Get("/places/search", withTimeout(SearchPlacesHandler(deps)))
	v1.Get("/places/reverse", withTimeout(ReversePlaceHandler(deps)))

	v1.Get("/issues", withTimeout(ListIssuesHandler(deps)))
	v1.Post("/issues", withTimeout(ReportIssueHandler(deps)))
	v1.Get("/issues/:id", withTimeout(GetIssueHandler(deps)))
	v1.Post("/issues/:id/vote", withTimeout(VoteIssueHandler(deps)))

	v1.Get("/solutions", withTimeout(ListSolutionsHandler(deps)))
	v1.Get("/solutions/:id", withTimeout(GetSolutionHandler(deps)))
	v1.Post("/solutions/:id/vote", withTimeout(VoteSolutionHandler(deps)))
	v1.Post("/solutions/:id/suggestions", withTimeout(SuggestEditHandler(deps)))

	v1.Get("/categories", withTimeout(CategoriesHandler(deps)))
	v1.Get("/nearby", withTimeout(NearbyHandler(deps)))

	// Per-client records
	v1.Get("/clients/:client_id/viewpoint", withTimeout(GetViewpointHandler(deps)))
	v1.Put("/clients/:client_id/viewpoint", withTimeout(PutViewpointHandler(deps)))
	v1.Delete("/clients/:client_id/viewpoint", withTimeout(DeleteViewpointHandler(deps)))
	v1.Get("/clients/:client_id/language", withTimeout(GetLanguageHandler(deps)))
	v1.Put("/clients/:client_id/language", withTimeout(PutLanguageHandler(deps)))

	// Deprecated alias
	v1.Get("/location/:client_id", withTimeout(GetViewpointHandler(deps)))

	// GraphQL
	app.Post("/graphql", withTimeout(GraphQLHandler(deps)))

	// API documentation (Swagger UI)
	SetupDocs(app, deps.DocsPath)
}

func withTimeout(h fiber.Handler) fiber.Handler {
	return timeout.NewWithContext(h, requestTimeout)
}
