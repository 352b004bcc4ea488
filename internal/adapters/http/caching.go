package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control headers on GET responses based on endpoint.
// Adds sensible defaults if not already set by the handler.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet {
			return err
		}

		// Don't override if already set
		if existing := string(c.Response().Header.Peek(fiber.HeaderCacheControl)); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/v1/health" || path == "/v1/ready":
			ttl = "public, max-age=10"

		case path == "/metrics", path == "/v1/live":
			ttl = "no-cache"

		case strings.HasPrefix(path, "/v1/clients/"), strings.HasPrefix(path, "/v1/location/"):
			ttl = "private, no-store" // per-client records change on every pan

		case path == "/v1/categories":
			ttl = "public, max-age=3600" // stable taxonomy

		case strings.HasPrefix(path, "/v1/places/"):
			ttl = "public, max-age=86400" // geocodes barely change

		case strings.HasPrefix(path, "/v1/issues"), path == "/v1/nearby":
			ttl = "public, max-age=30" // new reports should show quickly

		case strings.HasPrefix(path, "/v1/solutions"):
			ttl = "public, max-age=300"

		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=60"
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}

		return err
	}
}
