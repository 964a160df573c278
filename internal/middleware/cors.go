package middleware

import (
	"strings"

	"fractions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// CORSConfig lists which browser origins may call the engine. Server-to-server
// callers send no Origin and are never affected.
type CORSConfig struct {
	AllowedOrigins []string // exact match, scheme included
	AllowedSuffix  string   // e.g. ".fractions.app"
	AllowLocalhost bool     // non-production consoles on localhost / 127.0.0.1
}

func (cfg CORSConfig) allows(origin string) bool {
	o := strings.ToLower(origin)
	for _, allowed := range cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	if cfg.AllowedSuffix != "" && strings.HasSuffix(o, strings.ToLower(cfg.AllowedSuffix)) {
		return true
	}
	if cfg.AllowLocalhost && (strings.HasPrefix(o, "http://localhost:") || strings.HasPrefix(o, "http://127.0.0.1:")) {
		return true
	}
	return false
}

// CORS rejects disallowed origins with 403 and answers preflight for allowed
// ones. The admin key and trace id are the only custom headers the API reads.
func CORS(cfg CORSConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		origin := c.Get(fiber.HeaderOrigin)
		if origin == "" {
			return c.Next()
		}
		if !cfg.allows(origin) {
			return response.Error(c, "Origin not allowed", fiber.StatusForbidden, fiber.Map{"origin": origin})
		}
		c.Set(fiber.HeaderAccessControlAllowOrigin, origin)
		c.Set(fiber.HeaderVary, fiber.HeaderOrigin)
		c.Set(fiber.HeaderAccessControlExposeHeaders, traceIDHeader)
		if c.Method() == fiber.MethodOptions {
			c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type, "+AdminKeyHeader+", "+traceIDHeader)
			c.Set(fiber.HeaderAccessControlAllowMethods, "GET, POST, OPTIONS")
			c.Set(fiber.HeaderAccessControlMaxAge, "600")
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Next()
	}
}
