package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RouteLogger writes one line per request once the handler has run, keyed by
// the matched route pattern so runs against different assets group together.
// 4xx is logged at warn and 5xx at error.
func RouteLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		ev := logEventFor(status)
		ev = ev.Str("trace_id", GetTraceID(c)).
			Str("method", c.Method()).
			Str("route", c.Route().Path).
			Int("status", status).
			Int64("ms", time.Since(start).Milliseconds())
		if asset := c.Params("asset_id"); asset != "" {
			ev = ev.Str("asset_id", asset)
		}
		if op := GetOperator(c); op != "" {
			ev = ev.Str("operator", op)
		}
		if name, ok := OperationFor(c.Method(), c.Route().Path); ok {
			ev = ev.Str("operation", name)
		}
		ev.Msg("request")
		return err
	}
}

func logEventFor(status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status >= 400:
		return log.Warn()
	default:
		return log.Info()
	}
}
