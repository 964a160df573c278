package middleware

import (
	"context"
	"encoding/json"
	"time"

	"fractions-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const errorLogMax = 50

// ErrorHandler returns the global error handler. Errors are logged, pushed to the
// Redis error log read by /health/errors (when rdb is set), and rendered in the standard format.
func ErrorHandler(rdb *redis.Client) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
			message = e.Message
		}

		log.Error().Err(err).Str("trace_id", GetTraceID(c)).Str("method", c.Method()).Str("path", c.Path()).Int("status", code).Msg("Request failed")

		if rdb != nil && code >= fiber.StatusInternalServerError {
			entry, _ := json.Marshal(map[string]interface{}{
				"time":    time.Now().UTC(),
				"path":    c.OriginalURL(),
				"method":  c.Method(),
				"message": err.Error(),
			})
			ctx := context.Background()
			rdb.LPush(ctx, KeyErrorLog, entry)
			rdb.LTrim(ctx, KeyErrorLog, 0, errorLogMax-1)
		}

		return response.Error(c, message, code, map[string]interface{}{})
	}
}
