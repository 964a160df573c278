package middleware

import (
	"fractions-backend/internal/pkg/logging"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const traceIDHeader = logging.TraceHeader
const traceIDLocal = "trace_id"

// Tracing assigns each request a trace id. A well-formed incoming X-Trace-Id
// is kept. The id is echoed on the response and stored on the user context so
// ledger and oracle calls made for this request forward it.
func Tracing() fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := c.Get(traceIDHeader)
		if _, err := uuid.Parse(traceID); err != nil {
			traceID = uuid.New().String()
		}
		c.Locals(traceIDLocal, traceID)
		c.Set(traceIDHeader, traceID)
		c.SetUserContext(logging.WithTraceID(c.UserContext(), traceID))
		return c.Next()
	}
}

func GetTraceID(c *fiber.Ctx) string {
	if id, ok := c.Locals(traceIDLocal).(string); ok {
		return id
	}
	return ""
}
