package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Redis keys for request stats, read by the health service and cleared by /reset.
const (
	KeyReqTotal  = "fractions:health:req_total"
	KeyReqErrors = "fractions:health:req_errors"
	KeyResTime   = "fractions:health:res_time_total"
	KeyResCount  = "fractions:health:res_count"
	KeyStartTime = "fractions:health:start_time"
	KeyLastReq   = "fractions:health:last_request"
	KeyErrorLog  = "fractions:health:error_log"

	// Hashes keyed by operation name.
	KeyOpCalls    = "fractions:health:op_calls"
	KeyOpRejected = "fractions:health:op_rejected"
	KeyOpErrors   = "fractions:health:op_errors"
	KeyOpTime     = "fractions:health:op_time_total"
)

// StatKeys lists every key HealthMarker and ErrorHandler write.
var StatKeys = []string{
	KeyReqTotal, KeyReqErrors, KeyResTime, KeyResCount, KeyStartTime, KeyLastReq, KeyErrorLog,
	KeyOpCalls, KeyOpRejected, KeyOpErrors, KeyOpTime,
}

// operations names the engine's state-changing routes, keyed by method and
// route pattern.
var operations = map[string]string{
	"POST /api/v1/assets/:asset_id/supply/tokenize":             "supply.tokenize",
	"POST /api/v1/assets/:asset_id/supply/adjustments":          "supply.adjust",
	"POST /api/v1/assets/:asset_id/vesting-schedules":           "vesting.create",
	"POST /api/v1/vesting-schedules/:id/claim":                  "vesting.claim",
	"POST /api/v1/assets/:asset_id/lockups":                     "lockup.create",
	"POST /api/v1/lockups/check-unlocks":                        "lockup.check_unlocks",
	"POST /api/v1/lockups/:id/conditions/:condition_id/satisfy": "lockup.satisfy",
	"POST /api/v1/lockups/:id/conditions/:condition_id/revoke":  "lockup.revoke",
	"GET /api/v1/assets/:asset_id/concentration":                "concentration.asset",
	"POST /api/v1/assets/:asset_id/distributions":               "distribution.execute",
	"POST /api/v1/distributions/:id/resume":                     "distribution.resume",
	"POST /api/v1/distributions/:id/retry-failed":               "distribution.retry_failed",
}

// OperationFor returns the operation name for a matched route.
func OperationFor(method, routePath string) (string, bool) {
	op, ok := operations[method+" "+routePath]
	return op, ok
}

// HealthMarker records request stats in Redis, plus per-operation counters
// for the routes in operations. Health pages and preflights are not counted.
// A nil client turns it into a pass-through.
func HealthMarker(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		if rdb == nil || c.Method() == fiber.MethodOptions || path == "/" || strings.HasPrefix(path, "/health") || path == "/reset" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()
		ms := float64(time.Since(start).Microseconds()) / 1000
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		lastReq, _ := json.Marshal(map[string]interface{}{
			"time":     start.UTC(),
			"path":     c.OriginalURL(),
			"method":   c.Method(),
			"status":   status,
			"trace_id": GetTraceID(c),
		})
		op, tracked := OperationFor(c.Method(), c.Route().Path)

		_, _ = rdb.Pipelined(context.Background(), func(p redis.Pipeliner) error {
			p.Set(context.Background(), KeyLastReq, lastReq, 0)
			p.Incr(context.Background(), KeyReqTotal)
			p.Incr(context.Background(), KeyResCount)
			p.IncrByFloat(context.Background(), KeyResTime, ms)
			if status >= 500 {
				p.Incr(context.Background(), KeyReqErrors)
			}
			if tracked {
				p.HIncrBy(context.Background(), KeyOpCalls, op, 1)
				p.HIncrByFloat(context.Background(), KeyOpTime, op, ms)
				switch {
				case status >= 500:
					p.HIncrBy(context.Background(), KeyOpErrors, op, 1)
				case status >= 400:
					p.HIncrBy(context.Background(), KeyOpRejected, op, 1)
				}
			}
			return nil
		})
		return err
	}
}
