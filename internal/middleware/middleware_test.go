package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"fractions-backend/internal/pkg/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return rdb
}

func TestRequireAdminKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	app := fiber.New()
	app.Use(RequireAdminKey(string(hash)))
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString(GetOperator(c)) })

	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(AdminKeyHeader, "wrong")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	var out map[string]interface{}
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "Unauthorized", out["error"].(map[string]interface{})["message"])

	req = httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(AdminKeyHeader, "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	assert.Equal(t, "admin", string(body))
}

func TestRequireAdminKey_EmptyHashAllows(t *testing.T) {
	app := fiber.New()
	app.Use(RequireAdminKey(""))
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString(GetOperator(c)) })

	resp, err := app.Test(httptest.NewRequest("GET", "/x", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHealthMarker_CountsRequests(t *testing.T) {
	rdb := newRedis(t)
	app := fiber.New()
	app.Use(HealthMarker(rdb))
	app.Get("/api/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/api/boom", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusBadGateway) })
	app.Get("/health/json", func(c *fiber.Ctx) error { return c.SendString("{}") })

	for _, p := range []string{"/api/ok", "/api/ok", "/api/boom", "/health/json"} {
		_, err := app.Test(httptest.NewRequest("GET", p, nil))
		require.NoError(t, err)
	}

	ctx := context.Background()
	total, _ := rdb.Get(ctx, KeyReqTotal).Int()
	errs, _ := rdb.Get(ctx, KeyReqErrors).Int()
	count, _ := rdb.Get(ctx, KeyResCount).Int()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 3, count)
	last, err := rdb.Get(ctx, KeyLastReq).Result()
	require.NoError(t, err)
	assert.Contains(t, last, "/api/boom")
}

func TestHealthMarker_NilRedisPassesThrough(t *testing.T) {
	app := fiber.New()
	app.Use(HealthMarker(nil))
	app.Get("/api/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	resp, err := app.Test(httptest.NewRequest("GET", "/api/ok", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestErrorHandler_RendersAndRecords(t *testing.T) {
	rdb := newRedis(t)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(rdb)})
	app.Use(Tracing())
	app.Get("/teapot", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "short and stout") })
	app.Get("/crash", func(c *fiber.Ctx) error { return errors.New("database on fire") })

	resp, err := app.Test(httptest.NewRequest("GET", "/teapot", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "short and stout", out["error"].(map[string]interface{})["message"])

	resp, err = app.Test(httptest.NewRequest("GET", "/crash", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	entries, err := rdb.LRange(context.Background(), KeyErrorLog, 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "database on fire")
}

func TestTracing_KeepsValidIncomingID(t *testing.T) {
	app := fiber.New()
	app.Use(Tracing())
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString(GetTraceID(c)) })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Trace-Id", "6f1c2b1e-8a0e-4d7f-9f44-1b3f2a9c0d11")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "6f1c2b1e-8a0e-4d7f-9f44-1b3f2a9c0d11", resp.Header.Get("X-Trace-Id"))

	req = httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Trace-Id", "not-a-uuid")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.NotEqual(t, "not-a-uuid", resp.Header.Get("X-Trace-Id"))
	assert.Len(t, resp.Header.Get("X-Trace-Id"), 36)
}

func TestTracing_StoresIDOnUserContext(t *testing.T) {
	app := fiber.New()
	app.Use(Tracing())
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString(logging.TraceID(c.UserContext())) })

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Trace-Id", "6f1c2b1e-8a0e-4d7f-9f44-1b3f2a9c0d11")
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "6f1c2b1e-8a0e-4d7f-9f44-1b3f2a9c0d11", string(body))
}

func TestCORS(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{
		AllowedOrigins: []string{"https://ops.example.com"},
		AllowedSuffix:  ".fractions.app",
	}))
	app.Get("/x", func(c *fiber.Ctx) error { return c.SendString("ok") })

	cases := []struct {
		origin string
		want   int
	}{
		{"", fiber.StatusOK},
		{"https://console.fractions.app", fiber.StatusOK},
		{"https://ops.example.com", fiber.StatusOK},
		{"https://evil.example", fiber.StatusForbidden},
		{"http://localhost:3000", fiber.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", "/x", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.want, resp.StatusCode, tc.origin)
		if tc.want == fiber.StatusOK && tc.origin != "" {
			assert.Equal(t, tc.origin, resp.Header.Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "X-Trace-Id", resp.Header.Get("Access-Control-Expose-Headers"))
		}
	}

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := app.Test(req)
	require.NoError(t, err)
	var out map[string]interface{}
	body, _ := io.ReadAll(resp.Body)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "Origin not allowed", out["error"].(map[string]interface{})["message"])
}

func TestCORS_Preflight(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(CORSConfig{AllowedSuffix: ".fractions.app", AllowLocalhost: true}))
	app.Post("/x", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("OPTIONS", "/x", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), AdminKeyHeader)
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))

	req = httptest.NewRequest("OPTIONS", "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestHealthMarker_CountsOperations(t *testing.T) {
	rdb := newRedis(t)
	app := fiber.New()
	app.Use(HealthMarker(rdb))
	api := app.Group("/api/v1")
	api.Post("/vesting-schedules/:id/claim", func(c *fiber.Ctx) error {
		if c.Params("id") == "early" {
			return c.SendStatus(fiber.StatusUnprocessableEntity)
		}
		return c.SendStatus(fiber.StatusCreated)
	})
	api.Post("/distributions/:id/resume", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusBadGateway)
	})

	for _, p := range []string{
		"/api/v1/vesting-schedules/a/claim",
		"/api/v1/vesting-schedules/b/claim",
		"/api/v1/vesting-schedules/early/claim",
		"/api/v1/distributions/r1/resume",
	} {
		_, err := app.Test(httptest.NewRequest("POST", p, nil))
		require.NoError(t, err)
	}
	_, err := app.Test(httptest.NewRequest("OPTIONS", "/api/v1/distributions/r1/resume", nil))
	require.NoError(t, err)

	ctx := context.Background()
	calls, err := rdb.HGetAll(ctx, KeyOpCalls).Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"vesting.claim": "3", "distribution.resume": "1"}, calls)
	rejected, _ := rdb.HGet(ctx, KeyOpRejected, "vesting.claim").Int()
	assert.Equal(t, 1, rejected)
	resumeErrs, _ := rdb.HGet(ctx, KeyOpErrors, "distribution.resume").Int()
	assert.Equal(t, 1, resumeErrs)
	n, _ := rdb.HExists(ctx, KeyOpErrors, "vesting.claim").Result()
	assert.False(t, n)
	total, _ := rdb.Get(ctx, KeyReqTotal).Int()
	assert.Equal(t, 4, total)
}

func TestRouteLogger_LevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	app := fiber.New()
	app.Use(Tracing())
	app.Use(RouteLogger())
	app.Post("/api/v1/assets/:asset_id/distributions", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusConflict)
	})

	_, err := app.Test(httptest.NewRequest("POST", "/api/v1/assets/villa-7/distributions", nil))
	require.NoError(t, err)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "/api/v1/assets/:asset_id/distributions", line["route"])
	assert.Equal(t, "villa-7", line["asset_id"])
	assert.Equal(t, "distribution.execute", line["operation"])
	assert.Equal(t, float64(409), line["status"])
	assert.Len(t, line["trace_id"], 36)
}
