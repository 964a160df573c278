package handler

import (
	"net/http"
	"sync"

	"fractions-backend/bootstrap"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog/log"
)

var (
	newApp   = bootstrap.New
	initOnce sync.Once
	engine   http.Handler
	initErr  error
)

func load() {
	var app *fiber.App
	app, initErr = newApp()
	if initErr != nil {
		log.Error().Err(initErr).Msg("Engine failed to start")
		return
	}
	engine = adaptor.FiberApp(app)
}

// Handler is the serverless entry point. The engine is built on the first
// request; if that fails every request gets a 503 envelope until the next
// cold start.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(load)
	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"error","error":{"message":"Engine unavailable","statusCode":503,"details":{}}}`))
		return
	}
	r.RequestURI = r.URL.String()
	engine.ServeHTTP(w, r)
}
