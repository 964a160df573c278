package bootstrap

import (
	"fractions-backend/internal/config"
	"fractions-backend/internal/interfaces/router"
	"fractions-backend/internal/pkg/logging"

	"github.com/gofiber/fiber/v2"
)

// New creates the Fiber app for serverless deployments. There is no
// background sweeper there; schedule POST /api/v1/lockups/check-unlocks instead.
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel, false)
	srv, err := router.CreateApp(cfg)
	if err != nil {
		return nil, err
	}
	return srv.App, nil
}
