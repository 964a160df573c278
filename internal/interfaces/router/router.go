package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	concsvc "fractions-backend/internal/application/concentration"
	distsvc "fractions-backend/internal/application/distribution"
	healthsvc "fractions-backend/internal/application/health"
	holdsvc "fractions-backend/internal/application/holdings"
	lockupsvc "fractions-backend/internal/application/lockup"
	supplysvc "fractions-backend/internal/application/supply"
	vestingsvc "fractions-backend/internal/application/vesting"
	"fractions-backend/internal/config"
	"fractions-backend/internal/domain"
	"fractions-backend/internal/infrastructure/assetlock"
	"fractions-backend/internal/infrastructure/database"
	"fractions-backend/internal/infrastructure/ledger"
	"fractions-backend/internal/infrastructure/notify"
	"fractions-backend/internal/infrastructure/oracle"
	conchandler "fractions-backend/internal/interfaces/handlers/concentration"
	disthandler "fractions-backend/internal/interfaces/handlers/distribution"
	healthhandler "fractions-backend/internal/interfaces/handlers/health"
	holdhandler "fractions-backend/internal/interfaces/handlers/holdings"
	lockuphandler "fractions-backend/internal/interfaces/handlers/lockup"
	supplyhandler "fractions-backend/internal/interfaces/handlers/supply"
	vestinghandler "fractions-backend/internal/interfaces/handlers/vesting"
	"fractions-backend/internal/middleware"
	"fractions-backend/internal/pkg/clock"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Server is everything cmd/api needs to run: the HTTP app, the stores it
// opened, and the background unlock sweeper.
type Server struct {
	App     *fiber.App
	DB      *gorm.DB
	Rdb     *redis.Client
	Sweeper *lockupsvc.Sweeper

	closers []func()
}

// Close releases the broker connection, Redis and the database pool.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// CreateApp wires config into stores, collaborators, services and routes.
func CreateApp(cfg *config.Config) (*Server, error) {
	srv := &Server{}
	clk := clock.New()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	srv.DB = db
	srv.closers = append(srv.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	var locker assetlock.Locker = assetlock.NewMemory()
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			srv.Close()
			return nil, err
		}
		srv.Rdb = redis.NewClient(opt)
		srv.closers = append(srv.closers, func() { _ = srv.Rdb.Close() })
		locker = assetlock.NewRedis(srv.Rdb, 0)
	}

	notifier, err := newNotifier(cfg)
	if err != nil {
		srv.Close()
		return nil, err
	}
	if js, ok := notifier.(*notify.JetStream); ok {
		srv.closers = append(srv.closers, js.Close)
	}

	directory := &holdsvc.Service{DB: db}
	valuations := &oracle.HTTPClient{
		BaseURL: cfg.OracleURL,
		APIKey:  cfg.OracleAPIKey,
		MaxAge:  cfg.OracleMaxAge,
		Clock:   clk,
	}

	supplyService := &supplysvc.Service{
		DB:     db,
		Oracle: valuations,
		Locker: locker,
		Clock:  clk,
		Defaults: supplysvc.Defaults{
			LiquidityBuffer:  cfg.LiquidityBuffer,
			CommunityReserve: cfg.CommunityReserve,
			StabilityMargin:  cfg.StabilityMargin,
			ReservePercent:   cfg.ReservePercent,
		},
	}
	vestingService := &vestingsvc.Service{DB: db, Locker: locker, Clock: clk}
	lockupService := &lockupsvc.Service{DB: db, Locker: locker, Clock: clk, Notifier: notifier}
	concService := &concsvc.Service{Directory: directory, Clock: clk}
	distService := &distsvc.Service{
		DB:              db,
		Directory:       directory,
		Ledger:          newLedger(cfg),
		Notifier:        notifier,
		Locker:          locker,
		Clock:           clk,
		Workers:         cfg.TransferWorkers,
		TransferTimeout: cfg.TransferTimeout,
	}
	srv.Sweeper = &lockupsvc.Sweeper{Service: lockupService, Interval: cfg.UnlockCheckInterval}

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler(srv.Rdb),
		EnableTrustedProxyCheck: true,
	})
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedSuffix:  cfg.FrontendURLEndsWith,
		AllowLocalhost: cfg.Env != "production",
	}))
	app.Use(middleware.HealthMarker(srv.Rdb))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	hh := &healthhandler.Handlers{
		Rdb:            srv.Rdb,
		DB:             &gormDBPinger{db: db},
		Probes:         probes(cfg),
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/", hh.Dashboard)
	app.Get("/health/json", hh.JSON)
	if srv.Rdb != nil {
		app.Get("/reset", hh.Reset)
		app.Get("/health/errors", hh.Errors)
	}

	if cfg.AdminKeyHash == "" {
		log.Warn().Msg("ADMIN_KEY_HASH not set; /api/v1 is unauthenticated")
	}
	api := app.Group("/api/v1", middleware.RequireAdminKey(cfg.AdminKeyHash))

	sh := &supplyhandler.Handlers{Service: supplyService}
	api.Post("/supply/calculate", sh.Calculate)
	api.Post("/assets/:asset_id/supply/tokenize", sh.Tokenize)
	api.Get("/assets/:asset_id/supply", sh.Get)
	api.Post("/assets/:asset_id/supply/adjustments", sh.Adjust)
	api.Get("/assets/:asset_id/supply/adjustments", sh.ListAdjustments)

	vh := &vestinghandler.Handlers{Service: vestingService, Clock: clk}
	api.Post("/vesting/preview", vh.Preview)
	api.Post("/assets/:asset_id/vesting-schedules", vh.Create)
	api.Get("/assets/:asset_id/vesting-schedules", vh.List)
	api.Get("/vesting-schedules/:id", vh.Get)
	api.Post("/vesting-schedules/:id/claim", vh.Claim)
	api.Post("/vesting-schedules/:id/pause", vh.Pause)
	api.Post("/vesting-schedules/:id/resume", vh.Resume)
	api.Post("/vesting-schedules/:id/cancel", vh.Cancel)

	lh := &lockuphandler.Handlers{Service: lockupService, Clock: clk}
	api.Post("/assets/:asset_id/lockups", lh.Create)
	api.Get("/assets/:asset_id/lockups", lh.List)
	api.Post("/lockups/check-unlocks", lh.CheckUnlocks)
	api.Get("/lockups/:id", lh.Get)
	api.Post("/lockups/:id/conditions/:condition_id/satisfy", lh.Satisfy)
	api.Post("/lockups/:id/conditions/:condition_id/revoke", lh.Revoke)

	ch := &conchandler.Handlers{Service: concService}
	api.Get("/assets/:asset_id/concentration", ch.ForAsset)
	api.Post("/concentration/analyze", ch.Analyze)

	dh := &disthandler.Handlers{Service: distService}
	api.Post("/assets/:asset_id/distributions", dh.Execute)
	api.Get("/assets/:asset_id/distributions", dh.List)
	api.Get("/distributions/:id", dh.Get)
	api.Post("/distributions/:id/resume", dh.Resume)
	api.Post("/distributions/:id/retry-failed", dh.RetryFailed)

	hdh := &holdhandler.Handlers{Service: directory}
	api.Get("/assets/:asset_id/holdings", hdh.List)

	srv.App = app
	return srv, nil
}

func newLedger(cfg *config.Config) domain.LedgerClient {
	switch cfg.LedgerDriver {
	case "stripe":
		return &ledger.StripeClient{SecretKey: cfg.StripeSecretKey}
	case "log":
		return ledger.Log{}
	default:
		return &ledger.HTTPClient{BaseURL: cfg.LedgerURL, APIKey: cfg.LedgerAPIKey}
	}
}

func newNotifier(cfg *config.Config) (domain.Notifier, error) {
	if cfg.NatsURL == "" {
		return notify.Log{}, nil
	}
	return notify.Connect(notify.Config{
		URL:            cfg.NatsURL,
		SubjectPrefix:  cfg.NatsSubjectPrefix,
		ConnectionName: "fractions-engine",
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
	})
}

func probes(cfg *config.Config) []healthsvc.Probe {
	var out []healthsvc.Probe
	if cfg.LedgerDriver == "http" && cfg.LedgerURL != "" {
		out = append(out, healthsvc.HTTPProbe("ledger", strings.TrimRight(cfg.LedgerURL, "/"), 2*time.Second))
	}
	if cfg.OracleURL != "" {
		out = append(out, healthsvc.HTTPProbe("oracle", strings.TrimRight(cfg.OracleURL, "/"), 2*time.Second))
	}
	return out
}

// Handler returns an http.Handler (Fiber app as net/http handler).
func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}

// RunSweeper starts the unlock sweeper until ctx ends.
func (s *Server) RunSweeper(ctx context.Context) {
	if s.Sweeper == nil {
		return
	}
	s.Sweeper.Run(ctx)
}
