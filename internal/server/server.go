package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/growloop/config"
	"github.com/mohammad-safakhou/growloop/internal/approval"
	"github.com/mohammad-safakhou/growloop/internal/knowledge"
	"github.com/mohammad-safakhou/growloop/internal/orchestrator"
	"github.com/mohammad-safakhou/growloop/internal/pipeline"
	"github.com/mohammad-safakhou/growloop/internal/research"
	"github.com/mohammad-safakhou/growloop/internal/store"
	"github.com/mohammad-safakhou/growloop/internal/telemetry"
	"github.com/mohammad-safakhou/growloop/internal/threads"
	"github.com/mohammad-safakhou/growloop/models"
	"github.com/mohammad-safakhou/growloop/provider"
	"github.com/mohammad-safakhou/growloop/tools/embedding"
)

// Loop bundles everything wired for one account. Shared by the HTTP
// server and the one-shot CLI commands.
type Loop struct {
	Store *store.Store
	KB    *knowledge.Base
	Orch  *orchestrator.Orchestrator
	Tele  *telemetry.Telemetry

	closers []func()
}

// Close tears down in reverse wiring order.
func (l *Loop) Close() {
	for i := len(l.closers) - 1; i >= 0; i-- {
		l.closers[i]()
	}
}

// BuildLoop migrates the database and wires the store, provider, research,
// platform client, approval channel, pipelines and orchestrator.
func BuildLoop(ctx context.Context, cfg *config.Config) (*Loop, error) {
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		return nil, err
	}
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, err
	}

	loop := &Loop{Store: st}
	loop.KB = knowledge.NewBase(st, cfg.Account.ID)
	loop.Tele = telemetry.NewTelemetry(cfg.Telemetry)
	loop.closers = append(loop.closers, loop.Tele.Shutdown)

	llm, err := provider.NewProviderFromConfig(cfg.LLM, loop.Tele)
	if err != nil {
		loop.Close()
		return nil, err
	}

	researcher, err := research.NewAggregator(cfg.Research)
	if err != nil {
		loop.Close()
		return nil, err
	}
	loop.closers = append(loop.closers, func() { _ = researcher.Close() })

	var (
		publisher pipeline.Publisher
		metrics   pipeline.MetricsSource
		followers pipeline.FollowerSource
	)
	if cfg.Threads.DryRun {
		dry := threads.NewDryRun(0)
		publisher, metrics, followers = dry, dry, dry
	} else {
		client := threads.NewClient(cfg.Threads)
		publisher, metrics, followers = client, client, client
	}

	// The approval channel is filled in after the orchestrator exists
	// because telegram decisions call back into it.
	presenter := &switchableApprovals{channel: approval.NewLogChannel()}

	creation := pipeline.NewCreation(loop.KB, llm, researcher, publisher, followers, presenter,
		embedding.NewEmbedding(llm), st, pipeline.CreationConfig{
			FollowerTarget: cfg.Account.FollowerTarget,
			VariantCount:   cfg.Account.VariantCount,
			HistoryCeiling: cfg.Account.HistoryCeiling,
			MetricsDelay:   cfg.Account.MetricsDelay,
			RecentWindow:   cfg.Account.RecentWindow,
		})
	learning := pipeline.NewLearning(loop.KB, llm, metrics, pipeline.LearningConfig{
		BaselineWindow: cfg.Account.RecentWindow,
	})
	loop.Orch = orchestrator.New(creation, learning, st, st, cfg.Account.ID, loop.Tele)
	loop.closers = append(loop.closers, loop.Orch.Close)

	if cfg.Telegram.Enabled {
		tg, err := approval.NewTelegram(cfg.Telegram, loop.Orch.HandleDecision)
		if err != nil {
			loop.Close()
			return nil, err
		}
		presenter.channel = tg
		go tg.Listen(ctx)
	}
	return loop, nil
}

// Run wires the whole loop and serves it until the process dies.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	shutdownMetrics, err := telemetry.SetupMetrics(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	loop, err := BuildLoop(ctx, cfg)
	if err != nil {
		return err
	}
	defer loop.Close()

	// init auth and routes
	if cfg.Server.JWTSecret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	secret := []byte(cfg.Server.JWTSecret)

	api := e.Group("/api")
	auth := &AuthHandler{Store: loop.Store, Secret: secret}
	auth.Register(api.Group("/auth"))

	lh := &LoopHandler{Orch: loop.Orch, KB: loop.KB, Runs: loop.Store, Tele: loop.Tele, FollowerTarget: cfg.Account.FollowerTarget}
	protected := api.Group("/loop")
	protected.Use(EchoAuthMiddleware(secret))
	lh.Register(protected)

	// scheduler with redis locks
	if cfg.Scheduler.Enabled {
		if err := cfg.Storage.Redis.Validate(); err != nil {
			return err
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s:%s): %w", cfg.Storage.Redis.Host, cfg.Storage.Redis.Port, err)
		}
		sched := &Scheduler{Store: loop.Store, Orch: loop.Orch, Rdb: rdb, Cfg: cfg.Scheduler, Stop: make(chan struct{})}
		sched.Start()
	}

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	if addr[0] != ':' {
		addr = ":" + addr
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}

// switchableApprovals lets the approval channel be swapped after the
// pipelines are constructed.
type switchableApprovals struct {
	channel pipeline.ApprovalChannel
}

func (s *switchableApprovals) Present(ctx context.Context, cycleID string, candidates []models.RankedPost) error {
	return s.channel.Present(ctx, cycleID, candidates)
}
