// Package app builds the application's single coordinator and wires it to the
// event pipeline, session store, demo sources and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/api"
	"github.com/JakeFAU/progress-coordinator/internal/clock/system"
	"github.com/JakeFAU/progress-coordinator/internal/config"
	"github.com/JakeFAU/progress-coordinator/internal/demo"
	"github.com/JakeFAU/progress-coordinator/internal/interceptor"
	"github.com/JakeFAU/progress-coordinator/internal/logging"
	"github.com/JakeFAU/progress-coordinator/internal/metrics"
	"github.com/JakeFAU/progress-coordinator/internal/navigation"
	"github.com/JakeFAU/progress-coordinator/internal/policy/ratelimit"
	"github.com/JakeFAU/progress-coordinator/internal/progress"
	progresssinks "github.com/JakeFAU/progress-coordinator/internal/progress/sinks"
	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
	"github.com/JakeFAU/progress-coordinator/internal/store"
	"github.com/JakeFAU/progress-coordinator/internal/store/memory"
	pgstore "github.com/JakeFAU/progress-coordinator/internal/store/postgres"
)

const (
	requestStagger         = 100 * time.Millisecond
	defaultShutdownTimeout = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	registry *prometheus.Registry

	progressHub *progress.Hub
	sessions    store.SessionRepository
	pgSessions  *pgstore.SessionStore

	coord     *progressbar.Coordinator
	router    *navigation.Router
	untrack   func()
	client    *http.Client
	simulator *demo.Simulator
	apiServer *api.Server

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Build creates the application's dependencies. A nil logger is built from
// cfg.Logging.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)

	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		cancel:   cancel,
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := app.setupStore(ctx); err != nil {
		cancel()
		return nil, err
	}
	if err := app.setupProgress(baseCtx); err != nil {
		app.closeInfrastructure(ctx)
		cancel()
		return nil, err
	}
	app.setupCoordinator()
	if err := app.setupAPI(baseCtx); err != nil {
		app.closeInfrastructure(ctx)
		cancel()
		return nil, err
	}
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, keeping display sessions in memory")
		a.sessions = memory.NewSessionStore()
		return nil
	}
	pg, err := pgstore.NewSessionStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("session store init failed: %w", err)
	}
	if a.cfg.DB.AutoMigrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return fmt.Errorf("session store migrate failed: %w", err)
		}
	}
	a.logger.Info("session store initialized", zap.String("table", a.cfg.DB.Table))
	a.pgSessions = pg
	a.sessions = pg
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		promSink,
		progresssinks.NewStoreSink(a.sessions, a.logger.Named("progress_store")),
	}
	if a.cfg.Events.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
		a.logger.Debug("added progress log sink")
	}

	hubCfg := a.cfg.HubConfig()
	hubCfg.BaseContext = ctx
	hubCfg.Logger = a.logger.Named("progress_hub")
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func (a *App) setupCoordinator() {
	opts := a.cfg.ProgressOptions()
	clk := system.New()
	a.coord = progressbar.New(progressbar.Config{
		Options: &opts,
		Color:   progressbar.Color(a.cfg.Progress.Color),
		Clock:   clk,
		Logger:  a.logger.Named("progress"),
		Emitter: a.progressHub,
	})

	a.router = navigation.NewRouter(clk, a.logger.Named("router"))
	demo.RegisterPages(a.router, a.cfg.Demo.PageDelay)
	a.untrack = navigation.Track(a.router, a.coord)

	backend := &http.Client{Transport: demo.LatencyTransport{Delay: a.cfg.Demo.RequestDelay}}
	a.client = interceptor.NewClient(backend, a.coord, a.logger.Named("interceptor"))
	a.simulator = demo.NewSimulator(a.coord, a.client, demo.Config{
		StepDelay:     a.cfg.Demo.StepDelay,
		Stagger:       requestStagger,
		SlowHideDelay: a.cfg.Demo.SlowHideDelay,
	}, a.logger.Named("demo"))
	a.logger.Info("coordinator initialized",
		zap.Duration("hide_delay", opts.HideDelay),
		zap.Duration("min_display_time", opts.MinDisplayTime),
		zap.Bool("smart_batching", opts.SmartBatching),
		zap.Strings("routes", a.router.Routes()),
	)
}

func (a *App) setupAPI(ctx context.Context) error {
	httpMetrics, err := metrics.NewHTTPMetrics(a.registry)
	if err != nil {
		return fmt.Errorf("http metrics init failed: %w", err)
	}
	a.apiServer = api.NewServer(api.Deps{
		Coordinator:    a.coord,
		Router:         a.router,
		Simulator:      a.simulator,
		Sessions:       a.sessions,
		Events:         a.progressHub,
		Metrics:        httpMetrics,
		Gatherer:       a.registry,
		Logger:         a.logger.Named("api"),
		RequestTimeout: a.cfg.Server.RequestTimeout,
		BaseContext:    ctx,
		DefaultBurst:   a.cfg.Demo.BurstSize,
		SimulateLimiter: ratelimit.New(ratelimit.Config{
			RPS:   a.cfg.Server.SimulateRPS,
			Burst: a.cfg.Server.SimulateBurst,
		}),
	})
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Coordinator returns the application's single progress coordinator.
func (a *App) Coordinator() *progressbar.Coordinator { return a.coord }

// Router returns the demo page router.
func (a *App) Router() *navigation.Router { return a.router }

// Simulator returns the scripted demo actions.
func (a *App) Simulator() *demo.Simulator { return a.simulator }

// Sessions returns the display session repository.
func (a *App) Sessions() store.SessionRepository { return a.sessions }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run listens on the configured port and serves until ctx is cancelled, then
// shuts down and closes the application.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Request contexts end with ctx so open event streams let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return closeErr
	}
}

// Close stops background simulations, drains the event hub, closes the
// session store and syncs the logger. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		a.cancel()
		if a.untrack != nil {
			a.untrack()
		}
		err = a.closeInfrastructure(ctx)
		if syncErr := a.logger.Sync(); syncErr != nil {
			a.logger.Debug("logger sync failed", zap.Error(syncErr))
		}
		a.logger.Info("shutdown complete")
	})
	return err
}

func (a *App) closeInfrastructure(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
	}
	if a.pgSessions != nil {
		a.pgSessions.Close()
	}
	return errors.Join(errs...)
}
