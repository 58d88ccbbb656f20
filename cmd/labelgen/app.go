package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/labelgen/internal/config"
	"github.com/phrazzld/labelgen/internal/credential"
	"github.com/phrazzld/labelgen/internal/events"
	"github.com/phrazzld/labelgen/internal/generation"
	"github.com/phrazzld/labelgen/internal/metrics"
	"github.com/phrazzld/labelgen/internal/platform/gemini"
	"github.com/phrazzld/labelgen/internal/redact"
	"github.com/phrazzld/labelgen/internal/service"
	"github.com/phrazzld/labelgen/internal/service/auth"
	"github.com/phrazzld/labelgen/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	metrics *metrics.Metrics
	store   *storeHandle
	pool    *credential.Pool

	dispatcher *task.Dispatcher
	runner     *task.Runner
	emitter    *events.InMemoryEventEmitter

	jobService *service.JobService

	// jwtService is nil when authentication is disabled.
	jwtService auth.JWTService
}

type appOptions struct {
	backend generation.Backend
}

type appOption func(*appOptions)

// withBackend replaces the Gemini backend.
func withBackend(b generation.Backend) appOption {
	return func(o *appOptions) {
		o.backend = b
	}
}

// newApplication creates a new application instance with all dependencies
// initialized. The store is open on success; call cleanup to release it.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	opts ...appOption,
) (_ *application, err error) {
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.RequireWorker(); err != nil {
		return nil, err
	}

	app := &application{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}

	app.store, err = openStore(ctx, cfg, logger, app.metrics.StoreRetryHook(cfg.Database.Driver))
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	defer func() {
		if err != nil {
			_ = app.store.close()
		}
	}()

	app.pool, err = credential.NewPool(cfg.LLM.APIKeys, cfg.LLM.RateLimitCooldown(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create credential pool: %w", err)
	}

	generator, err := app.newGenerator(o.backend)
	if err != nil {
		return nil, err
	}

	app.dispatcher, err = task.NewDispatcher(
		app.store.jobs,
		app.pool,
		generator,
		task.DispatcherConfig{
			BatchSize:          cfg.Dispatcher.BatchSize,
			WorkerBudget:       cfg.Dispatcher.WorkerBudget,
			MaxAttempts:        cfg.Dispatcher.MaxAttempts,
			AcquireTimeout:     cfg.LLM.AcquireTimeout(),
			PoolBackoff:        cfg.LLM.PoolBackoff(),
			StaleAfter:         cfg.Dispatcher.StaleAfter(),
			StaleCheckInterval: cfg.Dispatcher.StaleCheckInterval(),
		},
		logger,
		task.WithObserver(app.metrics),
		task.WithRedactor(redact.New(app.pool.Keys()...)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	app.runner = task.NewRunner(app.dispatcher, task.RunnerConfig{
		PollInterval:   cfg.Dispatcher.PollInterval(),
		RecoverOnStart: cfg.Dispatcher.RecoverOnStart,
	}, logger)

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.Subscribe(events.TypeJobsSubmitted, task.NewSubmissionEventHandler(app.runner, logger))

	app.jobService, err = service.NewJobService(app.store.jobs, logger,
		service.WithEmitter(app.emitter),
		service.WithSubmissionRecorder(app.metrics),
		service.WithCredentials(app.pool),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job service: %w", err)
	}

	if cfg.Auth.JWTSecret != "" {
		app.jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
		logger.Info("JWT authentication enabled",
			"token_lifetime_minutes", cfg.Auth.TokenLifetimeMinutes)
	} else {
		logger.Warn("auth.jwt_secret is empty, the API is served without authentication")
	}

	if err = app.metrics.RegisterCredentialPool(app.pool); err != nil {
		return nil, fmt.Errorf("failed to register credential metrics: %w", err)
	}
	if err = app.metrics.RegisterJobCounts(app.store.jobs, logger); err != nil {
		return nil, fmt.Errorf("failed to register job metrics: %w", err)
	}

	logger.Info("Application initialized successfully",
		"driver", app.store.driver,
		"credentials", app.pool.Size(),
		"model", cfg.LLM.ModelName)
	return app, nil
}

// newGenerator builds the batch generation client over backend, or over the
// Gemini API when backend is nil.
func (app *application) newGenerator(backend generation.Backend) (*generation.Client, error) {
	cfg := app.config.LLM

	if backend == nil {
		b, err := gemini.NewBackend(cfg.ModelName, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize LLM backend: %w", err)
		}
		backend = b
	}

	opts := []generation.Option{
		generation.WithCallTimeout(cfg.CallTimeout()),
		generation.WithCallObserver(app.metrics.ObserveGenerationCall),
		generation.WithLogger(app.logger),
	}
	if cfg.PromptTemplatePath != "" {
		tmpl, err := generation.LoadPromptTemplate(cfg.PromptTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompt template: %w", err)
		}
		opts = append(opts, generation.WithPromptTemplate(tmpl))
	}

	client, err := generation.NewClient(backend, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation client: %w", err)
	}
	return client, nil
}

// Run starts the worker and serves the HTTP API until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	defer app.cleanup()

	if err := app.runner.Start(); err != nil && !errors.Is(err, task.ErrRunnerStarted) {
		return fmt.Errorf("failed to start runner: %w", err)
	}

	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}

	if app.store != nil {
		if err := app.store.close(); err != nil {
			app.logger.Error("Error closing database connection", "error", err)
		}
	}

	app.logger.Info("Application shutdown completed")
}
