package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/tenantclock/internal/adapter/fsm"
	handler "github.com/neomorfeo/tenantclock/internal/adapter/http"
	"github.com/neomorfeo/tenantclock/internal/adapter/notify"
	otelAdapter "github.com/neomorfeo/tenantclock/internal/adapter/otel"
	redisAdapter "github.com/neomorfeo/tenantclock/internal/adapter/redis"
	riverAdapter "github.com/neomorfeo/tenantclock/internal/adapter/river"
	"github.com/neomorfeo/tenantclock/internal/adapter/sqlite"
	"github.com/neomorfeo/tenantclock/internal/app"
	"github.com/neomorfeo/tenantclock/internal/config"
	"github.com/neomorfeo/tenantclock/internal/domain"
)

// application holds everything build wires together.
type application struct {
	engine  *app.LifecycleEngine
	river   *riverAdapter.Client
	server  *http.Server
	closers []func() error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	a := &application{}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	// --- Observability ---
	providers, err := otelAdapter.Setup(ctx, otelAdapter.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("otel: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return providers.Shutdown(shutdownCtx)
	})

	// --- Adapters (out) ---
	db, err := otelAdapter.OpenDB(cfg.DatabasePath, sqlite.Prepare)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	tenants, err := otelAdapter.NewTracingRepository(sqlite.NewTenantRepository(db))
	if err != nil {
		return nil, fmt.Errorf("tenant repository: %w", err)
	}

	var (
		tokenStore domain.TokenRepository
		purge      riverAdapter.RunFunc
	)
	if cfg.RedisURL != "" {
		client, err := redisAdapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		// Redis expires token keys on its own.
		tokenStore = redisAdapter.NewTokenStore(client, cfg.TokenRetention)
	} else {
		sqlTokens := sqlite.NewTokenRepository(db)
		tokenStore = sqlTokens
		purge = func(ctx context.Context, now time.Time) error {
			removed, err := sqlTokens.PurgeExpired(ctx, now.Add(-cfg.TokenRetention))
			if err != nil {
				return err
			}
			logger.InfoContext(ctx, "expired tokens purged", "removed", removed)
			return nil
		}
	}

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	// The periodic job needs the engine and the engine needs River's publisher.
	var engine *app.LifecycleEngine
	riverClient, err := riverAdapter.Setup(ctx, db, riverAdapter.Config{
		Notifier: notifier,
		Run: func(ctx context.Context, now time.Time) error {
			_, err := engine.RunOnce(ctx, now)
			return err
		},
		RunInterval:   cfg.LifecycleInterval,
		Purge:         purge,
		PurgeInterval: cfg.PurgeInterval,
		MaxWorkers:    cfg.MaxWorkers,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("river: %w", err)
	}
	a.river = riverClient

	publisher, err := otelAdapter.NewTracingPublisher(riverAdapter.NewPublisher(riverClient))
	if err != nil {
		return nil, fmt.Errorf("publisher metrics: %w", err)
	}
	validator := fsm.New()

	// --- Application ---
	engine, err = app.NewLifecycleEngine(tenants, notifier, publisher, validator, app.EngineOptions{
		Schedule:      cfg.Schedule,
		Concurrency:   cfg.LifecycleConcurrency,
		MaxAttempts:   cfg.LifecycleMaxAttempts,
		NotifyTimeout: cfg.NotifyTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	a.engine = engine

	authority := app.NewTokenAuthority(otelAdapter.NewTracingTokenRepository(tokenStore), app.AuthorityOptions{
		DefaultTTL: cfg.TokenTTL,
		Logger:     logger,
	})
	svc := app.NewTenantService(tenants, publisher, validator, cfg.Schedule, nil, logger)

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(otelchi.Middleware("tenantclock", otelchi.WithChiRoutes(router)))
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)

	api := humachi.New(router, huma.DefaultConfig("tenantclock", version))
	handler.Register(api, handler.Services{
		Tenants:   svc,
		Engine:    engine,
		Authority: authority,
		Logger:    logger,
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ready = true
	return a, nil
}

// newNotifier picks the webhook when configured, else the log, and wraps it
// with the circuit breaker and tracing.
func newNotifier(cfg *config.Config, logger *slog.Logger) (domain.Notifier, error) {
	var base domain.Notifier = notify.NewLogNotifier(logger)
	if cfg.NotifyWebhookURL != "" {
		base = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, notify.WebhookOptions{
			Timeout:    cfg.NotifyTimeout,
			RetryCount: cfg.NotifyRetries,
		})
	}

	opts := notify.DefaultBreakerOptions()
	opts.FailureThreshold = cfg.NotifyBreakerLimit
	opts.CallTimeout = cfg.NotifyTimeout
	opts.Logger = logger

	traced, err := otelAdapter.NewTracingNotifier(notify.NewBreakerNotifier(base, opts))
	if err != nil {
		return nil, fmt.Errorf("notifier metrics: %w", err)
	}
	return traced, nil
}
