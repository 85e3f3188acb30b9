// Package main is the entrypoint for the biomass API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/biomass-watch/biomass-api/internal/api"
	"github.com/biomass-watch/biomass-api/internal/api/handler"
	mw "github.com/biomass-watch/biomass-api/internal/api/middleware"
	"github.com/biomass-watch/biomass-api/internal/archive"
	"github.com/biomass-watch/biomass-api/internal/cache"
	"github.com/biomass-watch/biomass-api/internal/config"
	"github.com/biomass-watch/biomass-api/internal/eo"
	"github.com/biomass-watch/biomass-api/internal/metrics"
	"github.com/biomass-watch/biomass-api/internal/model"
	"github.com/biomass-watch/biomass-api/internal/pipeline"
	"github.com/biomass-watch/biomass-api/internal/report"
	"github.com/biomass-watch/biomass-api/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	// jobDrainTimeout bounds how long shutdown waits for running analyses.
	jobDrainTimeout = 2 * time.Minute
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "model_provider", cfg.Model.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create the biomass model and the Earth Engine feature extractor
	regressor, err := model.NewRegressor(ctx, cfg.Model)
	if err != nil {
		return fmt.Errorf("create regressor: %w", err)
	}
	predictor := model.NewPredictor(regressor)
	slog.Info("biomass model loaded", "regressor", predictor.Name())

	source, err := eo.NewEarthEngineSource(ctx, cfg.EE.Project, cfg.Pipeline.ScaleMeters,
		eo.ClientOptions(cfg.EE.Credentials)...)
	if err != nil {
		return fmt.Errorf("create earth engine source: %w", err)
	}
	extractor := eo.NewExtractor(source, cfg.Pipeline.SampleSize)
	slog.Info("earth engine client initialized", "project", cfg.EE.Project)

	// 6. Upload archive
	arc, closeArchive, err := newArchiver(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer closeArchive()

	// 7. Create store, metrics and services
	pgStore := store.NewPostgresStore(pool)
	m := metrics.New()

	if cfg.Server.BootstrapAdmin != "" {
		if err := bootstrapAdmin(ctx, pgStore, cfg.Server.BootstrapAdmin); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	states := pipeline.NewStateStore(redisCache, cfg.Pipeline.JobStateTTL)
	runner := pipeline.NewRunner(pgStore, states, redisCache, extractor, predictor, pipeline.Options{
		StartYear:     cfg.Pipeline.StartYear,
		MaxConcurrent: int64(cfg.Pipeline.MaxConcurrentJobs),
		Metrics:       m,
	})
	tracker := pipeline.NewTracker(states, pgStore)
	reports := report.NewBuilder(pgStore, redisCache, cfg.Pipeline.ReportCacheTTL, m)
	shares := report.NewSharing(pgStore)

	// 8. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute),
		Metrics:   m,

		HealthHandler: handler.NewHealthHandler(pgStore, redisCache),

		SubmitAOIHandler:   handler.NewSubmitAOIHandler(pgStore, runner, arc),
		ListAOIsHandler:    handler.NewListAOIsHandler(pgStore),
		FavoriteHandler:    handler.NewFavoriteHandler(pgStore),
		AnalyzeHandler:     handler.NewAnalyzeHandler(pgStore, runner),
		PollJobHandler:     handler.NewPollJobHandler(tracker),
		ReportHandler:      handler.NewReportHandler(reports),
		MintShareHandler:   handler.NewMintShareHandler(shares),
		RevokeShareHandler: handler.NewRevokeShareHandler(shares),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if !waitJobs(runner, jobDrainTimeout) {
		slog.Warn("analysis jobs still running at shutdown; their state will expire")
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newArchiver returns a GCS archiver when a bucket is configured and a
// no-op otherwise, with the matching close func.
func newArchiver(ctx context.Context, cfg *config.Config) (archive.Archiver, func(), error) {
	if cfg.Archive.Bucket == "" {
		slog.Info("upload archive disabled")
		return archive.Noop{}, func() {}, nil
	}

	gcs, err := archive.NewGCS(ctx, cfg.Archive.Bucket, eo.ClientOptions(cfg.EE.Credentials)...)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("upload archive enabled", "bucket", cfg.Archive.Bucket)
	return gcs, func() {
		if err := gcs.Close(); err != nil {
			slog.Warn("failed to close archive client", "error", err)
		}
	}, nil
}

// bootstrapAdmin gives username an admin key if it has none and prints the
// raw key to stderr. This is the only way to obtain the first admin key.
func bootstrapAdmin(ctx context.Context, keys handler.KeyManager, username string) error {
	user, err := keys.EnsureUser(ctx, username)
	if err != nil {
		return err
	}
	existing, err := keys.ListAPIKeys(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	key, raw, err := handler.MintAPIKey(ctx, keys, username, "bootstrap", []string{"admin"})
	if err != nil {
		return err
	}
	slog.Info("bootstrap admin key created", "user", username, "key_prefix", key.KeyPrefix)
	fmt.Fprintf(os.Stderr, "bootstrap admin key for %s: %s\n", username, raw)
	return nil
}

// waitJobs waits for in-flight analyses, giving up after timeout.
func waitJobs(r *pipeline.Runner, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
