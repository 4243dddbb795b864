// Package main is the entrypoint for the cleanops API server.
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

	"github.com/kiranshivaraju/cleanops/internal/api"
	"github.com/kiranshivaraju/cleanops/internal/api/handler"
	mw "github.com/kiranshivaraju/cleanops/internal/api/middleware"
	"github.com/kiranshivaraju/cleanops/internal/cache"
	"github.com/kiranshivaraju/cleanops/internal/config"
	"github.com/kiranshivaraju/cleanops/internal/identity"
	"github.com/kiranshivaraju/cleanops/internal/jobs"
	"github.com/kiranshivaraju/cleanops/internal/lifecycle"
	"github.com/kiranshivaraju/cleanops/internal/objectstore"
	"github.com/kiranshivaraju/cleanops/internal/photo"
	"github.com/kiranshivaraju/cleanops/internal/session"
	"github.com/kiranshivaraju/cleanops/internal/store"
)

const shutdownTimeout = 30 * time.Second

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
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "bucket", cfg.Storage.Bucket, "signed_urls", cfg.Storage.SignedURLs)

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

	// 5. Build services and router
	router, cleanup, err := newRouter(cfg, store.NewPostgresStore(pool), redisCache)
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	defer cleanup()

	// 6. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * cfg.Supabase.Timeout,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// newRouter wires the services on top of st and c. The returned cleanup
// releases the session subscription.
func newRouter(cfg *config.Config, st store.Store, c cache.Cache) (http.Handler, func(), error) {
	idp := identity.NewHTTPClient(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.Timeout)
	sessions := session.NewService(idp, st, c, cfg.Auth.ResetRedirectURL)

	objects := objectstore.NewHTTPClient(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey, cfg.Supabase.Timeout)
	pipeline, err := photo.NewPipeline(
		photo.NewNormalizer(photo.NewImagingTranscoder(cfg.Storage.SpoolDir)),
		photo.NewLoader(photo.NewHTTPFetcher(cfg.Supabase.Timeout), photo.FileBase64Reader{}),
		objects,
		st,
		photo.Config{
			Bucket:       cfg.Storage.Bucket,
			SignedURLs:   cfg.Storage.SignedURLs,
			SignedURLTTL: cfg.Storage.SignedURLTTL,
		},
	)
	if err != nil {
		sessions.Close()
		return nil, nil, fmt.Errorf("create photo pipeline: %w", err)
	}

	jobsSvc := jobs.NewService(st)
	manager := lifecycle.NewManager(jobsSvc, st, pipeline, lifecycle.NewCacheGuard(c, cfg.Server.InFlightTTL))

	deps := api.Dependencies{
		Auth:      mw.NewAuth(identity.NewVerifier(cfg.Supabase.JWTSecret), sessions),
		RateLimit: mw.NewRateLimit(c, cfg.RateLimit.RequestsPerMinute),

		HealthHandler: handler.NewHealthHandler(st, c),

		SignInHandler:           handler.NewSignInHandler(sessions),
		RefreshHandler:          handler.NewRefreshHandler(sessions),
		PasswordResetHandler:    handler.NewPasswordResetHandler(sessions),
		PasswordExchangeHandler: handler.NewPasswordExchangeHandler(sessions),
		SignOutHandler:          handler.NewSignOutHandler(sessions),
		UpdatePasswordHandler:   handler.NewUpdatePasswordHandler(sessions),
		MeHandler:               handler.NewMeHandler(),

		ListJobsHandler:    handler.NewListJobsHandler(jobsSvc),
		JobHistoryHandler:  handler.NewJobHistoryHandler(jobsSvc),
		GetJobHandler:      handler.NewGetJobHandler(manager),
		CheckInHandler:     handler.NewCheckInHandler(manager),
		ToggleTaskHandler:  handler.NewToggleTaskHandler(manager),
		CompleteHandler:    handler.NewCompleteHandler(manager),
		SummaryHandler:     handler.NewSummaryHandler(manager),
		ListPhotosHandler:  handler.NewListPhotosHandler(jobsSvc, pipeline),
		UploadPhotoHandler: handler.NewUploadPhotoHandler(manager, cfg.Storage.SpoolDir),
	}

	return api.NewRouter(deps), sessions.Close, nil
}
