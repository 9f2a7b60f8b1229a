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

	"file-drop/internal/config"
	"file-drop/internal/drop"
	"file-drop/internal/lease"
	"file-drop/internal/logging"
	"file-drop/internal/metadata"
	"file-drop/internal/qr"
	"file-drop/internal/server"
	"file-drop/internal/storage"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	format := cfg.LogFormat
	if cfg.Production() {
		format = "json"
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, format)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("backend exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	meta, closeMeta, err := openMetadata(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeMeta()
	cached := metadata.NewGroupCache(meta, cfg.Metadata.GroupCacheSize, cfg.Metadata.GroupCacheTTL)

	blobs, err := storage.New(ctx, storageConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	svc := drop.NewService(blobs, cached, qr.NewEncoder(), logger, dropOptions(cfg))

	locker, redisPinger, closeLease, err := openLease(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLease()

	sweeper := server.NewSweeper(svc, locker, server.SweeperConfig{
		Schedule:   cfg.Sweep.Schedule,
		GroupSweep: cfg.Sweep.GroupEnabled,
	}, logger)
	if cfg.Sweep.Enabled {
		if err := sweeper.Start(); err != nil {
			return err
		}
	}

	health := &server.HealthChecker{
		Metadata:    meta,
		Blobs:       blobs,
		Redis:       redisPinger,
		Environment: environmentFlags(cfg),
		Version:     version,
	}

	srv := server.New(serverConfig(cfg), svc, sweeper, health, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting", "addr", cfg.Addr, "version", version, "env", cfg.Env,
			"metadata", cfg.Metadata.Backend, "storage", cfg.Storage.Backend)
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sweeper.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// openMetadata connects the configured metadata backend. The returned func
// releases its connections.
func openMetadata(ctx context.Context, cfg *config.Config, logger *slog.Logger) (metadata.Store, func(), error) {
	switch cfg.Metadata.Backend {
	case "postgres":
		if err := metadata.Migrate(cfg.Metadata.DatabaseURL, logger); err != nil {
			return nil, nil, err
		}
		db, err := metadata.OpenDB(ctx, cfg.Metadata.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return metadata.NewPostgres(db), func() { _ = db.Close() }, nil

	case "mongo":
		m, err := metadata.ConnectMongo(ctx, cfg.Metadata.MongoURI, cfg.Metadata.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return m, func() {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = m.Close(cctx)
		}, nil

	case "memory":
		logger.Warn("metadata is kept in memory and lost on restart")
		return metadata.NewMemory(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown metadata backend %q", cfg.Metadata.Backend)
}

// openLease returns a Redis-backed locker when REDIS_URL is set so that
// several instances do not sweep at once.
func openLease(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lease.Locker, server.Pinger, func(), error) {
	if cfg.RedisURL == "" {
		return lease.Local{}, nil, func() {}, nil
	}
	r, err := lease.NewRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return r, r, func() { _ = r.Close() }, nil
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Backend:         cfg.Storage.Backend,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKey:       cfg.Storage.AccessKey,
		SecretKey:       cfg.Storage.SecretKey,
		Region:          cfg.Storage.Region,
		Bucket:          cfg.Storage.Bucket,
		BreakerFailures: cfg.Storage.BreakerFailures,
		BreakerTimeout:  cfg.Storage.BreakerTimeout,
	}
}

func dropOptions(cfg *config.Config) drop.Options {
	return drop.Options{
		TTL:            cfg.Drop.TTL(),
		LinkTTL:        cfg.Drop.LinkTTL(),
		GroupTTL:       cfg.Drop.GroupTTL,
		CodeLength:     cfg.Drop.CodeLength,
		CodeAttempts:   cfg.Drop.CodeAttempts,
		BackendTimeout: cfg.Drop.BackendTimeout,
		UploadTimeout:  cfg.Drop.UploadTimeout,
		SweepBatch:     cfg.Sweep.Batch,
		PublicBaseURL:  cfg.PublicBaseURL,
	}
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Addr:           cfg.Addr,
		MaxFiles:       cfg.Drop.MaxFiles,
		MaxUploadBytes: cfg.Drop.MaxUploadBytes,
		CORSOrigins:    cfg.CORSOrigins,
		RateLimit:      cfg.RateLimit.Requests,
		RateWindow:     cfg.RateLimit.Window,
		TrustedProxies: cfg.RateLimit.TrustedProxies,
		Version:        version,
	}
}

// environmentFlags reports which settings are present, never their values.
func environmentFlags(cfg *config.Config) map[string]bool {
	return map[string]bool{
		"bucketConfigured":      cfg.Storage.Bucket != "",
		"regionConfigured":      cfg.Storage.Region != "",
		"endpointConfigured":    cfg.Storage.Endpoint != "",
		"databaseUrlConfigured": cfg.Metadata.DatabaseURL != "",
		"mongoUriConfigured":    cfg.Metadata.MongoURI != "",
		"redisConfigured":       cfg.RedisURL != "",
		"urlExpiryConfigured":   cfg.Drop.LinkTTLSeconds > 0,
	}
}
