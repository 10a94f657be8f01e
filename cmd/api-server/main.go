package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/availability-booking/internal/api"
	"github.com/hackgods/availability-booking/internal/appointment"
	"github.com/hackgods/availability-booking/internal/config"
	"github.com/hackgods/availability-booking/internal/db"
	"github.com/hackgods/availability-booking/internal/identity"
	"github.com/hackgods/availability-booking/internal/observability"
	redisclient "github.com/hackgods/availability-booking/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := observability.NewLogger("dev", "info", "unknown")
		boot.Fatal().Err(err).Msg("config load error")
	}

	logger := observability.NewLogger(cfg.Env, cfg.LogLevel, cfg.Version)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("lock", cfg.LockBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	rootCtx = logger.WithContext(rootCtx)

	if cfg.OTELEnabled {
		shutdownTracing, err := observability.SetupTracing(rootCtx, cfg.Version, cfg.OTELEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("tracing disabled, exporter setup failed")
		} else {
			logger.Info().Str("endpoint", cfg.OTELEndpoint).Msg("exporting traces")
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					logger.Error().Err(err).Msg("error flushing traces")
				}
			}()
		}
	}

	routerCfg := api.RouterConfig{
		Verifier: identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Logger:   logger,
		Env:      cfg.Env,
		Version:  cfg.Version,
	}

	var repo appointment.Repository
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.OperationTimeout)
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		if cfg.MigrateOnStart {
			n, err := db.NewMigrator(pgPool, db.Migrations()).Up(rootCtx)
			if err != nil {
				logger.Fatal().Err(err).Msg("migrate")
			}
			logger.Info().Int("applied", n).Msg("migrations up to date")
		}

		repo = appointment.NewPgRepository(pgPool)
		routerCfg.Postgres = pgPool
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory store, data is lost on exit")
		repo = appointment.NewMemoryRepository(appointment.WithImplicitIdentities())
	}

	var locker redisclient.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Msg("connected to Redis")

		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
		routerCfg.Redis = redisclient.Pinger{Client: rdb}
	case config.LockLocal:
		locker = redisclient.NewLocalLocker(cfg.LockTTL)
	}

	routerCfg.Service = appointment.NewService(repo, locker, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
			shutdown(srv, cfg.ShutdownTimeout, logger)
			os.Exit(1)
		}
	}

	shutdown(srv, cfg.ShutdownTimeout, logger)
}

func shutdown(srv *http.Server, timeout time.Duration, logger zerolog.Logger) {
	logger.Info().Dur("timeout", timeout).Msg("shutting down api-server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
