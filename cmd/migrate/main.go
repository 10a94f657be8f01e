package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/hackgods/availability-booking/internal/config"
	"github.com/hackgods/availability-booking/internal/db"
	"github.com/hackgods/availability-booking/internal/observability"
)

func main() {
	status := flag.Bool("status", false, "print migration status instead of applying")
	flag.Parse()

	cfg, err := config.Load()
	logger := observability.NewLogger(cfg.Env, cfg.LogLevel, cfg.Version)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if cfg.StoreDriver != config.StorePostgres {
		logger.Fatal().Str("store", cfg.StoreDriver).Msg("migrations only apply to the postgres store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 0)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	m := db.NewMigrator(pool, db.Migrations())

	if *status {
		st, err := m.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration status")
		}
		for _, s := range st {
			applied := "pending"
			if s.AppliedAt != nil {
				applied = "applied " + s.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(os.Stdout, "%03d %-30s %s\n", s.Version, s.Name, applied)
		}
		return
	}

	n, err := m.Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Int("applied", n).Msg("migrate up")
	}
	logger.Info().Int("applied", n).Msg("migrations up to date")
}
