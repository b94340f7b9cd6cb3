package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"garage.app/internal/config"
	"garage.app/internal/database"
	"garage.app/internal/migrate"
	"garage.app/internal/obs"
	"garage.app/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	obs.Configure(cfg.LogLevel, cfg.Development())
	log := obs.Logger()

	var (
		dir     = flag.String("migrations", cfg.MigrationsDir, "Directory holding sql/ and seeds/; embedded files when empty")
		timeout = flag.Duration("timeout", 5*time.Minute, "Overall deadline")
	)
	flag.Parse()
	if flag.NArg() == 0 {
		log.Fatal().Msg("usage: migrate [-migrations dir] up|down|seed|status")
	}

	schema, seeds := migrations.Schema(), migrations.Seeds()
	if *dir != "" {
		schema = os.DirFS(filepath.Join(*dir, "sql"))
		seeds = os.DirFS(filepath.Join(*dir, "seeds"))
	}

	dialect, err := database.ParseDialect(cfg.DB.Type)
	if err != nil {
		log.Fatal().Err(err).Msg("dialect")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := database.Open(ctx, dialect, cfg.DB.ConnString(), database.PoolOptions{MaxOpenConns: 2},
		database.WithRetries(cfg.DB.Retries),
		database.WithRetryBaseDelay(cfg.DB.RetryBaseDelay),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	mgr := migrate.NewManager(db, schema, seeds)
	if err := run(ctx, mgr, flag.Arg(0)); err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
	}
}

func run(ctx context.Context, mgr *migrate.Manager, cmd string) error {
	switch cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		printAll(applied)
		return err
	case "down":
		name, err := mgr.Down(ctx)
		if err == nil {
			fmt.Println(name)
		}
		return err
	case "seed":
		applied, err := mgr.Seed(ctx)
		printAll(applied)
		return err
	case "status":
		history, err := mgr.Status(ctx)
		printAll(history)
		return err
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func printAll(names []string) {
	for _, n := range names {
		fmt.Println(n)
	}
}

