package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/boekwerk/hoursync/internal/config"
	"github.com/boekwerk/hoursync/internal/ledger"
	"github.com/boekwerk/hoursync/internal/pkg/logger"
	"github.com/boekwerk/hoursync/internal/reconcile"
	"github.com/boekwerk/hoursync/internal/report"
	"github.com/boekwerk/hoursync/internal/repository/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	year := flag.Int("year", time.Now().Year(), "registration year to reconcile")
	dryRun := flag.Bool("dry-run", false, "report planned writes without issuing them")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.Info("starting hoursync",
		"year", *year, "dry_run", *dryRun, "dsn", logger.RedactDSN(cfg.Database.DSN()))

	loc, err := cfg.Sync.Location()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: invalid timezone %q: %v\n", cfg.Sync.Timezone, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(3)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot connect to database: %v\n", err)
		os.Exit(1)
	}

	engine := reconcile.New(
		postgres.NewEventRepo(db),
		ledger.NewClient(cfg.Ledger),
		report.NewFileSink(cfg.Sync.OutputDir, *year),
		loc,
		*dryRun,
	)

	stats, err := engine.Run(ctx, *year)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: reconciliation aborted: %v\n", err)
		os.Exit(1)
	}

	total := 0
	for _, n := range stats.Conflicts {
		total += n
	}
	fmt.Printf("reconciliation complete: db=%d ledger=%d inserted=%d updated=%d unchanged=%d skipped=%d conflicts=%d\n",
		stats.DatabaseEvents, stats.LedgerEvents,
		stats.Inserted, stats.Updated, stats.Unchanged, stats.Skipped, total)
	if stats.DryRun {
		fmt.Println("dry-run: no writes were issued")
	}
}
