// Command ledger-sweep deletes abandoned reservations and expired keys from
// the Postgres idempotency ledger. The DynamoDB store expires keys through
// the table TTL instead.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/sync/errgroup"

	"github.com/maiztros/pos/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		abandonAfter time.Duration
		retention    time.Duration
		dryRun       bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.DurationVar(&abandonAfter, "abandon-after", 10*time.Minute, "delete unlinked reservations older than this")
	flag.DurationVar(&retention, "retention", 30*24*time.Hour, "delete linked keys unused for longer than this")
	flag.BoolVar(&dryRun, "dry-run", false, "only print the cutoffs")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if abandonAfter <= 0 || retention <= 0 {
		slog.Error("--abandon-after and --retention must be positive")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	now := time.Now()
	abandonedBefore := now.Add(-abandonAfter)
	expiredBefore := now.Add(-retention)
	slog.Info("sweeping idempotency ledger",
		slog.Time("abandoned_before", abandonedBefore),
		slog.Time("expired_before", expiredBefore),
	)
	if dryRun {
		return
	}

	if err := run(ctx, databaseURL, abandonedBefore, expiredBefore); err != nil {
		slog.Error("ledger sweep failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("ledger sweep completed successfully")
}

func run(ctx context.Context, databaseURL string, abandonedBefore, expiredBefore time.Time) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := postgres.NewIdempotencyStore(pool)

	// The two sweeps touch disjoint rows (order_id NULL vs NOT NULL).
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := store.SweepAbandoned(gctx, abandonedBefore)
		if err != nil {
			return errors.Wrap(err, "sweep abandoned reservations")
		}
		slog.Info("deleted abandoned reservations", slog.Int64("count", n))
		return nil
	})
	g.Go(func() error {
		n, err := store.SweepExpired(gctx, expiredBefore)
		if err != nil {
			return errors.Wrap(err, "sweep expired keys")
		}
		slog.Info("deleted expired keys", slog.Int64("count", n))
		return nil
	})
	return g.Wait()
}
