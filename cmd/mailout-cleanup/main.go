// Command mailout-cleanup purges resolved rows from a MySQL email outbox.
//
// Sent rows older than the retention window are deleted; exhausted rows are
// kept for operator inspection unless -include-exhausted is set. Intended for
// cron/CronJobs when the dispatch service itself should not run DELETE
// statements. After a -once pass the remaining backlog is logged, so the cron
// log doubles as a cheap outbox health check.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/carevia/mailout"
	"github.com/carevia/mailout/mysql"
	"github.com/carevia/mailout/zaplog"
)

const exitUsage = 2

// Sent rows are kept for a month by default; exhausted rows indefinitely.
const defaultRetention = 30 * 24 * time.Hour

func main() {
	var (
		dsn              string
		table            string
		retention        time.Duration
		checkEvery       time.Duration
		limit            int
		lockName         string
		includeExhausted bool
		once             bool
	)

	flag.StringVar(&dsn, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flag.StringVar(&table, "table", "email_outbox", "Outbox table name")
	flag.DurationVar(&retention, "retention", defaultRetention, "Delete resolved rows older than this duration")
	flag.DurationVar(&checkEvery, "check-every", time.Hour, "How often to run cleanup")
	flag.IntVar(&limit, "limit", 0, "Max rows deleted per run (0 uses default)")
	flag.StringVar(&lockName, "lock-name", "", "Advisory lock name (optional)")
	flag.BoolVar(&includeExhausted, "include-exhausted", false, "Delete exhausted rows as well")
	flag.BoolVar(&once, "once", false, "Run once and exit")
	flag.Parse()

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	zl, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer zl.Sync()
	logger := zaplog.New(zl)

	if err := run(dsn, table, retention, checkEvery, limit, lockName, includeExhausted, once, logger); err != nil {
		logger.Error("cleanup failed", "err", err)
		os.Exit(1)
	}
}

func run(
	dsn, table string,
	retention, checkEvery time.Duration,
	limit int,
	lockName string,
	includeExhausted, once bool,
	logger mailout.Logger,
) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	maintainer, err := mysql.NewCleanupMaintainer(db, mysql.CleanupMaintainerConfig{
		Table:            table,
		Retention:        retention,
		CheckEvery:       checkEvery,
		Limit:            limit,
		IncludeExhausted: includeExhausted,
		LockName:         lockName,
		Clock:            mailout.SystemClock{},
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if once {
		result, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		logger.Info("cleanup done",
			"sent_deleted", result.Sent,
			"exhausted_deleted", result.Exhausted,
		)
		reportBacklog(ctx, db, table, logger)

		return nil
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}

// reportBacklog logs the post-cleanup outbox counts. A growing exhausted
// count or oldest-pending age here is the first sign the dispatcher is stuck.
func reportBacklog(ctx context.Context, db *sql.DB, table string, logger mailout.Logger) {
	store, err := mysql.NewStore(db, mysql.WithTable(table))
	if err != nil {
		logger.Warn("backlog stats unavailable", "err", err)

		return
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		logger.Warn("backlog stats unavailable", "err", err)

		return
	}

	logger.Info("outbox backlog",
		"pending", stats.Pending,
		"claimed", stats.Claimed,
		"failed_retryable", stats.FailedRetryable,
		"exhausted", stats.Exhausted,
		"oldest_pending_age_s", stats.OldestPendingAgeSeconds,
	)
}
