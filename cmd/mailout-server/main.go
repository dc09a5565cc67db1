// Command mailout-server runs the email outbox dispatch engine behind HTTP
// trigger endpoints for external schedulers, plus a stats endpoint and a
// Prometheus metrics listener.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carevia/mailout"
	"github.com/carevia/mailout/mailgun"
	"github.com/carevia/mailout/mysql"
	"github.com/carevia/mailout/prom"
	"github.com/carevia/mailout/smtp"
	"github.com/carevia/mailout/trigger"
	"github.com/carevia/mailout/zaplog"
)

type config struct {
	DatabaseDSN   string `envconfig:"DATABASE_DSN" required:"true"`
	OutboxTable   string `envconfig:"OUTBOX_TABLE" default:"email_outbox"`
	TriggerSecret string `envconfig:"TRIGGER_SECRET"`
	APIPort       string `envconfig:"API_PORT" default:"8080"`
	MetricsPort   string `envconfig:"METRICS_PORT" default:"9090"`

	BatchSize   int           `envconfig:"BATCH_SIZE" default:"25"`
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"5"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" default:"1m"`
	MaxDelay    time.Duration `envconfig:"MAX_DELAY" default:"1h"`
	Staleness   time.Duration `envconfig:"CLAIM_STALENESS" default:"10m"`
	SendTimeout time.Duration `envconfig:"SEND_TIMEOUT" default:"30s"`
	// RateLimit caps provider requests per second across a cycle.
	RateLimit int `envconfig:"RATE_LIMIT" default:"10"`

	EmailProvider string `envconfig:"EMAIL_PROVIDER" default:"smtp"`
	SMTPHost      string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort      int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser      string `envconfig:"SMTP_USER" default:""`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom      string `envconfig:"SMTP_FROM" default:"noreply@carevia.health"`
	MailgunDomain string `envconfig:"MAILGUN_DOMAIN" default:""`
	MailgunAPIKey string `envconfig:"MAILGUN_API_KEY" default:""`
	MailgunFrom   string `envconfig:"MAILGUN_FROM" default:""`
}

const (
	dbPingMaxElapsed = 30 * time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var cfg config
	if err := envconfig.Process("MAILOUT", &cfg); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if cfg.TriggerSecret == "" {
		logger.Warn("trigger secret not configured; trigger endpoints will refuse all calls")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("mysql", cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("database open failed", zap.Error(err))
	}
	defer db.Close()

	// A restarting database should not crash-loop the service at boot.
	pingBackoff := backoff.NewExponentialBackOff()
	pingBackoff.MaxElapsedTime = dbPingMaxElapsed
	if err := backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(pingBackoff, ctx)); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}

	ddl, err := mysql.Schema(cfg.OutboxTable)
	if err != nil {
		logger.Fatal("invalid outbox table name", zap.Error(err))
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		logger.Fatal("schema ensure failed", zap.Error(err))
	}

	store, err := mysql.NewStore(db,
		mysql.WithTable(cfg.OutboxTable),
		mysql.WithMaxAttempts(cfg.MaxAttempts),
	)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}

	sender, err := buildSender(cfg)
	if err != nil {
		logger.Fatal("sender init failed", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := prom.NewMetrics(registry)

	engineLog := zaplog.New(logger)
	dispatcher := mailout.NewDispatcher(store, sender,
		mailout.WithBatchSize(cfg.BatchSize),
		mailout.WithStaleness(cfg.Staleness),
		mailout.WithRetryPolicy(mailout.RetryPolicy{
			BaseDelay: cfg.BaseDelay,
			MaxDelay:  cfg.MaxDelay,
		}),
		mailout.WithSendTimeout(cfg.SendTimeout),
		mailout.WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)),
		mailout.WithPendingInterval(time.Minute),
		mailout.WithLogger(engineLog),
		mailout.WithMetrics(metrics),
	)

	apiMux := http.NewServeMux()
	apiMux.Handle("/internal/cron/dispatch-emails",
		trigger.NewDispatchHandler(dispatcher, cfg.TriggerSecret, "cron", engineLog))
	apiMux.Handle("/internal/ops/dispatch-emails",
		trigger.NewDispatchHandler(dispatcher, cfg.TriggerSecret, "ops", engineLog))
	apiMux.Handle("/internal/cron/email-stats",
		trigger.NewStatsHandler(store, cfg.TriggerSecret, engineLog))

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiMux,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("trigger server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("trigger server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("trigger server shutdown failed", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
}

func buildSender(cfg config) (mailout.Sender, error) {
	switch cfg.EmailProvider {
	case "mailgun":
		return mailgun.NewSender(mailgun.Config{
			Domain: cfg.MailgunDomain,
			APIKey: cfg.MailgunAPIKey,
			From:   cfg.MailgunFrom,
		})
	default:
		return &smtp.Sender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, nil
	}
}
