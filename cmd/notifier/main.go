package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/NordCoder/Sitewatch/internal/config/notifier"
	"github.com/NordCoder/Sitewatch/internal/domain/notification"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/obs/retry"
	"github.com/NordCoder/Sitewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Sitewatch/internal/repository/postgres"
	"github.com/NordCoder/Sitewatch/internal/services/notifier"

	"go.uber.org/zap"
)

func channels(cfg *config.Config, l *zap.Logger) []notification.Channel {
	var out []notification.Channel
	if cfg.Ntfy.Enabled {
		out = append(out, notifier.NewNtfy(cfg.Ntfy))
	}
	if cfg.SMTP.Enabled {
		out = append(out, notifier.NewMailer(cfg.SMTP).WithLogger(l))
	}
	if cfg.Webhook.Enabled {
		out = append(out, notifier.NewWebhook(cfg.Webhook))
	}
	return out
}

func wiring(db *pg.DB, cfg *config.Config, cons *kafka.Consumer, l *zap.Logger) *notifier.Controller {
	chs := channels(cfg, l)
	if len(chs) == 0 {
		l.Warn("no notification channels enabled, events will only be recorded")
	}
	for _, ch := range chs {
		l.Info("channel enabled", zap.String("channel", ch.Name()))
	}
	d := notifier.NewDispatcher(chs, pg.NewNotificationRepo(db), cfg.DashboardURL, retry.DeliveryPolicy(l), l)
	return &notifier.Controller{Log: l, Sub: cons, Dispatcher: d}
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/notifier.yaml"
}

func main() {
	// init
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	l.Info("starting notifier",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Warn("otel init", zap.Error(err))
	} else {
		defer func() { _ = otelCloser.Shutdown(context.Background()) }()
	}

	// db
	db, err := pg.NewDB(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, obs.HealthChecks{
		"postgres": func(ctx context.Context) error {
			hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer cancel()
			return db.Ping(hctx)
		},
	}, l)

	// kafka
	cons := kafka.BootstrapConsumer(rootCtx, &kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		GroupID:       cfg.Consumer.GroupID,
		Topic:         cfg.Kafka.Topic,
		FromBeginning: cfg.Consumer.FromBeginning,
		Logger:        l,
	}, cfg.Kafka.Partitions, l)
	defer func() { _ = cons.Close() }()
	l.Info("kafka consumer initialized",
		zap.String("group_id", cfg.Consumer.GroupID),
		zap.String("topic", cfg.Kafka.Topic),
	)

	// start
	ctrl := wiring(db, cfg, cons, l)
	errCh := make(chan error, 1)
	go func() {
		l.Info("controller starting")
		errCh <- ctrl.Run(rootCtx)
	}()

	// main loop
	var runErr error
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr = <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("controller error", zap.Error(runErr))
		}
	}

	// graceful metrics server shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
