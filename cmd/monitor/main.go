package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	common "github.com/NordCoder/Sitewatch/internal/config/common"
	config "github.com/NordCoder/Sitewatch/internal/config/monitor"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Sitewatch/internal/repository/postgres"

	"go.uber.org/zap"
)

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/monitor.yaml"
}

func main() {
	// init
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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
	l.Info("starting monitor",
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.String("api_addr", cfg.API.Addr),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(root, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.NewDB(root, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	rdb := connectCache(root, *cfg, l)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	// kafka
	if err := kafka.EnsureTopic(root, cfg.Kafka.Brokers, kafka.TopicSpec{
		Name:              cfg.Kafka.Topic,
		NumPartitions:     cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
	}, l); err != nil {
		l.Warn("ensure topic", zap.Error(err))
	}
	prod := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, l)
	defer func() { _ = prod.Close() }()

	// wiring
	a := wire(cfg, db, rdb, prod, l)

	if err := a.resync.Sync(root); err != nil {
		l.Warn("initial target sync failed", zap.Error(err))
	}
	if _, err := a.resync.Register(root, a.cron, cfg.Scheduler.ResyncSpec); err != nil {
		l.Fatal("register resync", zap.Error(err))
	}
	if _, err := a.retention.Register(root, a.cron, cfg.Retention.Spec); err != nil {
		l.Fatal("register retention", zap.Error(err))
	}

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, a.health, l)

	// start
	work, stopWork := context.WithCancel(context.WithoutCancel(root))
	defer stopWork()
	a.pool.Start(work)
	a.relay.Start(work)
	a.cron.Start()

	srv := a.api.HTTPServer(cfg.API)
	errCh := make(chan error, 2)
	go func() {
		l.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() { errCh <- a.runner.Run(root) }()

	// loop
	select {
	case <-root.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("monitor error", zap.Error(err))
		}
		stop()
	}

	// graceful shutdown
	grace := cfg.Server.GracefulTimeout
	if grace <= 0 {
		grace = common.DefaultGracefulTimeout
	}
	shCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	_ = srv.Shutdown(shCtx)
	<-a.cron.Stop().Done()
	drained := make(chan struct{})
	go func() {
		a.pool.Stop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shCtx.Done():
		l.Warn("executor did not drain in time")
	}
	stopWork()
	a.relay.Wait()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
