package main

import (
	"context"
	"time"

	"github.com/NordCoder/Sitewatch/internal/api"
	config "github.com/NordCoder/Sitewatch/internal/config/monitor"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/obs/retry"
	"github.com/NordCoder/Sitewatch/internal/outbox"
	"github.com/NordCoder/Sitewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Sitewatch/internal/repository/postgres"
	redisrepo "github.com/NordCoder/Sitewatch/internal/repository/redis"
	"github.com/NordCoder/Sitewatch/internal/services/alerting"
	"github.com/NordCoder/Sitewatch/internal/services/checker"
	"github.com/NordCoder/Sitewatch/internal/services/executor"
	"github.com/NordCoder/Sitewatch/internal/services/monitor"
	"github.com/NordCoder/Sitewatch/internal/services/scheduler"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type app struct {
	resync    *scheduler.Resync
	runner    *scheduler.Runner
	pool      *executor.Pool
	relay     *outbox.Runner
	retention *monitor.Retention
	cron      *cron.Cron
	api       *api.Server
	health    obs.HealthChecks
}

// connectCache returns nil when Redis is not configured or unreachable; results then come from Postgres only.
func connectCache(ctx context.Context, cfg config.Config, l *zap.Logger) *redis.Client {
	if cfg.Redis.URL == "" {
		return nil
	}
	rdb, err := redisrepo.NewClient(ctx, cfg.Redis)
	if err != nil {
		l.Warn("redis unavailable, running without result cache", zap.Error(err))
		return nil
	}
	return rdb
}

func wire(cfg *config.Config, db *pg.DB, rdb *redis.Client, prod *kafka.Producer, l *zap.Logger) *app {
	transactor := pg.NewTransactor(db, l)
	targets := pg.NewTargetRepo(db)
	results := pg.NewResultRepo(db)
	alerts := pg.NewAlertRepo(db)
	outboxRepo := pg.NewOutboxRepo(db)

	health := obs.HealthChecks{
		"postgres": func(ctx context.Context) error {
			hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer cancel()
			return db.Ping(hctx)
		},
	}

	var (
		cache  monitor.Cache
		recent api.RecentResults
	)
	if rdb != nil {
		rc := redisrepo.NewResultCache(rdb, cfg.Redis)
		cache, recent = rc, rc
		health["redis"] = func(ctx context.Context) error {
			hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer cancel()
			return rdb.Ping(hctx).Err()
		}
	}

	// alerts
	manager := alerting.NewManager(alerts, outbox.NewAlertEvents(outboxRepo), transactor, l,
		alerting.WithTargets(targets))
	handler := monitor.NewHandler(results, cache, manager, retry.PersistencePolicy(l), l)

	// scheduling
	uc := scheduler.NewUC()
	client := checker.NewHTTPClient(cfg.HTTP)
	pool := executor.NewPool(checker.NewRegistry(client), handler, uc,
		executor.WithWorkers(cfg.Executor.Workers),
		executor.WithQueueSize(cfg.Executor.QueueSize),
		executor.WithGrace(cfg.Executor.Grace),
		executor.WithLogger(l),
	)
	runner := scheduler.New(l, uc, pool, cfg.Scheduler.Tick)

	// relay
	dispatch := outbox.MakeGlobalOutboxHandler(kafka.NewAlertEventsKafka(prod), retry.DefaultKafkaPolicy(l))
	relay := outbox.NewOutboxRunner(l, outboxRepo, dispatch, cfg.Outbox)

	return &app{
		resync:    scheduler.NewResync(targets, uc, l),
		runner:    runner,
		pool:      pool,
		relay:     relay,
		retention: monitor.NewRetention(results, alerts, cfg.Retention.Results, cfg.Retention.Alerts, l,
			monitor.WithOutbox(outboxRepo, cfg.Retention.Outbox)),
		cron:      cron.New(cron.WithLocation(time.UTC)),
		api:       api.NewServer(l, runner, manager, results, recent, health, cfg.API.AllowedOrigins),
		health:    health,
	}
}
