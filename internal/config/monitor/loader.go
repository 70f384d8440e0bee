package monitor_config

import (
	common "github.com/NordCoder/Sitewatch/internal/config/common"
	"github.com/NordCoder/Sitewatch/internal/services/checker"
)

func Load(path string, envFiles ...string) (*Config, error) {
	v, err := common.NewViper(path, envFiles...)
	if err != nil {
		return nil, err
	}
	common.SetDefaults(v, "monitor")

	v.SetDefault("server.metrics_addr", ":8082")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.read_timeout", "1s")
	v.SetDefault("redis.write_timeout", "1s")
	v.SetDefault("redis.history_len", 100)
	v.SetDefault("redis.ttl", "168h")

	v.SetDefault("scheduler.tick", "1s")
	v.SetDefault("scheduler.resync_spec", "@every 30s")

	v.SetDefault("executor.workers", 16)
	v.SetDefault("executor.queue_size", 1024)
	v.SetDefault("executor.grace", "5s")

	v.SetDefault("http.user_agent", checker.DefaultUserAgent)
	v.SetDefault("http.verify_tls", false)
	v.SetDefault("http.max_redirects", 10)
	v.SetDefault("http.dial_timeout", "10s")

	v.SetDefault("outbox.workers", 1)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.wait_time", "1s")
	v.SetDefault("outbox.in_progress_ttl", "1m")

	v.SetDefault("retention.spec", "@daily")
	v.SetDefault("retention.results", "2160h")
	v.SetDefault("retention.alerts", "720h")
	v.SetDefault("retention.outbox", "168h")

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.read_timeout", "5s")
	v.SetDefault("api.write_timeout", "10s")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
