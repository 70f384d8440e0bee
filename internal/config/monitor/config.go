package monitor_config

import (
	"time"

	"github.com/NordCoder/Sitewatch/internal/api"
	common "github.com/NordCoder/Sitewatch/internal/config/common"
	"github.com/NordCoder/Sitewatch/internal/outbox"
	redisrepo "github.com/NordCoder/Sitewatch/internal/repository/redis"
	"github.com/NordCoder/Sitewatch/internal/services/checker"
)

type Scheduler struct {
	Tick       time.Duration `mapstructure:"tick"`
	ResyncSpec string        `mapstructure:"resync_spec"`
}

type Executor struct {
	Workers   int           `mapstructure:"workers"`
	QueueSize int           `mapstructure:"queue_size"`
	Grace     time.Duration `mapstructure:"grace"`
}

type Retention struct {
	Spec    string        `mapstructure:"spec"`
	Results time.Duration `mapstructure:"results"`
	Alerts  time.Duration `mapstructure:"alerts"`
	Outbox  time.Duration `mapstructure:"outbox"`
}

type Config struct {
	common.Base `mapstructure:",squash"`

	Redis     redisrepo.Config   `mapstructure:"redis"`
	Scheduler Scheduler          `mapstructure:"scheduler"`
	Executor  Executor           `mapstructure:"executor"`
	HTTP      checker.HTTPConfig `mapstructure:"http"`
	Outbox    outbox.Config      `mapstructure:"outbox"`
	Retention Retention          `mapstructure:"retention"`
	API       api.Config         `mapstructure:"api"`
}
