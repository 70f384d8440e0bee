package main

import (
	"context"
	"log"
	"strings"
	"time"

	common "github.com/NordCoder/Sitewatch/internal/config/common"
	"github.com/NordCoder/Sitewatch/internal/obs"
	"github.com/NordCoder/Sitewatch/internal/repository/kafka"

	"go.uber.org/zap"
)

// kafka-init creates the topics listed in KAFKA_TOPICS (comma separated) and waits until they have partitions.
func main() {
	v, err := common.NewViper("")
	if err != nil {
		log.Fatal(err)
	}
	common.SetDefaults(v, "kafka-init")
	v.SetDefault("kafka.topics", common.AlertsTopic)
	v.SetDefault("kafka.wait", "30s")

	l, err := obs.NewLogger(obs.LogConfig{Level: v.GetString("log.level"), App: "kafka-init", Env: v.GetString("app.env")})
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	brokers := v.GetStringSlice("kafka.brokers")
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, t := range strings.Split(v.GetString("kafka.topics"), ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		err := kafka.EnsureTopic(ctx, brokers, kafka.TopicSpec{
			Name:              t,
			NumPartitions:     v.GetInt("kafka.partitions"),
			ReplicationFactor: v.GetInt("kafka.replication_factor"),
			MaxWait:           v.GetDuration("kafka.wait"),
		}, l)
		if err != nil {
			l.Fatal("ensure topic", zap.String("topic", t), zap.Error(err))
		}
	}
	l.Info("kafka-init ok", zap.Strings("brokers", brokers))
}
