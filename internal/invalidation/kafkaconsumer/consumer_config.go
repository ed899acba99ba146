package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	RetryBackoff        time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

func ConfigFrom(c config.InvalidationCfg) Config {
	return Config{
		Brokers:             config.SplitList(c.Brokers),
		Topic:               c.Topic,
		GroupID:             c.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		RetryBackoff:        2 * time.Second,
		InitialOffsetOldest: false,
		DedupeSize:          defaultDedupeSize,
	}
}
