// Package kafkaconsumer drops cached line query results when the features
// behind them change.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
	obs "github.com/mohammed-shakir/spatial-line-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-line-query/internal/invalidation"
	mylog "github.com/mohammed-shakir/spatial-line-query/internal/logger"
)

type CellMapper interface {
	CellsForBBox(bbox model.BBox, res int) (model.Cells, error)
	CellsForGeometry(g orb.Geometry, res int) (model.Cells, error)
}

// Invalidator is the result cache seen from the consumer
type Invalidator interface {
	Resolution() int
	InvalidateCells(ctx context.Context, layer string, cells model.Cells) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	zlog   *zerolog.Logger
	cache  Invalidator
	mapper CellMapper
	seen   *offsetDedupe
}

// New builds a consumer; zl receives the structured invalidation audit log
// and may be nil
func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, c Invalidator, mapper CellMapper) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		zlog:   mylog.FromContext(base, zl),
		cache:  c,
		mapper: mapper,
		seen:   newOffsetDedupe(cfg.DedupeSize),
	}
}

// Start consumes invalidation events until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil || c.mapper == nil {
		return errors.New("kafkaconsumer: missing dependencies (cache/mapper)")
	}
	if len(c.cfg.Brokers) == 0 || c.cfg.Topic == "" {
		return errors.New("kafkaconsumer: brokers and topic are required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID,
		"res", c.cache.Resolution())

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncKafkaConsumerError("consume")
			c.logger.Error("consumer error", "err", err)
			c.zlog.Error().Err(err).
				Strs("brokers", c.cfg.Brokers).
				Str("topic", c.cfg.Topic).
				Msg("kafka consumer error")
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.RetryBackoff):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne handles a single message. Malformed events are logged and
// skipped so they cannot stall the partition; cache failures return an error
// and leave the offset unmarked. Offsets at or below the last applied one of
// the partition are ignored.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	pk := partitionKey(msg.Topic, msg.Partition)
	if c.seen.applied(pk, msg.Offset) {
		obs.IncInvalidationReplay()
		c.logger.Debug("replayed invalidation event ignored", "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.skip(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.skip(ctx, msg, "validate", err)
		return nil
	}

	cells, err := c.cellsForEvent(ev)
	if err != nil {
		obs.ObserveInvalidation(ev.Op, 0, err)
		c.skip(ctx, msg, "cells", err)
		return nil
	}

	dropped, err := c.cache.InvalidateCells(ctx, ev.Layer, cells)
	if err != nil {
		obs.IncKafkaConsumerError("cache")
		obs.ObserveInvalidation(ev.Op, dropped, err)

		mylog.FromContext(ctx, c.zlog).Error().
			Str("kind", "cache").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Int("cells", len(cells)).
			Err(err).
			Msg("kafka error")

		return fmt.Errorf("invalidate cells: %w", err)
	}

	c.seen.record(pk, msg.Offset)
	obs.ObserveInvalidation(ev.Op, dropped, nil)
	c.logger.Debug("invalidated results",
		"layer", ev.Layer, "op", ev.Op, "cells", len(cells), "results", dropped)

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).Str("layer", ev.Layer).
		Int("cells", len(cells)).Int("results", dropped).
		Msg("invalidated results")

	return nil
}

func (c *Consumer) skip(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	c.seen.record(partitionKey(msg.Topic, msg.Partition), msg.Offset)
	obs.IncKafkaConsumerError(kind)
	c.logger.Warn("skipping invalidation event", "kind", kind, "offset", msg.Offset, "err", err)
	mylog.FromContext(ctx, c.zlog).Error().
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Err(err).
		Msg("kafka error")
}

// choose mapping method based on event content
func (c *Consumer) cellsForEvent(ev invalidation.Event) (model.Cells, error) {
	res := c.cache.Resolution()
	if ev.BBox != nil {
		cells, err := c.mapper.CellsForBBox(ev.BBox.Model(), res)
		if err != nil {
			return nil, fmt.Errorf("CellsForBBox: %w", err)
		}
		return cells, nil
	}
	g, err := ev.ParseGeometry()
	if err != nil {
		return nil, err
	}
	cells, err := c.mapper.CellsForGeometry(g, res)
	if err != nil {
		return nil, fmt.Errorf("CellsForGeometry: %w", err)
	}
	return cells, nil
}
