// Package queryevents publishes one Kafka event per finished line query.
package queryevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/observability"
)

const (
	OutcomeSuccess     = "success"
	OutcomeEmpty       = "empty"
	OutcomeFailed      = "failed"
	OutcomeUnsupported = "unsupported"
	// the display layer id is held by a layer that cannot show results
	OutcomeLayerConflict = "layer_conflict"
)

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

type Event struct {
	QueryID      string    `json:"query_id"`
	Layer        string    `json:"layer"`
	TypeName     string    `json:"type_name"`
	Outcome      string    `json:"outcome"`
	Features     int       `json:"features"`
	DisplayLayer string    `json:"display_layer,omitempty"`
	BBox         *BBox     `json:"bbox,omitempty"`
	TS           time.Time `json:"ts"`
}

type Publisher struct {
	topic   string
	logger  *slog.Logger
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("queryevents: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		logger:  logger,
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				observability.IncQueryEvent("error")
				p.logger.Error("query event marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Layer),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncQueryEvent("error")
				p.logger.Warn("query event producer error", "err", err.Err)
			}
		}
	}()

	return p
}

// Publish queues ev; a full queue drops the event instead of blocking the caller
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case p.events <- ev:
		observability.IncQueryEvent("queued")
	default:
		observability.IncQueryEvent("dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("queryevents: close producer: %w", err)
	}
	return nil
}
