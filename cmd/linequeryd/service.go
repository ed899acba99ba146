package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/spatial-line-query/internal/cache"
	"github.com/mohammed-shakir/spatial-line-query/internal/cache/memstore"
	"github.com/mohammed-shakir/spatial-line-query/internal/cache/redisstore"
	"github.com/mohammed-shakir/spatial-line-query/internal/command"
	"github.com/mohammed-shakir/spatial-line-query/internal/command/linequery"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/api"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/config"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/health"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/httpclient"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/ogc"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/querytask"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/server"
	"github.com/mohammed-shakir/spatial-line-query/internal/dispatch"
	"github.com/mohammed-shakir/spatial-line-query/internal/draw"
	"github.com/mohammed-shakir/spatial-line-query/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/spatial-line-query/internal/mapapp"
	"github.com/mohammed-shakir/spatial-line-query/internal/mapper"
	h3mapper "github.com/mohammed-shakir/spatial-line-query/internal/mapper/h3"
	"github.com/mohammed-shakir/spatial-line-query/internal/queryevents"
)

// service owns every long lived component of the process
type service struct {
	cfg    config.Config
	logger *slog.Logger
	zl     *zerolog.Logger

	ui       *dispatch.Dispatcher
	app      *mapapp.Application
	registry *command.Registry
	lineCmd  *linequery.Command

	backend   cache.Interface
	cache     *cache.Querier
	publisher *queryevents.Publisher

	bg sync.WaitGroup
}

func newService(ctx context.Context, cfg config.Config, logger *slog.Logger, zl *zerolog.Logger) (*service, error) {
	sr, err := model.ParseSpatialReference(cfg.MapSRID)
	if err != nil {
		return nil, fmt.Errorf("MAP_SRID: %w", err)
	}

	s := &service{cfg: cfg, logger: logger, zl: zl}

	m := mapapp.NewMap(sr)
	owsURL := ogc.OWSEndpoint(cfg.GeoServerURL)
	for _, fl := range cfg.FeatureLayers {
		if err := m.Layers().Add(mapapp.NewFeatureLayer(fl.ID, fl.Name, owsURL, fl.TypeName)); err != nil {
			return nil, fmt.Errorf("FEATURE_LAYERS: %w", err)
		}
	}
	s.app = mapapp.NewApplication(m,
		mapapp.WithNoticeHistory(cfg.NoticeHistory),
		mapapp.WithLogger(logger.With("component", "mapapp")))
	if cfg.SelectedLayer != "" {
		if err := s.app.Select(cfg.SelectedLayer); err != nil {
			return nil, fmt.Errorf("SELECTED_LAYER: %w", err)
		}
	}

	var querier querytask.Querier = querytask.New(logger, httpclient.NewOutbound(cfg.UpstreamTimeout), cfg.GeometryColumn)
	if err := s.openCache(ctx, querier); err != nil {
		return nil, err
	}
	if s.cache != nil {
		querier = s.cache
	}

	s.ui = dispatch.New(logger.With("component", "dispatcher"), cfg.DispatcherBuffer)

	opts := []linequery.Option{
		linequery.WithLogger(logger.With("component", "linequery")),
		linequery.WithBaseContext(ctx),
	}
	if cfg.QueryEvents.Enabled {
		pub, err := queryevents.NewPublisher(config.SplitList(cfg.QueryEvents.Brokers),
			cfg.QueryEvents.Topic, cfg.QueryEvents.QueueSize, logger.With("component", "queryevents"))
		if err != nil {
			s.closeCache()
			return nil, err
		}
		s.publisher = pub
		opts = append(opts, linequery.WithEvents(pub))
	}

	s.lineCmd = linequery.New(s.app, querier, s.ui, opts...)
	s.registry = command.NewRegistry()
	if err := s.registry.Register(linequery.Name, s.lineCmd); err != nil {
		s.Close()
		return nil, err
	}

	s.ui.Start()
	return s, nil
}

func (s *service) openCache(ctx context.Context, next querytask.Querier) error {
	cc := s.cfg.Cache
	if cc.Driver == "" || cc.Driver == "none" {
		return nil
	}
	if sr := s.app.Map().SpatialReference(); !mapper.CanProject(sr) {
		return fmt.Errorf("result cache: map spatial reference %s cannot be indexed by H3", sr)
	}
	switch cc.Driver {
	case "memory":
		s.backend = memstore.New(cc.Size, cc.TTL)
	case "redis":
		rc, err := redisstore.New(ctx, s.cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("result cache: %w", err)
		}
		s.backend = rc
	default:
		return fmt.Errorf("RESULT_CACHE: unknown driver %q", cc.Driver)
	}
	s.cache = cache.NewQuerier(next, s.backend, h3mapper.New(),
		cache.WithTTL(cc.TTL),
		cache.WithOpTimeout(cc.OpTimeout),
		cache.WithResolution(cc.H3Res),
		cache.WithLogger(s.logger.With("component", "cache")))
	return nil
}

// StartBackground launches the invalidation consumer when enabled
func (s *service) StartBackground(ctx context.Context) {
	if !s.cfg.Invalidation.Enabled {
		return
	}
	if s.cache == nil {
		s.logger.Warn("invalidation enabled without a result cache; consumer not started")
		return
	}
	c := kafkaconsumer.New(kafkaconsumer.ConfigFrom(s.cfg.Invalidation),
		s.logger.With("component", "kafka_consumer"), s.zl, s.cache, h3mapper.New())
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := c.Start(ctx); err != nil {
			s.logger.Error("invalidation consumer stopped", "err", err)
		}
	}()
}

func (s *service) Router(metricsHandler http.Handler) http.Handler {
	checks := []health.Check{{Name: "dispatcher", Fn: func(context.Context) error {
		if !s.ui.Running() {
			return errors.New("ui dispatcher not running")
		}
		return nil
	}}}
	if s.cache != nil {
		checks = append(checks, health.Check{Name: "cache", Fn: s.cache.Ping})
	}
	return server.NewRouter(s.logger, server.Routes{
		API:     api.New(s.ui, s.app, s.registry, []*draw.Session{s.lineCmd.Session()}, s.logger),
		Metrics: metricsHandler,
		Ready:   checks,
	})
}

// Close stops the dispatcher before the publisher so no event is published
// into a closed queue
func (s *service) Close() {
	if s.ui != nil {
		s.ui.Close()
	}
	s.bg.Wait()
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("query event publisher close", "err", err)
		}
	}
	s.closeCache()
}

func (s *service) closeCache() {
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("cache close", "err", err)
		}
	}
}
