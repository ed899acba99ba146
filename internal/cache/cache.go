// Package cache puts a result cache in front of the feature query task.
// Results are keyed by the full request and indexed by the H3 cells their
// filter line crosses, so data changes can drop exactly the affected entries.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/spatial-line-query/internal/cache/cellindex"
	"github.com/mohammed-shakir/spatial-line-query/internal/cache/keys"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/querytask"
	"github.com/mohammed-shakir/spatial-line-query/internal/mapper"
)

// Interface is what a backend (redisstore, memstore) provides
type Interface interface {
	cellindex.Store
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	DefaultTTL       = 60 * time.Second
	DefaultOpTimeout = 250 * time.Millisecond
	DefaultRes       = 9
)

type Option func(*Querier)

func WithTTL(d time.Duration) Option {
	return func(c *Querier) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithOpTimeout(d time.Duration) Option {
	return func(c *Querier) {
		if d > 0 {
			c.opTimeout = d
		}
	}
}

func WithResolution(res int) Option {
	return func(c *Querier) { c.res = res }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Querier) {
		if l != nil {
			c.logger = l
		}
	}
}

// Querier wraps another querytask.Querier. Backend failures degrade to a
// miss and never fail the query.
type Querier struct {
	next      querytask.Querier
	backend   Interface
	mapper    mapper.Interface
	index     *cellindex.Index
	logger    *slog.Logger
	ttl       time.Duration
	opTimeout time.Duration
	res       int
}

func NewQuerier(next querytask.Querier, backend Interface, m mapper.Interface, opts ...Option) *Querier {
	c := &Querier{
		next:      next,
		backend:   backend,
		mapper:    m,
		logger:    slog.Default(),
		ttl:       DefaultTTL,
		opTimeout: DefaultOpTimeout,
		res:       DefaultRes,
	}
	for _, o := range opts {
		o(c)
	}
	c.index = cellindex.New(backend, c.res)
	return c
}

func (c *Querier) Resolution() int { return c.res }

func (c *Querier) Execute(ctx context.Context, q model.QueryRequest) (model.FeatureSet, error) {
	key := keys.ResultKey(q)

	if fs, ok := c.lookup(ctx, key, q.OutSpatialRef); ok {
		observability.IncCacheHit()
		c.logger.DebugContext(ctx, "result cache hit", "key", key, "features", fs.Len())
		return fs, nil
	}
	observability.IncCacheMiss()

	fs, err := c.next.Execute(ctx, q)
	if err != nil {
		return fs, err
	}
	c.store(context.WithoutCancel(ctx), key, q, fs)
	return fs, nil
}

// Ping reports whether the backend is reachable
func (c *Querier) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.backend.Ping(ctx)
}

// Invalidate drops every cached result of layer whose line crosses g, given
// in lon/lat
func (c *Querier) Invalidate(ctx context.Context, layer string, g orb.Geometry) (int, error) {
	cells, err := c.mapper.CellsForGeometry(g, c.res)
	if err != nil {
		return 0, fmt.Errorf("map invalidation geometry: %w", err)
	}
	return c.InvalidateCells(ctx, layer, cells)
}

// InvalidateCells drops every cached result of layer indexed under cells and
// returns how many result keys were dropped
func (c *Querier) InvalidateCells(ctx context.Context, layer string, cells model.Cells) (int, error) {
	if len(cells) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	resultKeys, err := c.index.Lookup(ctx, layer, cells)
	if err != nil {
		return 0, err
	}
	if len(resultKeys) > 0 {
		if err := c.backend.Del(ctx, resultKeys...); err != nil {
			return 0, fmt.Errorf("drop %d results: %w", len(resultKeys), err)
		}
	}
	if err := c.index.Drop(ctx, layer, cells); err != nil {
		return len(resultKeys), err
	}
	return len(resultKeys), nil
}

func (c *Querier) lookup(ctx context.Context, key string, sr model.SpatialReference) (model.FeatureSet, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	vals, err := c.backend.MGet(ctx, []string{key})
	if err != nil {
		c.fail(ctx, "lookup", key, err)
		return model.FeatureSet{}, false
	}
	raw, ok := vals[key]
	if !ok || len(raw) == 0 {
		return model.FeatureSet{}, false
	}
	fs, err := decodeEntry(raw, sr)
	if err != nil {
		c.fail(ctx, "decode", key, err)
		return model.FeatureSet{}, false
	}
	return fs, true
}

// store indexes before writing the value so a concurrent invalidation cannot
// miss a live entry
func (c *Querier) store(ctx context.Context, key string, q model.QueryRequest, fs model.FeatureSet) {
	if q.Geometry == nil {
		return
	}
	// cells are always lon/lat so invalidation events can find the entry
	g, err := mapper.ToWGS84(q.Geometry, q.OutSpatialRef)
	if err != nil {
		c.fail(ctx, "project", key, err)
		return
	}
	cells, err := c.mapper.CellsForGeometry(g, c.res)
	if err != nil {
		c.fail(ctx, "map", key, err)
		return
	}
	payload, err := encodeEntry(fs)
	if err != nil {
		c.fail(ctx, "encode", key, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.index.Add(ctx, q.TypeName, cells, key, c.ttl); err != nil {
		c.fail(ctx, "index", key, err)
		return
	}
	if err := c.backend.Set(ctx, key, payload, c.ttl); err != nil {
		c.fail(ctx, "set", key, err)
	}
}

func (c *Querier) fail(ctx context.Context, stage, key string, err error) {
	observability.IncCacheError()
	level := slog.LevelWarn
	if errors.Is(err, context.Canceled) {
		level = slog.LevelDebug
	}
	c.logger.Log(ctx, level, "result cache degraded", "stage", stage, "key", key, "err", err)
}

type entry struct {
	Features []entryFeature `json:"features"`
}

type entryFeature struct {
	ID         string            `json:"id,omitempty"`
	Geometry   *geojson.Geometry `json:"geometry,omitempty"`
	Attributes map[string]any    `json:"properties,omitempty"`
}

func encodeEntry(fs model.FeatureSet) ([]byte, error) {
	e := entry{Features: make([]entryFeature, len(fs.Features))}
	for i, f := range fs.Features {
		ef := entryFeature{ID: f.ID, Attributes: f.Attributes}
		if f.Geometry != nil {
			ef.Geometry = geojson.NewGeometry(f.Geometry)
		}
		e.Features[i] = ef
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return b, nil
}

func decodeEntry(raw []byte, sr model.SpatialReference) (model.FeatureSet, error) {
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.FeatureSet{}, fmt.Errorf("decode cache entry: %w", err)
	}
	fs := model.FeatureSet{Features: make([]model.Feature, len(e.Features)), SpatialReference: sr}
	for i, ef := range e.Features {
		f := model.Feature{ID: ef.ID, Attributes: ef.Attributes}
		if ef.Geometry != nil {
			f.Geometry = ef.Geometry.Geometry()
		}
		fs.Features[i] = f
	}
	return fs, nil
}
