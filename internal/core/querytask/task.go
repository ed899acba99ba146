// Package querytask runs spatial queries against a remote WFS feature service.
package querytask

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/ogc"
)

const maxBodyBytes = 64 << 20

type Querier interface {
	Execute(ctx context.Context, q model.QueryRequest) (model.FeatureSet, error)
}

type Task struct {
	logger     *slog.Logger
	client     *http.Client
	geomColumn string
	startNow   func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, geomColumn string) *Task {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Task{
		logger:     logger,
		client:     client,
		geomColumn: geomColumn,
		startNow:   time.Now,
	}
}

// Execute issues a WFS GetFeature for q against q.ServiceURL
func (t *Task) Execute(ctx context.Context, q model.QueryRequest) (model.FeatureSet, error) {
	u, err := ogc.GetFeatureURL(q.ServiceURL, q, t.geomColumn)
	if err != nil {
		return model.FeatureSet{}, fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return model.FeatureSet{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	t.logger.DebugContext(ctx, "wfs GetFeature",
		"type_name", q.TypeName,
		"service", q.ServiceURL,
		"srs", q.OutSpatialRef.String())

	start := t.startNow()
	resp, err := t.client.Do(req)
	if err != nil {
		return model.FeatureSet{}, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	dur := time.Since(start)
	observability.ObserveUpstreamLatency("wfs", dur.Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return model.FeatureSet{}, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return model.FeatureSet{}, fmt.Errorf("read body: %w", err)
	}

	fs, err := ogc.DecodeFeatureCollection(b, q.OutSpatialRef)
	if err != nil {
		return model.FeatureSet{}, err
	}
	if !q.ReturnGeometry {
		for i := range fs.Features {
			fs.Features[i].Geometry = nil
		}
	}

	t.logger.DebugContext(ctx, "wfs GetFeature done",
		"type_name", q.TypeName,
		"status", resp.StatusCode,
		"features", fs.Len(),
		"duration", dur.String())
	return fs, nil
}
