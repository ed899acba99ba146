package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/spatial-line-query/internal/command/linequery"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/config"
	"github.com/mohammed-shakir/spatial-line-query/internal/metrics"
)

const wfsBody = `{"type":"FeatureCollection","features":[
 {"type":"Feature","id":"roads.1","geometry":{"type":"LineString","coordinates":[[18.0,59.3],[18.1,59.4]]},"properties":{"name":"a"}}
]}`

func testConfig(geoserver string) config.Config {
	return config.Config{
		GeoServerURL:     geoserver,
		GeometryColumn:   "geom",
		MapSRID:          "EPSG:4326",
		FeatureLayers:    []config.FeatureLayerCfg{{ID: "roads", Name: "Roads", TypeName: "topp:roads"}},
		SelectedLayer:    "roads",
		NoticeHistory:    10,
		UpstreamTimeout:  2 * time.Second,
		DispatcherBuffer: 16,
		Cache: config.CacheCfg{
			Driver:    "memory",
			TTL:       time.Minute,
			Size:      16,
			OpTimeout: time.Second,
			H3Res:     7,
		},
	}
}

func quietLoggers() (*slog.Logger, *zerolog.Logger) {
	zl := zerolog.Nop()
	return slog.New(slog.NewTextHandler(io.Discard, nil)), &zl
}

func TestNewService_ConfigErrors(t *testing.T) {
	l, zl := quietLoggers()
	cases := map[string]func(*config.Config){
		"bad srid":       func(c *config.Config) { c.MapSRID = "ESRI:102100" },
		"unknown driver": func(c *config.Config) { c.Cache.Driver = "memcached" },
		"bad selection":  func(c *config.Config) { c.SelectedLayer = "nope" },
		"duplicate layer": func(c *config.Config) {
			c.FeatureLayers = append(c.FeatureLayers, c.FeatureLayers[0])
		},
		"cache with unprojectable map": func(c *config.Config) { c.MapSRID = "EPSG:3006" },
		"redis down": func(c *config.Config) {
			c.Cache.Driver = "redis"
			c.RedisAddr = "127.0.0.1:1"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig("http://127.0.0.1:1/geoserver")
			mutate(&cfg)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if svc, err := newService(ctx, cfg, l, zl); err == nil {
				svc.Close()
				t.Fatalf("expected error")
			}
		})
	}
}

func TestService_CachedLineQuery(t *testing.T) {
	var hits atomic.Int32
	wfs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/geoserver/ows" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, wfsBody)
	}))
	defer wfs.Close()

	l, zl := quietLoggers()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newService(ctx, testConfig(wfs.URL+"/geoserver"), l, zl)
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.Close()
	svc.StartBackground(ctx)

	p, err := metrics.Init(metrics.Config{})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	srv := httptest.NewServer(svc.Router(p.Handler()))
	defer srv.Close()

	do := func(method, path, body string, want int) []byte {
		t.Helper()
		req, _ := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != want {
			t.Fatalf("%s %s status=%d want %d body=%s", method, path, resp.StatusCode, want, b)
		}
		return b
	}

	graphics := func() int {
		var mv struct {
			Layers []struct {
				ID       string `json:"id"`
				Graphics *int   `json:"graphics"`
			} `json:"layers"`
		}
		_ = json.Unmarshal(do(http.MethodGet, "/api/map", "", http.StatusOK), &mv)
		for _, ly := range mv.Layers {
			if ly.ID == linequery.PolylineResultsLayer && ly.Graphics != nil {
				return *ly.Graphics
			}
		}
		return -1
	}

	query := func() {
		do(http.MethodPost, "/api/commands/line-query/execute", "", http.StatusOK)
		do(http.MethodPost, "/api/draw", `{"type":"LineString","coordinates":[[18,59.3],[18.1,59.4]]}`, http.StatusAccepted)
	}
	eventually := func(what string, cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s", what)
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	do(http.MethodGet, "/readyz", "", http.StatusOK)

	query()
	eventually("results", func() bool { return graphics() == 1 })
	if hits.Load() != 1 {
		t.Fatalf("wfs hits=%d want 1", hits.Load())
	}

	query()
	eventually("cache hit", func() bool {
		return strings.Contains(string(do(http.MethodGet, "/metrics", "", http.StatusOK)), `cache_results_total{outcome="hit"} 1`)
	})
	if hits.Load() != 1 || graphics() != 1 {
		t.Fatalf("identical query must be served from cache, wfs hits=%d graphics=%d", hits.Load(), graphics())
	}
}

func TestService_RedisReadiness(t *testing.T) {
	mr := miniredis.RunT(t)
	l, zl := quietLoggers()

	cfg := testConfig("http://127.0.0.1:1/geoserver")
	cfg.Cache.Driver = "redis"
	cfg.RedisAddr = mr.Addr()

	svc, err := newService(context.Background(), cfg, l, zl)
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.Close()

	h := svc.Router(promhttp.Handler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ready status=%d body=%s", rec.Code, rec.Body)
	}

	mr.Close()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "cache") {
		t.Fatalf("ready after redis loss status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestNewService_MercatorMapWithCache(t *testing.T) {
	l, zl := quietLoggers()
	for _, srid := range []string{"EPSG:3857", "EPSG:3006"} {
		cfg := testConfig("http://127.0.0.1:1/geoserver")
		cfg.MapSRID = srid
		if srid == "EPSG:3006" {
			cfg.Cache.Driver = "none"
		}
		svc, err := newService(context.Background(), cfg, l, zl)
		if err != nil {
			t.Fatalf("%s: newService: %v", srid, err)
		}
		svc.Close()
	}
}

func TestService_InvalidationWithoutCacheIsSkipped(t *testing.T) {
	l, zl := quietLoggers()
	cfg := testConfig("http://127.0.0.1:1/geoserver")
	cfg.Cache.Driver = "none"
	cfg.Invalidation.Enabled = true

	svc, err := newService(context.Background(), cfg, l, zl)
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	svc.StartBackground(context.Background())
	svc.Close()
}
