package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/spatial-line-query/internal/command"
	"github.com/mohammed-shakir/spatial-line-query/internal/command/linequery"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/api"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/health"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/querytask"
	"github.com/mohammed-shakir/spatial-line-query/internal/dispatch"
	"github.com/mohammed-shakir/spatial-line-query/internal/draw"
	"github.com/mohammed-shakir/spatial-line-query/internal/mapapp"
	"github.com/mohammed-shakir/spatial-line-query/internal/metrics"
)

const wfsBody = `{"type":"FeatureCollection","features":[
 {"type":"Feature","id":"poi.1","geometry":{"type":"Point","coordinates":[18.01,59.32]},"properties":{"name":"a"}},
 {"type":"Feature","id":"poi.2","geometry":{"type":"LineString","coordinates":[[18.0,59.3],[18.1,59.4]]},"properties":{"name":"b"}}
]}`

type stack struct {
	srv      *httptest.Server
	wfsHits  *atomic.Int32
	lastCQL  *atomic.Value
	dispatch *dispatch.Dispatcher
}

func newStack(t *testing.T) *stack {
	t.Helper()

	hits := &atomic.Int32{}
	lastCQL := &atomic.Value{}
	wfs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		lastCQL.Store(r.URL.Query().Get("cql_filter"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, wfsBody)
	}))
	t.Cleanup(wfs.Close)

	d := dispatch.New(nil, 16)
	d.Start()
	t.Cleanup(d.Close)

	m := mapapp.NewMap(model.WGS84)
	_ = m.Layers().Add(mapapp.NewFeatureLayer("poi", "Places", wfs.URL+"/ows", "demo:poi"))
	_ = m.Layers().Add(mapapp.NewGraphicsLayer("sketch"))
	app := mapapp.NewApplication(m)

	cmd := linequery.New(app, querytask.New(nil, wfs.Client(), "geom"), d)
	reg := command.NewRegistry()
	if err := reg.Register(linequery.Name, cmd); err != nil {
		t.Fatalf("register: %v", err)
	}

	p, err := metrics.Init(metrics.Config{})
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	h := NewRouter(nil, Routes{
		API:     api.New(d, app, reg, []*draw.Session{cmd.Session()}, nil),
		Metrics: p.Handler(),
		Ready: []health.Check{{Name: "dispatcher", Fn: func(context.Context) error {
			if !d.Running() {
				return errors.New("stopped")
			}
			return nil
		}}},
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &stack{srv: srv, wfsHits: hits, lastCQL: lastCQL, dispatch: d}
}

func (s *stack) call(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := s.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

func (s *stack) expect(t *testing.T, method, path, body string, want int) []byte {
	t.Helper()
	code, b := s.call(t, method, path, body)
	if code != want {
		t.Fatalf("%s %s status=%d want %d body=%s", method, path, code, want, b)
	}
	return b
}

func TestLineQuery_EndToEnd(t *testing.T) {
	s := newStack(t)

	var cmds []command.Info
	_ = json.Unmarshal(s.expect(t, http.MethodGet, "/api/commands", "", http.StatusOK), &cmds)
	if len(cmds) != 1 || cmds[0].Name != linequery.Name || cmds[0].CanExecute || cmds[0].DisplayName != linequery.DisplayName {
		t.Fatalf("unexpected commands %+v", cmds)
	}

	s.expect(t, http.MethodPost, "/api/commands/line-query/execute", "", http.StatusConflict)
	s.expect(t, http.MethodPut, "/api/map/selection", `{"layer":"poi"}`, http.StatusOK)
	s.expect(t, http.MethodPost, "/api/draw", `{"type":"LineString","coordinates":[[18,59.3],[18.1,59.4]]}`, http.StatusConflict)

	var info command.Info
	_ = json.Unmarshal(s.expect(t, http.MethodGet, "/api/commands/line-query", "", http.StatusOK), &info)
	if info.Checked || !info.CanExecute || info.DisplayName != linequery.DisplayName {
		t.Fatalf("unexpected command state before arming: %+v", info)
	}
	_ = json.Unmarshal(s.expect(t, http.MethodPost, "/api/commands/line-query/execute", "", http.StatusOK), &info)
	if !info.Checked {
		t.Fatalf("command must be checked after arming: %+v", info)
	}

	s.expect(t, http.MethodPost, "/api/draw", `{"type":"Point","coordinates":[18,59.3]}`, http.StatusUnprocessableEntity)
	s.expect(t, http.MethodPost, "/api/draw",
		`{"type":"Feature","properties":{},"geometry":{"type":"LineString","coordinates":[[18,59.3],[18.1,59.4]]}}`,
		http.StatusAccepted)

	path := "/api/layers/Point%20Query%20Results/features"
	deadline := time.Now().Add(3 * time.Second)
	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			ID any `json:"id"`
		} `json:"features"`
	}
	for {
		code, b := s.call(t, http.MethodGet, path, "")
		if code == http.StatusOK {
			if err := json.Unmarshal(b, &fc); err != nil {
				t.Fatalf("decode: %v", err)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("display layer never appeared, last status=%d", code)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if fc.Type != "FeatureCollection" || len(fc.Features) != 2 || fc.Features[0].ID != "poi.1" {
		t.Fatalf("unexpected features %+v", fc)
	}
	if s.wfsHits.Load() != 1 {
		t.Fatalf("wfs hits=%d want 1", s.wfsHits.Load())
	}
	if cql, _ := s.lastCQL.Load().(string); !strings.HasPrefix(cql, "INTERSECTS(geom, SRID=4326;LINESTRING") {
		t.Fatalf("unexpected cql_filter %q", cql)
	}

	_ = json.Unmarshal(s.expect(t, http.MethodGet, "/api/commands", "", http.StatusOK), &cmds)
	if cmds[0].Checked {
		t.Fatalf("command must be disarmed after the draw")
	}

	var notices []mapapp.Notice
	_ = json.Unmarshal(s.expect(t, http.MethodGet, "/api/notices", "", http.StatusOK), &notices)
	if len(notices) != 1 || notices[0].Title != linequery.PromptTitle {
		t.Fatalf("unexpected notices %+v", notices)
	}

	var mv struct {
		Selected string `json:"selected"`
		Layers   []struct {
			ID       string `json:"id"`
			Kind     string `json:"kind"`
			Graphics *int   `json:"graphics"`
		} `json:"layers"`
	}
	_ = json.Unmarshal(s.expect(t, http.MethodGet, "/api/map", "", http.StatusOK), &mv)
	last := mv.Layers[len(mv.Layers)-1]
	if mv.Selected != "poi" || last.ID != linequery.PointResultsLayer || last.Kind != "graphics" || last.Graphics == nil || *last.Graphics != 2 {
		t.Fatalf("unexpected map view %+v", mv)
	}
}

func TestAPI_ErrorStatuses(t *testing.T) {
	s := newStack(t)

	s.expect(t, http.MethodPut, "/api/map/selection", `{"layer":"nope"}`, http.StatusNotFound)
	s.expect(t, http.MethodPut, "/api/map/selection", `{"layer":`, http.StatusBadRequest)
	s.expect(t, http.MethodPut, "/api/map/selection", `{"layer":"poi","extra":1}`, http.StatusBadRequest)
	s.expect(t, http.MethodPost, "/api/commands/nope/execute", "", http.StatusNotFound)
	s.expect(t, http.MethodGet, "/api/commands/nope", "", http.StatusNotFound)
	s.expect(t, http.MethodPost, "/api/draw", `not json`, http.StatusBadRequest)
	s.expect(t, http.MethodGet, "/api/layers/poi/features", "", http.StatusNotFound)
	s.expect(t, http.MethodGet, "/api/layers/missing/features", "", http.StatusNotFound)
	s.expect(t, http.MethodGet, "/api/notices?limit=-1", "", http.StatusBadRequest)

	b := s.expect(t, http.MethodGet, "/api/layers/sketch/features", "", http.StatusOK)
	if !bytes.Contains(b, []byte(`"FeatureCollection"`)) {
		t.Fatalf("empty graphics layer must still be a collection: %s", b)
	}

	// clearing the selection
	s.expect(t, http.MethodPut, "/api/map/selection", `{"layer":""}`, http.StatusOK)
}

func TestHealthEndpointsAndMetrics(t *testing.T) {
	s := newStack(t)

	s.expect(t, http.MethodGet, "/healthz", "", http.StatusOK)
	s.expect(t, http.MethodGet, "/readyz", "", http.StatusOK)
	s.expect(t, http.MethodGet, "/api/map", "", http.StatusOK)

	body := s.expect(t, http.MethodGet, "/metrics", "", http.StatusOK)
	if !bytes.Contains(body, []byte(`http_requests_total{method="GET",route="/api/map",status="200"}`)) {
		t.Fatalf("route metrics missing:\n%s", body)
	}

	s.dispatch.Close()
	s.expect(t, http.MethodGet, "/readyz", "", http.StatusServiceUnavailable)
	s.expect(t, http.MethodGet, "/api/map", "", http.StatusServiceUnavailable)
}
