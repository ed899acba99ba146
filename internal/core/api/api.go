// Package api exposes the map application over HTTP. Every handler touches
// map state only inside a function run on the UI dispatcher.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/spatial-line-query/internal/command"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/ogc"
	"github.com/mohammed-shakir/spatial-line-query/internal/dispatch"
	"github.com/mohammed-shakir/spatial-line-query/internal/draw"
	"github.com/mohammed-shakir/spatial-line-query/internal/mapapp"
)

const maxBodyBytes = 1 << 20

// UI runs fn on the UI execution context and waits for it
type UI interface {
	Do(ctx context.Context, fn func()) error
}

type Handlers struct {
	ui       UI
	app      *mapapp.Application
	commands *command.Registry
	sessions []*draw.Session
	logger   *slog.Logger
}

// New wires the handlers; sessions are the draw sessions POST /api/draw may
// complete, the first enabled one wins
func New(ui UI, app *mapapp.Application, commands *command.Registry, sessions []*draw.Session, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{ui: ui, app: app, commands: commands, sessions: sessions, logger: logger}
}

// Mount registers the API routes on r
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/map", h.getMap)
		r.Put("/map/selection", h.putSelection)
		r.Get("/commands", h.listCommands)
		r.Get("/commands/{name}", h.getCommand)
		r.Post("/commands/{name}/execute", h.executeCommand)
		r.Post("/draw", h.postDraw)
		r.Get("/layers/{id}/features", h.layerFeatures)
		r.Get("/notices", h.listNotices)
	})
}

type layerView struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Kind     mapapp.LayerKind `json:"kind"`
	TypeName string           `json:"type_name,omitempty"`
	Graphics *int             `json:"graphics,omitempty"`
}

type mapView struct {
	SpatialReference string      `json:"spatial_reference"`
	WKID             int         `json:"wkid"`
	Layers           []layerView `json:"layers"`
	Selected         string      `json:"selected,omitempty"`
}

func (h *Handlers) snapshot() mapView {
	m := h.app.Map()
	v := mapView{
		SpatialReference: m.SpatialReference().String(),
		WKID:             m.SpatialReference().WKID,
		Layers:           []layerView{},
	}
	for _, l := range m.Layers().All() {
		lv := layerView{ID: l.ID(), Name: l.Name(), Kind: l.Kind()}
		switch t := l.(type) {
		case *mapapp.FeatureLayer:
			lv.TypeName = t.TypeName()
		case *mapapp.GraphicsLayer:
			n := t.Len()
			lv.Graphics = &n
		}
		v.Layers = append(v.Layers, lv)
	}
	if sel := h.app.SelectedLayer(); sel != nil {
		v.Selected = sel.ID()
	}
	return v
}

func (h *Handlers) getMap(w http.ResponseWriter, r *http.Request) {
	var v mapView
	if !h.do(w, r, func() { v = h.snapshot() }) {
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) putSelection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Layer string `json:"layer"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		v   mapView
		err error
	)
	if !h.do(w, r, func() {
		if err = h.app.Select(body.Layer); err == nil {
			v = h.snapshot()
		}
	}) {
		return
	}
	if errors.Is(err, mapapp.ErrLayerNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) listCommands(w http.ResponseWriter, r *http.Request) {
	var out []command.Info
	if !h.do(w, r, func() { out = h.commands.List() }) {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) getCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var (
		info command.Info
		err  error
	)
	if !h.do(w, r, func() { info, err = h.commands.Describe(name) }) {
		return
	}
	if errors.Is(err, command.ErrUnknownCommand) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) executeCommand(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var (
		info command.Info
		err  error
	)
	if !h.do(w, r, func() { info, err = h.commands.Execute(name) }) {
		return
	}
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, command.ErrCannotExecute):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		h.logger.InfoContext(r.Context(), "command executed", "command", name, "checked", info.Checked)
		writeJSON(w, http.StatusOK, info)
	}
}

// postDraw takes a GeoJSON geometry (or a Feature wrapping one) and completes
// the gesture of the armed draw session
func (h *Handlers) postDraw(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, err := parseDrawn(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if !h.do(w, r, func() {
		err = draw.ErrNotEnabled
		for _, s := range h.sessions {
			if s.Enabled() {
				err = s.Complete(g)
				return
			}
		}
	}) {
		return
	}
	switch {
	case errors.Is(err, draw.ErrNotEnabled):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, draw.ErrUnsupportedGeometry):
		writeError(w, http.StatusUnprocessableEntity, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "querying"})
	}
}

func (h *Handlers) layerFeatures(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		body  []byte
		err   error
		found bool
	)
	if !h.do(w, r, func() {
		l, ok := h.app.Map().Layers().Get(id)
		if !ok {
			return
		}
		gl, ok := l.(*mapapp.GraphicsLayer)
		if !ok {
			return
		}
		found = true
		body, err = ogc.EncodeFeatures(gl.Graphics())
	}) {
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, errors.New("no graphics layer "+strconv.Quote(id)))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handlers) listNotices(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	var out []mapapp.Notice
	if !h.do(w, r, func() { out = h.app.Notices() }) {
		return
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	writeJSON(w, http.StatusOK, out)
}

// do runs fn on the UI context; false means a response was already written
func (h *Handlers) do(w http.ResponseWriter, r *http.Request, fn func()) bool {
	err := h.ui.Do(r.Context(), fn)
	switch {
	case err == nil:
		return true
	case errors.Is(err, dispatch.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		h.logger.WarnContext(r.Context(), "ui dispatch failed", "err", err)
		writeError(w, http.StatusGatewayTimeout, err)
	}
	return false
}

func parseDrawn(raw []byte) (orb.Geometry, error) {
	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, errors.New("body must be a GeoJSON geometry")
	}
	if hdr.Type == "Feature" {
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, err
		}
		if f.Geometry == nil {
			return nil, errors.New("feature has no geometry")
		}
		return f.Geometry, nil
	}
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, err
	}
	if g.Geometry() == nil {
		return nil, errors.New("empty geometry")
	}
	return g.Geometry(), nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
