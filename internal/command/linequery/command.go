// Package linequery implements the toggleable line query tool: the user draws
// a line, the selected feature layer is queried with it, and the returned
// features are shown in a graphics layer named after their geometry kind.
package linequery

import (
	"context"
	"log/slog"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/spatial-line-query/internal/command"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/observability"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/querytask"
	"github.com/mohammed-shakir/spatial-line-query/internal/draw"
	"github.com/mohammed-shakir/spatial-line-query/internal/logger"
	"github.com/mohammed-shakir/spatial-line-query/internal/mapapp"
	"github.com/mohammed-shakir/spatial-line-query/internal/queryevents"
)

const (
	Name        = "line-query"
	DisplayName = "Spatially Line Query Feature Layer"

	PointResultsLayer    = "Point Query Results"
	PolylineResultsLayer = "Polyline Query Results"
	PolygonResultsLayer  = "Polygon Query Results"

	PromptTitle   = "Line Query Features"
	PromptContent = "Draw a line to query features within the selected layer"
	ErrorTitle    = "Error"
	NoFeatures    = "No features returned from query"
	QueryFailed   = "Query failed. The service may not support query or the service is not available."
	Unsupported   = "Query returned features with an unsupported geometry type"
)

// Host is the part of the map application the command consumes
type Host interface {
	Map() *mapapp.Map
	SelectedLayer() mapapp.Layer
	ShowWindow(title, content string)
}

type EventPublisher interface {
	Publish(ev queryevents.Event)
}

type Option func(*Command)

func WithLogger(l *slog.Logger) Option {
	return func(c *Command) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithEvents(p EventPublisher) Option {
	return func(c *Command) { c.events = p }
}

// WithBaseContext sets the context outstanding queries run under
func WithBaseContext(ctx context.Context) Option {
	return func(c *Command) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}

// Command is owned by the UI dispatcher; every method must run on it
type Command struct {
	host    Host
	querier querytask.Querier
	ui      querytask.Poster
	session *draw.Session
	logger  *slog.Logger
	events  EventPublisher
	baseCtx context.Context

	armed     bool
	listeners []func()
}

func New(host Host, querier querytask.Querier, ui querytask.Poster, opts ...Option) *Command {
	c := &Command{
		host:    host,
		querier: querier,
		ui:      ui,
		session: draw.NewSession(draw.ModePolyline, draw.DefaultStyle),
		logger:  slog.Default(),
		baseCtx: context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	c.session.OnComplete(c.OnDrawComplete)
	return c
}

// Session is the draw session armed by this command
func (c *Command) Session() *draw.Session { return c.session }

func (c *Command) DisplayName() string { return DisplayName }

func (c *Command) IsChecked() bool { return c.armed }

func (c *Command) OnStateChanged(fn func()) {
	if fn != nil {
		c.listeners = append(c.listeners, fn)
	}
}

// CanExecute reports whether the selected layer can be queried
func (c *Command) CanExecute() bool {
	_, ok := c.host.SelectedLayer().(*mapapp.FeatureLayer)
	return ok
}

// Execute toggles the tool
func (c *Command) Execute() {
	c.setArmed(!c.armed)
	if c.armed {
		c.host.ShowWindow(PromptTitle, PromptContent)
	}
}

func (c *Command) setArmed(v bool) {
	c.armed = v
	c.session.SetEnabled(v)
	observability.IncCommandToggle(Name, v)
	for _, fn := range c.listeners {
		fn()
	}
}

// OnDrawComplete disarms the tool and queries the currently selected layer
// with g. The layer is resolved now, not when the tool was armed.
func (c *Command) OnDrawComplete(g orb.Geometry) {
	c.setArmed(false)

	q := model.QueryRequest{
		Geometry:       g,
		OutFields:      []string{model.AllFields},
		OutSpatialRef:  c.host.Map().SpatialReference(),
		ReturnGeometry: true,
	}
	bbox := ""
	if g != nil {
		bbox = model.BBoxOf(g, q.OutSpatialRef).String()
	}
	layerID := ""
	if fl, ok := c.host.SelectedLayer().(*mapapp.FeatureLayer); ok {
		layerID = fl.ID()
		q.ServiceURL = fl.URL()
		q.TypeName = fl.TypeName()
	}

	queryID := logger.NewID()
	ctx := logger.WithRequestID(c.baseCtx, queryID)
	ctx = logger.WithCommand(ctx, Name)
	ctx = logger.WithLayer(ctx, layerID)

	c.logger.InfoContext(ctx, "line query dispatched",
		"type_name", q.TypeName,
		"service", q.ServiceURL,
		"bbox", bbox,
		"vertices", vertexCount(g))

	rep := report{queryID: queryID, layer: layerID, typeName: q.TypeName, bbox: bboxOf(g, q.OutSpatialRef)}
	querytask.ExecuteAsync(ctx, c.querier, c.ui, q,
		func(fs model.FeatureSet) {
			displayLayer, outcome := c.showResult(&fs)
			c.publish(rep, fs.Len(), displayLayer, outcome)
		},
		func(err error) {
			c.logger.WarnContext(ctx, "line query failed", "err", err)
			c.OnQueryFailed(err)
			c.publish(rep, 0, "", queryevents.OutcomeFailed)
		},
	)
}

// OnQuerySucceeded shows result in the display layer picked from the first
// feature's geometry kind and returns that layer's id, or "" when nothing was
// shown. Later features are added to the same layer whatever their kind.
func (c *Command) OnQuerySucceeded(result *model.FeatureSet) string {
	id, _ := c.showResult(result)
	return id
}

func (c *Command) showResult(result *model.FeatureSet) (string, string) {
	if result.Len() == 0 {
		observability.IncLineQuery(queryevents.OutcomeEmpty)
		c.host.ShowWindow(ErrorTitle, NoFeatures)
		return "", queryevents.OutcomeEmpty
	}

	name, ok := LayerNameFor(model.KindOf(result.Features[0].Geometry))
	if !ok {
		observability.IncLineQuery(queryevents.OutcomeUnsupported)
		c.host.ShowWindow(ErrorTitle, Unsupported)
		return "", queryevents.OutcomeUnsupported
	}

	gl, ok := c.getOrCreateLayer(name)
	if !ok {
		// the id belongs to a layer that cannot hold graphics
		c.logger.Warn("display layer id taken by another layer kind", "layer", name)
		observability.IncLineQuery(queryevents.OutcomeLayerConflict)
		return "", queryevents.OutcomeLayerConflict
	}
	gl.Clear()
	gl.Add(result.Features...)

	layers := c.host.Map().Layers()
	if !layers.Contains(gl.ID()) {
		if err := layers.Add(gl); err != nil {
			c.logger.Warn("display layer not added", "layer", gl.ID(), "err", err)
		}
	}

	observability.IncLineQuery(queryevents.OutcomeSuccess)
	observability.ObserveFeaturesReturned(result.Len())
	observability.IncDisplayLayerUpdate(gl.ID())
	return gl.ID(), queryevents.OutcomeSuccess
}

// OnQueryFailed shows a fixed notice; err is not shown to the user
func (c *Command) OnQueryFailed(_ error) {
	observability.IncLineQuery(queryevents.OutcomeFailed)
	c.host.ShowWindow(ErrorTitle, QueryFailed)
}

// LayerNameFor maps a geometry kind to its display layer
func LayerNameFor(k model.GeometryKind) (string, bool) {
	switch k {
	case model.KindPoint:
		return PointResultsLayer, true
	case model.KindPolyline:
		return PolylineResultsLayer, true
	case model.KindPolygon:
		return PolygonResultsLayer, true
	default:
		return "", false
	}
}

// getOrCreateLayer reports false when id is held by a non graphics layer
func (c *Command) getOrCreateLayer(id string) (*mapapp.GraphicsLayer, bool) {
	l, ok := c.host.Map().Layers().Get(id)
	if !ok {
		return mapapp.NewGraphicsLayer(id), true
	}
	gl, ok := l.(*mapapp.GraphicsLayer)
	return gl, ok
}

type report struct {
	queryID  string
	layer    string
	typeName string
	bbox     *queryevents.BBox
}

func (c *Command) publish(r report, features int, displayLayer, outcome string) {
	if c.events == nil {
		return
	}
	c.events.Publish(queryevents.Event{
		QueryID:      r.queryID,
		Layer:        r.layer,
		TypeName:     r.typeName,
		Outcome:      outcome,
		Features:     features,
		DisplayLayer: displayLayer,
		BBox:         r.bbox,
	})
}

func bboxOf(g orb.Geometry, sr model.SpatialReference) *queryevents.BBox {
	if g == nil {
		return nil
	}
	bb := model.BBoxOf(g, sr)
	return &queryevents.BBox{X1: bb.X1, Y1: bb.Y1, X2: bb.X2, Y2: bb.Y2, SRID: bb.SRID}
}

func vertexCount(g orb.Geometry) int {
	if ls, ok := g.(orb.LineString); ok {
		return len(ls)
	}
	return 0
}

var _ command.Command = (*Command)(nil)
