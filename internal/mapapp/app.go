// Package mapapp models the map viewer host: the map, its layer collection,
// the current selection and the notice window primitive.
//
// Values in this package are not safe for concurrent use. They are owned by
// the UI dispatcher and only touched from funcs running on it.
package mapapp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
	"github.com/mohammed-shakir/spatial-line-query/internal/core/observability"
)

type Map struct {
	sr     model.SpatialReference
	layers *LayerCollection
}

func NewMap(sr model.SpatialReference) *Map {
	return &Map{sr: sr, layers: NewLayerCollection()}
}

func (m *Map) SpatialReference() model.SpatialReference { return m.sr }

func (m *Map) SetSpatialReference(sr model.SpatialReference) { m.sr = sr }

func (m *Map) Layers() *LayerCollection { return m.layers }

type Notice struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Content string    `json:"content"`
	ShownAt time.Time `json:"shown_at"`
}

type Option func(*Application)

func WithNoticeHistory(n int) Option {
	return func(a *Application) {
		if n > 0 {
			a.maxNotices = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Application) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(a *Application) {
		if now != nil {
			a.now = now
		}
	}
}

type Application struct {
	m          *Map
	selected   string
	notices    []Notice
	maxNotices int
	logger     *slog.Logger
	now        func() time.Time
}

func NewApplication(m *Map, opts ...Option) *Application {
	a := &Application{
		m:          m,
		maxNotices: 100,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Application) Map() *Map { return a.m }

// SelectedLayer returns the selected layer, or nil when nothing is selected
// or the selected layer left the map
func (a *Application) SelectedLayer() Layer {
	if a.selected == "" {
		return nil
	}
	l, ok := a.m.Layers().Get(a.selected)
	if !ok {
		return nil
	}
	return l
}

// Select changes the selection; an empty id clears it
func (a *Application) Select(id string) error {
	if id == "" {
		a.selected = ""
		return nil
	}
	if !a.m.Layers().Contains(id) {
		return fmt.Errorf("%w: %q", ErrLayerNotFound, id)
	}
	a.selected = id
	return nil
}

// ShowWindow presents a non-modal notice to the user
func (a *Application) ShowWindow(title, content string) {
	n := Notice{
		ID:      uuid.NewString(),
		Title:   title,
		Content: content,
		ShownAt: a.now().UTC(),
	}
	a.notices = append(a.notices, n)
	if over := len(a.notices) - a.maxNotices; over > 0 {
		a.notices = append([]Notice(nil), a.notices[over:]...)
	}
	observability.IncNotice(title)
	a.logger.Info("notice shown", "title", title, "content", content)
}

// Notices returns the retained notices, oldest first
func (a *Application) Notices() []Notice {
	out := make([]Notice, len(a.notices))
	copy(out, a.notices)
	return out
}
