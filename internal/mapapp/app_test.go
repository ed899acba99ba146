package mapapp

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

func newApp(t *testing.T, opts ...Option) *Application {
	t.Helper()
	m := NewMap(model.WGS84)
	if err := m.Layers().Add(NewFeatureLayer("roads", "Roads", "http://gs/ows", "topp:roads")); err != nil {
		t.Fatalf("add roads: %v", err)
	}
	if err := m.Layers().Add(NewGraphicsLayer("sketch")); err != nil {
		t.Fatalf("add sketch: %v", err)
	}
	return NewApplication(m, opts...)
}

func TestLayerCollection_OrderAndDuplicates(t *testing.T) {
	c := NewLayerCollection()
	for _, id := range []string{"a", "b", "c"} {
		if err := c.Add(NewGraphicsLayer(id)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if err := c.Add(NewGraphicsLayer("b")); !errors.Is(err, ErrDuplicateLayer) {
		t.Fatalf("want ErrDuplicateLayer, got %v", err)
	}
	if err := c.Add(NewGraphicsLayer("")); err == nil {
		t.Fatalf("empty id must be rejected")
	}
	if !c.Remove("b") || c.Remove("b") {
		t.Fatalf("remove must succeed once")
	}
	all := c.All()
	if len(all) != 2 || all[0].ID() != "a" || all[1].ID() != "c" {
		t.Fatalf("unexpected order %v", all)
	}
	if _, ok := c.Get("b"); ok {
		t.Fatalf("removed layer still indexed")
	}
}

func TestGraphicsLayer_ClearAndAdd(t *testing.T) {
	g := NewGraphicsLayer("Point Query Results")
	if g.Name() != "Point Query Results" || g.Kind() != KindGraphics {
		t.Fatalf("name=%q kind=%q", g.Name(), g.Kind())
	}
	g.Add(model.Feature{ID: "1", Geometry: orb.Point{1, 1}}, model.Feature{ID: "2", Geometry: orb.Point{2, 2}})
	snapshot := g.Graphics()
	g.Clear()
	g.Add(model.Feature{ID: "3", Geometry: orb.Point{3, 3}})

	if len(snapshot) != 2 || snapshot[0].ID != "1" {
		t.Fatalf("Graphics must return an independent copy, got %v", snapshot)
	}
	if g.Len() != 1 || g.Graphics()[0].ID != "3" {
		t.Fatalf("clear+add left %v", g.Graphics())
	}
}

func TestApplication_Selection(t *testing.T) {
	a := newApp(t)
	if a.SelectedLayer() != nil {
		t.Fatalf("no selection expected initially")
	}
	if err := a.Select("roads"); err != nil {
		t.Fatalf("select: %v", err)
	}
	fl, ok := a.SelectedLayer().(*FeatureLayer)
	if !ok || fl.TypeName() != "topp:roads" || fl.URL() != "http://gs/ows" {
		t.Fatalf("unexpected selection %#v", a.SelectedLayer())
	}
	if err := a.Select("missing"); !errors.Is(err, ErrLayerNotFound) {
		t.Fatalf("want ErrLayerNotFound, got %v", err)
	}
	if a.SelectedLayer().ID() != "roads" {
		t.Fatalf("failed select must keep previous selection")
	}
	a.Map().Layers().Remove("roads")
	if a.SelectedLayer() != nil {
		t.Fatalf("selection of removed layer must resolve to nil")
	}
	if err := a.Select(""); err != nil {
		t.Fatalf("clear selection: %v", err)
	}
}

func TestApplication_NoticesBounded(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := newApp(t, WithNoticeHistory(3), WithClock(func() time.Time { return fixed }))

	for i := range 5 {
		a.ShowWindow("Error", fmt.Sprintf("n%d", i))
	}
	ns := a.Notices()
	if len(ns) != 3 {
		t.Fatalf("notices=%d want 3", len(ns))
	}
	if ns[0].Content != "n2" || ns[2].Content != "n4" {
		t.Fatalf("oldest notices must be dropped first: %+v", ns)
	}
	if ns[0].ID == "" || ns[0].ID == ns[1].ID {
		t.Fatalf("notices need unique ids: %+v", ns)
	}
	if !ns[0].ShownAt.Equal(fixed) {
		t.Fatalf("ShownAt=%v want %v", ns[0].ShownAt, fixed)
	}
}
