package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

var ErrEmptyGeometry = errors.New("empty geometry")

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellsForLine covers ls with the grid path between each pair of consecutive
// vertex cells. Pairs without a path (pentagon distortion, far apart cells)
// contribute their endpoint cells only.
func (m *Mapper) CellsForLine(ls orb.LineString, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if len(ls) == 0 {
		return nil, ErrEmptyGeometry
	}
	set := newCellSet()
	prev, err := cellOf(ls[0], res)
	if err != nil {
		return nil, err
	}
	set.add(prev)
	for _, p := range ls[1:] {
		cur, err := cellOf(p, res)
		if err != nil {
			return nil, err
		}
		if cur == prev {
			continue
		}
		path, err := h3.GridPath(prev, cur)
		if err != nil {
			set.add(cur)
		} else {
			set.add(path...)
		}
		prev = cur
	}
	return set.sorted(), nil
}

// CellsForBBox covers an EPSG:4326 box, including boxes smaller than a cell
func (m *Mapper) CellsForBBox(bb model.BBox, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	b := orb.Bound{Min: orb.Point{bb.X1, bb.Y1}, Max: orb.Point{bb.X2, bb.Y2}}
	return polygonCells(b.ToPolygon(), res)
}

// CellsForGeometry covers any orb geometry. Areas are polyfilled and unioned
// with their vertex cells so shapes smaller than a cell still map somewhere.
func (m *Mapper) CellsForGeometry(g orb.Geometry, res int) (model.Cells, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrEmptyGeometry
	}
	switch v := g.(type) {
	case orb.Point:
		c, err := cellOf(v, res)
		if err != nil {
			return nil, err
		}
		return model.Cells{c.String()}, nil
	case orb.LineString:
		return m.CellsForLine(v, res)
	case orb.Bound:
		return polygonCells(v.ToPolygon(), res)
	case orb.Ring:
		return m.CellsForGeometry(orb.Polygon{v}, res)
	case orb.Polygon:
		return polygonCells(v, res)
	}

	var parts []orb.Geometry
	switch v := g.(type) {
	case orb.MultiPoint:
		for _, p := range v {
			parts = append(parts, p)
		}
	case orb.MultiLineString:
		for _, ls := range v {
			parts = append(parts, ls)
		}
	case orb.MultiPolygon:
		for _, p := range v {
			parts = append(parts, p)
		}
	case orb.Collection:
		parts = v
	default:
		return nil, fmt.Errorf("unsupported geometry type: %s", g.GeoJSONType())
	}
	if len(parts) == 0 {
		return nil, ErrEmptyGeometry
	}
	set := newCellSet()
	for i, p := range parts {
		cells, err := m.CellsForGeometry(p, res)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		set.addStrings(cells...)
	}
	return set.sorted(), nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func cellOf(p orb.Point, res int) (h3.Cell, error) {
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat(), Lng: p.Lon()}, res)
	if err != nil {
		return 0, fmt.Errorf("h3 cell for %v: %w", p, err)
	}
	return c, nil
}

func polygonCells(p orb.Polygon, res int) (model.Cells, error) {
	if len(p) == 0 {
		return nil, ErrEmptyGeometry
	}
	outer := toLoop(p[0])
	var holes []h3.GeoLoop
	for i, r := range p[1:] {
		h := toLoop(r)
		if len(h) < 3 {
			return nil, fmt.Errorf("hole %d has < 3 vertices", i)
		}
		holes = append(holes, h)
	}
	cells, err := polyfillOne(outer, holes, res)
	if err != nil {
		return nil, err
	}
	set := newCellSet()
	set.addStrings(cells...)
	for _, pt := range p[0] {
		c, err := cellOf(pt, res)
		if err != nil {
			return nil, err
		}
		set.add(c)
	}
	return set.sorted(), nil
}

// toLoop converts a ring to an h3.GeoLoop, dropping the closing vertex
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, p := range r {
		loop = append(loop, h3.LatLng{Lat: p.Lat(), Lng: p.Lon()})
	}
	if len(loop) >= 2 {
		last := loop[len(loop)-1]
		first := loop[0]
		if last.Lat == first.Lat && last.Lng == first.Lng {
			loop = loop[:len(loop)-1]
		}
	}
	return loop
}

// polyfillOne computes unique cells and returns them sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) (model.Cells, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 vertices")
	}
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}
	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	set := newCellSet()
	set.add(indexes...)
	return set.sorted(), nil
}

type cellSet map[string]struct{}

func newCellSet() cellSet { return make(cellSet) }

func (s cellSet) add(cells ...h3.Cell) {
	for _, c := range cells {
		s[c.String()] = struct{}{}
	}
}

func (s cellSet) addStrings(cells ...string) {
	for _, c := range cells {
		s[c] = struct{}{}
	}
}

func (s cellSet) sorted() model.Cells {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
