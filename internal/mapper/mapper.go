// Package mapper converts between geometric coordinates and H3 cells.
package mapper

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

type Interface interface {
	CellsForLine(ls orb.LineString, res int) (model.Cells, error)
	CellsForBBox(bb model.BBox, res int) (model.Cells, error)
	CellsForGeometry(g orb.Geometry, res int) (model.Cells, error)
}

// ErrUnsupportedSR is returned for spatial references cells cannot be
// computed from
var ErrUnsupportedSR = errors.New("mapper: unsupported spatial reference")

// web mercator and its legacy esri/google codes
var mercatorWKIDs = map[int]bool{3857: true, 900913: true, 102100: true, 102113: true}

// ToWGS84 returns g as lon/lat. An unknown (zero) wkid is taken as lon/lat.
// g is never modified.
func ToWGS84(g orb.Geometry, sr model.SpatialReference) (orb.Geometry, error) {
	switch {
	case g == nil:
		return nil, nil
	case sr.WKID == 0 || sr.WKID == model.WGS84.WKID:
		return g, nil
	case mercatorWKIDs[sr.WKID]:
		return project.Geometry(orb.Clone(g), project.Mercator.ToWGS84), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSR, sr)
	}
}

// CanProject reports whether ToWGS84 accepts sr
func CanProject(sr model.SpatialReference) bool {
	return sr.WKID == 0 || sr.WKID == model.WGS84.WKID || mercatorWKIDs[sr.WKID]
}
