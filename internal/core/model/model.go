// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// BBoxOf returns the bounds of g tagged with sr
func BBoxOf(g orb.Geometry, sr SpatialReference) BBox {
	b := g.Bound()
	return BBox{X1: b.Min[0], Y1: b.Min[1], X2: b.Max[0], Y2: b.Max[1], SRID: sr.String()}
}

type Polygon struct {
	GeoJSON string
}

type Cells []string

type SpatialReference struct {
	WKID int
}

var WGS84 = SpatialReference{WKID: 4326}

func (s SpatialReference) String() string {
	if s.WKID <= 0 {
		return ""
	}
	return "EPSG:" + strconv.Itoa(s.WKID)
}

// ParseSpatialReference accepts "4326", "EPSG:4326" or "epsg:4326"
func ParseSpatialReference(s string) (SpatialReference, error) {
	v := strings.TrimSpace(s)
	if i := strings.LastIndex(v, ":"); i >= 0 {
		if !strings.EqualFold(v[:i], "EPSG") {
			return SpatialReference{}, fmt.Errorf("unsupported authority %q", v[:i])
		}
		v = v[i+1:]
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return SpatialReference{}, fmt.Errorf("invalid wkid %q", s)
	}
	return SpatialReference{WKID: n}, nil
}

// AllFields requests every attribute of a feature
const AllFields = "*"

type QueryRequest struct {
	ServiceURL     string
	TypeName       string
	Geometry       orb.Geometry
	OutFields      []string
	OutSpatialRef  SpatialReference
	ReturnGeometry bool
}

// WantsAllFields reports whether the request selects every attribute
func (q QueryRequest) WantsAllFields() bool {
	if len(q.OutFields) == 0 {
		return true
	}
	for _, f := range q.OutFields {
		if strings.TrimSpace(f) == AllFields {
			return true
		}
	}
	return false
}

type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Attributes map[string]any
}

type FeatureSet struct {
	Features         []Feature
	SpatialReference SpatialReference
}

func (fs *FeatureSet) Len() int {
	if fs == nil {
		return 0
	}
	return len(fs.Features)
}

type GeometryKind int

const (
	KindUnknown GeometryKind = iota
	KindPoint
	KindPolyline
	KindPolygon
)

func (k GeometryKind) String() string {
	switch k {
	case KindPoint:
		return "point"
	case KindPolyline:
		return "polyline"
	case KindPolygon:
		return "polygon"
	default:
		return "unknown"
	}
}

// KindOf classifies a geometry the way the map renders it
func KindOf(g orb.Geometry) GeometryKind {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return KindPoint
	case orb.LineString, orb.MultiLineString:
		return KindPolyline
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		return KindPolygon
	default:
		return KindUnknown
	}
}

// Color is an ARGB colour in #AARRGGBB form
type Color string

type LineSymbol struct {
	Color Color
	Width float64
}

type FillSymbol struct {
	Fill        Color
	BorderBrush Color
}
