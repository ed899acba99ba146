// Package invalidation defines the change events that drop cached results.
package invalidation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event reports a change to features of Layer, the WFS type name, inside
// BBox or Geometry
type Event struct {
	Version   int             `json:"version"`
	Op        string          `json:"op"`
	Layer     string          `json:"layer"`
	TS        time.Time       `json:"ts"`
	FeatureID any             `json:"feature_id,omitempty"`
	Source    string          `json:"source,omitempty"`
	BBox      *BBox           `json:"bbox,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (b BBox) Model() model.BBox {
	return model.BBox{X1: b.X1, Y1: b.Y1, X2: b.X2, Y2: b.Y2, SRID: b.SRID}
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	hasBBox := e.BBox != nil
	hasGeom := len(e.Geometry) > 0
	if hasBBox == hasGeom {
		return fmt.Errorf("exactly one of bbox or geometry is required")
	}
	if hasBBox {
		bb := *e.BBox
		if bb.SRID != "EPSG:4326" {
			return fmt.Errorf("bbox.srid must be EPSG:4326")
		}
		if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
			return fmt.Errorf("bbox longitude out of range")
		}
		if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
			return fmt.Errorf("bbox latitude out of range")
		}
		if bb.X2 < bb.X1 || bb.Y2 < bb.Y1 {
			return fmt.Errorf("bbox must satisfy x2>=x1 and y2>=y1")
		}
		return nil
	}
	_, err := e.ParseGeometry()
	return err
}

// ParseGeometry decodes the GeoJSON geometry of the event
func (e Event) ParseGeometry() (orb.Geometry, error) {
	g, err := geojson.UnmarshalGeometry(e.Geometry)
	if err != nil {
		return nil, fmt.Errorf("geometry parse: %w", err)
	}
	geom := g.Geometry()
	if geom == nil {
		return nil, fmt.Errorf("geometry is empty")
	}
	return geom, nil
}
