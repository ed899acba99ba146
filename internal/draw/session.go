// Package draw implements the interactive drawing mode of the map.
package draw

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

var (
	ErrNotEnabled          = errors.New("draw: session is not enabled")
	ErrUnsupportedGeometry = errors.New("draw: geometry does not match draw mode")
)

type Mode string

const ModePolyline Mode = "polyline"

type Style struct {
	Line model.LineSymbol
	Fill model.FillSymbol
}

// DefaultStyle is a 2px red line with a translucent red fill
var DefaultStyle = Style{
	Line: model.LineSymbol{Color: "#FFFF0000", Width: 2},
	Fill: model.FillSymbol{Fill: "#7DFF0000", BorderBrush: "#FFFF0000"},
}

type CompleteFunc func(orb.Geometry)

// Session is owned by the UI dispatcher like the rest of the map state
type Session struct {
	mode       Mode
	style      Style
	enabled    bool
	onComplete CompleteFunc
}

func NewSession(mode Mode, style Style) *Session {
	return &Session{mode: mode, style: style}
}

func (s *Session) Mode() Mode        { return s.mode }
func (s *Session) Style() Style      { return s.style }
func (s *Session) Enabled() bool     { return s.enabled }
func (s *Session) SetEnabled(v bool) { s.enabled = v }

// OnComplete registers the single draw-complete handler
func (s *Session) OnComplete(fn CompleteFunc) {
	s.onComplete = fn
}

// Complete finishes a gesture. The handler fires once per accepted gesture.
func (s *Session) Complete(g orb.Geometry) error {
	if !s.enabled {
		return ErrNotEnabled
	}
	if err := s.accepts(g); err != nil {
		return err
	}
	if s.onComplete != nil {
		s.onComplete(g)
	}
	return nil
}

func (s *Session) accepts(g orb.Geometry) error {
	switch s.mode {
	case ModePolyline:
		ls, ok := g.(orb.LineString)
		if !ok {
			return fmt.Errorf("%w: want LineString, got %s", ErrUnsupportedGeometry, typeName(g))
		}
		if len(ls) < 2 {
			return fmt.Errorf("%w: line needs at least 2 points", ErrUnsupportedGeometry)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrUnsupportedGeometry, s.mode)
	}
}

func typeName(g orb.Geometry) string {
	if g == nil {
		return "nil"
	}
	return g.GeoJSONType()
}
