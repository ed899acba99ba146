package ogc

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

// ExceptionError is a service-level rejection reported inside a 2xx body
type ExceptionError struct {
	Code string
	Text string
}

func (e *ExceptionError) Error() string {
	if e.Code == "" {
		return "wfs exception: " + e.Text
	}
	return fmt.Sprintf("wfs exception %s: %s", e.Code, e.Text)
}

type jsonExceptions struct {
	Exceptions []struct {
		Code string `json:"code"`
		Text string `json:"text"`
	} `json:"exceptions"`
}

type xmlExceptionReport struct {
	XMLName    xml.Name `xml:"ExceptionReport"`
	Exceptions []struct {
		Code string   `xml:"exceptionCode,attr"`
		Text []string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

// DecodeFeatureCollection parses a GeoJSON GetFeature response in order
func DecodeFeatureCollection(body []byte, sr model.SpatialReference) (model.FeatureSet, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return model.FeatureSet{}, fmt.Errorf("decode feature collection: empty body")
	}
	if trimmed[0] == '<' {
		return model.FeatureSet{}, decodeXMLException(trimmed)
	}

	var exc jsonExceptions
	if err := json.Unmarshal(trimmed, &exc); err == nil && len(exc.Exceptions) > 0 {
		return model.FeatureSet{}, &ExceptionError{Code: exc.Exceptions[0].Code, Text: exc.Exceptions[0].Text}
	}

	fc, err := geojson.UnmarshalFeatureCollection(trimmed)
	if err != nil {
		return model.FeatureSet{}, fmt.Errorf("decode feature collection: %w", err)
	}

	out := model.FeatureSet{
		Features:         make([]model.Feature, 0, len(fc.Features)),
		SpatialReference: sr,
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		out.Features = append(out.Features, model.Feature{
			ID:         featureID(f.ID),
			Geometry:   f.Geometry,
			Attributes: map[string]any(f.Properties),
		})
	}
	return out, nil
}

func decodeXMLException(body []byte) error {
	var rep xmlExceptionReport
	if err := xml.Unmarshal(body, &rep); err != nil {
		return fmt.Errorf("decode feature collection: unexpected xml body: %w", err)
	}
	if len(rep.Exceptions) == 0 {
		return &ExceptionError{Text: "empty exception report"}
	}
	e := rep.Exceptions[0]
	return &ExceptionError{Code: e.Code, Text: strings.TrimSpace(strings.Join(e.Text, " "))}
}

func featureID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprint(v)
	}
}

// EncodeFeatures renders features as a GeoJSON FeatureCollection
func EncodeFeatures(features []model.Feature) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		gf := geojson.NewFeature(f.Geometry)
		if f.ID != "" {
			gf.ID = f.ID
		}
		for k, v := range f.Attributes {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	b, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode feature collection: %w", err)
	}
	return b, nil
}
