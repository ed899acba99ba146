// Package ogc builds WFS GetFeature requests and decodes their responses.
package ogc

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

const DefaultGeometryColumn = "geom"

var (
	ErrMissingTypeName = errors.New("ogc: missing type name")
	ErrMissingGeometry = errors.New("ogc: missing filter geometry")
)

func OWSEndpoint(geoServerBase string) string {
	return strings.TrimRight(geoServerBase, "/") + "/ows"
}

// IntersectsCQL renders the spatial filter for the query geometry. The
// geometry is in OutSpatialRef, so a known wkid is carried as EWKT; GeoServer
// reads a bare WKT in the layer's native CRS.
func IntersectsCQL(q model.QueryRequest, geomColumn string) (string, error) {
	if q.Geometry == nil {
		return "", ErrMissingGeometry
	}
	if strings.TrimSpace(geomColumn) == "" {
		geomColumn = DefaultGeometryColumn
	}
	geom := wkt.MarshalString(q.Geometry)
	if q.OutSpatialRef.WKID > 0 {
		geom = fmt.Sprintf("SRID=%d;%s", q.OutSpatialRef.WKID, geom)
	}
	return fmt.Sprintf("INTERSECTS(%s, %s)", geomColumn, geom), nil
}

func BuildGetFeatureParams(q model.QueryRequest, geomColumn string) (url.Values, error) {
	typeName := strings.TrimSpace(q.TypeName)
	if typeName == "" {
		return nil, ErrMissingTypeName
	}
	cql, err := IntersectsCQL(q, geomColumn)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", "2.0.0")
	params.Set("request", "GetFeature")
	params.Set("typeNames", typeName)
	params.Set("cql_filter", cql)
	params.Set("outputFormat", "application/json")
	if sr := q.OutSpatialRef.String(); sr != "" {
		params.Set("srsName", sr)
	}
	// WFS returns every property when propertyName is absent
	if !q.WantsAllFields() {
		fields := make([]string, 0, len(q.OutFields)+1)
		for _, f := range q.OutFields {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		if q.ReturnGeometry {
			if geomColumn == "" {
				geomColumn = DefaultGeometryColumn
			}
			fields = append(fields, geomColumn)
		}
		params.Set("propertyName", strings.Join(fields, ","))
	}
	return params, nil
}

// GetFeatureURL joins the service address with the GetFeature parameters
func GetFeatureURL(serviceURL string, q model.QueryRequest, geomColumn string) (*url.URL, error) {
	if strings.TrimSpace(serviceURL) == "" {
		return nil, errors.New("ogc: empty service url")
	}
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("parse service url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("service url %q is not absolute", serviceURL)
	}
	params, err := BuildGetFeatureParams(q, geomColumn)
	if err != nil {
		return nil, err
	}
	// keep any vendor params already on the service url
	merged := u.Query()
	for k, vs := range params {
		merged[k] = vs
	}
	u.RawQuery = merged.Encode()
	return u, nil
}
