// Package keys builds the Redis/LRU keys used by the result cache.
package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/mohammed-shakir/spatial-line-query/internal/core/model"
)

const (
	resultPrefix = "lq:res"
	indexPrefix  = "lq:idx"
)

var punctSpaces = regexp.MustCompile(`\s*([=<>!\.,\(\)])\s*`)

// ResultKey identifies a query result. The readable part carries the layer,
// out spatial reference and fields; the hash covers everything that changes
// the response.
func ResultKey(q model.QueryRequest) string {
	layerNorm := sanitizeLayer(strings.TrimSpace(q.TypeName))
	fields := normalizeFilters(strings.Join(q.OutFields, ","))
	fieldsSafe := sanitizeForKey(fields)

	const maxFieldsTextLen = 160
	if len(fieldsSafe) > maxFieldsTextLen {
		fieldsSafe = fieldsSafe[:maxFieldsTextLen]
	}

	h := xxhash.New()
	_, _ = h.WriteString(strings.TrimSpace(q.ServiceURL))
	_, _ = h.WriteString("\x00")
	if q.Geometry != nil {
		_, _ = h.WriteString(wkt.MarshalString(q.Geometry))
	}
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(fields)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatBool(q.ReturnGeometry))

	return fmt.Sprintf("%s:%s:%s:fields=%s:f=%016x",
		resultPrefix, layerNorm, srPart(q.OutSpatialRef), fieldsSafe, h.Sum64())
}

// CellIndexKey names the set of result keys whose filter line crosses cell
func CellIndexKey(layer string, res int, cell string) string {
	return fmt.Sprintf("%s:%s:%d:%s", indexPrefix, sanitizeLayer(strings.TrimSpace(layer)), res, cell)
}

func srPart(sr model.SpatialReference) string {
	if sr.WKID <= 0 {
		return "sr=native"
	}
	return "sr=" + strconv.Itoa(sr.WKID)
}

func normalizeFilters(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punctSpaces.ReplaceAllString(s, "$1")
}

func sanitizeForKey(s string) string {
	return sanitize(s, true)
}

func sanitizeLayer(s string) string {
	return sanitize(s, false)
}

// sanitize maps whitespace to '_' and anything outside [A-Za-z0-9:_-] to
// '-', collapsing repeats; allowEq also keeps '='.
func sanitize(s string, allowEq bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-' || (allowEq && r == '='):
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
