package peloton

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entity is implemented by every API-backed domain object. An entity
// exposes its attributes as an ordered name/value list for serialization.
type Entity interface {
	attributes() []attribute
}

type attribute struct {
	name  string
	value any
}

// Serialize renders an entity to a plain nested mapping suitable for JSON
// encoding. Recursion stops at maxDepth: a maxDepth of zero yields nil, and
// a nested entity whose own serialization would hit the floor is omitted
// from the output entirely rather than rendered as null. Sequences are
// always present (possibly empty) when the attribute holds one. Times
// render as ISO-8601 strings and decimals as fixed-point strings with one
// fractional digit.
//
// Serialize never triggers lazy resolution. A field still awaiting its
// first fetch (or one the service has no data for) is omitted when
// includeDeferred is false and rendered as nil when true; callers who want
// the real data must resolve it through the accessors first.
func Serialize(e Entity, maxDepth int, includeDeferred bool) map[string]any {
	if maxDepth <= 0 {
		return nil
	}

	ret := make(map[string]any)
	for _, attr := range e.attributes() {
		switch v := attr.value.(type) {
		case notLoaded, dataMissing:
			if includeDeferred {
				ret[attr.name] = nil
			}
		case Entity:
			if maxDepth > 1 {
				ret[attr.name] = Serialize(v, maxDepth-1, includeDeferred)
			}
		case time.Time:
			ret[attr.name] = v.Format(time.RFC3339)
		case decimal.Decimal:
			ret[attr.name] = v.StringFixed(1)
		default:
			if seq, ok := asSequence(attr.value); ok {
				ret[attr.name] = serializeSequence(seq, maxDepth, includeDeferred)
				continue
			}
			ret[attr.name] = attr.value
		}
	}
	return ret
}

// serializeSequence maps sequence elements through the same rendering rules
// as scalar attributes. Nested entities at exhausted depth are dropped, as
// is any element of an unhandled type; the sequence itself always survives,
// even empty.
func serializeSequence(seq []any, maxDepth int, includeDeferred bool) []any {
	out := make([]any, 0, len(seq))
	for _, el := range seq {
		switch v := el.(type) {
		case Entity:
			if maxDepth > 1 {
				out = append(out, Serialize(v, maxDepth-1, includeDeferred))
			}
		case time.Time:
			out = append(out, v.Format(time.RFC3339))
		case decimal.Decimal:
			out = append(out, v.StringFixed(1))
		case string, bool, int, int64, float64, map[string]any:
			out = append(out, v)
		}
	}
	return out
}

// asSequence normalizes the closed set of sequence types entities carry.
func asSequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []*Achievement:
		out := make([]any, len(s))
		for i, el := range s {
			out[i] = el
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, el := range s {
			out[i] = el
		}
		return out, true
	case []string:
		out := make([]any, len(s))
		for i, el := range s {
			out[i] = el
		}
		return out, true
	}
	return nil, false
}
