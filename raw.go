package peloton

import (
	"time"

	"github.com/shopspring/decimal"
)

// Helpers for pulling typed values out of decoded JSON payloads. Numbers
// arrive as float64 from encoding/json; missing or mistyped keys yield the
// zero value.

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

func intField(raw map[string]any, key string) int {
	switch v := raw[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func floatField(raw map[string]any, key string) float64 {
	f, _ := raw[key].(float64)
	return f
}

func decimalField(raw map[string]any, key string) decimal.Decimal {
	return decimal.NewFromFloat(floatField(raw, key))
}

// epochField converts a seconds-since-epoch value to a UTC instant.
func epochField(raw map[string]any, key string) time.Time {
	return time.Unix(int64(intField(raw, key)), 0).UTC()
}

func floatSlice(raw map[string]any, key string) []float64 {
	seq, ok := raw[key].([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(seq))
	for _, el := range seq {
		if f, ok := el.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}

func mapSlice(raw map[string]any, key string) []map[string]any {
	seq, ok := raw[key].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(seq))
	for _, el := range seq {
		if m, ok := el.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
