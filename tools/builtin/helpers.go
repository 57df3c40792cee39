// Package builtin holds the stock tool implementations wired by the
// default registry: file read/write, url fetch, the bash shell handler,
// and the diff-based patch applier.
package builtin

import (
	"encoding/json"

	"github.com/quailyquaily/turnstile/internal/pathutil"
)

func expandHomePath(p string) string {
	return pathutil.ExpandHomePath(p)
}

// asFloat64 accepts the numeric shapes JSON decoding produces.
func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
