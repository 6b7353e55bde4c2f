package util

import (
	"fmt"
	"strings"
)

// UpperKeys returns a copy of m keyed by upper-cased, trimmed symbols. Two
// keys that collapse to the same symbol are an error. A nil map stays nil.
func UpperKeys(m map[string]float64) (map[string]float64, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		sym := strings.ToUpper(strings.TrimSpace(k))
		if _, dup := out[sym]; dup {
			return nil, fmt.Errorf("symbol %s listed twice", sym)
		}
		out[sym] = v
	}
	return out, nil
}
