package witness

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
)

// canonicalJSON encodes v deterministically: struct fields in declaration
// order, map keys sorted (encoding/json guarantees both), no HTML escaping and
// no trailing newline.
func canonicalJSON(v any) []byte {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Non-finite floats are replaced before encoding, so this only sees
		// exotic Go values. Hash their full printed form to keep distinct
		// payloads distinct and the generator total.
		return fmt.Appendf(nil, "unencodable %T %+v", v, v)
	}
	return bytes.TrimSpace(buf.Bytes())
}

func hashBytes(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashUnit(v any) string {
	return hashBytes(canonicalJSON(v))
}

// finite replaces NaN and infinities, which JSON cannot carry, with string
// tokens. Maps and slices are copied; the caller's data is never mutated.
func finite(v any) any {
	switch t := v.(type) {
	case float64:
		return finiteFloat(t)
	case float32:
		return finiteFloat(float64(t))
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = finite(item)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = finite(item)
		}
		return out
	default:
		return v
	}
}

func finiteFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "+Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	}
	return f
}

func finiteMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return finite(m).(map[string]any)
}
