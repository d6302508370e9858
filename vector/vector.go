package vector

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hubenschmidt/go-ragcore/core"
)

// Vector is a dense embedding. It has two interchangeable encodings: a native
// numeric sequence and the bracketed text form "[v0,v1,...,vn]". JSON accepts
// either; SQL values use the text form.
type Vector []float64

// Dim returns the vector length.
func (v Vector) Dim() int {
	return len(v)
}

// String returns the bracketed text encoding with enough digits to round-trip
// every component exactly.
func (v Vector) String() string {
	var b strings.Builder
	b.Grow(len(v)*20 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// Clone returns a copy that shares no memory with v.
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Float32 converts to single precision.
func (v Vector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// Quantize32 rounds every component to the nearest float32 value and returns
// it widened back to float64.
func (v Vector) Quantize32() Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float64(float32(x))
	}
	return out
}

// FromFloat32 widens a single precision slice without rounding.
func FromFloat32(f []float32) Vector {
	out := make(Vector, len(f))
	for i, x := range f {
		out[i] = float64(x)
	}
	return out
}

// Equal reports whether v and o have equal length and every component differs
// by at most eps.
func (v Vector) Equal(o Vector, eps float64) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if math.Abs(v[i]-o[i]) > eps {
			return false
		}
	}
	return true
}

// Parse decodes the bracketed text encoding. Surrounding whitespace and
// whitespace around components is ignored.
func Parse(s string) (Vector, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, core.FormatError("vector", "text encoding must be bracketed, got %q", abbreviate(s))
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return Vector{}, nil
	}
	parts := strings.Split(body, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		x, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, core.FormatError("vector", "component %d: %v", i, err)
		}
		out[i] = x
	}
	return out, nil
}

// From resolves any supported encoding into a Vector: Vector, []float64,
// []float32, the text encoding as string or []byte, or a JSON array.
func From(src any) (Vector, error) {
	switch x := src.(type) {
	case Vector:
		return x.Clone(), nil
	case []float64:
		return Vector(x).Clone(), nil
	case []float32:
		return FromFloat32(x), nil
	case string:
		return Parse(x)
	case []byte:
		return Parse(string(x))
	case json.RawMessage:
		var v Vector
		if err := v.UnmarshalJSON(x); err != nil {
			return nil, err
		}
		return v, nil
	case nil:
		return nil, core.FormatError("vector", "nil vector")
	default:
		return nil, core.FormatError("vector", "unsupported vector encoding %T", src)
	}
}

// MarshalJSON emits the native numeric encoding.
func (v Vector) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return []byte(v.String()), nil
}

// UnmarshalJSON accepts a JSON array of numbers or a JSON string holding the
// bracketed text encoding.
func (v *Vector) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*v = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return core.FormatError("vector", "decode string: %v", err)
		}
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*v = parsed
		return nil
	}
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return core.FormatError("vector", "decode array: %v", err)
	}
	*v = raw
	return nil
}

// Scan implements sql.Scanner for the text encoding.
func (v *Vector) Scan(src any) error {
	switch x := src.(type) {
	case string:
		parsed, err := Parse(x)
		if err != nil {
			return err
		}
		*v = parsed
	case []byte:
		parsed, err := Parse(string(x))
		if err != nil {
			return err
		}
		*v = parsed
	case nil:
		*v = nil
	default:
		return fmt.Errorf("scan vector: unsupported source %T", src)
	}
	return nil
}

// Value implements driver.Valuer using the text encoding.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return v.String(), nil
}

func abbreviate(s string) string {
	if len(s) <= 32 {
		return s
	}
	return s[:32] + "..."
}
