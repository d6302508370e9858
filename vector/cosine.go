package vector

import (
	"fmt"
	"math"

	"github.com/hubenschmidt/go-ragcore/core"
)

// Similarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1, where 1 means identical direction.
//
// Vectors of different length fail with a *core.DimensionError and a zero
// magnitude operand fails with core.ErrDegenerateVector.
//
// The three sums accumulate sequentially in index order; the SQL ranking
// functions installed by the SQLite and PostgreSQL stores follow the same order.
func Similarity(a, b Vector) (float64, error) {
	if len(a) != len(b) {
		return 0, &core.DimensionError{Expected: len(a), Actual: len(b)}
	}
	if len(a) == 0 {
		return 0, core.NewError("similarity", core.ErrDegenerateVector, fmt.Errorf("empty vector"))
	}

	var dot, normA, normB float64
	for i := range a {
		// explicit conversions keep the compiler from fusing multiply-add
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, core.NewError("similarity", core.ErrDegenerateVector, nil)
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Norm returns the Euclidean length of v.
func Norm(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	return math.Sqrt(sum)
}

// Normalize normalizes a vector to unit length.
func Normalize(v Vector) Vector {
	norm := Norm(v)
	if norm == 0 {
		return v.Clone()
	}

	result := make(Vector, len(v))
	for i, x := range v {
		result[i] = x / norm
	}
	return result
}

// Validate checks that v can be persisted or queried against a store
// configured for dimension: correct length, finite components, non-zero norm.
func Validate(v Vector, dimension int) error {
	if err := core.CheckDimension(dimension, len(v)); err != nil {
		return err
	}
	var nonZero bool
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return core.FormatError("vector", "component %d is not finite", i)
		}
		if x != 0 {
			nonZero = true
		}
	}
	if !nonZero {
		return core.NewError("validate", core.ErrDegenerateVector, nil)
	}
	return nil
}
