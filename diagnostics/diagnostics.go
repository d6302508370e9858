// Package diagnostics verifies the invariants the ranking paths rely on:
// encoding equivalence, a single corpus dimensionality, and agreement between
// brute-force and store-side ranking. Every check returns a typed error.
package diagnostics

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/vector"
)

// AssertFormatEquivalence checks that the text encoding and the native
// sequence of v decode to identical components.
func AssertFormatEquivalence(v vector.Vector) error {
	native, err := vector.From([]float64(v))
	if err != nil {
		return err
	}
	text, err := vector.From(v.String())
	if err != nil {
		return err
	}
	if len(native) != len(text) {
		return &core.DimensionError{Expected: len(native), Actual: len(text)}
	}
	for i := range native {
		if math.Float64bits(native[i]) != math.Float64bits(text[i]) {
			return core.FormatError("diagnostics",
				"component %d differs between encodings: %v != %v", i, native[i], text[i])
		}
	}
	return nil
}

// MixedDimensionError lists record ids by embedding length when a corpus
// holds more than one dimensionality.
type MixedDimensionError struct {
	Expected int
	ByLength map[int][]int64
}

func (e *MixedDimensionError) Error() string {
	lengths := slices.Sorted(maps.Keys(e.ByLength))
	parts := make([]string, 0, len(lengths))
	for _, n := range lengths {
		if n == e.Expected {
			parts = append(parts, fmt.Sprintf("%d records of length %d", len(e.ByLength[n]), n))
			continue
		}
		parts = append(parts, fmt.Sprintf("length %d: ids %v", n, e.ByLength[n]))
	}
	return fmt.Sprintf("mixed embedding dimensions (expected %d): %s", e.Expected, strings.Join(parts, "; "))
}

func (e *MixedDimensionError) Unwrap() error {
	return core.ErrEmbeddingDimension
}

// Offending returns the ids whose length differs from Expected, in id order.
func (e *MixedDimensionError) Offending() []int64 {
	var ids []int64
	for n, group := range e.ByLength {
		if n != e.Expected {
			ids = append(ids, group...)
		}
	}
	slices.Sort(ids)
	return ids
}

// AssertDimensionInvariant scans every record and fails when any embedding
// length differs from the store dimension.
func AssertDimensionInvariant(ctx context.Context, store vector.Store) error {
	records, err := store.FetchAll(ctx, nil)
	if err != nil {
		return err
	}
	byLength := map[int][]int64{}
	for _, r := range records {
		byLength[len(r.Embedding)] = append(byLength[len(r.Embedding)], r.ID)
	}
	if len(byLength) == 0 {
		return nil
	}
	if _, ok := byLength[store.Dimension()]; ok && len(byLength) == 1 {
		return nil
	}
	return &MixedDimensionError{Expected: store.Dimension(), ByLength: byLength}
}

// NormalizationInfo describes the magnitude of a vector.
type NormalizationInfo struct {
	Dimension int     `json:"dimension"`
	Norm      float64 `json:"norm"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Unit      bool    `json:"unit"`
}

// unitTolerance accepts float32-quantized unit vectors.
const unitTolerance = 1e-4

// AssertNormalizationInfo reports norm and component range. It is
// informational; cosine ranking does not depend on it.
func AssertNormalizationInfo(v vector.Vector) NormalizationInfo {
	info := NormalizationInfo{Dimension: len(v)}
	if len(v) == 0 {
		return info
	}
	info.Min, info.Max = slices.Min(v), slices.Max(v)
	info.Norm = vector.Norm(v)
	info.Unit = math.Abs(info.Norm-1) <= unitTolerance
	return info
}

func (i NormalizationInfo) String() string {
	return fmt.Sprintf("dim=%d norm=%.6f min=%.6f max=%.6f unit=%t", i.Dimension, i.Norm, i.Min, i.Max, i.Unit)
}
