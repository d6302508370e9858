package diagnostics

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/vector"
)

// DisagreementError is the diff between brute-force and store-side results.
type DisagreementError struct {
	// Missing holds ids the brute-force ranking returned but the store did not.
	Missing []int64
	// Extra holds ids the store returned that brute force did not.
	Extra []int64
	// OrderMismatch is set when both sides hold the same ids in a different order.
	OrderMismatch bool
	// ScoreMismatch holds ids present on both sides whose similarities differ.
	ScoreMismatch []int64

	Expected []int64
	Actual   []int64
}

func (e *DisagreementError) Error() string {
	var b strings.Builder
	b.WriteString("ranking paths disagree:")
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, " missing %v", e.Missing)
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, " extra %v", e.Extra)
	}
	if e.OrderMismatch {
		fmt.Fprintf(&b, " order expected %v got %v", e.Expected, e.Actual)
	}
	if len(e.ScoreMismatch) > 0 {
		fmt.Fprintf(&b, " score differs for %v", e.ScoreMismatch)
	}
	return b.String()
}

func (e *DisagreementError) Unwrap() error {
	return core.ErrRankingDisagreement
}

// scoreTolerance absorbs last-bit differences in a store's own arithmetic;
// id order is compared exactly.
const scoreTolerance = 1e-9

// AssertRankingAgreement runs both ranking paths for the same inputs and
// returns a *DisagreementError when they differ. Both paths read one store
// snapshot, and the brute-force path ranks against store.Resolve(query) so
// both sides see the same numbers. An invalid query is reported as such
// before either path runs.
func AssertRankingAgreement(ctx context.Context, store vector.Store, query vector.Vector, threshold float64, maxResults int, filter vector.Filter) error {
	resolved := store.Resolve(query)
	if err := vector.Validate(resolved, store.Dimension()); err != nil {
		return fmt.Errorf("query: %w", err)
	}

	return store.View(ctx, func(snap vector.Snapshot) error {
		records, err := snap.FetchAll(ctx, filter)
		if err != nil {
			return fmt.Errorf("fetch candidates: %w", err)
		}
		expected, err := vector.RankAll(resolved, records, threshold, maxResults)
		if err != nil {
			return fmt.Errorf("brute-force ranking: %w", err)
		}
		actual, err := snap.Rank(ctx, query, threshold, maxResults, filter)
		if err != nil {
			return fmt.Errorf("store ranking: %w", err)
		}
		return Compare(expected, actual)
	})
}

// Compare diffs two rankings of the same query.
func Compare(expected, actual []vector.ScoredRecord) error {
	want := scoresByID(expected)
	got := scoresByID(actual)

	d := &DisagreementError{Expected: vector.IDs(expected), Actual: vector.IDs(actual)}
	for _, r := range expected {
		if _, ok := got[r.ID]; !ok {
			d.Missing = append(d.Missing, r.ID)
		}
	}
	for _, r := range actual {
		s, ok := want[r.ID]
		if !ok {
			d.Extra = append(d.Extra, r.ID)
			continue
		}
		if math.Abs(s-r.Similarity) > scoreTolerance {
			d.ScoreMismatch = append(d.ScoreMismatch, r.ID)
		}
	}
	if len(d.Missing) == 0 && len(d.Extra) == 0 {
		// Same id sets of different lengths means one side repeats an id.
		d.OrderMismatch = len(d.Expected) != len(d.Actual)
		for i := 0; i < len(d.Expected) && !d.OrderMismatch; i++ {
			d.OrderMismatch = d.Expected[i] != d.Actual[i]
		}
	}

	if len(d.Missing) == 0 && len(d.Extra) == 0 && !d.OrderMismatch && len(d.ScoreMismatch) == 0 {
		return nil
	}
	return d
}

func scoresByID(results []vector.ScoredRecord) map[int64]float64 {
	m := make(map[int64]float64, len(results))
	for _, r := range results {
		m[r.ID] = r.Similarity
	}
	return m
}
