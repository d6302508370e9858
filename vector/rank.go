package vector

import (
	"cmp"
	"errors"
	"slices"

	"github.com/hubenschmidt/go-ragcore/core"
)

// RankAll is the reference ranking every store must reproduce:
//
//  1. score every candidate with cosine similarity,
//  2. drop candidates scoring strictly below threshold,
//  3. sort by similarity descending, then id ascending,
//  4. keep the first maxResults.
//
// Candidates are expected to be pre-filtered; see RankFiltered.
func RankAll(query Vector, records []Record, threshold float64, maxResults int) ([]ScoredRecord, error) {
	if err := checkRankArgs(threshold, maxResults); err != nil {
		return nil, err
	}

	results := make([]ScoredRecord, 0, len(records))
	for _, r := range records {
		score, err := Similarity(query, r.Embedding)
		if err != nil {
			return nil, withRecordID(err, r.ID)
		}
		if score < threshold {
			continue
		}
		results = append(results, ScoredRecord{Record: r, Similarity: score})
	}

	slices.SortFunc(results, CompareScored)

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// RankFiltered applies filter to records before ranking them, so the cap
// only ever sees records that passed the filter.
func RankFiltered(query Vector, records []Record, threshold float64, maxResults int, filter Filter) ([]ScoredRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	candidates := make([]Record, 0, len(records))
	for _, r := range records {
		if filter.Matches(r.Metadata) {
			candidates = append(candidates, r)
		}
	}
	return RankAll(query, candidates, threshold, maxResults)
}

// CompareScored orders by similarity descending with ties on ascending id.
func CompareScored(a, b ScoredRecord) int {
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// IDs returns the record ids in result order.
func IDs(results []ScoredRecord) []int64 {
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func withRecordID(err error, id int64) error {
	var de *core.DimensionError
	if errors.As(err, &de) {
		return &core.DimensionError{Expected: de.Expected, Actual: de.Actual, RecordID: id}
	}
	return err
}
