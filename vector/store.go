// Package vector provides embedding vectors, cosine ranking and the stores that persist them.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hubenschmidt/go-ragcore/core"
)

// Record is one embedded chunk as persisted by a store.
type Record struct {
	ID        int64    `json:"id"`
	Content   string   `json:"content"`
	Embedding Vector   `json:"embedding"`
	Metadata  Metadata `json:"metadata"`
	Category  string   `json:"category,omitempty"`
}

// ScoredRecord represents a ranked record with its similarity score.
type ScoredRecord struct {
	Record
	Similarity float64 `json:"similarity"` // cosine similarity (-1..1)
}

// Snapshot is the pair of read paths that must agree: FetchAll feeds the
// brute-force ranking in RankAll, and Rank computes the same ranking inside
// the store.
type Snapshot interface {
	// FetchAll returns every record matching filter in ascending id order.
	FetchAll(ctx context.Context, filter Filter) ([]Record, error)

	// Rank filters, scores, thresholds, orders and caps inside the store.
	Rank(ctx context.Context, query Vector, threshold float64, maxResults int, filter Filter) ([]ScoredRecord, error)
}

// Store provides durable record storage and the two query paths of Snapshot.
type Store interface {
	Snapshot

	// Insert persists one record and returns it with its assigned id.
	// Ids increase in insertion order.
	Insert(ctx context.Context, content string, embedding Vector, metadata Metadata, category string) (Record, error)

	// View calls fn with a Snapshot on which both read paths see the same
	// committed records. Writes that race with fn become visible after it returns.
	View(ctx context.Context, fn func(Snapshot) error) error

	// DeleteByFile removes every record whose fileId metadata equals fileID.
	DeleteByFile(ctx context.Context, fileID string) (int64, error)

	// Resolve converts v to the numeric precision the store computes with.
	Resolve(v Vector) Vector

	// Dimension is the embedding length every record must have.
	Dimension() int

	// Close releases resources.
	Close() error
}

type options struct {
	logger *slog.Logger
}

// Option configures a store.
type Option func(*options)

// WithLogger sets the store logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", component)
	return o
}

// checkInsert validates an insert against the store dimension after the
// embedding has been resolved to store precision.
func checkInsert(content string, embedding Vector, dimension int) error {
	if strings.TrimSpace(content) == "" {
		return core.Configuration("record content must not be empty")
	}
	return Validate(embedding, dimension)
}

func checkQuery(query Vector, threshold float64, maxResults int, filter Filter, dimension int) error {
	if err := Validate(query, dimension); err != nil {
		return err
	}
	if err := checkRankArgs(threshold, maxResults); err != nil {
		return err
	}
	return filter.Validate()
}

func checkRankArgs(threshold float64, maxResults int) error {
	if threshold < 0 || threshold > 1 {
		return core.Configuration("similarity threshold must be in [0,1], got %g", threshold)
	}
	if maxResults <= 0 {
		return core.Configuration("maxResults must be positive, got %d", maxResults)
	}
	return nil
}

func checkDimensionSetting(stored, configured int) error {
	if stored != configured {
		return fmt.Errorf("store was created for dimension %d: %w", stored,
			&core.DimensionError{Expected: stored, Actual: configured})
	}
	return nil
}
