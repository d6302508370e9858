package vector

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory vector store for development and testing.
// Its Rank is RankFiltered over its own records, which makes it the
// reference implementation the other stores are checked against.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	nextID    int64
	records   []Record
	opts      options
}

// NewMemoryStore creates a new in-memory vector store.
func NewMemoryStore(dimension int, opts ...Option) *MemoryStore {
	return &MemoryStore{
		dimension: dimension,
		opts:      buildOptions("memory", opts),
	}
}

// Insert appends a record with the next id.
func (s *MemoryStore) Insert(ctx context.Context, content string, embedding Vector, metadata Metadata, category string) (Record, error) {
	if err := checkInsert(content, embedding, s.dimension); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	r := Record{
		ID:        s.nextID,
		Content:   content,
		Embedding: embedding.Clone(),
		Metadata:  metadata.Clone(),
		Category:  category,
	}
	s.records = append(s.records, r)
	return cloneRecord(r), nil
}

// FetchAll returns copies of matching records in id order.
func (s *MemoryStore) FetchAll(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memoryView{s}.FetchAll(ctx, filter)
}

// Rank finds records similar to query using brute-force cosine similarity.
func (s *MemoryStore) Rank(ctx context.Context, query Vector, threshold float64, maxResults int, filter Filter) ([]ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memoryView{s}.Rank(ctx, query, threshold, maxResults, filter)
}

// View holds the read lock for the duration of fn.
func (s *MemoryStore) View(ctx context.Context, fn func(Snapshot) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memoryView{s})
}

// memoryView reads the records of a store whose read lock the caller holds.
type memoryView struct {
	s *MemoryStore
}

func (v memoryView) FetchAll(_ context.Context, filter Filter) ([]Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(v.s.records))
	for _, r := range v.s.records {
		if filter.Matches(r.Metadata) {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func (v memoryView) Rank(_ context.Context, query Vector, threshold float64, maxResults int, filter Filter) ([]ScoredRecord, error) {
	if err := checkQuery(query, threshold, maxResults, filter, v.s.dimension); err != nil {
		return nil, err
	}
	results, err := RankFiltered(query, v.s.records, threshold, maxResults, filter)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Record = cloneRecord(results[i].Record)
	}
	return results, nil
}

// DeleteByFile removes records by originating document.
func (s *MemoryStore) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var removed int64
	for _, r := range s.records {
		if r.Metadata.FileID() == fileID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	clear(s.records[len(kept):])
	s.records = kept
	return removed, nil
}

// Resolve is the identity: the memory store computes in float64.
func (s *MemoryStore) Resolve(v Vector) Vector {
	return v
}

func (s *MemoryStore) Dimension() int {
	return s.dimension
}

// Close is a no-op for in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Count returns the number of records in the store.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(r Record) Record {
	r.Embedding = r.Embedding.Clone()
	r.Metadata = r.Metadata.Clone()
	return r
}
