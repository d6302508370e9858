package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubenschmidt/go-ragcore/core"
)

const conformanceDim = 8

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) Store {
			return NewMemoryStore(conformanceDim)
		}},
		{"sqlite", func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "knowledge.db"), conformanceDim)
			require.NoError(t, err)
			return s
		}},
		{"pgvector", openTestPgVector},
	}
}

// openTestPgVector runs against the database named by RAGCORE_TEST_POSTGRES_DSN
// and drops the knowledge tables first.
func openTestPgVector(t *testing.T) Store {
	dsn := os.Getenv("RAGCORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RAGCORE_TEST_POSTGRES_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE IF EXISTS knowledge, knowledge_settings CASCADE`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := NewPgVectorStore(context.Background(), dsn, conformanceDim)
	require.NoError(t, err)
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			s := f.open(t)
			t.Cleanup(func() { s.Close() })
			fn(t, s)
		})
	}
}

func seed(t *testing.T, s Store, rng *rand.Rand, n int) []Record {
	t.Helper()
	ctx := context.Background()
	files := []string{"alpha", "beta", "gamma"}
	out := make([]Record, 0, n)
	for i := range n {
		meta := Metadata{
			MetaFileID:     files[i%len(files)],
			MetaChunkIndex: fmt.Sprint(i / len(files)),
		}
		r, err := s.Insert(ctx, fmt.Sprintf("chunk %d", i), randomVector(rng, conformanceDim), meta, "")
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

// bruteForce is the ground truth: fetch the filtered candidates and rank them
// in process.
func bruteForce(t *testing.T, s Store, query Vector, threshold float64, maxResults int, filter Filter) []ScoredRecord {
	t.Helper()
	records, err := s.FetchAll(context.Background(), filter)
	require.NoError(t, err)
	got, err := RankAll(s.Resolve(query), records, threshold, maxResults)
	require.NoError(t, err)
	return got
}

func TestConformance_IDsIncreaseInInsertionOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		records := seed(t, s, rand.New(rand.NewPCG(1, 1)), 5)
		for i := 1; i < len(records); i++ {
			assert.Greater(t, records[i].ID, records[i-1].ID)
		}
	})
}

func TestConformance_RoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(2, 2))
		v := randomVector(rng, conformanceDim)

		inserted, err := s.Insert(ctx, "hello", v, Metadata{MetaFileID: "f", "lang": "en"}, "notes")
		require.NoError(t, err)
		assert.Equal(t, s.Resolve(v), inserted.Embedding)

		all, err := s.FetchAll(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, inserted.ID, all[0].ID)
		assert.Equal(t, "hello", all[0].Content)
		assert.Equal(t, "notes", all[0].Category)
		assert.Equal(t, Metadata{MetaFileID: "f", "lang": "en"}, all[0].Metadata)
		assert.Equal(t, s.Resolve(v), all[0].Embedding)

		// Both encodings of a fetched embedding decode to the same vector.
		fromText, err := From(all[0].Embedding.String())
		require.NoError(t, err)
		assert.Equal(t, all[0].Embedding, fromText)
	})
}

func TestConformance_SelfIdentity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		records := seed(t, s, rand.New(rand.NewPCG(3, 3)), 12)

		for _, r := range records {
			got, err := s.Rank(ctx, r.Embedding, 0, 1, nil)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, r.ID, got[0].ID)
			assert.GreaterOrEqual(t, got[0].Similarity, 0.999999)
		}
	})
}

func TestConformance_RankingAgreement(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(4, 4))
		seed(t, s, rng, 60)

		filters := []Filter{nil, FileFilter("beta"), {MetaFileID: "alpha", MetaChunkIndex: "3"}}
		for q := range 10 {
			query := randomVector(rng, conformanceDim)
			for _, threshold := range []float64{0, 0.2, 0.6} {
				for _, maxResults := range []int{1, 5, 100} {
					for _, filter := range filters {
						name := fmt.Sprintf("q%d/t%g/n%d/%v", q, threshold, maxResults, filter)
						want := bruteForce(t, s, query, threshold, maxResults, filter)
						got, err := s.Rank(ctx, query, threshold, maxResults, filter)
						require.NoError(t, err, name)

						require.Equal(t, IDs(want), IDs(got), name)
						for i := range want {
							assert.Equal(t, want[i].Similarity, got[i].Similarity, name)
						}
					}
				}
			}
		}
	})
}

func TestConformance_ViewIgnoresConcurrentInsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(9, 9))
		seed(t, s, rng, 6)
		query := randomVector(rng, conformanceDim)

		done := make(chan error, 1)
		err := s.View(ctx, func(snap Snapshot) error {
			records, err := snap.FetchAll(ctx, nil)
			require.NoError(t, err)

			go func() {
				_, err := s.Insert(context.Background(), "late", query, Metadata{MetaFileID: "late"}, "")
				done <- err
			}()
			time.Sleep(20 * time.Millisecond)

			want, err := RankAll(s.Resolve(query), records, 0, 100)
			require.NoError(t, err)
			got, err := snap.Rank(ctx, query, 0, 100, nil)
			require.NoError(t, err)
			assert.Equal(t, IDs(want), IDs(got))
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, <-done)

		all, err := s.FetchAll(ctx, FileFilter("late"))
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestConformance_FilterAppliesBeforeCap(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		query := Vector{1, 0, 0, 0, 0, 0, 0, 0}

		for i := range 10 {
			v := Vector{1, 0.01 * float64(i+1), 0, 0, 0, 0, 0, 0}
			_, err := s.Insert(ctx, "noise", v, Metadata{MetaFileID: "noise"}, "")
			require.NoError(t, err)
		}
		var targets []int64
		for i := range 2 {
			v := Vector{1, 1, float64(i), 0, 0, 0, 0, 0}
			r, err := s.Insert(ctx, "target", v, Metadata{MetaFileID: "target"}, "")
			require.NoError(t, err)
			targets = append(targets, r.ID)
		}

		got, err := s.Rank(ctx, query, 0, 2, FileFilter("target"))
		require.NoError(t, err)
		assert.Equal(t, targets, IDs(got))
	})
}

func TestConformance_ThresholdMonotonic(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(5, 5))
		seed(t, s, rng, 40)
		query := randomVector(rng, conformanceDim)

		var prev map[int64]bool
		for _, threshold := range []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9} {
			got, err := s.Rank(ctx, query, threshold, 1000, nil)
			require.NoError(t, err)
			ids := make(map[int64]bool, len(got))
			for _, r := range got {
				assert.GreaterOrEqual(t, r.Similarity, threshold)
				ids[r.ID] = true
				if prev != nil {
					assert.True(t, prev[r.ID], "id %d appeared when threshold rose to %g", r.ID, threshold)
				}
			}
			prev = ids
		}
	})
}

func TestConformance_EncodingEquivalence(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rng := rand.New(rand.NewPCG(6, 6))
		v := randomVector(rng, conformanceDim)

		fromText, err := From(v.String())
		require.NoError(t, err)
		a, err := s.Insert(ctx, "native", v, Metadata{MetaFileID: "native"}, "")
		require.NoError(t, err)
		b, err := s.Insert(ctx, "text", fromText, Metadata{MetaFileID: "text"}, "")
		require.NoError(t, err)

		query := randomVector(rng, conformanceDim)
		got, err := s.Rank(ctx, query, 0, 10, nil)
		require.NoError(t, err)

		scores := map[int64]float64{}
		for _, r := range got {
			scores[r.ID] = r.Similarity
		}
		assert.Equal(t, scores[a.ID], scores[b.ID])
	})
}

func TestConformance_RejectsWrongDimension(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.Insert(ctx, "short", Vector{1, 2, 3}, nil, "")
		var de *core.DimensionError
		require.True(t, errors.As(err, &de), "insert: %v", err)
		assert.Equal(t, conformanceDim, de.Expected)
		assert.Equal(t, 3, de.Actual)

		_, err = s.Rank(ctx, Vector{1, 2, 3}, 0, 5, nil)
		assert.True(t, errors.As(err, &de), "rank: %v", err)

		all, err := s.FetchAll(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

func TestConformance_RejectsDegenerateAndInvalidArgs(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		zero := make(Vector, conformanceDim)

		_, err := s.Insert(ctx, "zero", zero, nil, "")
		assert.True(t, errors.Is(err, core.ErrDegenerateVector))
		_, err = s.Rank(ctx, zero, 0, 5, nil)
		assert.True(t, errors.Is(err, core.ErrDegenerateVector))

		one := Vector{1, 0, 0, 0, 0, 0, 0, 0}
		_, err = s.Insert(ctx, "  ", one, nil, "")
		assert.True(t, errors.Is(err, core.ErrConfiguration))
		_, err = s.Rank(ctx, one, 2, 5, nil)
		assert.True(t, errors.Is(err, core.ErrConfiguration))
		_, err = s.Rank(ctx, one, 0, 0, nil)
		assert.True(t, errors.Is(err, core.ErrConfiguration))
		_, err = s.Rank(ctx, one, 0, 5, Filter{"bad key": "x"})
		assert.True(t, errors.Is(err, core.ErrConfiguration))
	})
}

func TestConformance_DeleteByFile(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		seed(t, s, rand.New(rand.NewPCG(8, 8)), 9)

		n, err := s.DeleteByFile(ctx, "beta")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		left, err := s.FetchAll(ctx, FileFilter("beta"))
		require.NoError(t, err)
		assert.Empty(t, left)

		all, err := s.FetchAll(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, all, 6)

		n, err = s.DeleteByFile(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSQLiteStore_ReopenChecksDimension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knowledge.db")

	s, err := NewSQLiteStore(path, conformanceDim)
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), "kept", Vector{1, 0, 0, 0, 0, 0, 0, 0}, nil, "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewSQLiteStore(path, conformanceDim+1)
	var de *core.DimensionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, conformanceDim, de.Expected)

	s, err = NewSQLiteStore(path, conformanceDim)
	require.NoError(t, err)
	defer s.Close()
	all, err := s.FetchAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_RankReportsStoredDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "knowledge.db"), 3)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Insert(ctx, "ok", Vector{1, 0, 0}, Metadata{MetaFileID: "a"}, "")
	require.NoError(t, err)
	// The dimension column claims 3; the embedding itself has two components.
	_, err = s.db.Exec(`INSERT INTO knowledge (content, embedding, dimension, metadata)
		VALUES ('short', '[1,0]', 3, '{"fileId":"b"}')`)
	require.NoError(t, err)

	query := Vector{1, 1, 0}
	_, storeErr := s.Rank(ctx, query, 0, 5, nil)
	var fromStore *core.DimensionError
	require.True(t, errors.As(storeErr, &fromStore), "got %v", storeErr)
	assert.False(t, errors.Is(storeErr, core.ErrStore))

	records, err := s.FetchAll(ctx, nil)
	require.NoError(t, err)
	_, bruteErr := RankAll(query, records, 0, 5)
	var fromBrute *core.DimensionError
	require.True(t, errors.As(bruteErr, &fromBrute))
	assert.Equal(t, *fromBrute, *fromStore)
	assert.Equal(t, core.DimensionError{Expected: 3, Actual: 2, RecordID: 2}, *fromStore)

	// A filter that excludes the bad row ranks normally.
	got, err := s.Rank(ctx, query, 0, 5, FileFilter("a"))
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := NewSQLiteStore(":memory:", 2)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Insert(context.Background(), "a", Vector{1, 0}, nil, "")
	require.NoError(t, err)
	got, err := s.Rank(context.Background(), Vector{1, 0}, 0.5, 1, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Similarity)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory://", 4)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(ctx, filepath.Join(t.TempDir(), "k.db"), 4)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "memory://", 0)
	assert.Error(t, err)
}
