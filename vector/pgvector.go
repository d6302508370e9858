package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/vector/migrations"
)

// PgVectorStore is a PostgreSQL-based vector store using pgvector.
//
// pgvector keeps float4 components, so embeddings are quantized to float32
// on insert (see Resolve). Ranking runs through the match_knowledge SQL
// function, which scores in double precision over the stored components.
type PgVectorStore struct {
	db        *sql.DB
	dimension int
	opts      options
}

// NewPgVectorStore creates a new pgvector-based store.
// The dimension parameter specifies the embedding dimension (e.g., 1536 for OpenAI).
func NewPgVectorStore(ctx context.Context, dsn string, dimension int, opts ...Option) (*PgVectorStore, error) {
	if dimension <= 0 {
		return nil, core.Configuration("dimension must be positive, got %d", dimension)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, core.Store("ping postgres", err)
	}

	s := &PgVectorStore{db: db, dimension: dimension, opts: buildOptions("pgvector", opts)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.opts.logger.Debug("opened store", "dimension", dimension)
	return s, nil
}

func (s *PgVectorStore) migrate(ctx context.Context) error {
	data, err := migrations.Postgres.ReadFile("postgres/001_knowledge.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	ddl := strings.ReplaceAll(string(data), "{{dimension}}", strconv.Itoa(s.dimension))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_settings (key, value) VALUES ('dimension', $1)
		ON CONFLICT (key) DO NOTHING`, strconv.Itoa(s.dimension)); err != nil {
		return fmt.Errorf("record dimension: %w", err)
	}
	var stored string
	if err := s.db.QueryRowContext(ctx,
		`SELECT value FROM knowledge_settings WHERE key = 'dimension'`).Scan(&stored); err != nil {
		return fmt.Errorf("read dimension: %w", err)
	}
	n, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("parse stored dimension %q: %w", stored, err)
	}
	return checkDimensionSetting(n, s.dimension)
}

// Insert quantizes the embedding to float32 and stores one record. The
// returned record carries the embedding as stored.
func (s *PgVectorStore) Insert(ctx context.Context, content string, embedding Vector, metadata Metadata, category string) (Record, error) {
	stored := s.Resolve(embedding)
	if err := checkInsert(content, stored, s.dimension); err != nil {
		return Record{}, err
	}
	if metadata == nil {
		metadata = Metadata{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return Record{}, fmt.Errorf("marshal metadata: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO knowledge (content, embedding, metadata, category)
		VALUES ($1, $2::vector, $3::jsonb, $4)
		RETURNING id`,
		content, pgvector.NewVector(stored.Float32()), string(meta), nullString(category),
	).Scan(&id)
	if err != nil {
		return Record{}, core.Store("insert record", err)
	}

	return Record{
		ID:        id,
		Content:   content,
		Embedding: stored,
		Metadata:  metadata.Clone(),
		Category:  category,
	}, nil
}

// FetchAll returns matching records in id order.
func (s *PgVectorStore) FetchAll(ctx context.Context, filter Filter) ([]Record, error) {
	return s.view(s.db).FetchAll(ctx, filter)
}

// Rank calls match_knowledge, which filters, thresholds, orders and caps in
// one statement.
func (s *PgVectorStore) Rank(ctx context.Context, query Vector, threshold float64, maxResults int, filter Filter) ([]ScoredRecord, error) {
	return s.view(s.db).Rank(ctx, query, threshold, maxResults, filter)
}

// View runs fn in a read-only REPEATABLE READ transaction, so every
// statement inside it reads the same snapshot.
func (s *PgVectorStore) View(ctx context.Context, fn func(Snapshot) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return core.Store("begin read", err)
	}
	defer tx.Rollback()
	return fn(s.view(tx))
}

func (s *PgVectorStore) view(q querier) pgView {
	return pgView{q: q, dimension: s.dimension}
}

type pgView struct {
	q         querier
	dimension int
}

func (v pgView) FetchAll(ctx context.Context, filter Filter) ([]Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	doc, err := filter.JSON()
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	rows, err := v.q.QueryContext(ctx, `
		SELECT id, content, embedding, metadata, category
		FROM knowledge
		WHERE metadata @> $1::jsonb
		ORDER BY id`, doc)
	if err != nil {
		return nil, core.Store("fetch records", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanPgRecord(rows, nil)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Store("fetch records", err)
	}
	return records, nil
}

func (v pgView) Rank(ctx context.Context, query Vector, threshold float64, maxResults int, filter Filter) ([]ScoredRecord, error) {
	q := query.Quantize32()
	if err := checkQuery(q, threshold, maxResults, filter, v.dimension); err != nil {
		return nil, err
	}
	doc, err := filter.JSON()
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	rows, err := v.q.QueryContext(ctx, `
		SELECT id, content, embedding, metadata, category, similarity
		FROM match_knowledge($1::vector, $2, $3, $4::jsonb)`,
		pgvector.NewVector(q.Float32()), threshold, maxResults, doc)
	if err != nil {
		return nil, core.Store("rank records", err)
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var score float64
		r, err := scanPgRecord(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredRecord{Record: r, Similarity: score})
	}
	if err := rows.Err(); err != nil {
		return nil, core.Store("rank records", err)
	}
	return results, nil
}

// DeleteByFile removes every record of one originating document.
func (s *PgVectorStore) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge WHERE metadata->>'fileId' = $1`, fileID)
	if err != nil {
		return 0, core.Store("delete records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.Store("delete records", err)
	}
	return n, nil
}

// Resolve rounds v to float32, the precision pgvector stores.
func (s *PgVectorStore) Resolve(v Vector) Vector {
	return v.Quantize32()
}

func (s *PgVectorStore) Dimension() int {
	return s.dimension
}

// Close closes the database connection.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}

func scanPgRecord(row rowScanner, score *float64) (Record, error) {
	var (
		r         Record
		embedding pgvector.Vector
		meta      []byte
		category  sql.NullString
	)
	dest := []any{&r.ID, &r.Content, &embedding, &meta, &category}
	if score != nil {
		dest = append(dest, score)
	}
	if err := row.Scan(dest...); err != nil {
		return Record{}, core.Store("scan record", err)
	}

	r.Embedding = FromFloat32(embedding.Slice())
	r.Category = category.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return Record{}, core.Store("unmarshal metadata", err)
		}
	}
	if r.Metadata == nil {
		r.Metadata = Metadata{}
	}
	return r, nil
}
