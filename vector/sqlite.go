package vector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"modernc.org/sqlite"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/vector/migrations"
)

// sqliteCosine is the SQL name of the similarity function registered with the
// driver. It runs Similarity itself, so in-database scores are bit-identical
// to RankAll.
const (
	sqliteCosine    = "knowledge_cosine"
	sqliteDimension = "knowledge_dimension"
)

var (
	registerOnce sync.Once
	registerErr  error
)

func registerSQLiteFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(sqliteCosine, 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				a, err := sqliteVectorArg(args[0])
				if err != nil {
					return nil, err
				}
				b, err := sqliteVectorArg(args[1])
				if err != nil {
					return nil, err
				}
				return Similarity(a, b)
			})
		if registerErr != nil {
			return
		}
		registerErr = sqlite.RegisterDeterministicScalarFunction(sqliteDimension, 1,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				v, err := sqliteVectorArg(args[0])
				if err != nil {
					return nil, err
				}
				return int64(len(v)), nil
			})
	})
	return registerErr
}

func sqliteVectorArg(v driver.Value) (Vector, error) {
	switch x := v.(type) {
	case string:
		return Parse(x)
	case []byte:
		return Parse(string(x))
	default:
		return nil, fmt.Errorf("%s: unsupported argument type %T", sqliteCosine, v)
	}
}

// SQLiteStore is a SQLite-backed store. Embeddings are kept in the text
// encoding, which round-trips float64 exactly.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
	opts      options
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(path string, dimension int, opts ...Option) (*SQLiteStore, error) {
	if dimension <= 0 {
		return nil, core.Configuration("dimension must be positive, got %d", dimension)
	}
	if err := registerSQLiteFunctions(); err != nil {
		return nil, fmt.Errorf("register sqlite functions: %w", err)
	}

	dsn := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Serializes writers and keeps a :memory: database on one connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, dimension: dimension, opts: buildOptions("sqlite", opts)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.opts.logger.Debug("opened store", "path", path, "dimension", dimension)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	data, err := migrations.SQLite.ReadFile("sqlite/001_knowledge.sql")
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	if _, err := s.db.Exec(string(data)); err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}

	if _, err := s.db.Exec(`INSERT OR IGNORE INTO knowledge_settings (key, value) VALUES ('dimension', ?)`,
		strconv.Itoa(s.dimension)); err != nil {
		return fmt.Errorf("record dimension: %w", err)
	}
	var stored string
	if err := s.db.QueryRow(`SELECT value FROM knowledge_settings WHERE key = 'dimension'`).Scan(&stored); err != nil {
		return fmt.Errorf("read dimension: %w", err)
	}
	n, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("parse stored dimension %q: %w", stored, err)
	}
	return checkDimensionSetting(n, s.dimension)
}

// Insert stores one record.
func (s *SQLiteStore) Insert(ctx context.Context, content string, embedding Vector, metadata Metadata, category string) (Record, error) {
	if err := checkInsert(content, embedding, s.dimension); err != nil {
		return Record{}, err
	}
	if metadata == nil {
		metadata = Metadata{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return Record{}, fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge (content, embedding, dimension, metadata, category)
		VALUES (?, ?, ?, ?, ?)`,
		content, embedding.String(), len(embedding), string(meta), nullString(category))
	if err != nil {
		return Record{}, core.Store("insert record", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Record{}, core.Store("insert record", err)
	}

	return Record{
		ID:        id,
		Content:   content,
		Embedding: embedding.Clone(),
		Metadata:  metadata.Clone(),
		Category:  category,
	}, nil
}

// FetchAll returns matching records in id order.
func (s *SQLiteStore) FetchAll(ctx context.Context, filter Filter) ([]Record, error) {
	return s.view(s.db).FetchAll(ctx, filter)
}

// Rank runs the whole ranking inside SQLite: the filter is part of the inner
// WHERE, so LIMIT only applies to records that already passed it.
func (s *SQLiteStore) Rank(ctx context.Context, query Vector, threshold float64, maxResults int, filter Filter) ([]ScoredRecord, error) {
	return s.view(s.db).Rank(ctx, query, threshold, maxResults, filter)
}

// View runs fn inside one transaction. The store has a single connection,
// so writers wait until fn returns.
func (s *SQLiteStore) View(ctx context.Context, fn func(Snapshot) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Store("begin read", err)
	}
	defer tx.Rollback()
	return fn(s.view(tx))
}

func (s *SQLiteStore) view(q querier) sqliteView {
	return sqliteView{q: q, dimension: s.dimension}
}

type sqliteView struct {
	q         querier
	dimension int
}

func (v sqliteView) FetchAll(ctx context.Context, filter Filter) ([]Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	where, args := sqliteFilter(filter)

	rows, err := v.q.QueryContext(ctx, `
		SELECT id, content, embedding, metadata, category
		FROM knowledge
		WHERE `+where+`
		ORDER BY id`, args...)
	if err != nil {
		return nil, core.Store("fetch records", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanSQLiteRecord(rows, nil)
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

func (v sqliteView) Rank(ctx context.Context, query Vector, threshold float64, maxResults int, filter Filter) ([]ScoredRecord, error) {
	if err := checkQuery(query, threshold, maxResults, filter, v.dimension); err != nil {
		return nil, err
	}
	where, filterArgs := sqliteFilter(filter)
	if err := v.checkStoredDimensions(ctx, where, filterArgs); err != nil {
		return nil, err
	}

	args := make([]any, 0, len(filterArgs)+3)
	args = append(args, query.String())
	args = append(args, filterArgs...)
	args = append(args, threshold, maxResults)

	rows, err := v.q.QueryContext(ctx, `
		SELECT id, content, embedding, metadata, category, similarity
		FROM (
			SELECT id, content, embedding, metadata, category,
			       `+sqliteCosine+`(?, embedding) AS similarity
			FROM knowledge
			WHERE `+where+`
		)
		WHERE similarity >= ?
		ORDER BY similarity DESC, id ASC
		LIMIT ?`, args...)
	if err != nil {
		return nil, core.Store("rank records", err)
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var score float64
		r, err := scanSQLiteRecord(rows, &score)
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

// checkStoredDimensions reports the lowest-id candidate whose embedding has
// the wrong length, the same record RankAll would fail on.
func (v sqliteView) checkStoredDimensions(ctx context.Context, where string, filterArgs []any) error {
	args := append([]any{v.dimension}, filterArgs...)
	var (
		id     int64
		actual int
	)
	err := v.q.QueryRowContext(ctx, `
		SELECT id, `+sqliteDimension+`(embedding)
		FROM knowledge
		WHERE `+sqliteDimension+`(embedding) <> ? AND `+where+`
		ORDER BY id
		LIMIT 1`, args...).Scan(&id, &actual)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return core.Store("check dimensions", err)
	}
	return &core.DimensionError{Expected: v.dimension, Actual: actual, RecordID: id}
}

// DeleteByFile removes every record of one originating document.
func (s *SQLiteStore) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge WHERE json_extract(metadata, '$.fileId') = ?`, fileID)
	if err != nil {
		return 0, core.Store("delete records", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, core.Store("delete records", err)
	}
	return n, nil
}

// Resolve is the identity: text storage keeps full float64 precision.
func (s *SQLiteStore) Resolve(v Vector) Vector {
	return v
}

func (s *SQLiteStore) Dimension() int {
	return s.dimension
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteFilter renders filter as a conjunction of json_extract equalities.
// Keys are validated by Filter.Validate and bound as JSON paths.
func sqliteFilter(filter Filter) (string, []any) {
	if len(filter) == 0 {
		return "1 = 1", nil
	}
	keys := filter.Keys()
	clauses := make([]string, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, k := range keys {
		clauses[i] = "json_extract(metadata, ?) = ?"
		args = append(args, `$."`+k+`"`, filter[k])
	}
	return strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanSQLiteRecord(row rowScanner, score *float64) (Record, error) {
	var (
		r         Record
		embedding string
		meta      string
		category  sql.NullString
	)
	dest := []any{&r.ID, &r.Content, &embedding, &meta, &category}
	if score != nil {
		dest = append(dest, score)
	}
	if err := row.Scan(dest...); err != nil {
		return Record{}, core.Store("scan record", err)
	}

	v, err := Parse(embedding)
	if err != nil {
		return Record{}, fmt.Errorf("record %d: %w", r.ID, err)
	}
	r.Embedding = v
	r.Category = category.String
	if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
		return Record{}, core.Store("unmarshal metadata", err)
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
