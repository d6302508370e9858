package vector

import (
	"context"
	"fmt"
	"strings"
)

// DefaultDSN is used when no DSN is configured.
const DefaultDSN = "data/knowledge.db"

// Open creates a store based on the DSN.
//   - Empty DSN: SQLite at data/knowledge.db
//   - memory:// : in-process MemoryStore
//   - postgres:// or postgresql://: PostgreSQL with pgvector
//   - Anything else: SQLite at the specified path
func Open(ctx context.Context, dsn string, dimension int, opts ...Option) (Store, error) {
	switch {
	case dsn == "":
		return NewSQLiteStore(DefaultDSN, dimension, opts...)
	case strings.HasPrefix(dsn, "memory://"):
		if dimension <= 0 {
			return nil, fmt.Errorf("memory: dimension must be positive, got %d", dimension)
		}
		return NewMemoryStore(dimension, opts...), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		s, err := NewPgVectorStore(ctx, dsn, dimension, opts...)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return s, nil
	default:
		return NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://"), dimension, opts...)
	}
}
