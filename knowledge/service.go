// Package knowledge wires chunking, embedding and a vector store into the
// ingestion and retrieval operations consumers call.
package knowledge

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hubenschmidt/go-ragcore/chunk"
	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/llm"
	"github.com/hubenschmidt/go-ragcore/monitor"
	"github.com/hubenschmidt/go-ragcore/observability"
	"github.com/hubenschmidt/go-ragcore/vector"
)

// Default chunking and retrieval parameters.
const (
	DefaultChunkSize  = 384
	DefaultOverlap    = 40
	DefaultMaxResults = 5
)

// Embedder produces vectors of a fixed dimension. *embedding.Client
// implements it.
type Embedder interface {
	Embed(ctx context.Context, text string) (vector.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) ([]vector.Vector, error)
	Dimension() int
}

// Service is safe for concurrent use; it holds no mutable state of its own.
type Service struct {
	store     vector.Store
	embedder  Embedder
	splitter  *chunk.Splitter
	batchSize int

	threshold  float64
	maxResults int
	verify     bool

	chat      llm.Client
	chatModel string

	logger    *slog.Logger
	tracer    trace.Tracer
	collector monitor.MetricsCollector
}

type Option func(*Service)

// WithSplitter overrides the default 384/40 chunking.
func WithSplitter(s *chunk.Splitter) Option {
	return func(svc *Service) {
		if s != nil {
			svc.splitter = s
		}
	}
}

// WithEmbedBatchSize sets how many chunks are embedded per request during
// ingestion (default 1).
func WithEmbedBatchSize(n int) Option {
	return func(svc *Service) {
		if n > 0 {
			svc.batchSize = n
		}
	}
}

// WithRetrievalDefaults sets the threshold and cap used when a Query leaves
// them unset.
func WithRetrievalDefaults(threshold float64, maxResults int) Option {
	return func(svc *Service) {
		svc.threshold = threshold
		svc.maxResults = maxResults
	}
}

// WithVerification makes every Search also check ranking agreement.
func WithVerification(enabled bool) Option {
	return func(svc *Service) { svc.verify = enabled }
}

// WithChat sets the answer-generation collaborator used by Ask.
func WithChat(c llm.Client, model string) Option {
	return func(svc *Service) {
		svc.chat = c
		svc.chatModel = model
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(svc *Service) {
		if l != nil {
			svc.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(svc *Service) {
		if t != nil {
			svc.tracer = t
		}
	}
}

func WithCollector(c monitor.MetricsCollector) Option {
	return func(svc *Service) {
		if c != nil {
			svc.collector = c
		}
	}
}

// NewService checks that the embedder and store agree on dimension.
func NewService(store vector.Store, embedder Embedder, opts ...Option) (*Service, error) {
	if store == nil || embedder == nil {
		return nil, core.Configuration("knowledge service needs a store and an embedder")
	}
	if err := core.CheckDimension(store.Dimension(), embedder.Dimension()); err != nil {
		return nil, err
	}

	splitter, err := chunk.NewSplitter(DefaultChunkSize, DefaultOverlap)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		store:      store,
		embedder:   embedder,
		splitter:   splitter,
		batchSize:  1,
		maxResults: DefaultMaxResults,
		logger:     slog.Default(),
		tracer:     observability.Tracer(),
		collector:  monitor.NewNoOpCollector(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	if err := validateRetrieval(svc.threshold, svc.maxResults); err != nil {
		return nil, err
	}
	svc.logger = svc.logger.With("component", "rag")
	return svc, nil
}

func (s *Service) embedModel() string {
	if m, ok := s.embedder.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}

// Store returns the underlying store.
func (s *Service) Store() vector.Store { return s.store }

// Delete removes every record ingested from documentID.
func (s *Service) Delete(ctx context.Context, documentID string) (int64, error) {
	start := time.Now()
	n, err := s.store.DeleteByFile(ctx, documentID)
	monitor.Track(s.collector, monitor.OpDelete, int(n), start, err)
	if err != nil {
		return 0, err
	}
	s.logger.Info("deleted document", "document_id", documentID, "records", n)
	return n, nil
}

func validateRetrieval(threshold float64, maxResults int) error {
	if threshold < 0 || threshold > 1 {
		return core.Configuration("similarity threshold must be in [0,1], got %g", threshold)
	}
	if maxResults <= 0 {
		return core.Configuration("maxResults must be positive, got %d", maxResults)
	}
	return nil
}
