// Package ragcore wires a vector store, an embedding client and the
// knowledge service from one Config.
//
// Example usage:
//
//	cfg, _ := config.Load("ragcore.yaml")
//	eng, err := ragcore.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer eng.Close(ctx)
//
//	_, err = eng.Ingest(ctx, ragcore.Document{ID: "handbook", Text: text}, ragcore.IngestOptions{})
//	hits, err := eng.Search(ctx, ragcore.Query{Text: "vacation policy", MaxResults: 3})
package ragcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hubenschmidt/go-ragcore/chunk"
	"github.com/hubenschmidt/go-ragcore/config"
	"github.com/hubenschmidt/go-ragcore/embedding"
	"github.com/hubenschmidt/go-ragcore/knowledge"
	"github.com/hubenschmidt/go-ragcore/llm"
	"github.com/hubenschmidt/go-ragcore/monitor"
	"github.com/hubenschmidt/go-ragcore/observability"
	"github.com/hubenschmidt/go-ragcore/vector"
)

// Knowledge aliases
type (
	Service       = knowledge.Service
	Document      = knowledge.Document
	IngestOptions = knowledge.IngestOptions
	IngestResult  = knowledge.IngestResult
	Query         = knowledge.Query
	Answer        = knowledge.Answer
)

// Vector aliases
type (
	Vector       = vector.Vector
	Record       = vector.Record
	ScoredRecord = vector.ScoredRecord
	Metadata     = vector.Metadata
	Filter       = vector.Filter
	Store        = vector.Store
)

// Threshold builds a Query threshold.
func Threshold(t float64) *float64 { return knowledge.Threshold(t) }

// Engine is a knowledge service together with the resources it owns.
type Engine struct {
	*knowledge.Service

	store   vector.Store
	tracing *observability.TracerProvider
	metrics *monitor.InMemoryCollector
}

// New validates cfg and opens everything it names. Extra options are
// applied after the ones derived from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...knowledge.Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := slog.Default()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	tracing, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:  "ragcore",
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	store, err := vector.Open(ctx, cfg.Store.DSN, cfg.Store.Dimension, vector.WithLogger(logger))
	if err != nil {
		tracing.Shutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}

	eng := &Engine{store: store, tracing: tracing, metrics: monitor.NewInMemoryCollector()}
	svc, err := eng.service(cfg, logger, opts)
	if err != nil {
		eng.Close(ctx)
		return nil, err
	}
	eng.Service = svc
	return eng, nil
}

func (e *Engine) service(cfg *config.Config, logger *slog.Logger, extra []knowledge.Option) (*knowledge.Service, error) {
	embedder, err := NewEmbedder(cfg.Embedding, cfg.Store.Dimension, logger)
	if err != nil {
		return nil, err
	}
	splitter, err := chunk.NewSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}

	opts := []knowledge.Option{
		knowledge.WithSplitter(splitter),
		knowledge.WithEmbedBatchSize(cfg.Embedding.BatchSize),
		knowledge.WithRetrievalDefaults(cfg.Retrieval.Threshold, cfg.Retrieval.MaxResults),
		knowledge.WithVerification(cfg.Retrieval.Verify),
		knowledge.WithLogger(logger),
		knowledge.WithTracer(e.tracing.Tracer()),
		knowledge.WithCollector(e.metrics),
	}
	if cfg.LLM.Model != "" {
		chat := llm.NewUnifiedClient(llm.UnifiedConfig{
			OpenAIKey:     cfg.LLM.APIKey,
			OpenAIBaseURL: cfg.LLM.BaseURL,
			OllamaURL:     cfg.LLM.OllamaURL,
		})
		if chat.HasOpenAI() || chat.HasOllama() {
			opts = append(opts, knowledge.WithChat(chat, cfg.LLM.Model))
		}
	}
	return knowledge.NewService(e.store, embedder, append(opts, extra...)...)
}

// NewEmbedder builds the validating embedding client for cfg.
func NewEmbedder(cfg config.EmbeddingConfig, dimension int, logger *slog.Logger) (*embedding.Client, error) {
	provider, err := embedding.NewProvider(cfg.Provider, embedding.ProviderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return embedding.NewClient(provider, cfg.Model, dimension,
		embedding.WithTimeout(cfg.Timeout),
		embedding.WithBatchSize(cfg.BatchSize),
		embedding.WithConcurrency(cfg.Concurrency),
		embedding.WithRateLimit(cfg.RequestsPerSecond, cfg.Burst),
		embedding.WithLogger(logger),
	)
}

// Metrics returns per-operation counters gathered since New.
func (e *Engine) Metrics() monitor.Summary {
	return e.metrics.Flush()
}

// Close closes the store and flushes traces.
func (e *Engine) Close(ctx context.Context) error {
	return errors.Join(e.store.Close(), e.tracing.Shutdown(ctx))
}
