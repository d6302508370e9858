package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hubenschmidt/go-ragcore/knowledge"
	"github.com/hubenschmidt/go-ragcore/monitor"
	"github.com/hubenschmidt/go-ragcore/vector"
)

// Knowledge is the part of *knowledge.Service the API exposes.
type Knowledge interface {
	Ingest(ctx context.Context, doc knowledge.Document, opts knowledge.IngestOptions) (*knowledge.IngestResult, error)
	Search(ctx context.Context, q knowledge.Query) ([]vector.ScoredRecord, error)
	Verify(ctx context.Context, q knowledge.Query) error
	Ask(ctx context.Context, question string, q knowledge.Query) (*knowledge.Answer, error)
	Delete(ctx context.Context, documentID string) (int64, error)
}

// Config configures a new Server instance.
type Config struct {
	Knowledge Knowledge
	// Metrics is optional; without it /metrics/summary reports nothing.
	Metrics func() monitor.Summary
	Logger  *slog.Logger
}

// Server is an HTTP front end for ingestion and retrieval.
type Server struct {
	knowledge Knowledge
	metrics   func() monitor.Summary
	logger    *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = monitor.NewNoOpCollector().Flush
	}
	return &Server{
		knowledge: cfg.Knowledge,
		metrics:   metrics,
		logger:    logger.With("component", "http"),
	}
}

// Handler returns an http.Handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /documents", s.handleIngest)
	mux.HandleFunc("DELETE /documents/{id}", s.handleDelete)

	mux.HandleFunc("POST /search", s.handleSearch)
	mux.HandleFunc("POST /verify", s.handleVerify)
	mux.HandleFunc("POST /ask", s.handleAsk)

	mux.HandleFunc("GET /metrics/summary", s.handleMetricsSummary)

	return corsMiddleware(mux)
}
