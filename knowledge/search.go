package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/diagnostics"
	"github.com/hubenschmidt/go-ragcore/monitor"
	"github.com/hubenschmidt/go-ragcore/observability"
	"github.com/hubenschmidt/go-ragcore/vector"
)

// Query selects records by similarity. Exactly one of Text or Vector is
// used; Vector wins when both are set. A nil Threshold or a zero MaxResults
// takes the service default.
type Query struct {
	Text       string
	Vector     vector.Vector
	Threshold  *float64
	MaxResults int
	Filter     vector.Filter
}

// Threshold is a convenience for building a Query.
func Threshold(t float64) *float64 { return &t }

// Search embeds the query text if needed and ranks inside the store. With
// verification enabled the brute-force ranking is computed as well and a
// disagreement is returned as an error.
func (s *Service) Search(ctx context.Context, q Query) ([]vector.ScoredRecord, error) {
	start := time.Now()
	results, err := s.search(ctx, q)
	monitor.Track(s.collector, monitor.OpSearch, len(results), start, err)
	return results, err
}

func (s *Service) search(ctx context.Context, q Query) ([]vector.ScoredRecord, error) {
	threshold, maxResults := s.resolveLimits(q)
	if err := validateRetrieval(threshold, maxResults); err != nil {
		return nil, err
	}

	qv, err := s.queryVector(ctx, q)
	if err != nil {
		return nil, err
	}

	ctx, span := observability.StartRankSpan(ctx, s.tracer, threshold, maxResults, len(q.Filter) > 0)
	defer span.End()

	results, err := s.store.Rank(ctx, qv, threshold, maxResults, q.Filter)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	var top float64
	if len(results) > 0 {
		top = results[0].Similarity
	}
	observability.RecordRankResult(span, len(results), top)
	s.logger.Debug("ranked", "results", len(results), "threshold", threshold, "max_results", maxResults, "top", top)

	if s.verify {
		if err := s.verifyRanking(ctx, qv, threshold, maxResults, q.Filter); err != nil {
			observability.RecordError(span, err)
			return nil, err
		}
	}
	return results, nil
}

// Verify runs every consistency check for q: a single corpus dimension and
// agreement between both ranking paths.
func (s *Service) Verify(ctx context.Context, q Query) error {
	start := time.Now()
	err := s.verifyAll(ctx, q)
	monitor.Track(s.collector, monitor.OpVerify, 1, start, err)
	return err
}

func (s *Service) verifyAll(ctx context.Context, q Query) error {
	threshold, maxResults := s.resolveLimits(q)
	if err := validateRetrieval(threshold, maxResults); err != nil {
		return err
	}
	if err := diagnostics.AssertDimensionInvariant(ctx, s.store); err != nil {
		s.logger.Warn("dimension invariant violated", "error", err)
		return err
	}
	qv, err := s.queryVector(ctx, q)
	if err != nil {
		return err
	}
	return s.verifyRanking(ctx, qv, threshold, maxResults, q.Filter)
}

func (s *Service) verifyRanking(ctx context.Context, qv vector.Vector, threshold float64, maxResults int, filter vector.Filter) error {
	ctx, span := observability.StartSpan(ctx, s.tracer, "knowledge.verify",
		attribute.Float64("rank.threshold", threshold),
		attribute.Int("rank.max_results", maxResults),
	)
	defer span.End()

	err := diagnostics.AssertRankingAgreement(ctx, s.store, qv, threshold, maxResults, filter)
	observability.RecordError(span, err)
	if errors.Is(err, core.ErrRankingDisagreement) {
		s.logger.Warn("ranking paths disagree", "threshold", threshold, "max_results", maxResults, "error", err)
	}
	return err
}

func (s *Service) resolveLimits(q Query) (float64, int) {
	threshold := s.threshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	maxResults := q.MaxResults
	if maxResults == 0 {
		maxResults = s.maxResults
	}
	return threshold, maxResults
}

func (s *Service) queryVector(ctx context.Context, q Query) (vector.Vector, error) {
	if q.Vector != nil {
		return q.Vector, nil
	}
	if q.Text == "" {
		return nil, core.Configuration("query needs text or a vector")
	}

	ctx, span := observability.StartEmbedSpan(ctx, s.tracer, s.embedModel(), 1)
	defer span.End()

	start := time.Now()
	v, err := s.embedder.Embed(ctx, q.Text)
	observability.RecordError(span, err)
	monitor.Track(s.collector, monitor.OpEmbed, 1, start, err)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return v, nil
}
