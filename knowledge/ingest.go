package knowledge

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hubenschmidt/go-ragcore/chunk"
	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/embedding"
	"github.com/hubenschmidt/go-ragcore/monitor"
	"github.com/hubenschmidt/go-ragcore/observability"
	"github.com/hubenschmidt/go-ragcore/vector"
)

// Document is raw text to ingest. An empty ID is replaced by a random UUID.
type Document struct {
	ID       string
	Text     string
	Category string
	Metadata map[string]string
}

type IngestOptions struct {
	// StartIndex skips chunks before it, resuming a failed ingestion.
	StartIndex int
	// Replace deletes the document's existing records first.
	Replace bool
}

type IngestResult struct {
	DocumentID string
	Chunks     int
	Records    []vector.Record
}

// Ingest chunks, embeds and inserts doc in chunk order, stopping at the first
// failure. The returned *core.IngestError names the first chunk that was not
// stored; chunks before it stay committed, so passing that index as
// StartIndex resumes the document.
func (s *Service) Ingest(ctx context.Context, doc Document, opts IngestOptions) (*IngestResult, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if opts.StartIndex < 0 {
		return nil, core.Configuration("start index must not be negative, got %d", opts.StartIndex)
	}

	ctx, span := observability.StartIngestSpan(ctx, s.tracer, doc.ID)
	defer span.End()

	start := time.Now()
	result, err := s.ingest(ctx, doc, opts)
	observability.RecordError(span, err)
	monitor.Track(s.collector, monitor.OpIngest, len(result.Records), start, err)
	if err != nil {
		s.logger.Error("ingest failed", "document_id", doc.ID, "error", err)
		return result, err
	}

	s.logger.Info("ingested document", "document_id", doc.ID, "chunks", result.Chunks, "records", len(result.Records))
	return result, nil
}

func (s *Service) ingest(ctx context.Context, doc Document, opts IngestOptions) (*IngestResult, error) {
	result := &IngestResult{DocumentID: doc.ID}

	if opts.Replace {
		n, err := s.store.DeleteByFile(ctx, doc.ID)
		if err != nil {
			return result, &core.IngestError{DocumentID: doc.ID, ChunkIndex: opts.StartIndex, Err: err}
		}
		s.logger.Debug("replaced document", "document_id", doc.ID, "deleted", n)
	}

	chunks := chunk.Collect(s.splitter.Split(doc.ID, doc.Text))
	result.Chunks = len(chunks)
	if opts.StartIndex > len(chunks) {
		return result, core.Configuration("start index %d beyond %d chunks", opts.StartIndex, len(chunks))
	}

	pending := chunks[opts.StartIndex:]
	for len(pending) > 0 {
		batch := pending[:min(s.batchSize, len(pending))]
		pending = pending[len(batch):]

		vecs, err := s.embedChunks(ctx, batch)
		if err != nil {
			return result, err
		}

		for i, c := range batch {
			meta := chunkMetadata(doc, c)
			rec, err := s.insert(ctx, c.Content, vecs[i], meta, doc.Category)
			if err != nil {
				return result, &core.IngestError{DocumentID: doc.ID, ChunkIndex: c.SequenceIndex, Err: err}
			}
			result.Records = append(result.Records, rec)
			s.logger.Debug("stored chunk", "document_id", doc.ID, "chunk", c.SequenceIndex, "record_id", rec.ID)
		}
	}
	return result, nil
}

// embedChunks embeds one batch of chunks.
func (s *Service) embedChunks(ctx context.Context, batch []chunk.Chunk) ([]vector.Vector, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Content
	}

	ctx, span := observability.StartEmbedSpan(ctx, s.tracer, s.embedModel(), len(texts))
	defer span.End()

	start := time.Now()
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	observability.RecordError(span, err)
	monitor.Track(s.collector, monitor.OpEmbed, len(texts), start, err)
	if err == nil && len(vecs) != len(texts) {
		err = core.FormatError("embed", "expected %d embeddings, got %d", len(texts), len(vecs))
	}
	if err != nil {
		// Nothing in the batch was stored, so resumption starts at its first chunk.
		var be *embedding.BatchError
		if errors.As(err, &be) && be.Index > 0 && be.Index < len(batch) {
			err = fmt.Errorf("chunk %d: %w", batch[be.Index].SequenceIndex, be.Err)
		}
		return nil, &core.IngestError{DocumentID: batch[0].SourceDocumentID, ChunkIndex: batch[0].SequenceIndex, Err: err}
	}
	return vecs, nil
}

func (s *Service) insert(ctx context.Context, content string, v vector.Vector, meta vector.Metadata, category string) (vector.Record, error) {
	start := time.Now()
	rec, err := s.store.Insert(ctx, content, v, meta, category)
	monitor.Track(s.collector, monitor.OpInsert, 1, start, err)
	return rec, err
}

func chunkMetadata(doc Document, c chunk.Chunk) vector.Metadata {
	meta := make(vector.Metadata, len(doc.Metadata)+2)
	maps.Copy(meta, doc.Metadata)
	meta[vector.MetaFileID] = doc.ID
	meta[vector.MetaChunkIndex] = strconv.Itoa(c.SequenceIndex)
	return meta
}

// ChunkKey identifies a chunk across re-ingestions, for callers that
// deduplicate at-least-once ingestion.
func ChunkKey(r vector.Record) string {
	return strings.Join([]string{r.Metadata.FileID(), strconv.Itoa(r.Metadata.ChunkIndex())}, "#")
}

