package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/hubenschmidt/go-ragcore/core"
	"github.com/hubenschmidt/go-ragcore/knowledge"
	"github.com/hubenschmidt/go-ragcore/vector"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.knowledge.Ingest(r.Context(), knowledge.Document{
		ID:       req.ID,
		Text:     req.Text,
		Category: req.Category,
		Metadata: req.Metadata,
	}, knowledge.IngestOptions{StartIndex: req.StartIndex, Replace: req.Replace})
	if err != nil {
		s.writeError(w, err)
		return
	}

	ids := make([]int64, len(res.Records))
	for i, rec := range res.Records {
		ids[i] = rec.ID
	}
	writeJSON(w, http.StatusCreated, IngestResponse{DocumentID: res.DocumentID, Chunks: res.Chunks, RecordIDs: ids})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.knowledge.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if n == 0 {
		s.writeError(w, core.NewError("delete document", core.ErrNotFound, fmt.Errorf("no records for document %q", id)))
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results, err := s.knowledge.Search(r.Context(), req.toQuery())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if results == nil {
		results = []vector.ScoredRecord{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.knowledge.Verify(r.Context(), req.toQuery()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"consistent": true})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	answer, err := s.knowledge.Ask(r.Context(), req.Question, req.toQuery())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AskResponse{Answer: answer.Text, Sources: answer.Sources})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics())
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrConfiguration),
		errors.Is(err, core.ErrEmbeddingDimension),
		errors.Is(err, core.ErrDegenerateVector):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRankingDisagreement):
		return http.StatusConflict
	case errors.Is(err, core.ErrEmbeddingProvider), errors.Is(err, core.ErrEmbeddingFormat):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}

	resp := ErrorResponse{Error: err.Error()}
	var ie *core.IngestError
	if errors.As(err, &ie) {
		resp.ChunkIndex = &ie.ChunkIndex
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

var _ Knowledge = (*knowledge.Service)(nil)
