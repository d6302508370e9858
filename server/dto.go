package server

import (
	"github.com/hubenschmidt/go-ragcore/knowledge"
	"github.com/hubenschmidt/go-ragcore/vector"
)

type IngestRequest struct {
	ID         string            `json:"id,omitempty"`
	Text       string            `json:"text"`
	Category   string            `json:"category,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	StartIndex int               `json:"start_index,omitempty"`
	Replace    bool              `json:"replace,omitempty"`
}

type IngestResponse struct {
	DocumentID string  `json:"document_id"`
	Chunks     int     `json:"chunks"`
	RecordIDs  []int64 `json:"record_ids"`
}

// QueryRequest accepts the embedding in either encoding: a JSON number
// array or the "[a,b,c]" text form as a JSON string.
type QueryRequest struct {
	Query      string        `json:"query,omitempty"`
	Vector     vector.Vector `json:"vector,omitempty"`
	Threshold  *float64      `json:"threshold,omitempty"`
	MaxResults int           `json:"max_results,omitempty"`
	Filter     vector.Filter `json:"filter,omitempty"`
}

func (q QueryRequest) toQuery() knowledge.Query {
	return knowledge.Query{
		Text:       q.Query,
		Vector:     q.Vector,
		Threshold:  q.Threshold,
		MaxResults: q.MaxResults,
		Filter:     q.Filter,
	}
}

type SearchResponse struct {
	Results []vector.ScoredRecord `json:"results"`
}

type AskRequest struct {
	QueryRequest
	Question string `json:"question"`
}

type AskResponse struct {
	Answer  string                `json:"answer"`
	Sources []vector.ScoredRecord `json:"sources"`
}

type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// ChunkIndex is set for failed ingestions: the index to resume from.
	ChunkIndex *int `json:"chunk_index,omitempty"`
}
