// Package chunk splits document text into overlapping fixed-size segments.
package chunk

import (
	"iter"
	"strings"

	"github.com/hubenschmidt/go-ragcore/core"
)

// Chunk is a contiguous substring of a source document.
type Chunk struct {
	Content          string `json:"content"`
	SourceDocumentID string `json:"source_document_id"`
	SequenceIndex    int    `json:"sequence_index"`
	Offset           int    `json:"offset"`
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int {
	return len([]rune(c.Content))
}

// Splitter holds validated chunking parameters.
type Splitter struct {
	size    int
	overlap int
}

// NewSplitter validates size and overlap. Overlap must be in [0, size).
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, core.Configuration("chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, core.Configuration("chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, core.Configuration("chunk overlap %d must be smaller than size %d", overlap, size)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns a lazy sequence of chunks for one document. The sequence can be
// ranged over any number of times and yields the same chunks each time.
//
// Windows start at every multiple of size-overlap below the text length, so
// the last window may be short and may lie entirely inside its predecessor's
// overlap. Whitespace-only windows are skipped and do not consume a sequence
// index.
func (s *Splitter) Split(documentID, text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		runes := []rune(text)
		step := s.size - s.overlap
		seq := 0
		for offset := 0; offset < len(runes); offset += step {
			end := min(offset+s.size, len(runes))
			content := string(runes[offset:end])
			if strings.TrimSpace(content) != "" {
				c := Chunk{
					Content:          content,
					SourceDocumentID: documentID,
					SequenceIndex:    seq,
					Offset:           offset,
				}
				if !yield(c) {
					return
				}
				seq++
			}
		}
	}
}

// Split validates the parameters and splits text in one call.
func Split(documentID, text string, size, overlap int) (iter.Seq[Chunk], error) {
	s, err := NewSplitter(size, overlap)
	if err != nil {
		return nil, err
	}
	return s.Split(documentID, text), nil
}

// Collect materializes a chunk sequence.
func Collect(seq iter.Seq[Chunk]) []Chunk {
	var chunks []Chunk
	for c := range seq {
		chunks = append(chunks, c)
	}
	return chunks
}
