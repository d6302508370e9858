package vector

import (
	"encoding/json"
	"slices"
	"strconv"

	"github.com/hubenschmidt/go-ragcore/core"
)

// Well-known metadata keys written at ingestion time.
const (
	MetaFileID     = "fileId"
	MetaChunkIndex = "chunkIndex"
)

// Metadata holds the non-embedding attributes of a record. It is used only
// for equality filtering, never for ranking.
type Metadata map[string]string

// Clone returns a copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// FileID returns the originating document id.
func (m Metadata) FileID() string {
	return m[MetaFileID]
}

// ChunkIndex returns the chunk position recorded at ingestion, or -1.
func (m Metadata) ChunkIndex() int {
	n, err := strconv.Atoi(m[MetaChunkIndex])
	if err != nil {
		return -1
	}
	return n
}

// Filter is an exact-match predicate over record metadata: a record passes
// when every key in the filter is present with an equal value. The empty
// filter matches everything.
//
// Stores apply a filter to the candidate set before thresholding and before
// the maxResults cap.
type Filter map[string]string

// FileFilter restricts results to records of one originating document.
func FileFilter(fileID string) Filter {
	return Filter{MetaFileID: fileID}
}

// Matches evaluates the predicate against m.
func (f Filter) Matches(m Metadata) bool {
	for k, want := range f {
		got, ok := m[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Keys returns the filter keys in sorted order.
func (f Filter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Validate rejects keys that cannot be expressed as a plain metadata path.
func (f Filter) Validate() error {
	for k := range f {
		if !validKey(k) {
			return core.Configuration("invalid metadata filter key %q", k)
		}
	}
	return nil
}

// JSON encodes the filter as a containment document ("{}" when empty).
func (f Filter) JSON() (string, error) {
	if len(f) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]string(f))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func validKey(k string) bool {
	if k == "" {
		return false
	}
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
