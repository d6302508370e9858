package core

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration       = errors.New("invalid configuration")
	ErrEmbeddingProvider   = errors.New("embedding provider failed")
	ErrEmbeddingFormat     = errors.New("malformed embedding response")
	ErrEmbeddingDimension  = errors.New("embedding dimension mismatch")
	ErrDegenerateVector    = errors.New("embedding has zero magnitude")
	ErrStore               = errors.New("store operation failed")
	ErrRankingDisagreement = errors.New("ranking paths disagree")
	ErrNotFound            = errors.New("not found")
)

// Error is an operation failure classified by one of the sentinel kinds above.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Kind == nil || errors.Is(e.Err, e.Kind):
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func NewError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Configuration reports invalid parameters such as chunk size or overlap.
func Configuration(format string, args ...any) error {
	return &Error{Op: "configure", Kind: ErrConfiguration, Err: fmt.Errorf(format, args...)}
}

// Store wraps a persistence failure.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DimensionError
	if errors.As(err, &de) || errors.Is(err, ErrDegenerateVector) {
		return err
	}
	return &Error{Op: op, Kind: ErrStore, Err: err}
}

// DimensionError is returned whenever a vector length disagrees with the
// configured model dimensionality, or two vectors being compared differ in length.
type DimensionError struct {
	Expected int
	Actual   int
	RecordID int64
}

func (e *DimensionError) Error() string {
	if e.RecordID > 0 {
		return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d (record %d)", e.Expected, e.Actual, e.RecordID)
	}
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error {
	return ErrEmbeddingDimension
}

// CheckDimension returns a *DimensionError when actual != expected.
func CheckDimension(expected, actual int) error {
	if expected != actual {
		return &DimensionError{Expected: expected, Actual: actual}
	}
	return nil
}

// ProviderError is a transport or non-success response from an embedding provider.
// Callers decide whether to retry; the client never retries internally.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: provider returned status %d: %s", e.Provider, e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: provider request failed: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s: provider request failed: %s", e.Provider, e.Message)
	}
}

func (e *ProviderError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrEmbeddingProvider}
	}
	return []error{ErrEmbeddingProvider, e.Err}
}

// Retryable reports whether the failure is transient: timeouts, throttling and 5xx.
func (e *ProviderError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == 408 || e.StatusCode == 429 || e.StatusCode >= 500
}

// FormatError reports an empty or unparseable provider payload.
func FormatError(provider string, format string, args ...any) error {
	return &Error{Op: provider, Kind: ErrEmbeddingFormat, Err: fmt.Errorf(format, args...)}
}

// IngestError pins a failed ingestion to the chunk that broke it so the
// caller can resume from ChunkIndex.
type IngestError struct {
	DocumentID string
	ChunkIndex int
	Err        error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("ingest document %s: chunk %d: %v", e.DocumentID, e.ChunkIndex, e.Err)
}

func (e *IngestError) Unwrap() error {
	return e.Err
}
