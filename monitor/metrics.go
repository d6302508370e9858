package monitor

import "time"

// Operation names recorded by the knowledge service.
const (
	OpIngest = "ingest"
	OpEmbed  = "embed"
	OpInsert = "insert"
	OpSearch = "search"
	OpVerify = "verify"
	OpDelete = "delete"
	OpAsk    = "ask"
)

// OperationMetrics is one finished call.
type OperationMetrics struct {
	Operation string        `json:"operation"`
	Items     int           `json:"items"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// OperationStats aggregates every call of one operation.
type OperationStats struct {
	Count         int           `json:"count"`
	Failures      int           `json:"failures"`
	Items         int           `json:"items"`
	TotalDuration time.Duration `json:"total_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastError     string        `json:"last_error,omitempty"`
}

// MeanDuration returns the average call duration.
func (s OperationStats) MeanDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

type Summary struct {
	Operations map[string]OperationStats `json:"operations"`
	StartTime  time.Time                 `json:"start_time"`
	EndTime    time.Time                 `json:"end_time"`
}
