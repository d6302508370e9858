package monitor

import (
	"sync"
	"time"
)

type MetricsCollector interface {
	Record(metrics OperationMetrics)
	Flush() Summary
}

// Track records one operation started at start. Pass the operation's error.
func Track(c MetricsCollector, op string, items int, start time.Time, err error) {
	m := OperationMetrics{
		Operation: op,
		Items:     items,
		Duration:  time.Since(start),
		Success:   err == nil,
	}
	if err != nil {
		m.Error = err.Error()
	}
	c.Record(m)
}

type InMemoryCollector struct {
	mu        sync.RWMutex
	stats     map[string]OperationStats
	startTime time.Time
}

func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		stats:     make(map[string]OperationStats),
		startTime: time.Now(),
	}
}

func (c *InMemoryCollector) Record(m OperationMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats[m.Operation]
	s.Count++
	s.Items += m.Items
	s.TotalDuration += m.Duration
	s.MaxDuration = max(s.MaxDuration, m.Duration)
	if !m.Success {
		s.Failures++
		s.LastError = m.Error
	}
	c.stats[m.Operation] = s
}

func (c *InMemoryCollector) Flush() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ops := make(map[string]OperationStats, len(c.stats))
	for k, v := range c.stats {
		ops[k] = v
	}

	return Summary{
		Operations: ops,
		StartTime:  c.startTime,
		EndTime:    time.Now(),
	}
}

func (c *InMemoryCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = make(map[string]OperationStats)
	c.startTime = time.Now()
}

type NoOpCollector struct{}

func NewNoOpCollector() *NoOpCollector {
	return &NoOpCollector{}
}

func (c *NoOpCollector) Record(metrics OperationMetrics) {}

func (c *NoOpCollector) Flush() Summary {
	return Summary{}
}
