package logging

import (
	"sync"
	"time"
)

// Clock abstracts wall-clock reads so tests can pin time.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the real wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Metrics is a small registry of monotonic counters and last-value gauges.
// The zero value is ready to use; a nil *Metrics ignores every update.
type Metrics struct {
	mu     sync.Mutex
	values map[string]uint64
}

func NewMetrics() *Metrics {
	return &Metrics{values: make(map[string]uint64)}
}

// Add increments the counter stored under key.
func (m *Metrics) Add(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	if m.values == nil {
		m.values = make(map[string]uint64)
	}
	m.values[key] += delta
	m.mu.Unlock()
}

// Store overwrites the gauge stored under key.
func (m *Metrics) Store(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.mu.Lock()
	if m.values == nil {
		m.values = make(map[string]uint64)
	}
	m.values[key] = value
	m.mu.Unlock()
}

// Value returns the current value for key.
func (m *Metrics) Value(key string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key]
}

// Snapshot copies every metric.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
