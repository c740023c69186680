package gateway

import (
	"math"
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps the last N command latencies (receipt to applied on
// the chart loop) and reports percentiles.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []float64 // milliseconds, circular
	next    int
	full    bool
}

// NewLatencyTracker creates a tracker holding capacity samples.
func NewLatencyTracker(capacity int) *LatencyTracker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LatencyTracker{samples: make([]float64, capacity)}
}

// Record adds one sample.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	lt.samples[lt.next] = float64(d.Microseconds()) / 1000
	lt.next++
	if lt.next == len(lt.samples) {
		lt.next = 0
		lt.full = true
	}
	lt.mu.Unlock()
}

// Percentiles returns p50, p95 and p99 in milliseconds, or zeros without samples.
func (lt *LatencyTracker) Percentiles() (p50, p95, p99 float64) {
	lt.mu.Lock()
	n := lt.next
	if lt.full {
		n = len(lt.samples)
	}
	sorted := slices.Clone(lt.samples[:n])
	lt.mu.Unlock()

	if len(sorted) == 0 {
		return 0, 0, 0
	}
	slices.Sort(sorted)
	return rank(sorted, 0.50), rank(sorted, 0.95), rank(sorted, 0.99)
}

// rank is the nearest-rank percentile of sorted.
func rank(sorted []float64, p float64) float64 {
	i := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[min(max(i, 0), len(sorted)-1)]
}
