package stress

import (
	"slices"
	"sync"
	"time"
)

const (
	p50Percentile     = 50
	p95Percentile     = 95
	p99Percentile     = 99
	percentToFraction = 100.0
)

// LatencySummary describes how long one kind of call took.
type LatencySummary struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
	Max   time.Duration `json:"max"`
}

// latencyRecorder collects call durations from many goroutines.
type latencyRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
}

func newLatencyRecorder(capacity int) *latencyRecorder {
	return &latencyRecorder{samples: make([]time.Duration, 0, capacity)}
}

func (r *latencyRecorder) record(d time.Duration) {
	r.mu.Lock()
	r.samples = append(r.samples, d)
	r.mu.Unlock()
}

func (r *latencyRecorder) summary() LatencySummary {
	r.mu.Lock()
	samples := slices.Clone(r.samples)
	r.mu.Unlock()

	if len(samples) == 0 {
		return LatencySummary{}
	}

	slices.Sort(samples)

	var sum time.Duration
	for _, s := range samples {
		sum += s
	}

	return LatencySummary{
		Count: len(samples),
		Min:   samples[0],
		Avg:   sum / time.Duration(len(samples)),
		P50:   percentile(samples, p50Percentile),
		P95:   percentile(samples, p95Percentile),
		P99:   percentile(samples, p99Percentile),
		Max:   samples[len(samples)-1],
	}
}

// percentile expects sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	index := int(float64(len(sorted)) * p / percentToFraction)
	if index >= len(sorted) {
		index = len(sorted) - 1
	}

	return sorted[index]
}
