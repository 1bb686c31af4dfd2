package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Histogram
// ----------------------------------------------------------------------------

// Histogram counts samples in equally wide bins. Samples at or above
// bins*width land in a single overflow bin. It backs the response time
// histograms of the statistics exports.
//
// All methods are safe for concurrent use.
type Histogram struct {
	mu      sync.RWMutex
	width   int64
	buckets []int64 // last bucket collects the overflow
	count   int64
	sum     int64
	max     int64
}

// NewHistogram creates a histogram with bins bins of the given width
func NewHistogram(width int64, bins int) *Histogram {
	if width <= 0 {
		width = 1
	}
	if bins <= 0 {
		bins = 1
	}
	return &Histogram{
		width:   width,
		buckets: make([]int64, bins+1),
	}
}

// AddSample records a sample, negative samples count as zero
func (h *Histogram) AddSample(v int64) {
	if v < 0 {
		v = 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	idx := int(v / h.width)
	if idx >= len(h.buckets)-1 {
		idx = len(h.buckets) - 1
	}
	h.buckets[idx]++
	h.count++
	h.sum += v
	if v > h.max {
		h.max = v
	}
}

// Count returns the number of samples
func (h *Histogram) Count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Mean returns the exact mean of all samples
func (h *Histogram) Mean() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 {
		return 0
	}
	return float64(h.sum) / float64(h.count)
}

// Max returns the largest sample
func (h *Histogram) Max() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.max
}

// Percentile estimates the p-th percentile (0-100) as the middle of the bin
// it falls into. For the overflow bin the largest sample is returned.
func (h *Histogram) Percentile(p float64) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * p / 100.0))
	if target == 0 {
		target = 1
	}

	var cumulative int64
	for i, n := range h.buckets {
		cumulative += n
		if cumulative < target {
			continue
		}
		if i == len(h.buckets)-1 {
			return h.max
		}
		return int64(i)*h.width + h.width/2
	}
	return h.max
}

// Bucket is one bin of a histogram
type Bucket struct {
	// Lower is the inclusive lower bound of the bin
	Lower int64
	// Upper is the exclusive upper bound, -1 for the overflow bin
	Upper int64
	Count int64
}

// Buckets returns a snapshot of all bins, including empty ones
func (h *Histogram) Buckets() []Bucket {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Bucket, len(h.buckets))
	for i, n := range h.buckets {
		out[i] = Bucket{Lower: int64(i) * h.width, Upper: int64(i+1) * h.width, Count: n}
	}
	out[len(out)-1].Upper = -1
	return out
}

// Reset drops all samples
func (h *Histogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.buckets)
	h.count = 0
	h.sum = 0
	h.max = 0
}
