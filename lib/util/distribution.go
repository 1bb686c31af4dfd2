package util

import (
	"fmt"
	"math"
)

// Stats summarizes a set of values
type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation and range of values
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		s.Min = math.Min(s.Min, v)
		s.Max = math.Max(s.Max, v)
	}
	s.Mean = sum / float64(len(values))

	var squares float64
	for _, v := range values {
		squares += (v - s.Mean) * (v - s.Mean)
	}
	s.StdDeviation = math.Sqrt(squares / float64(len(values)))

	s.MinMaxRatio = 1.0
	if s.Max > 0 {
		s.MinMaxRatio = s.Min / s.Max
	}
	return s
}

// DistributionStats rates how evenly load is spread over a set of targets
type DistributionStats struct {
	Stats
	// DistributionQuality is 1 for a perfectly even spread and approaches 0
	// as the spread gets worse
	DistributionQuality float64 `json:"distribution_quality"`
}

// NewDistributionStats rates the spread of loads (e.g. answered requests per
// backend). The rating averages 1-CV (coefficient of variation, capped at 1)
// and the min/max ratio.
func NewDistributionStats(loads []float64) DistributionStats {
	stats := NewStats(loads)

	var cv float64
	if stats.Mean > 0 {
		cv = stats.StdDeviation / stats.Mean
	}

	return DistributionStats{
		Stats:               stats,
		DistributionQuality: (1.0-math.Min(1.0, cv))*0.5 + stats.MinMaxRatio*0.5,
	}
}

func (d DistributionStats) String() string {
	return fmt.Sprintf("mean %.1f, std %.1f, min %.0f, max %.0f, quality %.3f",
		d.Mean, d.StdDeviation, d.Min, d.Max, d.DistributionQuality)
}
