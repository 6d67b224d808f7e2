package trainer

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary is the aggregate view of a report's time series.
type Summary struct {
	Steps         int     `json:"steps"`
	Mean          float64 `json:"mean"`
	StdDev        float64 `json:"std_dev"`
	Min           float64 `json:"min"`
	Median        float64 `json:"median"`
	P95           float64 `json:"p95"`
	Max           float64 `json:"max"`
	SamplesPerSec float64 `json:"samples_per_sec"`
	Total         float64 `json:"total"`
}

// Summarize computes statistics over the per-step times of r. SamplesPerSec
// uses the mean step time.
func Summarize(r Report, batchSize int) Summary {
	s := Summary{Steps: len(r.TimeSeries), Total: r.Total}
	if s.Steps == 0 {
		return s
	}
	sorted := append([]float64(nil), r.TimeSeries...)
	sort.Float64s(sorted)

	s.Mean = stat.Mean(sorted, nil)
	if s.Steps > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	s.Min = floats.Min(sorted)
	s.Max = floats.Max(sorted)
	s.Median = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P95 = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	if s.Mean > 0 {
		s.SamplesPerSec = float64(batchSize) / s.Mean
	}
	return s
}
