package rtp

import (
	"math"
	"sort"
)

// Stats summarizes per-trial samples.
type Stats struct {
	Mean   float64 `json:"mean"`
	Var    float64 `json:"variance"`
	StdDev float64 `json:"stddev"`
	P01    float64 `json:"p01"`
	P50    float64 `json:"p50"`
	P99    float64 `json:"p99"`
}

// calcStats computes mean, population variance and interpolated percentiles.
func calcStats(xs []float64) Stats {
	n := len(xs)
	if n == 0 {
		return Stats{}
	}
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean := sum / float64(n)

	var acc float64
	for _, v := range xs {
		d := v - mean
		acc += d * d
	}
	variance := acc / float64(n)

	cp := append([]float64(nil), xs...)
	sort.Float64s(cp)
	percentile := func(p float64) float64 {
		if n == 1 || p <= 0 {
			return cp[0]
		}
		if p >= 1 {
			return cp[n-1]
		}
		pos := p * float64(n-1)
		i := int(math.Floor(pos))
		f := pos - float64(i)
		if i+1 >= n {
			return cp[i]
		}
		return cp[i]*(1-f) + cp[i+1]*f
	}

	return Stats{
		Mean:   mean,
		Var:    variance,
		StdDev: math.Sqrt(variance),
		P01:    percentile(0.01),
		P50:    percentile(0.50),
		P99:    percentile(0.99),
	}
}
