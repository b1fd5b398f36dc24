package outcome

import (
	"errors"
	"math"
)

var ErrInvalidWeights = errors.New("invalid weights; need at least one positive finite weight")

// IntN draws uniformly from [0, n).
func IntN(rng RandomSource, n int) int {
	if n <= 0 {
		return 0
	}
	if rng == nil {
		rng = DefaultRNG()
	}
	i := int(rng.Float64() * float64(n))
	if i >= n {
		i = n - 1
	}
	return i
}

// Pick draws an index proportionally to weights.
func Pick(rng RandomSource, weights []float64) (int, error) {
	if err := validateWeights(weights); err != nil {
		return -1, err
	}
	if rng == nil {
		rng = DefaultRNG()
	}
	var total float64
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	r := rng.Float64() * total
	last := -1
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		last = i
		if r < w {
			return i, nil
		}
		r -= w
	}
	// float rounding at the tail lands on the last positive weight
	return last, nil
}

func validateWeights(weights []float64) error {
	ok := false
	for _, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return ErrInvalidWeights
		}
		if w > 0 {
			ok = true
		}
	}
	if !ok {
		return ErrInvalidWeights
	}
	return nil
}
