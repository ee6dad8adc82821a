package preprocess

import (
	"slices"

	"gonum.org/v1/gonum/stat"
)

// median sorts xs in place and returns its middle value, averaging the middle
// pair for even lengths. Empty input gives 0.
func median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	slices.Sort(xs)
	lower := stat.Quantile(0.5, stat.Empirical, xs, nil)
	if n%2 == 1 {
		return lower
	}
	return (lower + xs[n/2]) / 2
}
