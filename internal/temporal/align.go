// Package temporal synchronizes the date axes of two adjacent tiles before
// their observations are merged into one strip.
package temporal

import (
	"fmt"

	"tileseam/internal/types"
)

// MinAlignedDates is the smallest series date-matching may leave behind.
// Below it, both series are truncated positionally instead.
const MinAlignedDates = 5

// Alignment lists the indices kept from each series. KeepA and KeepB always
// have equal length.
type Alignment struct {
	KeepA     []int
	KeepB     []int
	Truncated bool // positional truncation was used instead of date matching
}

// Align matches day-of-year values between a and b. If dropping unmatched
// dates would leave either series with fewer than MinAlignedDates entries,
// both are truncated to the shorter length. An empty result is a pair error.
func Align(a, b []int) (Alignment, error) {
	keepA := matched(a, b)
	keepB := matched(b, a)

	var out Alignment
	if len(keepA) < MinAlignedDates || len(keepB) < MinAlignedDates {
		n := min(len(a), len(b))
		out = Alignment{KeepA: prefix(n), KeepB: prefix(n), Truncated: true}
	} else {
		out = Alignment{KeepA: keepA, KeepB: keepB}
	}

	if len(out.KeepA) == 0 || len(out.KeepB) == 0 {
		return Alignment{}, types.NewAppErrorWithDetails(types.ErrCodePairEmptyTemporal,
			"no dates left after aligning tile and neighbor", nil,
			map[string]any{"dates_a": len(a), "dates_b": len(b)})
	}
	if len(out.KeepA) != len(out.KeepB) {
		// Date matching on series with repeated days can keep a different
		// number of entries on each side.
		return Alignment{}, types.NewAppErrorWithDetails(types.ErrCodePairEmptyTemporal,
			fmt.Sprintf("aligned series differ in length: %d vs %d", len(out.KeepA), len(out.KeepB)), nil,
			map[string]any{"dates_a": len(a), "dates_b": len(b)})
	}
	return out, nil
}

// matched returns the indices of xs whose value appears in ys.
func matched(xs, ys []int) []int {
	set := make(map[int]struct{}, len(ys))
	for _, y := range ys {
		set[y] = struct{}{}
	}
	out := make([]int, 0, len(xs))
	for i, x := range xs {
		if _, ok := set[x]; ok {
			out = append(out, i)
		}
	}
	return out
}

func prefix(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Pick returns xs[i] for each i in idx.
func Pick(xs []int, idx []int) []int {
	out := make([]int, len(idx))
	for i, j := range idx {
		out[i] = xs[j]
	}
	return out
}
