package temporal

import (
	"fmt"

	"tileseam/internal/types"
)

// radarSubsample maps (longer, shorter) observation counts to the indices of
// the longer series that line up with the shorter one.
var radarSubsample = map[[2]int][]int{
	{12, 6}: {0, 2, 4, 6, 8, 10},
	{12, 4}: {0, 3, 6, 9},
	{6, 4}:  {0, 1, 3, 5},
}

// ReconcileRadar returns the radar date indices to keep from a series of na
// observations and one of nb observations so both end up the same length.
// Equal counts keep everything. Pairs outside the 12/6/4 table are rejected.
func ReconcileRadar(na, nb int) (keepA, keepB []int, err error) {
	if na == nb {
		return prefix(na), prefix(nb), nil
	}
	if na > nb {
		if idx, ok := radarSubsample[[2]int{na, nb}]; ok {
			return append([]int(nil), idx...), prefix(nb), nil
		}
	} else if idx, ok := radarSubsample[[2]int{nb, na}]; ok {
		return prefix(na), append([]int(nil), idx...), nil
	}
	return nil, nil, types.NewAppErrorWithDetails(types.ErrCodePairUnsupportedCadence,
		fmt.Sprintf("cannot reconcile radar series of %d and %d observations", na, nb), nil,
		map[string]any{"radar_a": na, "radar_b": nb})
}
