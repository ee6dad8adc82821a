package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileseam/internal/types"
)

func TestAlignMatchesSharedDates(t *testing.T) {
	a := []int{5, 20, 35, 50, 65, 80, 95}
	b := []int{5, 12, 20, 35, 50, 65, 80, 200}

	al, err := Align(a, b)
	require.NoError(t, err)
	assert.False(t, al.Truncated)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, al.KeepA)
	assert.Equal(t, []int{0, 2, 3, 4, 5, 6}, al.KeepB)
	assert.Equal(t, Pick(a, al.KeepA), Pick(b, al.KeepB))
}

func TestAlignFallsBackToTruncation(t *testing.T) {
	a := []int{1, 11, 21, 31, 41, 51, 61}
	b := []int{2, 12, 22, 32, 42}

	al, err := Align(a, b)
	require.NoError(t, err)
	assert.True(t, al.Truncated)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, al.KeepA)
	assert.Equal(t, al.KeepA, al.KeepB)
}

// Disjoint series of at least five dates always truncate to equal lengths.
func TestAlignDisjointEqualLengths(t *testing.T) {
	for na := 5; na < 12; na++ {
		for nb := 5; nb < 12; nb++ {
			a := make([]int, na)
			b := make([]int, nb)
			for i := range a {
				a[i] = 2 * i
			}
			for i := range b {
				b[i] = 2*i + 1
			}
			al, err := Align(a, b)
			require.NoError(t, err)
			assert.Len(t, al.KeepA, min(na, nb))
			assert.Len(t, al.KeepB, min(na, nb))
		}
	}
}

func TestAlignEmpty(t *testing.T) {
	_, err := Align(nil, []int{1, 2, 3})
	assert.Equal(t, types.ErrCodePairEmptyTemporal, types.CodeOf(err))
}

func TestAlignFewSharedDatesTruncates(t *testing.T) {
	// Four shared dates is below the minimum, so positional truncation wins
	// even though matching would produce a non-empty result.
	a := []int{10, 20, 30, 40, 50, 60}
	b := []int{10, 20, 30, 40, 55, 65}
	al, err := Align(a, b)
	require.NoError(t, err)
	assert.True(t, al.Truncated)
	assert.Len(t, al.KeepA, 6)
}

func TestReconcileRadar(t *testing.T) {
	tests := []struct {
		na, nb       int
		wantA, wantB []int
	}{
		{12, 12, prefix(12), prefix(12)},
		{12, 6, []int{0, 2, 4, 6, 8, 10}, prefix(6)},
		{6, 12, prefix(6), []int{0, 2, 4, 6, 8, 10}},
		{12, 4, []int{0, 3, 6, 9}, prefix(4)},
		{4, 6, prefix(4), []int{0, 1, 3, 5}},
		{6, 4, []int{0, 1, 3, 5}, prefix(4)},
	}
	for _, tt := range tests {
		a, b, err := ReconcileRadar(tt.na, tt.nb)
		require.NoError(t, err, "%d/%d", tt.na, tt.nb)
		assert.Equal(t, tt.wantA, a, "%d/%d", tt.na, tt.nb)
		assert.Equal(t, tt.wantB, b, "%d/%d", tt.na, tt.nb)
		assert.Len(t, b, len(a))
	}
}

func TestReconcileRadarUnsupported(t *testing.T) {
	for _, pair := range [][2]int{{12, 5}, {8, 4}, {3, 12}} {
		_, _, err := ReconcileRadar(pair[0], pair[1])
		assert.Equal(t, types.ErrCodePairUnsupportedCadence, types.CodeOf(err), "%v", pair)
	}
}
