package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsets(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		size   int
		splits int
		want   []int
	}{
		{"production tile", 618, 168, 4, []int{0, 113, 226, 339, 450}},
		{"exact fit", 168, 168, 4, []int{0}},
		{"shorter than subtile", 100, 168, 4, []int{0}},
		{"even stride", 208, 168, 4, []int{0, 10, 20, 30, 40}},
		{"one pixel over", 169, 168, 4, []int{0, 1}},
		{"stride capped at size", 1000, 168, 4, []int{0, 168, 336, 504, 672, 832}},
		{"small subtile", 618, 64, 3, []int{0, 64, 128, 192, 256, 320, 384, 448, 512, 554}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Offsets(tt.n, tt.size, tt.splits))
		})
	}
}

func TestWindowsMarginRules(t *testing.T) {
	p := DefaultParams
	ws := Windows([]int{0}, []int{0, 113, 450}, p)
	require.Len(t, ws, 3)

	first, mid, last := ws[0], ws[1], ws[2]

	assert.Equal(t, Rect{X: 0, Y: 0, W: 182, H: 175}, first.Read)
	assert.Equal(t, 7, first.PadTop)
	assert.Zero(t, first.PadBottom)

	assert.Equal(t, Rect{X: 0, Y: 106, W: 182, H: 182}, mid.Read)
	assert.Zero(t, mid.PadTop+mid.PadBottom)

	assert.Equal(t, Rect{X: 0, Y: 443, W: 182, H: 175}, last.Read)
	assert.Equal(t, 7, last.PadBottom)

	for _, w := range ws {
		assert.Equal(t, p.StripWidth(), w.Read.H+w.PadTop+w.PadBottom, "padded height of row %d", w.Row)
		assert.Equal(t, Rect{X: 7, Y: w.Storage.Y, W: 168, H: 168}, w.Storage)
	}
}

func TestWindowsSingleRow(t *testing.T) {
	ws := Windows([]int{0}, []int{0}, DefaultParams)
	require.Len(t, ws, 1)
	assert.Equal(t, Rect{X: 0, Y: 0, W: 182, H: 168}, ws[0].Read)
	assert.Equal(t, 7, ws[0].PadTop)
	assert.Equal(t, 7, ws[0].PadBottom)
}

func TestWindowsCartesianOrder(t *testing.T) {
	ws := Windows([]int{0, 50}, []int{0, 40}, Params{SubtileSize: 64, Margin: 4, Splits: 2})
	require.Len(t, ws, 4)
	got := make([][2]int, len(ws))
	for i, w := range ws {
		got[i] = [2]int{w.Row, w.Col}
	}
	assert.Equal(t, [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, got)
	assert.Equal(t, 54, ws[1].Storage.X)
}

// Removing the margins from each read window must give back its storage
// window, and the storage windows must cover the strip without gaps or
// duplicates.
func TestBorderWindowsReconstructStorage(t *testing.T) {
	params := []Params{
		DefaultParams,
		{SubtileSize: 64, Margin: 4, Splits: 3},
		{SubtileSize: 32, Margin: 2, Splits: 5},
	}
	for _, p := range params {
		for _, h := range []int{p.SubtileSize, p.SubtileSize + 40, 3*p.SubtileSize + 17, 618, 1000, 2000} {
			if h < p.SubtileSize {
				continue
			}
			ws, err := BorderWindows(h, p)
			require.NoError(t, err, "h=%d params=%+v", h, p)

			covered := make([]bool, h)
			seen := map[int]bool{}
			for _, w := range ws {
				start, end := w.CoreRows(p)
				assert.Equal(t, w.Storage.Y, start)
				assert.Equal(t, w.Storage.Y+w.Storage.H, end)
				assert.Equal(t, w.Storage.X, w.Read.X+p.Margin)
				assert.Equal(t, w.Storage.W, w.Read.W-2*p.Margin)

				assert.False(t, seen[w.Storage.Y], "duplicate storage window at %d", w.Storage.Y)
				seen[w.Storage.Y] = true
				for r := start; r < end; r++ {
					covered[r] = true
				}
			}
			for r, ok := range covered {
				assert.True(t, ok, "row %d not covered (h=%d params=%+v)", r, h, p)
			}
		}
	}
}

func TestBorderWindowsRejectsBadInput(t *testing.T) {
	_, err := BorderWindows(100, DefaultParams)
	assert.Error(t, err)

	_, err = BorderWindows(170, DefaultParams)
	assert.Error(t, err, "second window would read above the strip")

	_, err = BorderWindows(618, Params{SubtileSize: 167, Margin: 7, Splits: 4})
	assert.Error(t, err)
}

func TestParamsDerived(t *testing.T) {
	assert.Equal(t, 84, DefaultParams.Half())
	assert.Equal(t, 91, DefaultParams.EdgeWidth())
	assert.Equal(t, 182, DefaultParams.StripWidth())
}
