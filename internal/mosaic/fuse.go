// Package mosaic fuses a tile's overlapping prediction patches into one
// raster. Patches are blended with Gaussian weights, patches that disagree
// with the rest of the tile in its dominant bias direction are rejected, and
// a small cleanup pass removes speckle before the final thresholds.
package mosaic

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"tileseam/internal/raster"
	"tileseam/internal/tiles"
	"tileseam/internal/types"
)

const (
	interiorSigma = 28.0
	borderSigma   = 35.0

	scale         = 100 // patch probabilities to percent
	maxValid      = 100
	rangeCutoff   = 50 // per-pixel disagreement that marks a region uncertain
	outlierBlocks = 2  // uncertain sub-blocks needed to reject a patch
	blockDivisor  = 3  // sub-blocks per patch edge
	minCover      = 20 // fused values at or below are set to 0
)

// Contribution is one patch's footprint in the tile together with its
// normalized blend weights. Weights are zero where the patch has no valid
// value and everywhere for a rejected patch.
type Contribution struct {
	Addr     types.PatchAddress
	Rect     Rect
	Weights  []float64 // Rect.H × Rect.W, row-major
	Rejected bool
}

// Rect is a footprint in tile pixel coordinates.
type Rect struct {
	Row, Col, H, W int
}

// Result is the output of Fuse.
type Result struct {
	Raster        *raster.Grid // uint8 values stored as float32
	Contributions []Contribution
	Rejected      int
}

// layer is a placed patch. values holds percentages, NaN where invalid.
type layer struct {
	addr     types.PatchAddress
	rect     Rect
	patchRow int // patch-local coordinates of rect's origin
	patchCol int
	values   []float64
	kernel   []float64
	interior bool
	rejected bool
}

// Fuse blends patches into an h×w raster. Patches must be S×S. Fusing the
// same patches twice yields an identical raster.
func Fuse(patches []tiles.Patch, h, w, subtileSize int) (*Result, error) {
	kernels := map[float64][]float64{
		interiorSigma: gaussKernel(subtileSize, interiorSigma),
		borderSigma:   gaussKernel(subtileSize, borderSigma),
	}

	layers := make([]*layer, 0, len(patches))
	for _, p := range patches {
		if p.Grid.H != subtileSize || p.Grid.W != subtileSize {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeSkipStalePatches,
				fmt.Sprintf("patch %s has the wrong size", p.Addr.Key()), nil,
				map[string]any{"rows": p.Grid.H, "cols": p.Grid.W, "want": subtileSize})
		}
		if p.Grid.AllEqual(types.NoDataValue) {
			continue
		}
		if l := place(p, h, w, kernels); l != nil {
			layers = append(layers, l)
		}
	}
	if len(layers) == 0 {
		return nil, types.NewAppError(types.ErrCodeMosaicNoUsablePatches, "no patch contributes to the tile", nil)
	}

	rng := pixelRange(layers, h, w)
	rejected := rejectOutliers(layers, rng, w, subtileSize)

	fused, contributions := blend(layers, h, w)
	out := raster.NewGrid(h, w)
	for i, v := range fused {
		if math.IsNaN(v) {
			out.Data[i] = types.NoDataValue
			continue
		}
		out.Data[i] = float32(uint8(v))
	}

	cleanup(out)
	for i, v := range out.Data {
		switch {
		case v <= minCover:
			out.Data[i] = 0
		case v > maxValid:
			out.Data[i] = types.NoDataValue
		}
	}
	return &Result{Raster: out, Contributions: contributions, Rejected: rejected}, nil
}

// place clips the useful part of a patch to the tile. Border patches only
// contribute the half lying inside the tile.
func place(p tiles.Patch, h, w int, kernels map[float64][]float64) *layer {
	s := p.Grid.H
	c0, c1 := 0, s
	sigma := interiorSigma
	switch p.Addr.Kind {
	case types.PatchRightBorder:
		c1, sigma = s/2, borderSigma
	case types.PatchLeftBorder:
		c0, sigma = s/2, borderSigma
	}
	r0, r1 := 0, s

	// Clip to the tile.
	r0 = max(r0, -p.Addr.Row)
	r1 = min(r1, h-p.Addr.Row)
	c0 = max(c0, -p.Addr.Col)
	c1 = min(c1, w-p.Addr.Col)
	if r0 >= r1 || c0 >= c1 {
		return nil
	}

	kernel := kernels[sigma]
	l := &layer{
		addr:     p.Addr,
		rect:     Rect{Row: p.Addr.Row + r0, Col: p.Addr.Col + c0, H: r1 - r0, W: c1 - c0},
		patchRow: r0,
		patchCol: c0,
		interior: p.Addr.Kind == types.PatchInterior,
	}
	l.values = make([]float64, l.rect.H*l.rect.W)
	l.kernel = make([]float64, l.rect.H*l.rect.W)
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			i := (r-r0)*l.rect.W + c - c0
			v := float64(p.Grid.At(r, c))
			if v == types.NoDataValue || math.IsNaN(v) {
				l.values[i] = math.NaN()
			} else {
				v *= scale
				if v > maxValid {
					v = math.NaN()
				}
				l.values[i] = v
			}
			l.kernel[i] = kernel[r*s+c]
		}
	}
	return l
}

// pixelRange is max minus min over the valid values at each pixel, NaN
// where nothing contributes.
func pixelRange(layers []*layer, h, w int) []float64 {
	lo := make([]float64, h*w)
	hi := make([]float64, h*w)
	for i := range lo {
		lo[i], hi[i] = math.Inf(1), math.Inf(-1)
	}
	for _, l := range layers {
		for r := 0; r < l.rect.H; r++ {
			for c := 0; c < l.rect.W; c++ {
				v := l.values[r*l.rect.W+c]
				if math.IsNaN(v) {
					continue
				}
				i := (l.rect.Row+r)*w + l.rect.Col + c
				lo[i] = math.Min(lo[i], v)
				hi[i] = math.Max(hi[i], v)
			}
		}
	}
	out := make([]float64, h*w)
	for i := range out {
		if math.IsInf(lo[i], 1) {
			out[i] = math.NaN()
			continue
		}
		out[i] = hi[i] - lo[i]
	}
	return out
}

// rejectOutliers drops interior patches that lean the same way as the
// tile's uncertain regions and cover at least outlierBlocks uncertain
// sub-blocks. It returns the number of rejected patches.
func rejectOutliers(layers []*layer, rng []float64, w, subtileSize int) int {
	var certainSum, uncertainSum float64
	var certainN, uncertainN int
	for _, l := range layers {
		forEachValid(l, func(r, c int, v float64) {
			switch x := rng[r*w+c]; {
			case x < rangeCutoff:
				certainSum += v
				certainN++
			case x > rangeCutoff:
				uncertainSum += v
				uncertainN++
			}
		})
	}
	if certainN == 0 {
		return 0
	}
	certainMean := certainSum / float64(certainN)
	overpredict := uncertainN > 0 && uncertainSum/float64(uncertainN) > certainMean

	block := max(1, subtileSize/blockDivisor)
	rejected := 0
	for _, l := range layers {
		if !l.interior {
			continue
		}
		var sum float64
		var n int
		blockSum := map[[2]int]float64{}
		blockN := map[[2]int]int{}
		forEachValid(l, func(r, c int, v float64) {
			sum += v
			n++
			key := [2]int{(r - l.rect.Row + l.patchRow) / block, (c - l.rect.Col + l.patchCol) / block}
			blockSum[key] += rng[r*w+c]
			blockN[key]++
		})
		if n == 0 {
			continue
		}
		mean := sum / float64(n)
		leaning := mean < certainMean
		if overpredict {
			leaning = mean > certainMean
		}
		outliers := 0
		for key, s := range blockSum {
			if s/float64(blockN[key]) > rangeCutoff {
				outliers++
			}
		}
		if leaning && outliers >= outlierBlocks {
			l.rejected = true
			rejected++
		}
	}
	return rejected
}

func forEachValid(l *layer, fn func(r, c int, v float64)) {
	for r := 0; r < l.rect.H; r++ {
		for c := 0; c < l.rect.W; c++ {
			v := l.values[r*l.rect.W+c]
			if !math.IsNaN(v) {
				fn(l.rect.Row+r, l.rect.Col+c, v)
			}
		}
	}
}

// blend normalizes the weights of the surviving valid values at every pixel
// and returns the weighted sum, NaN where nothing contributes.
func blend(layers []*layer, h, w int) ([]float64, []Contribution) {
	total := make([]float64, h*w)
	for _, l := range layers {
		if l.rejected {
			continue
		}
		forEachValid(l, func(r, c int, _ float64) {
			total[r*w+c] += l.kernel[(r-l.rect.Row)*l.rect.W+c-l.rect.Col]
		})
	}

	fused := make([]float64, h*w)
	for i := range fused {
		if total[i] == 0 {
			fused[i] = math.NaN()
		}
	}
	contributions := make([]Contribution, 0, len(layers))
	for _, l := range layers {
		ct := Contribution{Addr: l.addr, Rect: l.rect, Weights: make([]float64, len(l.values)), Rejected: l.rejected}
		if !l.rejected {
			forEachValid(l, func(r, c int, v float64) {
				i := r*w + c
				j := (r-l.rect.Row)*l.rect.W + c - l.rect.Col
				ct.Weights[j] = l.kernel[j] / total[i]
				fused[i] += v * ct.Weights[j]
			})
		}
		contributions = append(contributions, ct)
	}
	return fused, contributions
}

// gaussKernel is a size×size Gaussian normalized to sum to 1. For even sizes
// the peak sits at (size/2-1, size/2-1).
func gaussKernel(size int, sigma float64) []float64 {
	out := make([]float64, size*size)
	off := size/2 - 1
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			y, x := float64(r-off), float64(c-off)
			out[r*size+c] = math.Exp(-(x*x + y*y) / (2 * sigma * sigma))
		}
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}
