package preprocess

import (
	"fmt"
	"slices"

	"tileseam/internal/raster"
	"tileseam/internal/types"
)

// Screening records which of a window's dates survived the filters.
type Screening struct {
	Kept           []int // indices into the strip's date axis
	Dates          []int // day of year of each kept index
	Total          int
	DroppedInterp  int
	DroppedMissing int
	DroppedCloud   int
}

// screen applies, in order: the interpolated-area limit, the missing-pixel
// limit and the missed-cloud detector. The subtile's cubes must carry one
// frame per date.
func (p *Preprocessor) screen(sub *Subtile) (Screening, error) {
	s := Screening{Total: len(sub.Dates)}
	if sub.Reflectance.T != len(sub.Dates) || sub.Interp.T != len(sub.Dates) {
		return s, types.NewAppError(types.ErrCodePairShapeMismatch,
			fmt.Sprintf("subtile has %d dates but %d reflectance and %d interp frames",
				len(sub.Dates), sub.Reflectance.T, sub.Interp.T), nil)
	}
	interpLimit := float64(p.params.SubtileSize*p.params.SubtileSize) / 4
	missingLimit := float64(sub.Reflectance.H*sub.Reflectance.W) / 100

	var kept []int
	for t := range sub.Dates {
		if interpolatedPixels(sub.Interp, t) > interpLimit {
			s.DroppedInterp++
			continue
		}
		if missingValues(sub.Reflectance, t) >= missingLimit {
			s.DroppedMissing++
			continue
		}
		kept = append(kept, t)
	}

	if len(kept) > 0 {
		refl, err := sub.Reflectance.SelectDates(kept)
		if err != nil {
			return s, fmt.Errorf("cloud screen: %w", err)
		}
		if clouds := p.clouds.MissedClouds(refl); len(clouds) > 0 {
			filtered := kept[:0:0]
			for i, t := range kept {
				if slices.Contains(clouds, i) {
					s.DroppedCloud++
					continue
				}
				filtered = append(filtered, t)
			}
			kept = filtered
		}
	}

	s.Kept = kept
	s.Dates = make([]int, len(kept))
	for i, t := range kept {
		s.Dates[i] = sub.Dates[t]
	}
	return s, nil
}

func interpolatedPixels(interp *raster.Cube, t int) float64 {
	frame := interp.H * interp.W * interp.C
	var sum float64
	for _, v := range interp.Data[t*frame : (t+1)*frame] {
		if v > 0 {
			sum++
		}
	}
	return sum
}

// missingValues counts band values outside the open reflectance range: exact
// zeros, saturated values and NaN.
func missingValues(refl *raster.Cube, t int) float64 {
	frame := refl.H * refl.W * refl.C
	var n float64
	for _, v := range refl.Data[t*frame : (t+1)*frame] {
		if v == 0 || v >= 1 || raster.IsNaN(v) {
			n++
		}
	}
	return n
}
