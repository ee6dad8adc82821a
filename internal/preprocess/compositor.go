package preprocess

import (
	"errors"
	"fmt"

	"tileseam/internal/raster"
)

// Temporal grid of the composite.
const (
	CompositeSteps = 72
	StepDays       = 5
	yearDays       = 365
)

// ErrNoImages is returned by a Compositor that has nothing to composite. The
// window is then treated as having no data.
var ErrNoImages = errors.New("no usable images to composite")

// Compositor resamples an irregular date series onto the fixed composite
// grid. MaxGap must fail with ErrNoImages exactly when Composite would.
type Compositor interface {
	MaxGap(dates []int) (int, error)
	Composite(refl *raster.Cube, dates []int) (*raster.Cube, error)
}

// LinearCompositor interpolates each pixel and band linearly between the
// nearest observations, holding the first and last values flat beyond the
// observed range.
type LinearCompositor struct{}

// MaxGap is the longest stretch without an observation, counting from the
// start of the year to the first date and from the last date to year end.
func (LinearCompositor) MaxGap(dates []int) (int, error) {
	if len(dates) == 0 {
		return 0, ErrNoImages
	}
	gap := dates[0]
	for i := 1; i < len(dates); i++ {
		gap = max(gap, dates[i]-dates[i-1])
	}
	return max(gap, yearDays-dates[len(dates)-1]), nil
}

func (LinearCompositor) Composite(refl *raster.Cube, dates []int) (*raster.Cube, error) {
	if len(dates) == 0 || refl.T == 0 {
		return nil, ErrNoImages
	}
	if len(dates) != refl.T {
		return nil, fmt.Errorf("composite: %d dates for %d frames", len(dates), refl.T)
	}

	frame := refl.H * refl.W * refl.C
	out := raster.NewCube(CompositeSteps, refl.H, refl.W, refl.C)
	for k := 0; k < CompositeSteps; k++ {
		lo, hi, w := bracket(dates, k*StepDays)
		dst := out.Data[k*frame : (k+1)*frame]
		a := refl.Data[lo*frame : (lo+1)*frame]
		b := refl.Data[hi*frame : (hi+1)*frame]
		for i := range dst {
			dst[i] = a[i] + w*(b[i]-a[i])
		}
	}
	return out, nil
}

// bracket finds the observations around day and the weight of the later one.
func bracket(dates []int, day int) (lo, hi int, w float32) {
	last := len(dates) - 1
	switch {
	case day <= dates[0]:
		return 0, 0, 0
	case day >= dates[last]:
		return last, last, 0
	}
	hi = 1
	for dates[hi] < day {
		hi++
	}
	lo = hi - 1
	return lo, hi, float32(day-dates[lo]) / float32(dates[hi]-dates[lo])
}
