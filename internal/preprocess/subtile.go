// Package preprocess turns the merged border strip into model-ready tensors,
// one per subtile window. Each window's dates are screened, composited onto a
// fixed temporal grid, smoothed, superresolved and stacked with elevation and
// radar. A planning pass over every window fixes the inference mode for the
// whole strip before any tensor is built.
package preprocess

import (
	"fmt"

	"tileseam/internal/geometry"
	"tileseam/internal/raster"
	"tileseam/internal/tiles"
)

// Band layout of the reflectance cube and the model tensor.
const (
	ReflectanceBands = 10
	TensorBands      = 13 // reflectance, elevation, two radar polarizations
	TensorSteps      = 12

	minTensorEdge = 145
)

// Subtile holds the inputs of one window, cut at its read rectangle.
type Subtile struct {
	Window      geometry.Window
	Dates       []int
	Reflectance *raster.Cube
	Interp      *raster.Cube
	Radar       *raster.Cube
	DEM         *raster.Cube
}

// Cut extracts a window's read rectangle from the strip.
func Cut(obs *tiles.Observations, w geometry.Window) (*Subtile, error) {
	r := w.Read
	sub := &Subtile{Window: w, Dates: obs.Dates}
	var err error
	if sub.Reflectance, err = obs.Reflectance.Crop(r.Y, r.X, r.H, r.W); err != nil {
		return nil, fmt.Errorf("window %d reflectance: %w", w.Row, err)
	}
	if sub.Interp, err = obs.Interp.Crop(r.Y, r.X, r.H, r.W); err != nil {
		return nil, fmt.Errorf("window %d interp: %w", w.Row, err)
	}
	if sub.Radar, err = obs.Radar.Crop(r.Y, r.X, r.H, r.W); err != nil {
		return nil, fmt.Errorf("window %d radar: %w", w.Row, err)
	}
	if sub.DEM, err = obs.DEM.Crop(r.Y, r.X, r.H, r.W); err != nil {
		return nil, fmt.Errorf("window %d dem: %w", w.Row, err)
	}
	return sub, nil
}

// FillMissing replaces NaN reflectance values with the median of the valid
// values in the same date and band. Frames without any valid value become 0,
// which the missing-pixel screen then rejects.
func FillMissing(c *raster.Cube) {
	frame := c.H * c.W
	valid := make([]float64, 0, frame)
	for t := 0; t < c.T; t++ {
		for ch := 0; ch < c.C; ch++ {
			valid = valid[:0]
			missing := false
			for p := 0; p < frame; p++ {
				v := c.Data[(t*frame+p)*c.C+ch]
				if raster.IsNaN(v) {
					missing = true
					continue
				}
				valid = append(valid, float64(v))
			}
			if !missing {
				continue
			}
			fill := float32(median(valid))
			for p := 0; p < frame; p++ {
				i := (t*frame+p)*c.C + ch
				if raster.IsNaN(c.Data[i]) {
					c.Data[i] = fill
				}
			}
		}
	}
}
