package preprocess

import (
	"context"
	"fmt"

	"tileseam/internal/raster"
	"tileseam/internal/types"
)

// superresPad is the reflected context added around a window before
// superresolution and removed afterwards.
const superresPad = 4

// firstCoarseBand is the first 20 m band; bands from here on arrive
// bilinearly upsampled and are replaced by the superresolved values.
const firstCoarseBand = 4

// SuperResolver sharpens the upsampled 20 m bands of a smoothed series. It
// takes and returns a T×H×W×10 cube.
type SuperResolver interface {
	SuperResolve(ctx context.Context, c *raster.Cube) (*raster.Cube, error)
}

func superresolve(ctx context.Context, sr SuperResolver, c *raster.Cube) (*raster.Cube, error) {
	padded, err := c.ReflectPadRows(superresPad, superresPad)
	if err != nil {
		return nil, err
	}
	if padded, err = padded.ReflectPadCols(superresPad, superresPad); err != nil {
		return nil, err
	}
	resolved, err := sr.SuperResolve(ctx, padded)
	if err != nil {
		return nil, err
	}
	if resolved.T != padded.T || resolved.H != padded.H || resolved.W != padded.W || resolved.C != padded.C {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationTensorShape,
			"superresolution changed the cube shape", nil,
			map[string]any{"sent": padded.Shape(), "received": resolved.Shape()})
	}
	core, err := resolved.Crop(superresPad, superresPad, c.H, c.W)
	if err != nil {
		return nil, err
	}

	out := &raster.Cube{T: c.T, H: c.H, W: c.W, C: c.C, Data: append([]float32(nil), c.Data...)}
	for p := 0; p < c.T*c.H*c.W; p++ {
		copy(out.Data[p*c.C+firstCoarseBand:(p+1)*c.C], core.Data[p*c.C+firstCoarseBand:(p+1)*c.C])
	}
	return out, nil
}

// repeatDates stretches a cube to steps dates by repeating each date
// steps/T times.
func repeatDates(c *raster.Cube, steps int) (*raster.Cube, error) {
	if c.T == steps {
		return c, nil
	}
	if c.T == 0 || steps%c.T != 0 {
		return nil, types.NewAppError(types.ErrCodePairUnsupportedCadence,
			fmt.Sprintf("cannot stretch %d dates to %d", c.T, steps), nil)
	}
	idx := make([]int, steps)
	for i := range idx {
		idx[i] = i * c.T / steps
	}
	return c.SelectDates(idx)
}

// assemble stacks reflectance, elevation and radar, clips to [0,1] and checks
// the canonical shape.
func assemble(refl, dem, radar *raster.Cube) (*raster.Cube, error) {
	dem12, err := repeatDates(dem, TensorSteps)
	if err != nil {
		return nil, err
	}
	radar12, err := repeatDates(radar, TensorSteps)
	if err != nil {
		return nil, err
	}
	tensor, err := raster.ConcatBands(refl, dem12, radar12)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationTensorShape, "stack model inputs", err)
	}
	tensor.Clip(0, 1)
	if err := CheckTensor(tensor); err != nil {
		return nil, err
	}
	return tensor, nil
}

// CheckTensor enforces the model input contract.
func CheckTensor(c *raster.Cube) error {
	if c.T != TensorSteps || c.C != TensorBands || c.H < minTensorEdge || c.W < minTensorEdge {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationTensorShape,
			"model input has the wrong shape", nil,
			map[string]any{"shape": c.Shape()})
	}
	return nil
}
