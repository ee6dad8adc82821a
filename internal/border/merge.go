package border

import (
	"fmt"

	"tileseam/internal/preprocess"
	"tileseam/internal/raster"
	"tileseam/internal/temporal"
	"tileseam/internal/tiles"
	"tileseam/internal/types"
)

// Merge builds the strip straddling the shared edge of a tile and its right
// neighbor: the last edge columns of left followed by the first edge columns
// of right, on a common date axis. Missing reflectance is filled before the
// strip is returned.
func Merge(left, right *tiles.Observations, edge int) (*tiles.Observations, error) {
	if left.Reflectance.H != right.Reflectance.H {
		return nil, types.NewAppErrorWithDetails(types.ErrCodePairShapeMismatch,
			"tile and neighbor heights differ", nil,
			map[string]any{"tile_rows": left.Reflectance.H, "neighbor_rows": right.Reflectance.H})
	}
	if left.Reflectance.W < edge || right.Reflectance.W < edge {
		return nil, types.NewAppErrorWithDetails(types.ErrCodePairShapeMismatch,
			"tile narrower than the border strip", nil,
			map[string]any{"tile_cols": left.Reflectance.W, "neighbor_cols": right.Reflectance.W, "edge": edge})
	}

	align, err := temporal.Align(left.Dates, right.Dates)
	if err != nil {
		return nil, err
	}
	radarA, radarB, err := temporal.ReconcileRadar(left.Radar.T, right.Radar.T)
	if err != nil {
		return nil, err
	}

	leftStart := left.Reflectance.W - edge
	join := func(name string, a, b *raster.Cube, keepA, keepB []int) (*raster.Cube, error) {
		if keepA != nil {
			var err error
			if a, err = a.SelectDates(keepA); err != nil {
				return nil, fmt.Errorf("select %s dates: %w", name, err)
			}
			if b, err = b.SelectDates(keepB); err != nil {
				return nil, fmt.Errorf("select %s dates: %w", name, err)
			}
		}
		ea, err := a.CropCols(leftStart, edge)
		if err != nil {
			return nil, fmt.Errorf("crop %s: %w", name, err)
		}
		eb, err := b.CropCols(0, edge)
		if err != nil {
			return nil, fmt.Errorf("crop %s: %w", name, err)
		}
		out, err := raster.ConcatCols(ea, eb)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodePairShapeMismatch, "merge "+name, err)
		}
		return out, nil
	}

	strip := &tiles.Observations{Dates: temporal.Pick(left.Dates, align.KeepA)}
	if strip.Reflectance, err = join("reflectance", left.Reflectance, right.Reflectance, align.KeepA, align.KeepB); err != nil {
		return nil, err
	}
	if strip.Interp, err = join("interp", left.Interp, right.Interp, align.KeepA, align.KeepB); err != nil {
		return nil, err
	}
	if strip.Radar, err = join("radar", left.Radar, right.Radar, radarA, radarB); err != nil {
		return nil, err
	}
	if strip.DEM, err = join("dem", left.DEM, right.DEM, nil, nil); err != nil {
		return nil, err
	}
	if err := strip.Validate(); err != nil {
		return nil, types.NewAppError(types.ErrCodePairShapeMismatch, "merged strip", err)
	}

	preprocess.FillMissing(strip.Reflectance)
	return strip, nil
}
