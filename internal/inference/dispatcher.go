// Package inference routes prepared subtiles to the temporal or the median
// predictor and normalizes their output to one S×S probability patch.
package inference

import (
	"context"
	"fmt"
	"log/slog"

	"tileseam/internal/preprocess"
	"tileseam/internal/raster"
	"tileseam/internal/types"
)

// minTemporalDates is the fewest usable dates the temporal model accepts.
const minTemporalDates = 5

// trim is removed from each side of a predictor's output.
const trim = 1

// TemporalPredictor runs the sequence model. lengths holds the number of
// valid steps per batch item.
type TemporalPredictor interface {
	PredictTemporal(ctx context.Context, tensor *raster.Cube, lengths []int) (*raster.Grid, error)
}

// MedianPredictor runs the single-composite model.
type MedianPredictor interface {
	PredictMedian(ctx context.Context, tensor *raster.Cube) (*raster.Grid, error)
}

// Dispatcher holds the process-wide predictors. It keeps no per-call state.
type Dispatcher struct {
	temporal    TemporalPredictor
	median      MedianPredictor
	subtileSize int
	logger      *slog.Logger
}

func NewDispatcher(temporal TemporalPredictor, median MedianPredictor, subtileSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{temporal: temporal, median: median, subtileSize: subtileSize, logger: logger}
}

// Route names the predictor a prepared subtile goes to, or "" for no-data.
func Route(mode types.Mode, p *preprocess.Prepared) types.Mode {
	switch {
	case p.NoData || p.Tensor == nil || allZero(p.Tensor):
		return ""
	case mode == types.ModeMedian || p.UsableDates < minTemporalDates:
		return types.ModeMedian
	default:
		return types.ModeTemporal
	}
}

// Predict returns an S×S patch of probabilities in [0,1], or a patch of
// types.NoDataValue for a window without data. Predictor output must be
// S+2 on each side; the outer ring is discarded.
func (d *Dispatcher) Predict(ctx context.Context, mode types.Mode, p *preprocess.Prepared) (*raster.Grid, error) {
	route := Route(mode, p)
	if route == "" {
		g := raster.NewGrid(d.subtileSize, d.subtileSize)
		g.Fill(types.NoDataValue)
		return g, nil
	}

	var (
		out *raster.Grid
		err error
	)
	if route == types.ModeMedian {
		out, err = d.median.PredictMedian(ctx, p.Tensor)
	} else {
		out, err = d.temporal.PredictTemporal(ctx, p.Tensor, []int{p.Tensor.T})
	}
	if err != nil {
		return nil, fmt.Errorf("%s prediction for subtile %d: %w", route, p.Window.Row, err)
	}

	want := d.subtileSize + 2*trim
	if out.H != want || out.W != want {
		return nil, types.NewAppErrorWithDetails(types.ErrCodePairShapeMismatch,
			"predictor returned an unexpected patch size", nil,
			map[string]any{"rows": out.H, "cols": out.W, "want": want, "mode": string(route)})
	}
	patch, err := out.Crop(trim, trim, d.subtileSize, d.subtileSize)
	if err != nil {
		return nil, err
	}

	d.logger.DebugContext(ctx, "predicted subtile",
		"subtile_row", p.Window.Row,
		"mode", string(route),
		"dates_kept", p.UsableDates,
	)
	return patch, nil
}

func allZero(c *raster.Cube) bool {
	for _, v := range c.Data {
		if v != 0 {
			return false
		}
	}
	return true
}
