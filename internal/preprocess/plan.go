package preprocess

import (
	"context"
	"errors"

	"tileseam/internal/geometry"
	"tileseam/internal/tiles"
	"tileseam/internal/types"
)

// Thresholds of the mode decision.
const (
	minUsableDates   = 3   // below this a window has no data
	minTemporalDates = 5   // below this the median predictor is used
	lateStartDay     = 150 // first usable date on or after this day
	earlyEndDay      = 215 // last usable date on or before this day
	maxTemporalGap   = 265 // days without observation
)

// SubtilePlan is the screening outcome of one window.
type SubtilePlan struct {
	Window       geometry.Window
	Screening    Screening
	MaxGap       int
	NoData       bool
	MedianWorthy bool
}

// Plan fixes the mode of every window of a strip.
type Plan struct {
	Mode        types.Mode
	MedianCount int
	Subtiles    []SubtilePlan
}

// MedianWorthy reports whether a date series is too sparse or too skewed for
// the temporal model.
func MedianWorthy(dates []int, maxGap int) bool {
	n := len(dates)
	return n < minTemporalDates ||
		dates[0] >= lateStartDay ||
		dates[n-1] <= earlyEndDay ||
		maxGap > maxTemporalGap
}

// Plan screens every window and decides the strip's mode. The strip switches
// to median once the configured number of windows are median-worthy, so all
// windows of a strip are predicted the same way.
func (p *Preprocessor) Plan(ctx context.Context, obs *tiles.Observations, windows []geometry.Window) (*Plan, error) {
	plan := &Plan{Mode: types.ModeTemporal, Subtiles: make([]SubtilePlan, 0, len(windows))}
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sub, err := Cut(obs, w)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodePairShapeMismatch, "cut window", err)
		}

		screening, err := p.screen(sub)
		if err != nil {
			return nil, err
		}
		sp := SubtilePlan{Window: w, Screening: screening}
		if len(sp.Screening.Kept) < minUsableDates {
			sp.NoData = true
		} else {
			gap, err := p.compositor.MaxGap(sp.Screening.Dates)
			switch {
			case errors.Is(err, ErrNoImages):
				sp.NoData = true
			case err != nil:
				return nil, err
			default:
				sp.MaxGap = gap
				sp.MedianWorthy = MedianWorthy(sp.Screening.Dates, gap)
			}
		}
		if sp.MedianWorthy {
			plan.MedianCount++
		}

		p.logger.DebugContext(ctx, "screened subtile",
			"subtile_row", w.Row,
			"dates_kept", len(sp.Screening.Kept),
			"dates_total", sp.Screening.Total,
			"dropped_interp", sp.Screening.DroppedInterp,
			"dropped_missing", sp.Screening.DroppedMissing,
			"dropped_cloud", sp.Screening.DroppedCloud,
			"max_gap", sp.MaxGap,
			"no_data", sp.NoData,
		)
		plan.Subtiles = append(plan.Subtiles, sp)
	}

	if plan.MedianCount >= p.medianLimit {
		plan.Mode = types.ModeMedian
	}
	p.logger.InfoContext(ctx, "planned strip",
		"mode", string(plan.Mode),
		"subtiles", len(plan.Subtiles),
		"median_worthy", plan.MedianCount,
	)
	return plan, nil
}
