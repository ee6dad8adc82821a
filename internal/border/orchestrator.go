// Package border recomputes predictions along the shared edge of two
// horizontally adjacent tiles. A pair is only reprocessed when both tiles are
// finished, their rasters disagree across the edge, and their prior patches
// are compatible with the current subtile size.
package border

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/stat"

	"tileseam/internal/geometry"
	"tileseam/internal/preprocess"
	"tileseam/internal/raster"
	"tileseam/internal/tiles"
	"tileseam/internal/types"
)

// DefaultDiscontinuity is the edge mean difference, in percent, above which a
// pair is reprocessed.
const DefaultDiscontinuity = 15

// maxValid is the largest finished-raster value that counts as a prediction.
const maxValid = 100

// TileStore is the tile data the orchestrator reads and writes.
type TileStore interface {
	State(ctx context.Context, tile types.TileID) (tiles.RasterState, error)
	LoadFinished(ctx context.Context, tile types.TileID) (*tiles.FinishedRaster, error)
	EnsurePatches(ctx context.Context, tile types.TileID) error
	ReadPatch(ctx context.Context, tile types.TileID, addr types.PatchAddress) (*tiles.Patch, error)
	LoadObservations(ctx context.Context, tile types.TileID) (*tiles.Observations, error)
	WritePatch(ctx context.Context, tile types.TileID, p tiles.Patch) error
	UploadPatch(ctx context.Context, tile types.TileID, addr types.PatchAddress) error
}

// Catalog answers whether a tile belongs to the batch.
type Catalog interface {
	Contains(id types.TileID) bool
}

// Preparer screens and builds model inputs for strip windows.
type Preparer interface {
	Plan(ctx context.Context, obs *tiles.Observations, windows []geometry.Window) (*preprocess.Plan, error)
	Prepare(ctx context.Context, obs *tiles.Observations, sp preprocess.SubtilePlan) (*preprocess.Prepared, error)
}

// Predictor turns a prepared window into an S×S patch.
type Predictor interface {
	Predict(ctx context.Context, mode types.Mode, p *preprocess.Prepared) (*raster.Grid, error)
}

// Result summarizes a reprocessed pair.
type Result struct {
	Tile       types.TileID
	Neighbor   types.TileID
	Difference float64
	Mode       types.Mode
	Patches    int // patches written to each tile
	NoData     int
}

// Orchestrator runs the border state machine for one pair at a time. It
// holds no per-pair state and may be shared by workers.
type Orchestrator struct {
	store         TileStore
	catalog       Catalog
	preparer      Preparer
	predictor     Predictor
	params        geometry.Params
	discontinuity float64
	logger        *slog.Logger
}

// Options configures an Orchestrator.
type Options struct {
	Params        geometry.Params
	Discontinuity float64
	Logger        *slog.Logger
}

func NewOrchestrator(store TileStore, catalog Catalog, preparer Preparer, predictor Predictor, opts Options) *Orchestrator {
	if opts.Discontinuity <= 0 {
		opts.Discontinuity = DefaultDiscontinuity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		store:         store,
		catalog:       catalog,
		preparer:      preparer,
		predictor:     predictor,
		params:        opts.Params,
		discontinuity: opts.Discontinuity,
		logger:        opts.Logger,
	}
}

// Process reprocesses the edge between tile and its right neighbor. Skip
// conditions come back as an *types.AppError whose code reports IsSkip.
// Nothing is written unless every window was predicted.
func (o *Orchestrator) Process(ctx context.Context, tile types.TileID) (*Result, error) {
	neighbor := tile.RightNeighbor()
	log := o.logger.With("tile_x", tile.X, "tile_y", tile.Y, "neighbor_x", neighbor.X)

	if err := o.checkEligible(ctx, tile, neighbor); err != nil {
		return nil, err
	}

	diff, err := o.edgeDifference(ctx, tile, neighbor)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(diff) || diff <= o.discontinuity {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeSkipTilesAgree,
			"tiles already agree across the border", nil,
			map[string]any{"difference": diff, "threshold": o.discontinuity})
	}
	log.InfoContext(ctx, "border discontinuity found", "difference", diff)

	for _, id := range []types.TileID{tile, neighbor} {
		if err := o.checkPatches(ctx, id); err != nil {
			return nil, err
		}
	}

	left, err := o.store.LoadObservations(ctx, tile)
	if err != nil {
		return nil, fmt.Errorf("load observations for %s: %w", tile, err)
	}
	right, err := o.store.LoadObservations(ctx, neighbor)
	if err != nil {
		return nil, fmt.Errorf("load observations for %s: %w", neighbor, err)
	}
	tileWidth := left.Reflectance.W

	strip, err := Merge(left, right, o.params.EdgeWidth())
	if err != nil {
		return nil, err
	}

	windows, err := geometry.BorderWindows(strip.Reflectance.H, o.params)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodePairShapeMismatch, "lay out border windows", err)
	}
	plan, err := o.preparer.Plan(ctx, strip, windows)
	if err != nil {
		return nil, err
	}

	res := &Result{Tile: tile, Neighbor: neighbor, Difference: diff, Mode: plan.Mode}
	grids := make([]*raster.Grid, 0, len(plan.Subtiles))
	for _, sp := range plan.Subtiles {
		prepared, err := o.preparer.Prepare(ctx, strip, sp)
		if err != nil {
			return nil, err
		}
		if prepared.NoData {
			res.NoData++
		}
		g, err := o.predictor.Predict(ctx, plan.Mode, prepared)
		if err != nil {
			return nil, err
		}
		grids = append(grids, g)
	}

	half := o.params.Half()
	for i, sp := range plan.Subtiles {
		row := sp.Window.Storage.Y
		writes := []struct {
			id   types.TileID
			addr types.PatchAddress
		}{
			{tile, types.PatchAddress{Kind: types.PatchRightBorder, Row: row, Col: tileWidth - half}},
			{neighbor, types.PatchAddress{Kind: types.PatchLeftBorder, Row: row, Col: -half}},
		}
		for _, w := range writes {
			if err := o.store.WritePatch(ctx, w.id, tiles.Patch{Addr: w.addr, Grid: grids[i]}); err != nil {
				return nil, fmt.Errorf("write patch %s for %s: %w", w.addr.Key(), w.id, err)
			}
			if err := o.store.UploadPatch(ctx, w.id, w.addr); err != nil {
				return nil, fmt.Errorf("upload patch %s for %s: %w", w.addr.Key(), w.id, err)
			}
		}
		res.Patches++
	}

	log.InfoContext(ctx, "border resegmented",
		"mode", string(res.Mode),
		"patches", res.Patches,
		"no_data", res.NoData,
	)
	return res, nil
}

func (o *Orchestrator) checkEligible(ctx context.Context, tile, neighbor types.TileID) error {
	if !o.catalog.Contains(neighbor) {
		return types.NewAppError(types.ErrCodeSkipIneligible, "neighbor is not in the catalog", nil)
	}
	tileState, err := o.store.State(ctx, tile)
	if err != nil {
		return err
	}
	neighborState, err := o.store.State(ctx, neighbor)
	if err != nil {
		return err
	}
	if tileState.FinishedKey == "" || neighborState.FinishedKey == "" {
		return types.NewAppErrorWithDetails(types.ErrCodeSkipIneligible,
			"tile or neighbor has no finished raster", nil,
			map[string]any{"tile_finished": tileState.FinishedKey != "", "neighbor_finished": neighborState.FinishedKey != ""})
	}
	if neighborState.Smoothed {
		return types.NewAppError(types.ErrCodeSkipAlreadySmoothed, "neighbor was already smoothed", nil)
	}
	return nil
}

// edgeDifference compares the mean of the tile's last column with the mean
// of the neighbor's first column, ignoring values above maxValid. NaN means
// one of the columns has no valid pixel.
func (o *Orchestrator) edgeDifference(ctx context.Context, tile, neighbor types.TileID) (float64, error) {
	a, err := o.store.LoadFinished(ctx, tile)
	if err != nil {
		return 0, err
	}
	b, err := o.store.LoadFinished(ctx, neighbor)
	if err != nil {
		return 0, err
	}
	left := validMean(a.Grid.Column(a.Grid.W - 1))
	right := validMean(b.Grid.Column(0))
	return math.Abs(left - right), nil
}

func validMean(xs []float64) float64 {
	valid := xs[:0]
	for _, x := range xs {
		if x <= maxValid && !math.IsNaN(x) {
			valid = append(valid, x)
		}
	}
	if len(valid) == 0 {
		return math.NaN()
	}
	return stat.Mean(valid, nil)
}

// checkPatches verifies the first interior patch of a tile has the current
// subtile size. Anything else means the processed tree predates it.
func (o *Orchestrator) checkPatches(ctx context.Context, tile types.TileID) error {
	if err := o.store.EnsurePatches(ctx, tile); err != nil {
		return err
	}
	ref := types.PatchAddress{Kind: types.PatchInterior}
	p, err := o.store.ReadPatch(ctx, tile, ref)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundPatch {
			return types.NewAppError(types.ErrCodeSkipStalePatches,
				fmt.Sprintf("%s has no reference patch", tile), err)
		}
		return err
	}
	s := o.params.SubtileSize
	if p.Grid.H != s || p.Grid.W != s {
		return types.NewAppErrorWithDetails(types.ErrCodeSkipStalePatches,
			fmt.Sprintf("%s reference patch has the wrong size", tile), nil,
			map[string]any{"rows": p.Grid.H, "cols": p.Grid.W, "want": s})
	}
	return nil
}

// IsSkip reports whether err is a skip condition rather than a failure.
func IsSkip(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code.IsSkip()
}
