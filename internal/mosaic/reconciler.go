package mosaic

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"

	"tileseam/internal/raster"
	"tileseam/internal/tiles"
	"tileseam/internal/types"
)

// PatchStore is the tile data the reconciler reads and writes.
type PatchStore interface {
	EnsurePatches(ctx context.Context, tile types.TileID) error
	ListPatches(ctx context.Context, tile types.TileID) ([]tiles.Patch, error)
	LoadFinished(ctx context.Context, tile types.TileID) (*tiles.FinishedRaster, error)
	WriteSmoothed(ctx context.Context, tile types.TileID, g *raster.Grid, bound orb.Bound) (string, error)
}

// Reconciler fuses a tile's patch set into its smoothed raster.
type Reconciler struct {
	store       PatchStore
	subtileSize int
	logger      *slog.Logger
}

func NewReconciler(store PatchStore, subtileSize int, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, subtileSize: subtileSize, logger: logger}
}

// Output describes a written smoothed raster.
type Output struct {
	Key      string
	Patches  int
	Rejected int
}

// Reconcile fuses the tile's patches at the size of its finished raster and
// writes the result. The finished raster's world file wins over bound when
// it has one.
func (r *Reconciler) Reconcile(ctx context.Context, tile types.TileID, bound orb.Bound) (*Output, error) {
	finished, err := r.store.LoadFinished(ctx, tile)
	if err != nil {
		return nil, err
	}
	if err := r.store.EnsurePatches(ctx, tile); err != nil {
		return nil, err
	}
	patches, err := r.store.ListPatches(ctx, tile)
	if err != nil {
		return nil, err
	}

	res, err := Fuse(patches, finished.Grid.H, finished.Grid.W, r.subtileSize)
	if err != nil {
		return nil, fmt.Errorf("fuse %s: %w", tile, err)
	}

	if finished.Bound != (orb.Bound{}) {
		bound = finished.Bound
	}
	key, err := r.store.WriteSmoothed(ctx, tile, res.Raster, bound)
	if err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "tile fused",
		"tile_x", tile.X,
		"tile_y", tile.Y,
		"patches", len(patches),
		"rejected", res.Rejected,
		"key", key,
	)
	return &Output{Key: key, Patches: len(patches), Rejected: res.Rejected}, nil
}
