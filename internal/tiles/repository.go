// Package tiles gives the pipeline typed access to a tile's three trees: raw
// observations, processed prediction patches and finished rasters.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/paulmach/orb"

	"tileseam/internal/geotiff"
	"tileseam/internal/raster"
	"tileseam/internal/storage"
	"tileseam/internal/types"
	"tileseam/internal/zarr"
)

// Repository reads and writes tile trees in the local working directory,
// pulling them from remote storage on first use.
type Repository struct {
	fetcher *storage.Fetcher
	local   *storage.LocalStore
	layout  storage.Layout
	codec   *zarr.Codec
	logger  *slog.Logger
}

func NewRepository(fetcher *storage.Fetcher, codec *zarr.Codec, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		fetcher: fetcher,
		local:   fetcher.Local(),
		layout:  fetcher.Layout(),
		codec:   codec,
		logger:  logger,
	}
}

// FinishedRaster is a tile's per-tile prediction raster.
type FinishedRaster struct {
	Key   string
	Grid  *raster.Grid
	Bound orb.Bound // zero when the raster has no world file
}

// RasterState summarizes the tiles tree.
type RasterState struct {
	FinishedKey string // empty when no finished raster exists
	Smoothed    bool   // a fused raster was already written
}

// State fetches the tiles tree and classifies its rasters.
func (r *Repository) State(ctx context.Context, tile types.TileID) (RasterState, error) {
	if err := r.fetcher.EnsureLocal(ctx, tile, storage.SubTiles); err != nil {
		return RasterState{}, err
	}
	keys, err := r.local.List(ctx, r.layout.Local(tile, storage.SubTiles)+"/")
	if err != nil {
		return RasterState{}, types.NewAppError(types.ErrCodeUpstreamStorage, "list finished rasters", err)
	}

	var state RasterState
	var candidates []string
	for _, k := range keys {
		if path.Ext(k) != ".tif" {
			continue
		}
		if strings.Contains(path.Base(k), "SMOOTH") {
			state.Smoothed = true
			continue
		}
		candidates = append(candidates, k)
	}
	state.FinishedKey = pickFinished(candidates)
	return state, nil
}

// pickFinished prefers *_FINAL.tif, then *_POST.tif, then a lone raster.
// Several unlabeled rasters are ambiguous and yield "".
func pickFinished(keys []string) string {
	for _, suffix := range []string{"_FINAL.tif", "_POST.tif"} {
		for _, k := range keys {
			if strings.HasSuffix(k, suffix) {
				return k
			}
		}
	}
	if len(keys) == 1 {
		return keys[0]
	}
	return ""
}

// LoadFinished decodes the tile's finished raster.
func (r *Repository) LoadFinished(ctx context.Context, tile types.TileID) (*FinishedRaster, error) {
	state, err := r.State(ctx, tile)
	if err != nil {
		return nil, err
	}
	if state.FinishedKey == "" {
		return nil, types.NewAppError(types.ErrCodeNotFoundRaster,
			fmt.Sprintf("tile %s has no finished raster", tile), nil)
	}
	data, err := r.local.Get(ctx, state.FinishedKey)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStorage, "read "+state.FinishedKey, err)
	}
	g, err := geotiff.Decode(data)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalArrayCorruption, state.FinishedKey, err)
	}

	out := &FinishedRaster{Key: state.FinishedKey, Grid: g}
	if wf, err := r.local.Get(ctx, geotiff.SidecarKey(state.FinishedKey)); err == nil {
		if b, err := geotiff.ParseWorldFile(wf, g.W, g.H); err == nil {
			out.Bound = b
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		r.logger.WarnContext(ctx, "world file unreadable", "key", state.FinishedKey, "error", err)
	}
	return out, nil
}

// WriteSmoothed stores the fused raster and uploads it. It returns the
// remote key, or the local key when there is no remote store.
func (r *Repository) WriteSmoothed(ctx context.Context, tile types.TileID, g *raster.Grid, bound orb.Bound) (string, error) {
	name := storage.SmoothedRasterName(tile)
	key := r.layout.Local(tile, storage.SubTiles, name)
	if err := geotiff.Write(ctx, r.local, key, g, bound); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamStorage, "write fused raster", err)
	}
	n, err := r.fetcher.Upload(ctx, tile, storage.SubTiles, name)
	if err != nil {
		return "", err
	}
	if _, err := r.fetcher.Upload(ctx, tile, storage.SubTiles, path.Base(geotiff.SidecarKey(key))); err != nil {
		return "", err
	}
	if n == 0 {
		return key, nil
	}
	return r.layout.Remote(tile, storage.SubTiles, name), nil
}

// Cleanup drops the local raw and processed trees of a tile.
func (r *Repository) Cleanup(ctx context.Context, tile types.TileID) error {
	for _, sub := range []storage.Subfolder{storage.SubRaw, storage.SubProcessed} {
		if err := r.fetcher.RemoveLocal(ctx, tile, sub); err != nil {
			return fmt.Errorf("remove %s tree of %s: %w", sub, tile, err)
		}
	}
	return nil
}
