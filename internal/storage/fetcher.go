package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"tileseam/internal/types"
)

// maxConcurrentTransfers bounds parallel object copies per tree.
const maxConcurrentTransfers = 8

// Fetcher mirrors tile trees between the local store and an optional remote
// store. With no remote, every call works on local data only.
type Fetcher struct {
	local  *LocalStore
	remote ObjectStore
	layout Layout
	logger *slog.Logger
}

func NewFetcher(local *LocalStore, remote ObjectStore, layout Layout, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{local: local, remote: remote, layout: layout, logger: logger}
}

// Local returns the store holding the working copies.
func (f *Fetcher) Local() *LocalStore { return f.local }

// Layout returns the key layout in use.
func (f *Fetcher) Layout() Layout { return f.layout }

// EnsureLocal downloads the tile's sub tree unless a local copy already has
// at least one object. A tree missing remotely is not an error; callers
// discover missing inputs when they read them.
func (f *Fetcher) EnsureLocal(ctx context.Context, tile types.TileID, sub Subfolder) error {
	localPrefix := f.layout.Local(tile, sub) + "/"
	existing, err := f.local.List(ctx, localPrefix)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStorage, "list local "+localPrefix, err)
	}
	if len(existing) > 0 || f.remote == nil {
		return nil
	}

	remotePrefix := f.layout.Remote(tile, sub) + "/"
	keys, err := f.remote.List(ctx, remotePrefix)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStorage, "list remote "+remotePrefix, err)
	}
	if len(keys) == 0 {
		f.logger.DebugContext(ctx, "remote tree empty",
			"tile_x", tile.X, "tile_y", tile.Y, "sub", string(sub))
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTransfers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			data, err := f.remote.Get(gctx, key)
			if err != nil {
				return err
			}
			return f.local.Put(gctx, localPrefix+strings.TrimPrefix(key, remotePrefix), data)
		})
	}
	if err := g.Wait(); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("download %s", remotePrefix), err)
	}

	f.logger.InfoContext(ctx, "downloaded tile tree",
		"tile_x", tile.X, "tile_y", tile.Y, "sub", string(sub), "objects", len(keys))
	return nil
}

// Upload copies the local object or directory rel, relative to the tile's sub
// tree, to the remote store and returns the number of objects copied. No-op
// without a remote.
func (f *Fetcher) Upload(ctx context.Context, tile types.TileID, sub Subfolder, rel string) (int, error) {
	if f.remote == nil {
		return 0, nil
	}
	localBase := f.layout.Local(tile, sub) + "/"
	keys, err := f.local.List(ctx, localBase+rel)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamStorage, "list local "+localBase+rel, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTransfers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			data, err := f.local.Get(gctx, key)
			if err != nil {
				return err
			}
			return f.remote.Put(gctx, f.layout.Remote(tile, sub, strings.TrimPrefix(key, localBase)), data)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, types.NewAppError(types.ErrCodeUpstreamStorage,
			fmt.Sprintf("upload %s%s", localBase, rel), err)
	}
	return len(keys), nil
}

// RemoveLocal drops the tile's local sub tree. No-op without a remote, where
// the local tree is the only copy.
func (f *Fetcher) RemoveLocal(ctx context.Context, tile types.TileID, sub Subfolder) error {
	if f.remote == nil {
		return nil
	}
	return f.local.RemoveAll(ctx, f.layout.Local(tile, sub))
}
