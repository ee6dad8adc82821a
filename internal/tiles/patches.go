package tiles

import (
	"context"
	"fmt"
	"path"
	"strings"

	"tileseam/internal/raster"
	"tileseam/internal/storage"
	"tileseam/internal/types"
)

// Patch is one stored prediction patch. Values are probabilities in [0,1]
// or types.NoDataValue.
type Patch struct {
	Addr types.PatchAddress
	Grid *raster.Grid
}

// WritePatch stores a patch in the tile's processed tree. An existing patch
// at the same address is replaced.
func (r *Repository) WritePatch(ctx context.Context, tile types.TileID, p Patch) error {
	if !p.Addr.Kind.Valid() {
		return types.NewAppError(types.ErrCodeValidationArrayMeta, fmt.Sprintf("unknown patch kind %q", p.Addr.Kind), nil)
	}
	attrs := map[string]any{"kind": string(p.Addr.Kind), "row": p.Addr.Row, "col": p.Addr.Col}
	prefix := r.layout.Local(tile, storage.SubProcessed, p.Addr.Key())
	return r.codec.WriteFloat32(ctx, r.local, prefix, []int{p.Grid.H, p.Grid.W}, p.Grid.Data, attrs)
}

// UploadPatch pushes a stored patch to remote storage.
func (r *Repository) UploadPatch(ctx context.Context, tile types.TileID, addr types.PatchAddress) error {
	_, err := r.fetcher.Upload(ctx, tile, storage.SubProcessed, addr.Key())
	return err
}

// ReadPatch loads the patch at addr.
func (r *Repository) ReadPatch(ctx context.Context, tile types.TileID, addr types.PatchAddress) (*Patch, error) {
	return r.readPatchAt(ctx, r.layout.Local(tile, storage.SubProcessed, addr.Key()))
}

// EnsurePatches fetches the processed tree if needed.
func (r *Repository) EnsurePatches(ctx context.Context, tile types.TileID) error {
	return r.fetcher.EnsureLocal(ctx, tile, storage.SubProcessed)
}

// ListPatches loads every patch in the tile's processed tree, sorted by key.
// Addresses come from the arrays' attributes.
func (r *Repository) ListPatches(ctx context.Context, tile types.TileID) ([]Patch, error) {
	if err := r.EnsurePatches(ctx, tile); err != nil {
		return nil, err
	}
	base := r.layout.Local(tile, storage.SubProcessed) + "/"
	keys, err := r.local.List(ctx, base)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamStorage, "list patches", err)
	}

	var out []Patch
	for _, k := range keys {
		if path.Base(k) != ".zarray" {
			continue
		}
		p, err := r.readPatchAt(ctx, strings.TrimSuffix(k, "/.zarray"))
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

func (r *Repository) readPatchAt(ctx context.Context, prefix string) (*Patch, error) {
	meta, data, err := r.codec.ReadFloat32(ctx, r.local, prefix)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundArray {
			return nil, types.NewAppError(types.ErrCodeNotFoundPatch, prefix, err)
		}
		return nil, err
	}
	attrs, err := r.codec.ReadAttrs(ctx, r.local, prefix)
	if err != nil {
		return nil, err
	}
	addr, err := addressFromAttrs(attrs)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationArrayMeta, prefix, err)
	}
	if len(meta.Shape) != 2 {
		return nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("%s: patch shape %v is not 2-D", prefix, meta.Shape), nil)
	}
	g, err := raster.GridFrom(meta.Shape[0], meta.Shape[1], data)
	if err != nil {
		return nil, err
	}
	return &Patch{Addr: addr, Grid: g}, nil
}

func addressFromAttrs(attrs map[string]any) (types.PatchAddress, error) {
	kind, _ := attrs["kind"].(string)
	row, rowOK := attrs["row"].(float64)
	col, colOK := attrs["col"].(float64)
	addr := types.PatchAddress{Kind: types.PatchKind(kind), Row: int(row), Col: int(col)}
	if !addr.Kind.Valid() || !rowOK || !colOK {
		return types.PatchAddress{}, fmt.Errorf("patch attributes %v do not name an address", attrs)
	}
	return addr, nil
}
