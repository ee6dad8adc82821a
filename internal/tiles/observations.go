package tiles

import (
	"context"
	"fmt"

	"tileseam/internal/raster"
	"tileseam/internal/storage"
	"tileseam/internal/types"
)

// Array names inside a tile's raw tree.
const (
	ArrayReflectance = "reflectance"
	ArrayInterp      = "interp"
	ArrayRadar       = "radar"
	ArrayDEM         = "dem"
	ArrayDates       = "dates"
)

// Observations is a tile's raw series. Reflectance and Interp share the date
// axis given by Dates; Radar has its own, coarser cadence; DEM is static and
// stored with a single date.
type Observations struct {
	Dates       []int
	Reflectance *raster.Cube // T×H×W×bands, [0,1]
	Interp      *raster.Cube // T×H×W×1, 1 where the pixel was interpolated
	Radar       *raster.Cube // Tr×H×W×2
	DEM         *raster.Cube // 1×H×W×1
}

// Validate checks that every array agrees on the spatial extent and that
// the optical arrays agree on the date axis.
func (o *Observations) Validate() error {
	r := o.Reflectance
	if r == nil || o.Interp == nil || o.Radar == nil || o.DEM == nil {
		return fmt.Errorf("observation set is incomplete")
	}
	if r.T != len(o.Dates) || o.Interp.T != len(o.Dates) {
		return fmt.Errorf("date axis mismatch: %d dates, reflectance %d, interp %d", len(o.Dates), r.T, o.Interp.T)
	}
	for name, c := range map[string]*raster.Cube{"interp": o.Interp, "radar": o.Radar, "dem": o.DEM} {
		if c.H != r.H || c.W != r.W {
			return fmt.Errorf("%s is %dx%d, reflectance is %dx%d", name, c.H, c.W, r.H, r.W)
		}
	}
	if o.DEM.T != 1 || o.DEM.C != 1 || o.Interp.C != 1 {
		return fmt.Errorf("dem and interp must be single-band")
	}
	for i := 1; i < len(o.Dates); i++ {
		if o.Dates[i] <= o.Dates[i-1] {
			return fmt.Errorf("dates not strictly increasing at index %d (%d after %d)", i, o.Dates[i], o.Dates[i-1])
		}
	}
	return nil
}

// LoadObservations fetches the raw tree if needed and decodes it.
func (r *Repository) LoadObservations(ctx context.Context, tile types.TileID) (*Observations, error) {
	if err := r.fetcher.EnsureLocal(ctx, tile, storage.SubRaw); err != nil {
		return nil, err
	}

	prefix := func(name string) string { return r.layout.Local(tile, storage.SubRaw, name) }
	obs := &Observations{}

	_, dates, err := r.codec.ReadInt32(ctx, r.local, prefix(ArrayDates))
	if err != nil {
		return nil, err
	}
	obs.Dates = make([]int, len(dates))
	for i, d := range dates {
		obs.Dates[i] = int(d)
	}

	if obs.Reflectance, err = r.readCube(ctx, prefix(ArrayReflectance), false); err != nil {
		return nil, err
	}
	if obs.Interp, err = r.readCube(ctx, prefix(ArrayInterp), false); err != nil {
		return nil, err
	}
	if obs.Radar, err = r.readCube(ctx, prefix(ArrayRadar), false); err != nil {
		return nil, err
	}
	if obs.DEM, err = r.readCube(ctx, prefix(ArrayDEM), true); err != nil {
		return nil, err
	}

	if err := obs.Validate(); err != nil {
		return nil, types.NewAppError(types.ErrCodePairShapeMismatch,
			fmt.Sprintf("tile %s observations", tile), err)
	}
	return obs, nil
}

// readCube accepts 4-D arrays, 3-D arrays as a single band and, when static
// is set, 2-D arrays as a single date and band.
func (r *Repository) readCube(ctx context.Context, prefix string, static bool) (*raster.Cube, error) {
	meta, data, err := r.codec.ReadFloat32(ctx, r.local, prefix)
	if err != nil {
		return nil, err
	}
	shape := meta.Shape
	switch {
	case len(shape) == 4:
	case len(shape) == 3:
		shape = []int{shape[0], shape[1], shape[2], 1}
	case len(shape) == 2 && static:
		shape = []int{1, shape[0], shape[1], 1}
	default:
		return nil, types.NewAppError(types.ErrCodeValidationArrayMeta,
			fmt.Sprintf("%s has unsupported shape %v", prefix, meta.Shape), nil)
	}
	return raster.CubeFrom(shape, data)
}

// WriteObservations stores a raw series in the layout LoadObservations reads.
// The upstream ingestion normally produces these trees; the batch uses this
// only for fixtures and re-encoding.
func (r *Repository) WriteObservations(ctx context.Context, tile types.TileID, obs *Observations) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	prefix := func(name string) string { return r.layout.Local(tile, storage.SubRaw, name) }

	dates := make([]int32, len(obs.Dates))
	for i, d := range obs.Dates {
		dates[i] = int32(d)
	}
	if err := r.codec.WriteInt32(ctx, r.local, prefix(ArrayDates), []int{len(dates)}, dates, nil); err != nil {
		return err
	}
	for name, c := range map[string]*raster.Cube{
		ArrayReflectance: obs.Reflectance,
		ArrayInterp:      obs.Interp,
		ArrayRadar:       obs.Radar,
		ArrayDEM:         obs.DEM,
	} {
		if err := r.codec.WriteFloat32(ctx, r.local, prefix(name), c.Shape(), c.Data, nil); err != nil {
			return err
		}
	}
	return nil
}
