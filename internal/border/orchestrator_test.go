package border

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileseam/internal/geometry"
	"tileseam/internal/preprocess"
	"tileseam/internal/raster"
	"tileseam/internal/tiles"
	"tileseam/internal/types"
)

var smallParams = geometry.Params{SubtileSize: 8, Margin: 1, Splits: 2}

const (
	tileRows = 20
	tileCols = 12
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- fakes ---

type fakeStore struct {
	states   map[types.TileID]tiles.RasterState
	finished map[types.TileID]*raster.Grid
	obs      map[types.TileID]*tiles.Observations
	patches  map[types.TileID]map[types.PatchAddress]*raster.Grid
	uploads  []types.PatchAddress
	loads    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		states:   map[types.TileID]tiles.RasterState{},
		finished: map[types.TileID]*raster.Grid{},
		obs:      map[types.TileID]*tiles.Observations{},
		patches:  map[types.TileID]map[types.PatchAddress]*raster.Grid{},
	}
}

// addTile registers a finished tile whose raster is uniformly v and whose
// reference patch has the given size.
func (s *fakeStore) addTile(id types.TileID, v float32, patchSize int, reflectance float32) {
	s.states[id] = tiles.RasterState{FinishedKey: id.String() + "_FINAL.tif"}
	g := raster.NewGrid(tileRows, tileCols)
	g.Fill(v)
	s.finished[id] = g
	s.patches[id] = map[types.PatchAddress]*raster.Grid{
		{Kind: types.PatchInterior}: raster.NewGrid(patchSize, patchSize),
	}
	s.obs[id] = tileObservations([]int{20, 80, 140, 200, 260}, reflectance)
}

func (s *fakeStore) State(_ context.Context, id types.TileID) (tiles.RasterState, error) {
	return s.states[id], nil
}

func (s *fakeStore) LoadFinished(_ context.Context, id types.TileID) (*tiles.FinishedRaster, error) {
	g, ok := s.finished[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundRaster, "no raster", nil)
	}
	return &tiles.FinishedRaster{Key: s.states[id].FinishedKey, Grid: g}, nil
}

func (s *fakeStore) EnsurePatches(context.Context, types.TileID) error { return nil }

func (s *fakeStore) ReadPatch(_ context.Context, id types.TileID, addr types.PatchAddress) (*tiles.Patch, error) {
	g, ok := s.patches[id][addr]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundPatch, "no patch", nil)
	}
	return &tiles.Patch{Addr: addr, Grid: g}, nil
}

func (s *fakeStore) LoadObservations(_ context.Context, id types.TileID) (*tiles.Observations, error) {
	s.loads++
	return s.obs[id], nil
}

func (s *fakeStore) WritePatch(_ context.Context, id types.TileID, p tiles.Patch) error {
	if s.patches[id] == nil {
		s.patches[id] = map[types.PatchAddress]*raster.Grid{}
	}
	s.patches[id][p.Addr] = p.Grid
	return nil
}

func (s *fakeStore) UploadPatch(_ context.Context, _ types.TileID, addr types.PatchAddress) error {
	s.uploads = append(s.uploads, addr)
	return nil
}

type fakeCatalog map[types.TileID]bool

func (c fakeCatalog) Contains(id types.TileID) bool { return c[id] }

// fakePreparer plans every window as temporal and hands back an empty
// tensor.
type fakePreparer struct {
	planned int
	strip   *tiles.Observations
}

func (p *fakePreparer) Plan(_ context.Context, obs *tiles.Observations, windows []geometry.Window) (*preprocess.Plan, error) {
	p.planned++
	p.strip = obs
	plan := &preprocess.Plan{Mode: types.ModeTemporal}
	for _, w := range windows {
		plan.Subtiles = append(plan.Subtiles, preprocess.SubtilePlan{Window: w})
	}
	return plan, nil
}

func (p *fakePreparer) Prepare(_ context.Context, _ *tiles.Observations, sp preprocess.SubtilePlan) (*preprocess.Prepared, error) {
	return &preprocess.Prepared{Window: sp.Window, Tensor: raster.NewCube(1, 1, 1, 1)}, nil
}

type fakePredictor struct {
	calls  int
	failOn int // 1-based call that fails, 0 for never
}

func (f *fakePredictor) Predict(_ context.Context, _ types.Mode, p *preprocess.Prepared) (*raster.Grid, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, types.NewAppError(types.ErrCodeUpstreamPredictor, "model down", errors.New("503"))
	}
	g := raster.NewGrid(smallParams.SubtileSize, smallParams.SubtileSize)
	g.Fill(float32(p.Window.Storage.Y) / 100)
	return g, nil
}

func tileObservations(dates []int, reflectance float32) *tiles.Observations {
	refl := raster.NewCube(len(dates), tileRows, tileCols, preprocess.ReflectanceBands)
	for i := range refl.Data {
		refl.Data[i] = reflectance
	}
	return &tiles.Observations{
		Dates:       dates,
		Reflectance: refl,
		Interp:      raster.NewCube(len(dates), tileRows, tileCols, 1),
		Radar:       raster.NewCube(12, tileRows, tileCols, 2),
		DEM:         raster.NewCube(1, tileRows, tileCols, 1),
	}
}

type harness struct {
	store     *fakeStore
	catalog   fakeCatalog
	preparer  *fakePreparer
	predictor *fakePredictor
	orch      *Orchestrator
	tile      types.TileID
	neighbor  types.TileID
}

func newHarness(tileMean, neighborMean float32) *harness {
	h := &harness{
		store:     newFakeStore(),
		preparer:  &fakePreparer{},
		predictor: &fakePredictor{},
		tile:      types.TileID{X: 10, Y: 20},
	}
	h.neighbor = h.tile.RightNeighbor()
	h.catalog = fakeCatalog{h.tile: true, h.neighbor: true}
	h.store.addTile(h.tile, tileMean, smallParams.SubtileSize, 0.2)
	h.store.addTile(h.neighbor, neighborMean, smallParams.SubtileSize, 0.4)
	h.orch = NewOrchestrator(h.store, h.catalog, h.preparer, h.predictor, Options{
		Params: smallParams,
		Logger: testLogger(),
	})
	return h
}

func requireCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, types.CodeOf(err), "error: %v", err)
}

// --- tests ---

func TestProcessSkipsWhenTilesAgree(t *testing.T) {
	h := newHarness(40, 43)

	res, err := h.orch.Process(context.Background(), h.tile)
	assert.Nil(t, res)
	requireCode(t, err, types.ErrCodeSkipTilesAgree)
	assert.True(t, IsSkip(err))
	assert.Zero(t, h.store.loads, "observations must not be loaded")
	assert.Zero(t, h.predictor.calls)
}

func TestProcessIgnoresInvalidPixelsInEdgeMeans(t *testing.T) {
	h := newHarness(40, 40)
	// A column of no-data in the neighbor would otherwise drag its mean up.
	g := h.store.finished[h.neighbor]
	for r := 0; r < g.H/2; r++ {
		g.Set(r, 0, types.NoDataValue)
	}

	_, err := h.orch.Process(context.Background(), h.tile)
	requireCode(t, err, types.ErrCodeSkipTilesAgree)
}

func TestProcessResegmentsDisagreeingTiles(t *testing.T) {
	h := newHarness(20, 45)

	res, err := h.orch.Process(context.Background(), h.tile)
	require.NoError(t, err)

	assert.Equal(t, h.neighbor, res.Neighbor)
	assert.InDelta(t, 25, res.Difference, 1e-9)
	assert.Equal(t, types.ModeTemporal, res.Mode)
	assert.Equal(t, 3, res.Patches)
	assert.Equal(t, 3, h.predictor.calls)

	half := smallParams.Half()
	for _, row := range []int{0, 6, 12} {
		right, ok := h.store.patches[h.tile][types.PatchAddress{Kind: types.PatchRightBorder, Row: row, Col: tileCols - half}]
		require.True(t, ok, "tile missing right border patch at row %d", row)
		left, ok := h.store.patches[h.neighbor][types.PatchAddress{Kind: types.PatchLeftBorder, Row: row, Col: -half}]
		require.True(t, ok, "neighbor missing left border patch at row %d", row)
		assert.Same(t, right, left)
		assert.Equal(t, float32(row)/100, left.At(0, 0))
	}
	assert.Len(t, h.store.uploads, 6)

	// The strip handed to the preprocessor holds edge columns of both tiles.
	strip := h.preparer.strip
	require.NotNil(t, strip)
	assert.Equal(t, []int{5, tileRows, 2 * smallParams.EdgeWidth(), preprocess.ReflectanceBands}, strip.Reflectance.Shape())
}

func TestProcessEligibility(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *harness)
		code   types.ErrorCode
	}{
		{
			name:   "neighbor outside catalog",
			mutate: func(h *harness) { delete(h.catalog, h.neighbor) },
			code:   types.ErrCodeSkipIneligible,
		},
		{
			name:   "tile not finished",
			mutate: func(h *harness) { h.store.states[h.tile] = tiles.RasterState{} },
			code:   types.ErrCodeSkipIneligible,
		},
		{
			name:   "neighbor not finished",
			mutate: func(h *harness) { h.store.states[h.neighbor] = tiles.RasterState{} },
			code:   types.ErrCodeSkipIneligible,
		},
		{
			name: "neighbor already smoothed",
			mutate: func(h *harness) {
				st := h.store.states[h.neighbor]
				st.Smoothed = true
				h.store.states[h.neighbor] = st
			},
			code: types.ErrCodeSkipAlreadySmoothed,
		},
		{
			name: "reference patch has old size",
			mutate: func(h *harness) {
				h.store.patches[h.neighbor][types.PatchAddress{Kind: types.PatchInterior}] = raster.NewGrid(6, 8)
			},
			code: types.ErrCodeSkipStalePatches,
		},
		{
			name:   "reference patch missing",
			mutate: func(h *harness) { delete(h.store.patches, h.tile) },
			code:   types.ErrCodeSkipStalePatches,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(20, 45)
			tt.mutate(h)

			_, err := h.orch.Process(context.Background(), h.tile)
			requireCode(t, err, tt.code)
			assert.True(t, IsSkip(err))
			assert.Zero(t, h.predictor.calls)
		})
	}
}

func TestProcessWritesNothingWhenPredictionFails(t *testing.T) {
	h := newHarness(20, 45)
	h.predictor.failOn = 2

	_, err := h.orch.Process(context.Background(), h.tile)
	requireCode(t, err, types.ErrCodeUpstreamPredictor)
	assert.False(t, IsSkip(err))

	assert.Len(t, h.store.patches[h.tile], 1, "only the reference patch remains")
	assert.Empty(t, h.store.patches[h.neighbor][types.PatchAddress{Kind: types.PatchLeftBorder, Row: 0, Col: -smallParams.Half()}])
	assert.Empty(t, h.store.uploads)
}

func TestProcessFailsOnEmptyTemporalIntersection(t *testing.T) {
	h := newHarness(20, 45)
	h.store.obs[h.neighbor] = tileObservations(nil, 0.4)

	_, err := h.orch.Process(context.Background(), h.tile)
	requireCode(t, err, types.ErrCodePairEmptyTemporal)
	assert.Zero(t, h.preparer.planned)
}

func TestValidMean(t *testing.T) {
	assert.InDelta(t, 20, validMean([]float64{10, 30, 255, 101}), 1e-9)
	assert.True(t, isNaN(validMean([]float64{255, 200})))
}

func isNaN(f float64) bool { return f != f }
