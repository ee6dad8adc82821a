package types

import (
	"fmt"
	"time"
)

// TileID identifies a tile in the processing grid. X grows eastward, Y
// northward.
type TileID struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String returns the "{x}X{y}Y" form used in raster file names.
func (t TileID) String() string {
	return fmt.Sprintf("%dX%dY", t.X, t.Y)
}

// RightNeighbor returns the tile sharing this tile's eastern edge.
func (t TileID) RightNeighbor() TileID {
	return TileID{X: t.X + 1, Y: t.Y}
}

// LockKey returns the distributed lock identifier for the tile.
func (t TileID) LockKey() string {
	return fmt.Sprintf("tile:%d:%d", t.X, t.Y)
}

// Less orders tiles by row then column. Lock acquisition follows this order.
func (t TileID) Less(o TileID) bool {
	if t.Y != o.Y {
		return t.Y < o.Y
	}
	return t.X < o.X
}

// PatchKind classifies a prediction patch by where it came from.
type PatchKind string

const (
	// PatchInterior is a patch produced by the tile's own per-tile inference.
	PatchInterior PatchKind = "interior"
	// PatchLeftBorder is a patch written into a tile by the merge with its
	// left neighbor. Only its right half overlaps the tile.
	PatchLeftBorder PatchKind = "left"
	// PatchRightBorder is a patch written into a tile by the merge with its
	// right neighbor. Only its left half overlaps the tile.
	PatchRightBorder PatchKind = "right"
)

// Valid reports whether k is a known patch kind.
func (k PatchKind) Valid() bool {
	switch k {
	case PatchInterior, PatchLeftBorder, PatchRightBorder:
		return true
	}
	return false
}

// PatchAddress locates a prediction patch inside its tile. Row and Col are
// the pixel coordinates of the patch's top-left corner in the tile raster and
// may fall outside the raster for border patches (a left border patch starts
// half a subtile to the west of column 0).
type PatchAddress struct {
	Kind PatchKind `json:"kind"`
	Row  int       `json:"row"`
	Col  int       `json:"col"`
}

// Key returns a stable, filesystem-safe name for the address.
func (a PatchAddress) Key() string {
	return fmt.Sprintf("%s_r%d_c%d", a.Kind, a.Row, a.Col)
}

// Mode selects which predictor handles a subtile.
type Mode string

const (
	ModeTemporal Mode = "TEMPORAL"
	ModeMedian   Mode = "MEDIAN"
)

// NoDataValue marks a pixel or patch without a valid prediction.
const NoDataValue = 255

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }
