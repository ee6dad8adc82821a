package storage

import (
	"path"
	"strconv"

	"tileseam/internal/types"
)

// Subfolder is one of the three trees a tile owns.
type Subfolder string

const (
	SubRaw       Subfolder = "raw"
	SubProcessed Subfolder = "processed"
	SubTiles     Subfolder = "tiles"
)

// Layout maps tile trees onto keys. Locally a tile lives under
// {x}/{y}/{sub}/; remotely under {year}/{sub}/{x}/{y}/.
type Layout struct {
	Year int
}

// Local returns the local key for rel inside the tile's sub tree.
func (l Layout) Local(tile types.TileID, sub Subfolder, rel ...string) string {
	parts := append([]string{strconv.Itoa(tile.X), strconv.Itoa(tile.Y), string(sub)}, rel...)
	return path.Join(parts...)
}

// Remote returns the remote key for rel inside the tile's sub tree.
func (l Layout) Remote(tile types.TileID, sub Subfolder, rel ...string) string {
	parts := append([]string{strconv.Itoa(l.Year), string(sub), strconv.Itoa(tile.X), strconv.Itoa(tile.Y)}, rel...)
	return path.Join(parts...)
}

// SmoothedRasterName is the file name of a tile's fused raster.
func SmoothedRasterName(tile types.TileID) string {
	return tile.String() + "_SMOOTH.tif"
}
