// Package geotiff reads finished tile rasters and writes fused ones. Rasters
// are single-band 8-bit TIFFs; georeferencing is carried by a world file
// sidecar (.tfw) next to the image, in WGS84 degrees.
package geotiff

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/image/tiff"

	"tileseam/internal/raster"
)

// Putter stores bytes under a key atomically.
type Putter interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Decode reads the first band of a TIFF into a grid. 16-bit images keep
// their full value; everything else goes through the gray color model.
func Decode(data []byte) (*raster.Grid, error) {
	img, err := tiff.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tiff: %w", err)
	}
	b := img.Bounds()
	g := raster.NewGrid(b.Dy(), b.Dx())
	switch src := img.(type) {
	case *image.Gray:
		for r := 0; r < g.H; r++ {
			for c := 0; c < g.W; c++ {
				g.Set(r, c, float32(src.GrayAt(b.Min.X+c, b.Min.Y+r).Y))
			}
		}
	case *image.Gray16:
		for r := 0; r < g.H; r++ {
			for c := 0; c < g.W; c++ {
				g.Set(r, c, float32(src.Gray16At(b.Min.X+c, b.Min.Y+r).Y))
			}
		}
	default:
		for r := 0; r < g.H; r++ {
			for c := 0; c < g.W; c++ {
				gray := color.GrayModel.Convert(img.At(b.Min.X+c, b.Min.Y+r)).(color.Gray)
				g.Set(r, c, float32(gray.Y))
			}
		}
	}
	return g, nil
}

// Encode writes g as a deflate-compressed 8-bit grayscale TIFF. Values are
// truncated toward zero and clamped to [0, 255]; NaN becomes 255.
func Encode(g *raster.Grid) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, g.W, g.H))
	for i, v := range g.Data {
		img.Pix[i] = toUint8(v)
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return nil, fmt.Errorf("encode tiff: %w", err)
	}
	return buf.Bytes(), nil
}

func toUint8(v float32) uint8 {
	switch {
	case v != v:
		return 255
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v)
}

// WorldFile renders the six-line affine transform for a w×h raster covering
// bound: pixel size, rotation terms and the center of the top-left pixel.
func WorldFile(bound orb.Bound, w, h int) []byte {
	px := (bound.Max[0] - bound.Min[0]) / float64(w)
	py := (bound.Max[1] - bound.Min[1]) / float64(h)
	lines := []float64{px, 0, 0, -py, bound.Min[0] + px/2, bound.Max[1] - py/2}
	var sb strings.Builder
	for _, v := range lines {
		fmt.Fprintf(&sb, "%.12f\n", v)
	}
	return []byte(sb.String())
}

// ParseWorldFile reads back the bound written by WorldFile.
func ParseWorldFile(data []byte, w, h int) (orb.Bound, error) {
	fields := strings.Fields(string(data))
	if len(fields) != 6 {
		return orb.Bound{}, fmt.Errorf("world file has %d values, want 6", len(fields))
	}
	var v [6]float64
	for i, f := range fields {
		if _, err := fmt.Sscanf(f, "%g", &v[i]); err != nil {
			return orb.Bound{}, fmt.Errorf("world file value %d: %w", i, err)
		}
	}
	if v[1] != 0 || v[2] != 0 {
		return orb.Bound{}, fmt.Errorf("rotated world files are not supported")
	}
	minX := v[4] - v[0]/2
	maxY := v[5] - v[3]/2
	return orb.Bound{
		Min: orb.Point{minX, maxY + v[3]*float64(h)},
		Max: orb.Point{minX + v[0]*float64(w), maxY},
	}, nil
}

// SidecarKey returns the world file key for a .tif key.
func SidecarKey(tifKey string) string {
	return strings.TrimSuffix(tifKey, ".tif") + ".tfw"
}

// Write stores the raster and its world file. The image is written last so a
// reader that finds it also finds its georeferencing.
func Write(ctx context.Context, store Putter, key string, g *raster.Grid, bound orb.Bound) error {
	if bound.Max[0] <= bound.Min[0] || bound.Max[1] <= bound.Min[1] || math.IsNaN(bound.Min[0]) {
		return fmt.Errorf("degenerate bound %v for %s", bound, key)
	}
	data, err := Encode(g)
	if err != nil {
		return err
	}
	if err := store.Put(ctx, SidecarKey(key), WorldFile(bound, g.W, g.H)); err != nil {
		return fmt.Errorf("write world file for %s: %w", key, err)
	}
	if err := store.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
