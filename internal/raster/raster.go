// Package raster holds the dense float32 arrays the pipeline moves around: a
// 2-D Grid for single-band rasters and a 4-D Cube (date × row × col × band)
// for observation stacks. Both are row-major with the last axis fastest, the
// same layout the zarr codec writes.
package raster

import (
	"fmt"
	"math"
)

// Grid is a row-major H×W float32 raster.
type Grid struct {
	H, W int
	Data []float32
}

// NewGrid allocates a zero-filled grid.
func NewGrid(h, w int) *Grid {
	return &Grid{H: h, W: w, Data: make([]float32, h*w)}
}

// GridFrom wraps data without copying. len(data) must equal h*w.
func GridFrom(h, w int, data []float32) (*Grid, error) {
	if len(data) != h*w {
		return nil, fmt.Errorf("grid %dx%d needs %d values, got %d", h, w, h*w, len(data))
	}
	return &Grid{H: h, W: w, Data: data}, nil
}

func (g *Grid) At(r, c int) float32 { return g.Data[r*g.W+c] }

func (g *Grid) Set(r, c int, v float32) { g.Data[r*g.W+c] = v }

// Fill sets every cell to v.
func (g *Grid) Fill(v float32) {
	for i := range g.Data {
		g.Data[i] = v
	}
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := &Grid{H: g.H, W: g.W, Data: make([]float32, len(g.Data))}
	copy(out.Data, g.Data)
	return out
}

// Column returns a copy of column c.
func (g *Grid) Column(c int) []float64 {
	out := make([]float64, g.H)
	for r := 0; r < g.H; r++ {
		out[r] = float64(g.At(r, c))
	}
	return out
}

// Crop copies the h×w window whose top-left corner is (r0, c0).
func (g *Grid) Crop(r0, c0, h, w int) (*Grid, error) {
	if r0 < 0 || c0 < 0 || h <= 0 || w <= 0 || r0+h > g.H || c0+w > g.W {
		return nil, fmt.Errorf("crop [%d:%d, %d:%d] outside %dx%d grid", r0, r0+h, c0, c0+w, g.H, g.W)
	}
	out := NewGrid(h, w)
	for r := 0; r < h; r++ {
		copy(out.Data[r*w:(r+1)*w], g.Data[(r0+r)*g.W+c0:(r0+r)*g.W+c0+w])
	}
	return out, nil
}

// AllEqual reports whether every cell equals v.
func (g *Grid) AllEqual(v float32) bool {
	for _, x := range g.Data {
		if x != v {
			return false
		}
	}
	return true
}

// Cube is a T×H×W×C float32 array with the band axis fastest.
type Cube struct {
	T, H, W, C int
	Data       []float32
}

// NewCube allocates a zero-filled cube.
func NewCube(t, h, w, c int) *Cube {
	return &Cube{T: t, H: h, W: w, C: c, Data: make([]float32, t*h*w*c)}
}

// CubeFrom wraps data without copying.
func CubeFrom(shape []int, data []float32) (*Cube, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("cube needs a 4-D shape, got %v", shape)
	}
	n := shape[0] * shape[1] * shape[2] * shape[3]
	if len(data) != n {
		return nil, fmt.Errorf("cube %v needs %d values, got %d", shape, n, len(data))
	}
	return &Cube{T: shape[0], H: shape[1], W: shape[2], C: shape[3], Data: data}, nil
}

// Shape returns [T, H, W, C].
func (c *Cube) Shape() []int { return []int{c.T, c.H, c.W, c.C} }

func (c *Cube) index(t, r, col, ch int) int {
	return ((t*c.H+r)*c.W+col)*c.C + ch
}

func (c *Cube) At(t, r, col, ch int) float32 { return c.Data[c.index(t, r, col, ch)] }

func (c *Cube) Set(t, r, col, ch int, v float32) { c.Data[c.index(t, r, col, ch)] = v }

// Frame returns a copy of band ch at date t as a Grid.
func (c *Cube) Frame(t, ch int) *Grid {
	g := NewGrid(c.H, c.W)
	for r := 0; r < c.H; r++ {
		for col := 0; col < c.W; col++ {
			g.Data[r*c.W+col] = c.At(t, r, col, ch)
		}
	}
	return g
}

// Crop copies rows [r0, r0+h) and columns [c0, c0+w) of every date and band.
func (c *Cube) Crop(r0, c0, h, w int) (*Cube, error) {
	if r0 < 0 || c0 < 0 || h <= 0 || w <= 0 || r0+h > c.H || c0+w > c.W {
		return nil, fmt.Errorf("crop [%d:%d, %d:%d] outside %dx%d cube", r0, r0+h, c0, c0+w, c.H, c.W)
	}
	out := NewCube(c.T, h, w, c.C)
	rowLen := w * c.C
	for t := 0; t < c.T; t++ {
		for r := 0; r < h; r++ {
			src := c.index(t, r0+r, c0, 0)
			dst := out.index(t, r, 0, 0)
			copy(out.Data[dst:dst+rowLen], c.Data[src:src+rowLen])
		}
	}
	return out, nil
}

// CropCols keeps columns [c0, c0+w) at full height.
func (c *Cube) CropCols(c0, w int) (*Cube, error) {
	return c.Crop(0, c0, c.H, w)
}

// SelectDates copies the listed dates, in order.
func (c *Cube) SelectDates(idx []int) (*Cube, error) {
	frame := c.H * c.W * c.C
	out := NewCube(len(idx), c.H, c.W, c.C)
	for i, t := range idx {
		if t < 0 || t >= c.T {
			return nil, fmt.Errorf("date index %d outside [0,%d)", t, c.T)
		}
		copy(out.Data[i*frame:(i+1)*frame], c.Data[t*frame:(t+1)*frame])
	}
	return out, nil
}

// SelectBands copies the listed bands, in order.
func (c *Cube) SelectBands(bands []int) (*Cube, error) {
	for _, b := range bands {
		if b < 0 || b >= c.C {
			return nil, fmt.Errorf("band %d outside [0,%d)", b, c.C)
		}
	}
	out := NewCube(c.T, c.H, c.W, len(bands))
	px := c.T * c.H * c.W
	for p := 0; p < px; p++ {
		for i, b := range bands {
			out.Data[p*len(bands)+i] = c.Data[p*c.C+b]
		}
	}
	return out, nil
}

// ConcatCols joins a and b side by side. Both must agree on T, H and C.
func ConcatCols(a, b *Cube) (*Cube, error) {
	if a.T != b.T || a.H != b.H || a.C != b.C {
		return nil, fmt.Errorf("cannot concatenate %v and %v along columns", a.Shape(), b.Shape())
	}
	out := NewCube(a.T, a.H, a.W+b.W, a.C)
	aRow, bRow := a.W*a.C, b.W*b.C
	for t := 0; t < a.T; t++ {
		for r := 0; r < a.H; r++ {
			dst := out.index(t, r, 0, 0)
			copy(out.Data[dst:dst+aRow], a.Data[a.index(t, r, 0, 0):a.index(t, r, 0, 0)+aRow])
			copy(out.Data[dst+aRow:dst+aRow+bRow], b.Data[b.index(t, r, 0, 0):b.index(t, r, 0, 0)+bRow])
		}
	}
	return out, nil
}

// ConcatBands stacks the bands of each cube in order. All cubes must share
// T, H and W.
func ConcatBands(cubes ...*Cube) (*Cube, error) {
	if len(cubes) == 0 {
		return nil, fmt.Errorf("no cubes to concatenate")
	}
	first := cubes[0]
	total := 0
	for _, c := range cubes {
		if c.T != first.T || c.H != first.H || c.W != first.W {
			return nil, fmt.Errorf("cannot concatenate %v and %v along bands", first.Shape(), c.Shape())
		}
		total += c.C
	}
	out := NewCube(first.T, first.H, first.W, total)
	px := first.T * first.H * first.W
	for p := 0; p < px; p++ {
		off := p * total
		for _, c := range cubes {
			copy(out.Data[off:off+c.C], c.Data[p*c.C:(p+1)*c.C])
			off += c.C
		}
	}
	return out, nil
}

// ReflectPadRows adds top and bottom rows mirrored about the edge row, which
// itself is not repeated. Both pads must be smaller than H.
func (c *Cube) ReflectPadRows(top, bottom int) (*Cube, error) {
	if top < 0 || bottom < 0 || top >= c.H || bottom >= c.H {
		return nil, fmt.Errorf("reflect pad %d/%d needs more than %d rows", top, bottom, c.H)
	}
	h := c.H + top + bottom
	out := NewCube(c.T, h, c.W, c.C)
	rowLen := c.W * c.C
	for t := 0; t < c.T; t++ {
		for r := 0; r < h; r++ {
			src := r - top
			switch {
			case src < 0:
				src = -src
			case src >= c.H:
				src = 2*(c.H-1) - src
			}
			s := c.index(t, src, 0, 0)
			d := out.index(t, r, 0, 0)
			copy(out.Data[d:d+rowLen], c.Data[s:s+rowLen])
		}
	}
	return out, nil
}

// ReflectPadCols is ReflectPadRows along the column axis.
func (c *Cube) ReflectPadCols(left, right int) (*Cube, error) {
	if left < 0 || right < 0 || left >= c.W || right >= c.W {
		return nil, fmt.Errorf("reflect pad %d/%d needs more than %d columns", left, right, c.W)
	}
	w := c.W + left + right
	out := NewCube(c.T, c.H, w, c.C)
	for t := 0; t < c.T; t++ {
		for r := 0; r < c.H; r++ {
			for col := 0; col < w; col++ {
				src := col - left
				switch {
				case src < 0:
					src = -src
				case src >= c.W:
					src = 2*(c.W-1) - src
				}
				s := c.index(t, r, src, 0)
				d := out.index(t, r, col, 0)
				copy(out.Data[d:d+c.C], c.Data[s:s+c.C])
			}
		}
	}
	return out, nil
}

// Clip clamps every value into [lo, hi]. NaN becomes lo.
func (c *Cube) Clip(lo, hi float32) {
	for i, v := range c.Data {
		switch {
		case v != v || v < lo:
			c.Data[i] = lo
		case v > hi:
			c.Data[i] = hi
		}
	}
}

// NaN is a float32 quiet NaN.
var NaN = float32(math.NaN())

// IsNaN reports whether v is NaN.
func IsNaN(v float32) bool { return v != v }
