// Package geometry lays out the overlapping subtile windows used for border
// resegmentation. A merged strip is built from the right edge of a tile and
// the left edge of its neighbor; windows run down the strip, each with enough
// context rows around it for the predictor and enough columns on both sides
// to cover the overlap margin.
package geometry

import (
	"fmt"
	"math"
)

// Params are the subtile grid constants.
type Params struct {
	SubtileSize int // canonical patch edge, S
	Margin      int // overlap margin on each side
	Splits      int // stride divisor for the offset vector
}

// DefaultParams matches the production model input.
var DefaultParams = Params{SubtileSize: 168, Margin: 7, Splits: 4}

// Validate checks the constants are usable together.
func (p Params) Validate() error {
	switch {
	case p.SubtileSize <= 0 || p.SubtileSize%2 != 0:
		return fmt.Errorf("subtile size must be positive and even, got %d", p.SubtileSize)
	case p.Margin <= 0 || 2*p.Margin >= p.SubtileSize:
		return fmt.Errorf("margin %d must be in (0, %d)", p.Margin, p.SubtileSize/2)
	case p.Splits <= 0:
		return fmt.Errorf("splits must be positive, got %d", p.Splits)
	}
	return nil
}

// Half is S/2, the depth a border patch reaches into each tile.
func (p Params) Half() int { return p.SubtileSize / 2 }

// StripWidth is the merged strip width, S + 2*margin.
func (p Params) StripWidth() int { return p.SubtileSize + 2*p.Margin }

// EdgeWidth is how many columns each tile contributes to the strip.
func (p Params) EdgeWidth() int { return p.Half() + p.Margin }

// Rect is a pixel rectangle, X along columns and Y along rows.
type Rect struct {
	X, Y, W, H int
}

// Window is one subtile. Storage is where the S×S prediction belongs and Read
// is where input pixels are cut from, both in strip coordinates. PadTop and
// PadBottom are the rows to add by reflection so the read reaches the
// canonical S+2*margin height.
type Window struct {
	Row, Col  int // index in the y and x offset vectors
	Storage   Rect
	Read      Rect
	PadTop    int
	PadBottom int
}

// Offsets returns window start positions along an axis of length n: evenly
// strided by ceil((n-size)/splits), capped at size so consecutive windows
// never leave a gap, with the last one flush against the far edge. An axis no
// longer than size has the single offset 0.
func Offsets(n, size, splits int) []int {
	if n <= size {
		return []int{0}
	}
	span := n - size
	gap := min(int(math.Ceil(float64(span)/float64(splits))), size)
	var out []int
	for o := 0; o < span; o += gap {
		out = append(out, o)
	}
	return append(out, span)
}

// Windows builds the cartesian product of xOffsets and yOffsets, row-major by
// y. Along y the read window is widened by the margin on each interior side,
// never past the first or last offset. Along x the read always spans the full
// S + 2*margin strip starting at the offset, since both tiles are already
// concatenated column-wise.
func Windows(xOffsets, yOffsets []int, p Params) []Window {
	s, m := p.SubtileSize, p.Margin
	last := len(yOffsets) - 1
	out := make([]Window, 0, len(xOffsets)*len(yOffsets))
	for row, y := range yOffsets {
		read := Rect{Y: y - m, H: s + 2*m}
		var padTop, padBottom int
		switch {
		case last == 0:
			read = Rect{Y: y, H: s}
			padTop, padBottom = m, m
		case row == 0:
			read = Rect{Y: y, H: s + m}
			padTop = m
		case row == last:
			read = Rect{Y: y - m, H: s + m}
			padBottom = m
		}
		for col, x := range xOffsets {
			read.X, read.W = x, s+2*m
			out = append(out, Window{
				Row:       row,
				Col:       col,
				Storage:   Rect{X: x + m, Y: y, W: s, H: s},
				Read:      read,
				PadTop:    padTop,
				PadBottom: padBottom,
			})
		}
	}
	return out
}

// BorderWindows lays out the single column of windows covering a merged
// strip of height h.
func BorderWindows(h int, p Params) ([]Window, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if h < p.SubtileSize {
		return nil, fmt.Errorf("strip height %d is shorter than subtile size %d", h, p.SubtileSize)
	}
	windows := Windows([]int{0}, Offsets(h, p.SubtileSize, p.Splits), p)
	for _, w := range windows {
		if w.Read.Y < 0 || w.Read.Y+w.Read.H > h {
			return nil, fmt.Errorf("strip height %d leaves window %d reading rows [%d,%d)", h, w.Row, w.Read.Y, w.Read.Y+w.Read.H)
		}
	}
	return windows, nil
}

// CoreRows returns the storage rows recovered from a read window by removing
// the margins that were actually read.
func (w Window) CoreRows(p Params) (start, end int) {
	start = w.Read.Y + (p.Margin - w.PadTop)
	end = w.Read.Y + w.Read.H - (p.Margin - w.PadBottom)
	return start, end
}
