// Package catalog reads the tile processing-area table: one row per tile with
// its country, grid coordinates and center point.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"tileseam/internal/types"
)

// BoundPadding is how far a tile's bounding box reaches from its center
// point, in degrees.
const BoundPadding = 10.0 / 360.0

var requiredColumns = []string{"country", "X_tile", "Y_tile", "X", "Y"}

// Entry is one catalog row.
type Entry struct {
	Tile    types.TileID
	Country string
	Center  orb.Point // lon, lat
}

// Bound is the georeferencing box of the tile's rasters.
func (e Entry) Bound() orb.Bound {
	return e.Center.Bound().Pad(BoundPadding)
}

// Pair is a tile and its right-hand neighbor.
type Pair struct {
	Tile     Entry
	Neighbor types.TileID
}

// Catalog holds the entries of one country in visiting order: rows top to
// bottom (Y_tile descending), then left to right.
type Catalog struct {
	entries []Entry
	index   map[types.TileID]int
}

// LoadFile opens path and calls Load.
func LoadFile(path, country string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	defer f.Close()
	return Load(f, country)
}

// Load parses a CSV with at least the columns country, X_tile, Y_tile, X and
// Y. Rows of other countries are skipped; an empty country keeps every row.
// Tile coordinates may be written as floats ("2011.0").
func Load(r io.Reader, country string) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationCatalog, "read catalog header", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, types.NewAppError(types.ErrCodeValidationCatalog,
				fmt.Sprintf("catalog is missing column %q", c), nil)
		}
	}

	c := &Catalog{index: make(map[types.TileID]int)}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationCatalog, fmt.Sprintf("read catalog line %d", line), err)
		}
		field := func(name string) string {
			if i := cols[name]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		if country != "" && field("country") != country {
			continue
		}

		e, err := parseEntry(field)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeValidationCatalog, fmt.Sprintf("catalog line %d", line), err)
		}
		if _, dup := c.index[e.Tile]; dup {
			continue
		}
		c.index[e.Tile] = len(c.entries)
		c.entries = append(c.entries, e)
	}

	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i].Tile, c.entries[j].Tile
		if a.Y != b.Y {
			return a.Y > b.Y
		}
		return a.X < b.X
	})
	for i, e := range c.entries {
		c.index[e.Tile] = i
	}
	return c, nil
}

func parseEntry(field func(string) string) (Entry, error) {
	x, err := parseTileCoord(field("X_tile"))
	if err != nil {
		return Entry{}, fmt.Errorf("X_tile: %w", err)
	}
	y, err := parseTileCoord(field("Y_tile"))
	if err != nil {
		return Entry{}, fmt.Errorf("Y_tile: %w", err)
	}
	lon, err := strconv.ParseFloat(field("X"), 64)
	if err != nil {
		return Entry{}, fmt.Errorf("X: %w", err)
	}
	lat, err := strconv.ParseFloat(field("Y"), 64)
	if err != nil {
		return Entry{}, fmt.Errorf("Y: %w", err)
	}
	return Entry{
		Tile:    types.TileID{X: x, Y: y},
		Country: field("country"),
		Center:  orb.Point{lon, lat},
	}, nil
}

func parseTileCoord(s string) (int, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, fmt.Errorf("%q is not a whole number", s)
	}
	return int(v), nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Entries returns the entries in visiting order.
func (c *Catalog) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Lookup finds a tile.
func (c *Catalog) Lookup(id types.TileID) (Entry, bool) {
	i, ok := c.index[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Contains reports whether the tile is in the catalog.
func (c *Catalog) Contains(id types.TileID) bool {
	_, ok := c.index[id]
	return ok
}

// Pairs returns (tile, right neighbor) pairs in visiting order, skipping the
// first start entries and returning at most limit pairs (0 means no limit).
// The neighbor need not be in the catalog; eligibility is decided later.
func (c *Catalog) Pairs(start, limit int) []Pair {
	if start < 0 {
		start = 0
	}
	if start >= len(c.entries) {
		return nil
	}
	rest := c.entries[start:]
	if limit > 0 && limit < len(rest) {
		rest = rest[:limit]
	}
	out := make([]Pair, len(rest))
	for i, e := range rest {
		out[i] = Pair{Tile: e, Neighbor: e.Tile.RightNeighbor()}
	}
	return out
}
