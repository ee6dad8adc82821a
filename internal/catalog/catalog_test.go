package catalog

import (
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tileseam/internal/types"
)

const sampleCSV = `country,X_tile,Y_tile,X,Y,notes
Ghana,2011.0,1079.0,-1.25,7.5,a
Ghana,2012,1079,-1.1944,7.5,
Kenya,2500,1000,36.8,-1.28,
Ghana,2011,1080,-1.25,7.5556,
Ghana,2010,1080,-1.3056,7.5556,
Ghana,2011,1079,-1.25,7.5,duplicate
`

func TestLoadFiltersAndOrders(t *testing.T) {
	c, err := Load(strings.NewReader(sampleCSV), "Ghana")
	require.NoError(t, err)
	require.Equal(t, 4, c.Len())

	var got []types.TileID
	for _, e := range c.Entries() {
		got = append(got, e.Tile)
	}
	assert.Equal(t, []types.TileID{{X: 2010, Y: 1080}, {X: 2011, Y: 1080}, {X: 2011, Y: 1079}, {X: 2012, Y: 1079}}, got)

	e, ok := c.Lookup(types.TileID{X: 2011, Y: 1079})
	require.True(t, ok)
	assert.Equal(t, orb.Point{-1.25, 7.5}, e.Center)
	assert.False(t, c.Contains(types.TileID{X: 2500, Y: 1000}))
}

func TestLoadAllCountries(t *testing.T) {
	c, err := Load(strings.NewReader(sampleCSV), "")
	require.NoError(t, err)
	assert.Equal(t, 5, c.Len())
}

func TestPairsStartAndLimit(t *testing.T) {
	c, err := Load(strings.NewReader(sampleCSV), "Ghana")
	require.NoError(t, err)

	all := c.Pairs(0, 0)
	require.Len(t, all, 4)
	assert.Equal(t, types.TileID{X: 2011, Y: 1080}, all[0].Neighbor)

	some := c.Pairs(1, 2)
	require.Len(t, some, 2)
	assert.Equal(t, types.TileID{X: 2011, Y: 1080}, some[0].Tile.Tile)
	assert.Equal(t, types.TileID{X: 2011, Y: 1079}, some[1].Tile.Tile)

	assert.Empty(t, c.Pairs(10, 0))
}

func TestEntryBound(t *testing.T) {
	e := Entry{Center: orb.Point{10, 20}}
	b := e.Bound()
	assert.InDelta(t, 10-BoundPadding, b.Min[0], 1e-12)
	assert.InDelta(t, 20+BoundPadding, b.Max[1], 1e-12)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"missing column", "country,X_tile,Y_tile,X\nGhana,1,2,3\n"},
		{"bad tile coordinate", "country,X_tile,Y_tile,X,Y\nGhana,1.5,2,3,4\n"},
		{"bad center", "country,X_tile,Y_tile,X,Y\nGhana,1,2,east,4\n"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.csv), "Ghana")
			assert.Equal(t, types.ErrCodeValidationCatalog, types.CodeOf(err))
		})
	}
}
