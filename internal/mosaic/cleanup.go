package mosaic

import "tileseam/internal/raster"

// Speckle thresholds, in percent.
const (
	speckleMax     = 35 // windows below this are candidates for zeroing
	speckleFloor   = 10 // lower bound of the near-threshold band
	speckleMinHits = 7
	speckleMaxHits = 9
	crossCutoff    = 25 // isolated diagonal noise threshold
	crossMaxHits   = 4
	crossLineHits  = 3
)

// cleanup slides a 3×3 window over g in place, row by row, so cells zeroed
// by one window are seen as zero by the windows after it.
//
// A window whose maximum is below speckleMax and which holds 7 to 9 pixels
// strictly between speckleFloor and speckleMax is zeroed. A window peaking
// at its center, with fewer than crossMaxHits pixels at or above
// crossCutoff and no full middle row or column of them, loses its four
// edge-midpoint cells.
func cleanup(g *raster.Grid) {
	for r := 0; r+3 <= g.H; r++ {
		for c := 0; c+3 <= g.W; c++ {
			var win [9]float32
			for i := range win {
				win[i] = g.At(r+i/3, c+i%3)
			}

			peak, argmax := win[0], 0
			band := 0
			for i, v := range win {
				if v > peak {
					peak, argmax = v, i
				}
				if v > speckleFloor && v < speckleMax {
					band++
				}
			}
			if peak < speckleMax && band >= speckleMinHits && band <= speckleMaxHits {
				for i := range win {
					g.Set(r+i/3, c+i%3, 0)
				}
				continue
			}

			// No-data centers are not trees.
			if peak < crossCutoff || argmax != 4 || peak > maxValid {
				continue
			}
			hits, midRow, midCol := 0, 0, 0
			for i, v := range win {
				if v < crossCutoff {
					continue
				}
				hits++
				if i/3 == 1 {
					midRow++
				}
				if i%3 == 1 {
					midCol++
				}
			}
			if hits < crossMaxHits && midRow < crossLineHits && midCol < crossLineHits {
				g.Set(r, c+1, 0)
				g.Set(r+1, c, 0)
				g.Set(r+1, c+2, 0)
				g.Set(r+2, c+1, 0)
			}
		}
	}
}
