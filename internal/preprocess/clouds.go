package preprocess

import (
	"tileseam/internal/raster"
)

// CloudDetector flags dates whose cloud or shadow mask missed something. It
// returns indices into the cube's date axis.
type CloudDetector interface {
	MissedClouds(refl *raster.Cube) []int
}

// MedianDeviationDetector compares each date against the per-pixel temporal
// median. A pixel is suspect when its blue reflectance is well above the
// median (cloud) or its near-infrared reflectance well below it (shadow); a
// date is dropped when too many of its pixels are suspect.
type MedianDeviationDetector struct {
	BlueBand    int
	NIRBand     int
	CloudDelta  float32
	ShadowDelta float32
	MaxSuspect  float64 // fraction of pixels
	MinDates    int
}

// DefaultCloudDetector returns the production thresholds.
func DefaultCloudDetector() *MedianDeviationDetector {
	return &MedianDeviationDetector{
		BlueBand:    0,
		NIRBand:     3,
		CloudDelta:  0.08,
		ShadowDelta: 0.08,
		MaxSuspect:  0.10,
		MinDates:    3,
	}
}

func (d *MedianDeviationDetector) MissedClouds(refl *raster.Cube) []int {
	if refl.T < d.MinDates {
		return nil
	}
	px := refl.H * refl.W
	blueMed := temporalMedian(refl, d.BlueBand)
	nirMed := temporalMedian(refl, d.NIRBand)

	var out []int
	for t := 0; t < refl.T; t++ {
		suspect := 0
		for p := 0; p < px; p++ {
			base := (t*px + p) * refl.C
			if refl.Data[base+d.BlueBand]-blueMed[p] > d.CloudDelta ||
				nirMed[p]-refl.Data[base+d.NIRBand] > d.ShadowDelta {
				suspect++
			}
		}
		if float64(suspect) > d.MaxSuspect*float64(px) {
			out = append(out, t)
		}
	}
	return out
}

func temporalMedian(c *raster.Cube, band int) []float32 {
	px := c.H * c.W
	out := make([]float32, px)
	series := make([]float64, c.T)
	for p := 0; p < px; p++ {
		for t := 0; t < c.T; t++ {
			series[t] = float64(c.Data[(t*px+p)*c.C+band])
		}
		out[p] = float32(median(series))
	}
	return out
}
