package adapter

import (
	"fmt"
	"math"
)

const (
	hogCells = 4
	hogBins  = 9
)

// HOGLength is the length of every gradient descriptor.
const HOGLength = hogCells * hogCells * hogBins

// hogDescriptor bins unsigned gradient orientations over a 4x4 cell grid.
// Each cell histogram is L2-normalized on its own.
func hogDescriptor(gx, gy []float64, w, h int) ([]float64, error) {
	if len(gx) != w*h || len(gy) != w*h {
		return nil, fmt.Errorf("gradient planes do not match %dx%d", w, h)
	}
	if w < hogCells || h < hogCells {
		return nil, fmt.Errorf("image %dx%d is too small for a %dx%d cell grid", w, h, hogCells, hogCells)
	}

	out := make([]float64, HOGLength)
	binWidth := math.Pi / hogBins
	for y := 0; y < h; y++ {
		cy := y * hogCells / h
		for x := 0; x < w; x++ {
			cx := x * hogCells / w
			i := y*w + x
			mag := math.Hypot(gx[i], gy[i])
			if mag == 0 {
				continue
			}
			angle := math.Atan2(gy[i], gx[i])
			if angle < 0 {
				angle += math.Pi
			}
			if angle >= math.Pi {
				angle -= math.Pi
			}
			bin := int(angle / binWidth)
			if bin >= hogBins {
				bin = hogBins - 1
			}
			out[(cy*hogCells+cx)*hogBins+bin] += mag
		}
	}

	for c := 0; c < hogCells*hogCells; c++ {
		cell := out[c*hogBins : (c+1)*hogBins]
		var sum float64
		for _, v := range cell {
			sum += v * v
		}
		norm := math.Sqrt(sum) + 1e-6
		for j := range cell {
			cell[j] /= norm
		}
	}
	return out, nil
}
