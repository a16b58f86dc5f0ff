package geometry

import (
	"image"
	"math"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
)

var (
	sobelX = adapter.Kernel{Size: 3, Data: []float64{-1, 0, 1, -2, 0, 2, -1, 0, 1}}
	sobelY = adapter.Kernel{Size: 3, Data: []float64{-1, -2, -1, 0, 0, 0, 1, 2, 1}}
)

const skewBins = 90

// foldQuarter maps an orientation in degrees onto [-45, 45]. Tile edges come
// in orthogonal pairs, so orientations are only meaningful modulo 90.
func foldQuarter(deg float64) float64 {
	return deg - 90*math.Round(deg/90)
}

// DetectSkew estimates the counter-clockwise rotation of the dominant edge
// grid from a magnitude-weighted histogram of gradient orientations. The
// confidence is the share of edge weight within one degree of the peak.
func DetectSkew(vision adapter.VisionOps, gray *image.Gray, minMagnitude float64) (angle, confidence float64, err error) {
	gx, err := vision.Filter2D(gray, sobelX)
	if err != nil {
		return 0, 0, err
	}
	gy, err := vision.Filter2D(gray, sobelY)
	if err != nil {
		return 0, 0, err
	}

	var (
		weight [skewBins]float64
		offset [skewBins]float64
		total  float64
	)
	for i := range gx {
		mag := math.Hypot(gx[i], gy[i])
		if mag < minMagnitude {
			continue
		}
		a := foldQuarter(math.Atan2(gy[i], gx[i]) * 180 / math.Pi)
		bin := int(math.Floor(a + 45))
		if bin >= skewBins {
			bin = skewBins - 1
		}
		weight[bin] += mag
		offset[bin] += mag * (a - (float64(bin) - 45 + 0.5))
		total += mag
	}
	if total == 0 {
		return 0, 0, nil
	}

	peak := 0
	for i := 1; i < skewBins; i++ {
		if weight[i] > weight[peak] {
			peak = i
		}
	}

	// weighted mean over the peak and its neighbours, unwrapped around the peak
	var sum, w float64
	for k := -1; k <= 1; k++ {
		idx := (peak + k + skewBins) % skewBins
		center := float64(peak+k) - 45 + 0.5
		sum += weight[idx]*center + offset[idx]
		w += weight[idx]
	}
	measured := foldQuarter(sum / w)

	// gradients of content turned counter-clockwise point clockwise in image space
	return -measured, w / total, nil
}
