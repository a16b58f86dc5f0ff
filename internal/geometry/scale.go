package geometry

import (
	"image"
	"math"

	"github.com/anime-shed/pattern-inspector-go/internal/raster"
)

// DetectPeriod finds the repeat period of gray along rows and columns from
// the first autocorrelation peak that follows a negative lobe. Directions
// without a peak of at least minPeak are ignored; the result is the mean
// period of the remaining directions and their best peak height.
func DetectPeriod(gray *image.Gray, minPeak float64) (period, confidence float64) {
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	if w < 8 || h < 8 {
		return 0, 0
	}
	pix := raster.Pixels(gray)

	var sum float64
	var found int
	for _, horizontal := range []bool{true, false} {
		r := autocorrelation(pix, w, h, horizontal)
		p, c := firstPeak(r)
		if c > confidence {
			confidence = c
		}
		if p > 0 && c >= minPeak {
			sum += p
			found++
		}
	}
	if found == 0 {
		return 0, confidence
	}
	return sum / float64(found), confidence
}

// autocorrelation averages the normalized autocorrelation of every row (or
// column) up to half its length. Each line is centred on its own mean.
func autocorrelation(pix []float64, w, h int, horizontal bool) []float64 {
	n, lines := w, h
	at := func(line, i int) float64 { return pix[line*w+i] }
	if !horizontal {
		n, lines = h, w
		at = func(line, i int) float64 { return pix[i*w+line] }
	}
	maxLag := n / 2
	num := make([]float64, maxLag+1)
	d := make([]float64, n)
	var variance float64

	for line := 0; line < lines; line++ {
		var mean float64
		for i := 0; i < n; i++ {
			d[i] = at(line, i)
			mean += d[i]
		}
		mean /= float64(n)
		for i := range d {
			d[i] -= mean
			variance += d[i] * d[i]
		}
		for k := 0; k <= maxLag; k++ {
			var s float64
			for i := 0; i+k < n; i++ {
				s += d[i] * d[i+k]
			}
			num[k] += s / float64(n-k)
		}
	}

	r := make([]float64, maxLag+1)
	if variance == 0 {
		return r
	}
	variance /= float64(n)
	for k := range r {
		r[k] = num[k] / variance
	}
	return r
}

// peakSnap is the largest parabolic offset treated as finite-length bias:
// an exact integer period still has slightly uneven neighbours because
// each lag averages over a different number of samples.
const peakSnap = 0.1

// firstPeak returns the lag of the first local maximum after r turns
// negative, refined by a parabola through its neighbours. Offsets below
// peakSnap are dropped.
func firstPeak(r []float64) (float64, float64) {
	seenNegative := false
	for k := 1; k < len(r)-1; k++ {
		if r[k] < 0 {
			seenNegative = true
			continue
		}
		if !seenNegative || r[k] < r[k-1] || r[k] < r[k+1] {
			continue
		}
		lag := float64(k)
		if den := r[k-1] - 2*r[k] + r[k+1]; den != 0 {
			if delta := 0.5 * (r[k-1] - r[k+1]) / den; math.Abs(delta) >= peakSnap {
				lag += delta
			}
		}
		return lag, r[k]
	}
	return 0, 0
}
