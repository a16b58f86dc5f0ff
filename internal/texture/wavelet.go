package texture

import (
	"fmt"
	"image"
	"math"

	"github.com/anime-shed/pattern-inspector-go/internal/raster"
)

// Bands holds the detail coefficients of one Haar decomposition level.
type Bands struct {
	Horizontal []float64
	Vertical   []float64
	Diagonal   []float64
	Width      int
	Height     int
}

// HaarBands decomposes the luminance of img into levels detail bands. Each
// level halves the approximation; odd trailing rows and columns are
// dropped. Values are scaled to [0, 1] before decomposition.
func HaarBands(img image.Image, levels int) ([]Bands, error) {
	if levels < 1 {
		return nil, fmt.Errorf("wavelet levels must be >= 1 (got %d)", levels)
	}
	gray := raster.ToGray(img)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	approx := raster.Pixels(gray)
	for i := range approx {
		approx[i] /= 255
	}

	out := make([]Bands, 0, levels)
	for l := 0; l < levels; l++ {
		hw, hh := w/2, h/2
		if hw == 0 || hh == 0 {
			return nil, fmt.Errorf("image too small for %d wavelet levels", levels)
		}
		b := Bands{
			Horizontal: make([]float64, hw*hh),
			Vertical:   make([]float64, hw*hh),
			Diagonal:   make([]float64, hw*hh),
			Width:      hw,
			Height:     hh,
		}
		next := make([]float64, hw*hh)
		for y := 0; y < hh; y++ {
			for x := 0; x < hw; x++ {
				a := approx[(2*y)*w+2*x]
				bb := approx[(2*y)*w+2*x+1]
				c := approx[(2*y+1)*w+2*x]
				d := approx[(2*y+1)*w+2*x+1]
				i := y*hw + x
				next[i] = (a + bb + c + d) / 2
				b.Horizontal[i] = (a + bb - c - d) / 2
				b.Vertical[i] = (a - bb + c - d) / 2
				b.Diagonal[i] = (a - bb - c + d) / 2
			}
		}
		out = append(out, b)
		approx, w, h = next, hw, hh
	}
	return out, nil
}

// BandEnergy is sqrt(sum c^2) / len.
func BandEnergy(coeffs []float64) float64 {
	if len(coeffs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range coeffs {
		sum += c * c
	}
	return math.Sqrt(sum) / float64(len(coeffs))
}

// WaveletEnergies returns H, V and D energies for every level.
func WaveletEnergies(img image.Image, levels int) ([]float64, error) {
	bands, err := HaarBands(img, levels)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, 3*len(bands))
	for _, b := range bands {
		out = append(out, BandEnergy(b.Horizontal), BandEnergy(b.Vertical), BandEnergy(b.Diagonal))
	}
	return out, nil
}
