package analyzer

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

const (
	colorSampleSide = 48
	// Below this HCL chroma a color is treated as neutral
	neutralChroma = 0.06
)

// hueFamilies partitions the CIE LCh hue circle. sRGB red sits near 40
// degrees and blue near 306.
var hueFamilies = []struct {
	upTo   float64
	family string
}{
	{55, "red"},
	{90, "orange"},
	{120, "yellow"},
	{175, "green"},
	{240, "cyan"},
	{315, "blue"},
	{350, "purple"},
	{360, "red"},
}

// ColorFamily names the family of c. Neutral colors map to white, gray or
// black; warm low-chroma colors to beige or brown.
func ColorFamily(c colorful.Color) string {
	h, chroma, l := c.Hcl()
	if chroma < neutralChroma {
		switch {
		case l >= 0.85:
			return "white"
		case l < 0.25:
			return "black"
		default:
			return "gray"
		}
	}
	if h >= 20 && h < 110 {
		if l < 0.45 && chroma < 0.6 {
			return "brown"
		}
		if l >= 0.7 && chroma < 0.25 {
			return "beige"
		}
	}
	for _, f := range hueFamilies {
		if h < f.upTo {
			return f.family
		}
	}
	return "red"
}

// DominantColor buckets a downsampled copy of img by color family and
// returns the mean color of the largest bucket.
func (pa *patternAnalyzer) DominantColor(img image.Image) ColorSummary {
	if img == nil || img.Bounds().Empty() {
		return ColorSummary{}
	}
	small := img
	b := img.Bounds()
	if b.Dx() > colorSampleSide || b.Dy() > colorSampleSide {
		small = imaging.Fit(img, colorSampleSide, colorSampleSide, imaging.Box)
	}

	type bucket struct {
		r, g, b float64
		n       int
	}
	buckets := make(map[string]*bucket)
	order := make([]string, 0, 8)
	total := 0
	sb := small.Bounds()
	for y := sb.Min.Y; y < sb.Max.Y; y++ {
		for x := sb.Min.X; x < sb.Max.X; x++ {
			c, ok := colorful.MakeColor(small.At(x, y))
			if !ok {
				continue
			}
			family := ColorFamily(c)
			bk, seen := buckets[family]
			if !seen {
				bk = &bucket{}
				buckets[family] = bk
				order = append(order, family)
			}
			bk.r += c.R
			bk.g += c.G
			bk.b += c.B
			bk.n++
			total++
		}
	}
	if total == 0 {
		return ColorSummary{}
	}

	best := order[0]
	for _, family := range order[1:] {
		if buckets[family].n > buckets[best].n {
			best = family
		}
	}
	bk := buckets[best]
	n := float64(bk.n)
	mean := colorful.Color{R: bk.r / n, G: bk.g / n, B: bk.b / n}.Clamped()
	return ColorSummary{
		Hex:    mean.Hex(),
		Family: best,
		Share:  math.Round(n/float64(total)*1000) / 1000,
	}
}
