package texture

import (
	"fmt"
	"image"
	"math"
	"math/bits"

	"github.com/anime-shed/pattern-inspector-go/internal/raster"
)

// LBPVariant selects how raw neighbour codes are remapped.
type LBPVariant int

const (
	LBPBasic LBPVariant = iota
	LBPUniform
	LBPRotationInvariant
	LBPUniformRotationInvariant
)

func (v LBPVariant) String() string {
	switch v {
	case LBPBasic:
		return "basic"
	case LBPUniform:
		return "uniform"
	case LBPRotationInvariant:
		return "rotation-invariant"
	case LBPUniformRotationInvariant:
		return "uniform-rotation-invariant"
	}
	return fmt.Sprintf("LBPVariant(%d)", int(v))
}

// MaxLBPNeighbors keeps codes within one byte.
const MaxLBPNeighbors = 8

// LBPOptions configures the local binary pattern operator.
type LBPOptions struct {
	Radius    float64
	Neighbors int
	Variant   LBPVariant
}

func DefaultLBPOptions() LBPOptions {
	return LBPOptions{Radius: 1, Neighbors: 8, Variant: LBPBasic}
}

func (o LBPOptions) validate() error {
	if o.Neighbors < 1 || o.Neighbors > MaxLBPNeighbors {
		return fmt.Errorf("LBP neighbors must be within [1, %d] (got %d)", MaxLBPNeighbors, o.Neighbors)
	}
	if o.Radius <= 0 {
		return fmt.Errorf("LBP radius must be > 0 (got %g)", o.Radius)
	}
	return nil
}

// UniformTable maps every code with at most two circular 0/1 transitions
// over the given number of bits to a dense index starting at 1. All other
// codes map to 0. For 8 neighbours exactly 58 codes are uniform.
func UniformTable(neighbors int) [256]uint8 {
	var table [256]uint8
	next := uint8(1)
	limit := 1 << neighbors
	for code := 0; code < limit && code < 256; code++ {
		if transitions(uint8(code), neighbors) <= 2 {
			table[code] = next
			next++
		}
	}
	return table
}

func transitions(code uint8, neighbors int) int {
	count := 0
	for i := 0; i < neighbors; i++ {
		a := (code >> uint(i)) & 1
		b := (code >> uint((i+1)%neighbors)) & 1
		if a != b {
			count++
		}
	}
	return count
}

// minRotation returns the smallest value among all circular rotations of
// code within the given number of bits.
func minRotation(code uint8, neighbors int) uint8 {
	if neighbors == 8 {
		best := code
		for i := 1; i < 8; i++ {
			if r := bits.RotateLeft8(code, i); r < best {
				best = r
			}
		}
		return best
	}
	mask := uint8(1<<neighbors - 1)
	best := code & mask
	cur := best
	for i := 1; i < neighbors; i++ {
		cur = ((cur >> 1) | (cur << uint(neighbors-1))) & mask
		if cur < best {
			best = cur
		}
	}
	return best
}

// LBP computes the per-pixel code map. Pixels within ceil(radius) of any
// edge are 0.
func LBP(img image.Image, opts LBPOptions) (*image.Gray, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	gray := raster.ToGray(img)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	border := int(math.Ceil(opts.Radius))
	if w <= 2*border || h <= 2*border {
		return out, nil
	}

	pix := raster.Pixels(gray)
	dx := make([]float64, opts.Neighbors)
	dy := make([]float64, opts.Neighbors)
	for n := 0; n < opts.Neighbors; n++ {
		angle := 2 * math.Pi * float64(n) / float64(opts.Neighbors)
		dx[n] = snap(opts.Radius * math.Cos(angle))
		dy[n] = snap(-opts.Radius * math.Sin(angle))
	}

	var table [256]uint8
	if opts.Variant == LBPUniform || opts.Variant == LBPUniformRotationInvariant {
		table = UniformTable(opts.Neighbors)
	}

	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			center := pix[y*w+x]
			var code uint8
			for n := 0; n < opts.Neighbors; n++ {
				if bilinear(pix, w, float64(x)+dx[n], float64(y)+dy[n]) >= center {
					code |= 1 << uint(n)
				}
			}
			switch opts.Variant {
			case LBPUniform:
				code = table[code]
			case LBPRotationInvariant:
				code = minRotation(code, opts.Neighbors)
			case LBPUniformRotationInvariant:
				code = table[minRotation(code, opts.Neighbors)]
			}
			out.Pix[y*out.Stride+x] = code
		}
	}
	return out, nil
}

// LBPHistogram returns the 256-bin histogram of the code map, normalized
// to sum to 1.
func LBPHistogram(img image.Image, opts LBPOptions) ([]float64, error) {
	codes, err := LBP(img, opts)
	if err != nil {
		return nil, err
	}
	hist := make([]float64, 256)
	for _, c := range codes.Pix {
		hist[c]++
	}
	total := float64(len(codes.Pix))
	if total == 0 {
		return hist, nil
	}
	for i := range hist {
		hist[i] /= total
	}
	return hist, nil
}

// Uniformity is the share of raw 8-neighbour codes that are uniform. It
// expects a histogram from the basic variant.
func Uniformity(hist []float64) float64 {
	if len(hist) < 256 {
		return 0
	}
	table := UniformTable(8)
	var sum float64
	for code, v := range hist[:256] {
		if table[code] != 0 {
			sum += v
		}
	}
	return sum
}

// snap removes floating noise from circle offsets so axis-aligned samples
// land exactly on pixels.
func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < 1e-6 {
		return r
	}
	return v
}

func bilinear(pix []float64, w int, x, y float64) float64 {
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	v00 := pix[y0*w+x0]
	if fx == 0 && fy == 0 {
		return v00
	}
	h := len(pix) / w
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	v10 := pix[y0*w+x1]
	v01 := pix[y1*w+x0]
	v11 := pix[y1*w+x1]
	top := v00 + (v10-v00)*fx
	bottom := v01 + (v11-v01)*fx
	return top + (bottom-top)*fy
}
