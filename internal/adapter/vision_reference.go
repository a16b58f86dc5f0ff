package adapter

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/anthonynsimon/bild/effect"
	"github.com/disintegration/imaging"

	"github.com/anime-shed/pattern-inspector-go/internal/raster"
)

// referenceVision is the pure in-process VisionOps backend. It needs no
// native libraries and is always available.
type referenceVision struct{}

// NewReferenceVision returns the in-process vision backend.
func NewReferenceVision() VisionOps {
	return &referenceVision{}
}

func (v *referenceVision) Name() string {
	return "reference"
}

func (v *referenceVision) GaussianBlur(gray *image.Gray, sigma float64) (*image.Gray, error) {
	if err := checkGray(gray, 1); err != nil {
		return nil, err
	}
	if sigma <= 0 {
		return raster.ToGray(imaging.Clone(gray)), nil
	}
	return raster.ToGray(imaging.Blur(gray, sigma)), nil
}

func (v *referenceVision) Laplacian(gray *image.Gray) ([]float64, error) {
	if err := checkGray(gray, 3); err != nil {
		return nil, err
	}
	b := gray.Bounds()
	width, height := b.Dx(), b.Dy()
	out := make([]float64, 0, (width-2)*(height-2))

	// Laplacian kernel: [0, 1, 0; 1, -4, 1; 0, 1, 0]
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			center := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			top := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y-1).Y)
			bottom := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y+1).Y)
			left := float64(gray.GrayAt(b.Min.X+x-1, b.Min.Y+y).Y)
			right := float64(gray.GrayAt(b.Min.X+x+1, b.Min.Y+y).Y)
			out = append(out, -4*center+top+bottom+left+right)
		}
	}
	return out, nil
}

func (v *referenceVision) Filter2D(gray *image.Gray, kernel Kernel) ([]float64, error) {
	if err := checkGray(gray, 1); err != nil {
		return nil, err
	}
	if kernel.Size%2 == 0 || len(kernel.Data) != kernel.Size*kernel.Size {
		return nil, fmt.Errorf("invalid kernel: size %d with %d values", kernel.Size, len(kernel.Data))
	}
	pix := raster.Pixels(raster.ToGray(gray))
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	half := kernel.Size / 2
	out := make([]float64, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for ky := 0; ky < kernel.Size; ky++ {
				sy := reflect101(y+ky-half, h)
				row := sy * w
				krow := ky * kernel.Size
				for kx := 0; kx < kernel.Size; kx++ {
					k := kernel.Data[krow+kx]
					if k == 0 {
						continue
					}
					sum += k * pix[row+reflect101(x+kx-half, w)]
				}
			}
			out[y*w+x] = sum
		}
	}
	return out, nil
}

func (v *referenceVision) GradientDescriptor(gray *image.Gray) ([]float64, error) {
	if err := checkGray(gray, hogCells); err != nil {
		return nil, err
	}
	pix := raster.Pixels(raster.ToGray(gray))
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	gx := make([]float64, w*h)
	gy := make([]float64, w*h)
	at := func(x, y int) float64 { return pix[reflect101(y, h)*w+reflect101(x, w)] }

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx[y*w+x] = -at(x-1, y-1) + at(x+1, y-1) - 2*at(x-1, y) + 2*at(x+1, y) - at(x-1, y+1) + at(x+1, y+1)
			gy[y*w+x] = -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) + at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
		}
	}
	return hogDescriptor(gx, gy, w, h)
}

func (v *referenceVision) AdaptiveEqualize(img image.Image, clipLimit float64, tiles int) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("adaptive equalize: empty image")
	}
	if tiles <= 0 {
		tiles = 8
	}
	if clipLimit <= 0 {
		clipLimit = 2.0
	}
	src := raster.ToRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()

	luma := make([]uint8, w*h)
	cb := make([]uint8, w*h)
	cr := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.RGBAAt(x, y)
			luma[y*w+x], cb[y*w+x], cr[y*w+x] = color.RGBToYCbCr(c.R, c.G, c.B)
		}
	}

	equalized := clahe(luma, w, h, clipLimit, tiles)

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			r, g, b := color.YCbCrToRGB(equalized[i], cb[i], cr[i])
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: src.RGBAAt(x, y).A})
		}
	}
	return out, nil
}

func (v *referenceVision) Denoise(img image.Image) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("denoise: empty image")
	}
	return effect.Median(img, 1), nil
}

func (v *referenceVision) Sharpen(img image.Image, amount float64) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("sharpen: empty image")
	}
	if amount <= 0 {
		return imaging.Clone(img), nil
	}
	return imaging.Sharpen(img, amount), nil
}

func (v *referenceVision) Resize(img image.Image, width, height int) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("resize: empty image")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resize: invalid target %dx%d", width, height)
	}
	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}

func (v *referenceVision) Rotate(img image.Image, degrees float64) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("rotate: empty image")
	}
	// Fill uncovered corners with the mean colour so they do not read as edges
	fill := imaging.Resize(img, 1, 1, imaging.Box).At(0, 0)
	return imaging.Rotate(img, degrees, fill), nil
}

func (v *referenceVision) WarpPerspective(img image.Image, hm Homography, width, height int) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("warp: empty image")
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("warp: invalid target %dx%d", width, height)
	}
	src := raster.ToRGBA(img)
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	out := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx, sy, ok := hm.Apply(float64(x), float64(y))
			if !ok {
				continue
			}
			out.SetRGBA(x, y, bilinearRGBA(src, sx, sy, sw, sh))
		}
	}
	return out, nil
}

// clahe equalizes an 8-bit plane with a contrast-limited histogram per tile
// and bilinear blending between tile mappings.
func clahe(plane []uint8, w, h int, clipLimit float64, tiles int) []uint8 {
	tilesX, tilesY := tiles, tiles
	if tilesX > w {
		tilesX = w
	}
	if tilesY > h {
		tilesY = h
	}
	tileW := (w + tilesX - 1) / tilesX
	tileH := (h + tilesY - 1) / tilesY

	maps := make([][256]uint8, tilesX*tilesY)
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := min(x0+tileW, w), min(y0+tileH, h)

			var hist [256]float64
			count := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[plane[y*w+x]]++
					count++
				}
			}
			if count == 0 {
				for i := range maps[ty*tilesX+tx] {
					maps[ty*tilesX+tx][i] = uint8(i)
				}
				continue
			}

			limit := math.Max(1, clipLimit*float64(count)/256)
			var excess float64
			for i := range hist {
				if hist[i] > limit {
					excess += hist[i] - limit
					hist[i] = limit
				}
			}
			share := excess / 256
			var cdf float64
			for i := range hist {
				cdf += hist[i] + share
				maps[ty*tilesX+tx][i] = uint8(math.Min(255, math.Round(cdf*255/float64(count))))
			}
		}
	}

	out := make([]uint8, len(plane))
	for y := 0; y < h; y++ {
		// Position relative to tile centres
		fy := (float64(y)+0.5)/float64(tileH) - 0.5
		ty0 := clampInt(int(math.Floor(fy)), 0, tilesY-1)
		ty1 := clampInt(ty0+1, 0, tilesY-1)
		wy := clampFloat(fy-float64(ty0), 0, 1)
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)/float64(tileW) - 0.5
			tx0 := clampInt(int(math.Floor(fx)), 0, tilesX-1)
			tx1 := clampInt(tx0+1, 0, tilesX-1)
			wx := clampFloat(fx-float64(tx0), 0, 1)

			v := plane[y*w+x]
			top := (1-wx)*float64(maps[ty0*tilesX+tx0][v]) + wx*float64(maps[ty0*tilesX+tx1][v])
			bottom := (1-wx)*float64(maps[ty1*tilesX+tx0][v]) + wx*float64(maps[ty1*tilesX+tx1][v])
			out[y*w+x] = uint8(math.Round((1-wy)*top + wy*bottom))
		}
	}
	return out
}

func bilinearRGBA(src *image.RGBA, x, y float64, w, h int) color.RGBA {
	x = clampFloat(x, 0, float64(w-1))
	y = clampFloat(y, 0, float64(h-1))
	x0, y0 := int(x), int(y)
	x1, y1 := min(x0+1, w-1), min(y0+1, h-1)
	fx, fy := x-float64(x0), y-float64(y0)

	c00, c10 := src.RGBAAt(x0, y0), src.RGBAAt(x1, y0)
	c01, c11 := src.RGBAAt(x0, y1), src.RGBAAt(x1, y1)
	mix := func(a, b, c, d uint8) uint8 {
		top := float64(a)*(1-fx) + float64(b)*fx
		bottom := float64(c)*(1-fx) + float64(d)*fx
		return uint8(math.Round(top*(1-fy) + bottom*fy))
	}
	return color.RGBA{
		R: mix(c00.R, c10.R, c01.R, c11.R),
		G: mix(c00.G, c10.G, c01.G, c11.G),
		B: mix(c00.B, c10.B, c01.B, c11.B),
		A: mix(c00.A, c10.A, c01.A, c11.A),
	}
}

func checkGray(gray *image.Gray, minSide int) error {
	if gray == nil {
		return fmt.Errorf("nil image")
	}
	b := gray.Bounds()
	if b.Dx() < minSide || b.Dy() < minSide {
		return fmt.Errorf("image %dx%d is smaller than %dx%d", b.Dx(), b.Dy(), minSide, minSide)
	}
	return nil
}

// reflect101 mirrors an out-of-range index without repeating the edge pixel.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
