//go:build gocv

package adapter

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/anime-shed/pattern-inspector-go/internal/raster"
)

// opencvVision runs the vision operations through OpenCV.
type opencvVision struct{}

func newAcceleratedVision() (VisionOps, error) {
	probe := gocv.NewMat()
	defer probe.Close()
	if !probe.Empty() {
		return nil, fmt.Errorf("opencv probe returned a non-empty matrix")
	}
	return &opencvVision{}, nil
}

func (v *opencvVision) Name() string {
	return "opencv"
}

func grayToMat(gray *image.Gray) (gocv.Mat, error) {
	return gocv.ImageGrayToMatGray(raster.ToGray(gray))
}

func rgbaToBGR(img image.Image) (gocv.Mat, error) {
	rgba := raster.ToRGBA(img)
	b := rgba.Bounds()
	m, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, rgba.Pix)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer m.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(m, &bgr, gocv.ColorRGBAToBGR)
	return bgr, nil
}

func matToImage(m gocv.Mat) (image.Image, error) {
	if m.Empty() {
		return nil, fmt.Errorf("opencv returned an empty matrix")
	}
	return m.ToImage()
}

func matToFloats(m gocv.Mat) []float64 {
	out := make([]float64, 0, m.Rows()*m.Cols())
	for y := 0; y < m.Rows(); y++ {
		for x := 0; x < m.Cols(); x++ {
			out = append(out, m.GetDoubleAt(y, x))
		}
	}
	return out
}

func (v *opencvVision) GaussianBlur(gray *image.Gray, sigma float64) (*image.Gray, error) {
	if err := checkGray(gray, 1); err != nil {
		return nil, err
	}
	src, err := grayToMat(gray)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.GaussianBlur(src, &dst, image.Point{}, sigma, sigma, gocv.BorderDefault)

	img, err := matToImage(dst)
	if err != nil {
		return nil, err
	}
	return raster.ToGray(img), nil
}

func (v *opencvVision) Laplacian(gray *image.Gray) ([]float64, error) {
	if err := checkGray(gray, 3); err != nil {
		return nil, err
	}
	src, err := grayToMat(gray)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Laplacian(src, &dst, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	// Keep interior pixels only so both backends agree on length
	out := make([]float64, 0, (dst.Rows()-2)*(dst.Cols()-2))
	for y := 1; y < dst.Rows()-1; y++ {
		for x := 1; x < dst.Cols()-1; x++ {
			out = append(out, dst.GetDoubleAt(y, x))
		}
	}
	return out, nil
}

func (v *opencvVision) Filter2D(gray *image.Gray, kernel Kernel) ([]float64, error) {
	if err := checkGray(gray, 1); err != nil {
		return nil, err
	}
	if kernel.Size%2 == 0 || len(kernel.Data) != kernel.Size*kernel.Size {
		return nil, fmt.Errorf("invalid kernel: size %d with %d values", kernel.Size, len(kernel.Data))
	}
	src, err := grayToMat(gray)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	k := gocv.NewMatWithSize(kernel.Size, kernel.Size, gocv.MatTypeCV64F)
	defer k.Close()
	for y := 0; y < kernel.Size; y++ {
		for x := 0; x < kernel.Size; x++ {
			k.SetDoubleAt(y, x, kernel.Data[y*kernel.Size+x])
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Filter2D(src, &dst, gocv.MatTypeCV64F, k, image.Point{X: -1, Y: -1}, 0, gocv.BorderDefault)
	return matToFloats(dst), nil
}

func (v *opencvVision) GradientDescriptor(gray *image.Gray) ([]float64, error) {
	if err := checkGray(gray, hogCells); err != nil {
		return nil, err
	}
	src, err := grayToMat(gray)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(src, &gx, gocv.MatTypeCV64F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(src, &gy, gocv.MatTypeCV64F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	return hogDescriptor(matToFloats(gx), matToFloats(gy), src.Cols(), src.Rows())
}

func (v *opencvVision) AdaptiveEqualize(img image.Image, clipLimit float64, tiles int) (image.Image, error) {
	if tiles <= 0 {
		tiles = 8
	}
	bgr, err := rgbaToBGR(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(bgr, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for _, c := range channels {
			c.Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(clipLimit, image.Point{X: tiles, Y: tiles})
	defer clahe.Close()

	equalized := gocv.NewMat()
	defer equalized.Close()
	clahe.Apply(channels[0], &equalized)
	channels[0].Close()
	channels[0] = equalized.Clone()

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	out := gocv.NewMat()
	defer out.Close()
	gocv.CvtColor(merged, &out, gocv.ColorLabToBGR)
	return matToImage(out)
}

func (v *opencvVision) Denoise(img image.Image) (image.Image, error) {
	bgr, err := rgbaToBGR(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.MedianBlur(bgr, &dst, 3)
	return matToImage(dst)
}

func (v *opencvVision) Sharpen(img image.Image, amount float64) (image.Image, error) {
	bgr, err := rgbaToBGR(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(bgr, &blurred, image.Point{}, amount, amount, gocv.BorderDefault)

	// Unsharp mask: src + (src - blurred)
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.AddWeighted(bgr, 2, blurred, -1, 0, &dst)
	return matToImage(dst)
}

func (v *opencvVision) Resize(img image.Image, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("resize: invalid target %dx%d", width, height)
	}
	bgr, err := rgbaToBGR(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(bgr, &dst, image.Point{X: width, Y: height}, 0, 0, gocv.InterpolationLanczos4)
	return matToImage(dst)
}

func (v *opencvVision) Rotate(img image.Image, degrees float64) (image.Image, error) {
	bgr, err := rgbaToBGR(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	w, h := bgr.Cols(), bgr.Rows()
	rot := gocv.GetRotationMatrix2D(image.Point{X: w / 2, Y: h / 2}, degrees, 1)
	defer rot.Close()

	// Grow the canvas to the rotated bounding box and recentre
	cos, sin := rot.GetDoubleAt(0, 0), rot.GetDoubleAt(0, 1)
	if cos < 0 {
		cos = -cos
	}
	if sin < 0 {
		sin = -sin
	}
	nw := int(float64(h)*sin + float64(w)*cos + 0.5)
	nh := int(float64(h)*cos + float64(w)*sin + 0.5)
	rot.SetDoubleAt(0, 2, rot.GetDoubleAt(0, 2)+float64(nw-w)/2)
	rot.SetDoubleAt(1, 2, rot.GetDoubleAt(1, 2)+float64(nh-h)/2)

	mean := bgr.Mean()
	fill := color.RGBA{R: uint8(mean.Val3), G: uint8(mean.Val2), B: uint8(mean.Val1), A: 255}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpAffineWithParams(bgr, &dst, rot, image.Point{X: nw, Y: nh},
		gocv.InterpolationLinear, gocv.BorderConstant, fill)
	return matToImage(dst)
}

func (v *opencvVision) WarpPerspective(img image.Image, hm Homography, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("warp: invalid target %dx%d", width, height)
	}
	// OpenCV expects the source-to-destination mapping
	var forward mat.Dense
	if err := forward.Inverse(mat.NewDense(3, 3, hm[:])); err != nil {
		return nil, fmt.Errorf("warp: homography is singular: %w", err)
	}

	bgr, err := rgbaToBGR(img)
	if err != nil {
		return nil, err
	}
	defer bgr.Close()

	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer m.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m.SetDoubleAt(r, c, forward.At(r, c))
		}
	}

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.WarpPerspective(bgr, &dst, m, image.Point{X: width, Y: height})
	return matToImage(dst)
}
