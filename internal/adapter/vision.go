package adapter

import (
	"image"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/logger"
)

// Kernel is a square, row-major convolution kernel with odd Size.
type Kernel struct {
	Size int
	Data []float64
}

// Homography maps destination pixel coordinates (x, y, 1) to source
// coordinates, row-major. Warps sample the source through it.
type Homography [9]float64

// Apply maps a destination point into source space.
func (h Homography) Apply(x, y float64) (float64, float64, bool) {
	w := h[6]*x + h[7]*y + h[8]
	if w == 0 {
		return 0, 0, false
	}
	return (h[0]*x + h[1]*y + h[2]) / w, (h[3]*x + h[4]*y + h[5]) / w, true
}

// VisionOps is the vision-processing capability the pipeline stages use.
// Every method returns a new image or slice; inputs are never modified.
type VisionOps interface {
	Name() string
	GaussianBlur(gray *image.Gray, sigma float64) (*image.Gray, error)
	// Laplacian returns the 4-neighbour Laplacian response of interior pixels
	Laplacian(gray *image.Gray) ([]float64, error)
	// Filter2D correlates gray with kernel and returns one value per pixel, row-major
	Filter2D(gray *image.Gray, kernel Kernel) ([]float64, error)
	GradientDescriptor(gray *image.Gray) ([]float64, error)
	AdaptiveEqualize(img image.Image, clipLimit float64, tiles int) (image.Image, error)
	Denoise(img image.Image) (image.Image, error)
	Sharpen(img image.Image, amount float64) (image.Image, error)
	Resize(img image.Image, width, height int) (image.Image, error)
	// Rotate turns img counter-clockwise by degrees, growing the canvas to fit
	Rotate(img image.Image, degrees float64) (image.Image, error)
	WarpPerspective(img image.Image, h Homography, width, height int) (image.Image, error)
}

// resilientVision tries the accelerated backend first and falls back to the
// reference backend on any error. The first downgrade is logged once.
type resilientVision struct {
	primary  VisionOps
	fallback VisionOps
	ready    func() error
	once     sync.Once
}

func newResilientVision(primary, fallback VisionOps, ready func() error) *resilientVision {
	return &resilientVision{primary: primary, fallback: fallback, ready: ready}
}

func (r *resilientVision) Name() string {
	if r.primary != nil {
		return r.primary.Name()
	}
	return r.fallback.Name()
}

func (r *resilientVision) downgrade(op string, err error) {
	r.once.Do(func() {
		logger.WithError(err).WithFields(logrus.Fields{
			"operation":   op,
			"accelerated": r.primary.Name(),
			"reference":   r.fallback.Name(),
		}).Warn("Accelerated vision backend failed, using reference backend")
	})
}

func callVision[T any](r *resilientVision, op string, fn func(VisionOps) (T, error)) (T, error) {
	var zero T
	if err := r.ready(); err != nil {
		return zero, err
	}
	if r.primary != nil {
		out, err := fn(r.primary)
		if err == nil {
			return out, nil
		}
		r.downgrade(op, err)
	}
	return fn(r.fallback)
}

func (r *resilientVision) GaussianBlur(gray *image.Gray, sigma float64) (*image.Gray, error) {
	return callVision(r, "gaussian_blur", func(v VisionOps) (*image.Gray, error) { return v.GaussianBlur(gray, sigma) })
}

func (r *resilientVision) Laplacian(gray *image.Gray) ([]float64, error) {
	return callVision(r, "laplacian", func(v VisionOps) ([]float64, error) { return v.Laplacian(gray) })
}

func (r *resilientVision) Filter2D(gray *image.Gray, kernel Kernel) ([]float64, error) {
	return callVision(r, "filter2d", func(v VisionOps) ([]float64, error) { return v.Filter2D(gray, kernel) })
}

func (r *resilientVision) GradientDescriptor(gray *image.Gray) ([]float64, error) {
	return callVision(r, "gradient_descriptor", func(v VisionOps) ([]float64, error) { return v.GradientDescriptor(gray) })
}

func (r *resilientVision) AdaptiveEqualize(img image.Image, clipLimit float64, tiles int) (image.Image, error) {
	return callVision(r, "adaptive_equalize", func(v VisionOps) (image.Image, error) { return v.AdaptiveEqualize(img, clipLimit, tiles) })
}

func (r *resilientVision) Denoise(img image.Image) (image.Image, error) {
	return callVision(r, "denoise", func(v VisionOps) (image.Image, error) { return v.Denoise(img) })
}

func (r *resilientVision) Sharpen(img image.Image, amount float64) (image.Image, error) {
	return callVision(r, "sharpen", func(v VisionOps) (image.Image, error) { return v.Sharpen(img, amount) })
}

func (r *resilientVision) Resize(img image.Image, width, height int) (image.Image, error) {
	return callVision(r, "resize", func(v VisionOps) (image.Image, error) { return v.Resize(img, width, height) })
}

func (r *resilientVision) Rotate(img image.Image, degrees float64) (image.Image, error) {
	return callVision(r, "rotate", func(v VisionOps) (image.Image, error) { return v.Rotate(img, degrees) })
}

func (r *resilientVision) WarpPerspective(img image.Image, h Homography, width, height int) (image.Image, error) {
	return callVision(r, "warp_perspective", func(v VisionOps) (image.Image, error) { return v.WarpPerspective(img, h, width, height) })
}
