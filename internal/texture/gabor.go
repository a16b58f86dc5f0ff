package texture

import (
	"fmt"
	"math"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
)

// GaborOptions are the filter bank parameters. Thetas are in radians.
type GaborOptions struct {
	KernelSize int
	Sigma      float64
	Lambda     float64
	Gamma      float64
	Psi        float64
	Thetas     []float64
}

func DefaultGaborOptions() GaborOptions {
	return GaborOptions{
		KernelSize: 31,
		Sigma:      4.0,
		Lambda:     10.0,
		Gamma:      0.5,
		Psi:        0,
		Thetas:     []float64{0, math.Pi / 4, math.Pi / 2, 3 * math.Pi / 4},
	}
}

// GaborKernel builds a real Gabor kernel the same way OpenCV's
// getGaborKernel does, so both vision backends see identical weights.
func GaborKernel(size int, sigma, theta, lambda, gamma, psi float64) (adapter.Kernel, error) {
	if size < 1 || size%2 == 0 {
		return adapter.Kernel{}, fmt.Errorf("gabor kernel size must be odd and positive (got %d)", size)
	}
	if sigma <= 0 || lambda <= 0 || gamma <= 0 {
		return adapter.Kernel{}, fmt.Errorf("gabor sigma, lambda and gamma must be positive")
	}
	sigmaX := sigma
	sigmaY := sigma / gamma
	c, s := math.Cos(theta), math.Sin(theta)
	half := size / 2
	ex := -0.5 / (sigmaX * sigmaX)
	ey := -0.5 / (sigmaY * sigmaY)
	cscale := 2 * math.Pi / lambda

	data := make([]float64, size*size)
	for y := -half; y <= half; y++ {
		for x := -half; x <= half; x++ {
			xr := float64(x)*c + float64(y)*s
			yr := -float64(x)*s + float64(y)*c
			v := math.Exp(ex*xr*xr+ey*yr*yr) * math.Cos(cscale*xr+psi)
			data[(half-y)*size+(half-x)] = v
		}
	}
	return adapter.Kernel{Size: size, Data: data}, nil
}

// gaborEnergy reduces a filter response to its mean squared value, scaled
// so an 8-bit image yields values near [0, 1].
func gaborEnergy(resp []float64) float64 {
	if len(resp) == 0 {
		return 0
	}
	var sum float64
	for _, v := range resp {
		sum += v * v
	}
	return sum / float64(len(resp)) / (255 * 255)
}
