package analyzer

import (
	"image"
	"math"
	"runtime"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
	"gonum.org/v1/gonum/stat"
)

// metricsCalculator implements MetricsCalculator with row-strip parallelism
// and Gonum statistics.
type metricsCalculator struct {
	slicePool     sync.Pool
	edgeMagnitude float64
}

// NewMetricsCalculator creates a metrics calculator whose edge detector uses
// the given Sobel magnitude threshold.
func NewMetricsCalculator(edgeMagnitude float64) MetricsCalculator {
	return &metricsCalculator{
		edgeMagnitude: edgeMagnitude,
		slicePool: sync.Pool{
			New: func() interface{} {
				return make([]float64, 0, 1024)
			},
		},
	}
}

// CalculateBasicMetrics computes mean luminance, saturation and channel
// levels, processing horizontal strips in parallel.
func (omc *metricsCalculator) CalculateBasicMetrics(img image.Image) Metrics {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return Metrics{}
	}

	numWorkers := runtime.NumCPU()
	if height < numWorkers {
		numWorkers = height
	}
	rowsPerWorker := (height + numWorkers - 1) / numWorkers

	type stripResult struct {
		lum, sat, r, g, b float64
		pixelCount        int
	}

	results := make(chan stripResult, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		startY := bounds.Min.Y + i*rowsPerWorker
		endY := min(startY+rowsPerWorker, bounds.Max.Y)
		if startY >= endY {
			continue
		}
		wg.Add(1)
		go func(startY, endY int) {
			defer wg.Done()

			var res stripResult
			for y := startY; y < endY; y++ {
				for x := bounds.Min.X; x < bounds.Max.X; x++ {
					c, ok := colorful.MakeColor(img.At(x, y))
					if !ok {
						// fully transparent
						continue
					}
					_, s, v := c.Hsv()
					res.sat += s
					res.lum += v
					res.r += c.R
					res.g += c.G
					res.b += c.B
					res.pixelCount++
				}
			}
			results <- res
		}(startY, endY)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var total stripResult
	for res := range results {
		total.lum += res.lum
		total.sat += res.sat
		total.r += res.r
		total.g += res.g
		total.b += res.b
		total.pixelCount += res.pixelCount
	}
	if total.pixelCount == 0 {
		return Metrics{}
	}

	n := float64(total.pixelCount)
	return Metrics{
		AvgLuminance:  total.lum / n,
		AvgSaturation: total.sat / n,
		AvgR:          total.r / n,
		AvgG:          total.g / n,
		AvgB:          total.b / n,
	}
}

// CalculateLaplacianVariance computes the variance of the 4-neighbour
// Laplacian over interior pixels.
func (omc *metricsCalculator) CalculateLaplacianVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return 0
	}

	data := omc.slicePool.Get().([]float64)[:0]
	defer func() { omc.slicePool.Put(data[:0]) }()

	// Laplacian kernel: [0, 1, 0; 1, -4, 1; 0, 1, 0]
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			center := float64(gray.GrayAt(x, y).Y)
			top := float64(gray.GrayAt(x, y-1).Y)
			bottom := float64(gray.GrayAt(x, y+1).Y)
			left := float64(gray.GrayAt(x-1, y).Y)
			right := float64(gray.GrayAt(x+1, y).Y)
			data = append(data, -4*center+top+bottom+left+right)
		}
	}
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// CalculateBrightness returns the mean gray level in [0, 255].
func (omc *metricsCalculator) CalculateBrightness(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return 0
	}

	var total float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			total += float64(gray.GrayAt(x, y).Y)
		}
	}
	return total / float64(width*height)
}

// DetectSkew fits a line through strong edge pixels and returns its angle
// in [-45, 45] degrees, or nil when there are too few edges.
func (omc *metricsCalculator) DetectSkew(gray *image.Gray) *float64 {
	var xCoords, yCoords []float64
	omc.forEachEdge(gray, func(x, y int) {
		xCoords = append(xCoords, float64(x))
		yCoords = append(yCoords, float64(y))
	})
	if len(xCoords) < 10 {
		return nil
	}
	angle := omc.calculateSkewAngle(xCoords, yCoords)
	return &angle
}

// EdgeRatio is the share of interior pixels whose Sobel magnitude exceeds
// the edge threshold.
func (omc *metricsCalculator) EdgeRatio(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	interior := (bounds.Dx() - 2) * (bounds.Dy() - 2)
	if interior <= 0 {
		return 0
	}
	edges := 0
	omc.forEachEdge(gray, func(int, int) { edges++ })
	return float64(edges) / float64(interior)
}

func (omc *metricsCalculator) forEachEdge(gray *image.Gray, fn func(x, y int)) {
	bounds := gray.Bounds()
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			gx := omc.calculateSobelX(gray, x, y)
			gy := omc.calculateSobelY(gray, x, y)
			if math.Sqrt(float64(gx*gx+gy*gy)) > omc.edgeMagnitude {
				fn(x, y)
			}
		}
	}
}

func (omc *metricsCalculator) calculateSobelX(gray *image.Gray, x, y int) int {
	return -1*int(gray.GrayAt(x-1, y-1).Y) + 1*int(gray.GrayAt(x+1, y-1).Y) +
		-2*int(gray.GrayAt(x-1, y).Y) + 2*int(gray.GrayAt(x+1, y).Y) +
		-1*int(gray.GrayAt(x-1, y+1).Y) + 1*int(gray.GrayAt(x+1, y+1).Y)
}

func (omc *metricsCalculator) calculateSobelY(gray *image.Gray, x, y int) int {
	return -1*int(gray.GrayAt(x-1, y-1).Y) - 2*int(gray.GrayAt(x, y-1).Y) - 1*int(gray.GrayAt(x+1, y-1).Y) +
		1*int(gray.GrayAt(x-1, y+1).Y) + 2*int(gray.GrayAt(x, y+1).Y) + 1*int(gray.GrayAt(x+1, y+1).Y)
}

// calculateSkewAngle runs a least-squares fit with Gonum.
func (omc *metricsCalculator) calculateSkewAngle(xCoords, yCoords []float64) float64 {
	if len(xCoords) < 2 || len(yCoords) < 2 {
		return 0
	}

	_, slope := stat.LinearRegression(xCoords, yCoords, nil, false)
	angle := math.Atan(slope) * 180 / math.Pi
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return 0
	}

	for angle > 45 {
		angle -= 90
	}
	for angle < -45 {
		angle += 90
	}
	return angle
}
