package analyzer

import (
	"image"
	"image/color"
	"math"
	"testing"
)

// createTestImage creates a simple test image for testing purposes
func createTestImage(width, height int, fillColor color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fillColor)
		}
	}
	return img
}

func createGrayImage(width, height int, fill func(x, y int) uint8) *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray.SetGray(x, y, color.Gray{Y: fill(x, y)})
		}
	}
	return gray
}

func TestNewMetricsCalculator(t *testing.T) {
	calc := NewMetricsCalculator(50)
	if calc == nil {
		t.Error("Expected non-nil metrics calculator")
	}
}

func TestCalculateBasicMetrics(t *testing.T) {
	calc := NewMetricsCalculator(50)

	img := createTestImage(100, 100, color.RGBA{128, 128, 128, 255})
	metrics := calc.CalculateBasicMetrics(img)

	expectedValue := 128.0 / 255.0
	tolerance := 0.01

	if math.Abs(metrics.AvgR-expectedValue) > tolerance {
		t.Errorf("Expected AvgR ~%f, got %f", expectedValue, metrics.AvgR)
	}
	if math.Abs(metrics.AvgG-expectedValue) > tolerance {
		t.Errorf("Expected AvgG ~%f, got %f", expectedValue, metrics.AvgG)
	}
	if math.Abs(metrics.AvgB-expectedValue) > tolerance {
		t.Errorf("Expected AvgB ~%f, got %f", expectedValue, metrics.AvgB)
	}
	if metrics.AvgSaturation > 0.1 {
		t.Errorf("Expected low saturation for gray image, got %f", metrics.AvgSaturation)
	}
	if math.Abs(metrics.AvgLuminance-expectedValue) > tolerance {
		t.Errorf("Expected AvgLuminance ~%f, got %f", expectedValue, metrics.AvgLuminance)
	}
}

func TestCalculateBasicMetrics_ColoredImage(t *testing.T) {
	calc := NewMetricsCalculator(50)
	metrics := calc.CalculateBasicMetrics(createTestImage(100, 100, color.RGBA{255, 0, 0, 255}))

	if math.Abs(metrics.AvgR-1.0) > 0.01 {
		t.Errorf("Expected AvgR ~1.0, got %f", metrics.AvgR)
	}
	if metrics.AvgG > 0.01 {
		t.Errorf("Expected AvgG ~0.0, got %f", metrics.AvgG)
	}
	if metrics.AvgB > 0.01 {
		t.Errorf("Expected AvgB ~0.0, got %f", metrics.AvgB)
	}
	if metrics.AvgSaturation < 0.9 {
		t.Errorf("Expected high saturation for red image, got %f", metrics.AvgSaturation)
	}
}

func TestCalculateBasicMetrics_Empty(t *testing.T) {
	calc := NewMetricsCalculator(50)
	if m := calc.CalculateBasicMetrics(image.NewRGBA(image.Rect(0, 0, 0, 0))); m != (Metrics{}) {
		t.Errorf("Expected zero metrics, got %+v", m)
	}
}

func TestCalculateLaplacianVariance(t *testing.T) {
	calc := NewMetricsCalculator(50)

	t.Run("Uniform image", func(t *testing.T) {
		variance := calc.CalculateLaplacianVariance(createGrayImage(100, 100, func(x, y int) uint8 { return 128 }))
		if variance != 0 {
			t.Errorf("Expected zero variance for uniform image, got %f", variance)
		}
	})

	t.Run("Sharp edge", func(t *testing.T) {
		variance := calc.CalculateLaplacianVariance(createGrayImage(100, 100, func(x, y int) uint8 {
			if x < 50 {
				return 0
			}
			return 255
		}))
		if variance < 100 {
			t.Errorf("Expected higher variance for edge image, got %f", variance)
		}
	})

	t.Run("Too small", func(t *testing.T) {
		if v := calc.CalculateLaplacianVariance(createGrayImage(2, 2, func(x, y int) uint8 { return 0 })); v != 0 {
			t.Errorf("Expected 0 for 2x2 image, got %f", v)
		}
	})
}

func TestCalculateBrightness(t *testing.T) {
	calc := NewMetricsCalculator(50)

	testCases := []struct {
		name           string
		grayValue      uint8
		expectedBright float64
	}{
		{"Black Image", 0, 0.0},
		{"Gray Image", 128, 128.0},
		{"White Image", 255, 255.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gray := createGrayImage(50, 50, func(x, y int) uint8 { return tc.grayValue })
			brightness := calc.CalculateBrightness(gray)
			if math.Abs(brightness-tc.expectedBright) > 1.0 {
				t.Errorf("Expected brightness ~%f, got %f", tc.expectedBright, brightness)
			}
		})
	}
}

func TestDetectSkew(t *testing.T) {
	calc := NewMetricsCalculator(50)

	t.Run("Horizontal edge", func(t *testing.T) {
		gray := createGrayImage(100, 100, func(x, y int) uint8 {
			if y < 50 {
				return 0
			}
			return 255
		})
		skewAngle := calc.DetectSkew(gray)
		if skewAngle == nil {
			t.Fatal("Expected a skew angle")
		}
		if math.Abs(*skewAngle) > 1 {
			t.Errorf("Expected angle near 0, got %f", *skewAngle)
		}
	})

	t.Run("No edges", func(t *testing.T) {
		if angle := calc.DetectSkew(createGrayImage(40, 40, func(x, y int) uint8 { return 90 })); angle != nil {
			t.Errorf("Expected nil for a flat image, got %f", *angle)
		}
	})
}

func TestCalculateSkewAngle(t *testing.T) {
	calc := &metricsCalculator{}

	xs := []float64{0, 10, 20, 30, 40, 50}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = 0.1 * x
	}
	expected := math.Atan(0.1) * 180 / math.Pi
	if angle := calc.calculateSkewAngle(xs, ys); math.Abs(angle-expected) > 1e-6 {
		t.Errorf("Expected %f, got %f", expected, angle)
	}

	if angle := calc.calculateSkewAngle(nil, nil); angle != 0 {
		t.Errorf("Expected 0 for empty coordinates, got %f", angle)
	}
}

func TestEdgeRatio(t *testing.T) {
	calc := NewMetricsCalculator(50)

	tests := []struct {
		name     string
		gray     *image.Gray
		expected float64
	}{
		{"Uniform", createGrayImage(100, 100, func(x, y int) uint8 { return 128 }), 0},
		{"Single vertical edge", createGrayImage(100, 100, func(x, y int) uint8 {
			if x < 50 {
				return 0
			}
			return 255
		}), 2.0 * 98 / (98 * 98)},
		{"Too small", createGrayImage(2, 2, func(x, y int) uint8 { return 0 }), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calc.EdgeRatio(tt.gray); math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}

	checker := createGrayImage(100, 100, func(x, y int) uint8 {
		if (x/10+y/10)%2 == 0 {
			return 0
		}
		return 255
	})
	if got := calc.EdgeRatio(checker); got < 0.1 {
		t.Errorf("Expected many edges for checkerboard, got %f", got)
	}
}
