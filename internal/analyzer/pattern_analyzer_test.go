package analyzer

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/anime-shed/pattern-inspector-go/internal/texture"
)

func createCheckerboard(width, height, cell int) *image.Gray {
	return createGrayImage(width, height, func(x, y int) uint8 {
		if ((x/cell)+(y/cell))%2 == 0 {
			return 230
		}
		return 25
	})
}

// createNoise fills an image with a fixed full-range pseudo-random pattern.
func createNoise(width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	seed := uint32(11)
	for i := range img.Pix {
		seed = seed*1664525 + 1013904223
		img.Pix[i] = uint8(seed >> 24)
	}
	return img
}

func TestPatternAnalyzer_Analyze(t *testing.T) {
	pa := NewPatternAnalyzer(DefaultOptions())

	tests := []struct {
		name      string
		img       image.Image
		isPattern bool
	}{
		{"Checkerboard", createCheckerboard(64, 64, 8), true},
		{"Noise", createNoise(64, 64), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := pa.Analyze(tt.img, texture.FallbackFeatures())
			if score.IsPattern != tt.isPattern {
				t.Errorf("Expected IsPattern %v, got %v (score %f)", tt.isPattern, score.IsPattern, score.Score)
			}
			expected := 0.4*score.Uniformity + 0.4*score.Homogeneity + 0.2*score.EdgeRatio
			if math.Abs(score.Score-expected) > 1e-12 {
				t.Errorf("Expected score %f, got %f", expected, score.Score)
			}
			if score.Score < 0 || score.Score > 1 {
				t.Errorf("Expected score in [0,1], got %f", score.Score)
			}
		})
	}
}

func TestPatternAnalyzer_UsesExtractedFeatures(t *testing.T) {
	pa := NewPatternAnalyzer(DefaultOptions())
	flat := createGrayImage(32, 32, func(x, y int) uint8 { return 100 })

	hist := make([]float64, 256)
	hist[0] = 1
	features := texture.Features{LBPHistogram: hist}
	features.GLCM.Homogeneity = 0.5

	score := pa.Analyze(flat, features)
	if score.Uniformity != 1 {
		t.Errorf("Expected uniformity from features, got %f", score.Uniformity)
	}
	if score.Homogeneity != 0.5 {
		t.Errorf("Expected homogeneity from features, got %f", score.Homogeneity)
	}
	if score.EdgeRatio != 0 {
		t.Errorf("Expected no edges, got %f", score.EdgeRatio)
	}
	if math.Abs(score.Score-0.6) > 1e-12 {
		t.Errorf("Expected score 0.6, got %f", score.Score)
	}
	if score.IsPattern {
		t.Error("Expected score below threshold")
	}

	lowered := NewPatternAnalyzer(DefaultOptions().WithThreshold(0.6))
	if !lowered.Analyze(flat, features).IsPattern {
		t.Error("Expected score at threshold to count as pattern")
	}
}

func TestPatternAnalyzer_EmptyImage(t *testing.T) {
	pa := NewPatternAnalyzer(DefaultOptions())
	if score := pa.Analyze(nil, texture.Features{}); score != (PatternScore{}) {
		t.Errorf("Expected zero score, got %+v", score)
	}
	if m := pa.Inspect(image.NewRGBA(image.Rect(0, 0, 0, 0))); m.Width != 0 {
		t.Errorf("Expected zero metrics, got %+v", m)
	}
}

func TestPatternAnalyzer_Inspect(t *testing.T) {
	pa := NewPatternAnalyzer(DefaultOptions())

	t.Run("Flat gray", func(t *testing.T) {
		m := pa.Inspect(createTestImage(100, 80, color.RGBA{128, 128, 128, 255}))
		if m.Width != 100 || m.Height != 80 {
			t.Errorf("Expected 100x80, got %dx%d", m.Width, m.Height)
		}
		if m.LaplacianVar != 0 {
			t.Errorf("Expected zero Laplacian variance, got %f", m.LaplacianVar)
		}
		if math.Abs(m.Brightness-128) > 1 {
			t.Errorf("Expected brightness ~128, got %f", m.Brightness)
		}
		if m.IsTooDark || m.IsTooBright || m.IncorrectWB || m.Oversaturated || m.Overexposed {
			t.Errorf("Expected no exposure flags, got %+v", m)
		}
		if m.SkewAngle != nil {
			t.Errorf("Expected no skew for a flat image, got %f", *m.SkewAngle)
		}
		if m.HasDocumentEdges {
			t.Error("Expected no document edges")
		}
	})

	t.Run("Dark", func(t *testing.T) {
		if m := pa.Inspect(createTestImage(50, 50, color.RGBA{20, 20, 20, 255})); !m.IsTooDark {
			t.Errorf("Expected dark image, brightness %f", m.Brightness)
		}
	})

	t.Run("Saturated red", func(t *testing.T) {
		m := pa.Inspect(createTestImage(50, 50, color.RGBA{255, 0, 0, 255}))
		if !m.Oversaturated {
			t.Error("Expected oversaturation")
		}
		if !m.IncorrectWB {
			t.Error("Expected white balance issue")
		}
	})

	t.Run("Framed photo", func(t *testing.T) {
		framed := createGrayImage(100, 100, func(x, y int) uint8 {
			if x < 20 || x >= 80 || y < 20 || y >= 80 {
				return 20
			}
			return 200
		})
		if m := pa.Inspect(framed); !m.HasDocumentEdges {
			t.Error("Expected document edges")
		}
	})
}

func TestColorFamily(t *testing.T) {
	tests := []struct {
		name     string
		c        color.RGBA
		expected string
	}{
		{"Red", color.RGBA{255, 0, 0, 255}, "red"},
		{"Orange", color.RGBA{255, 165, 0, 255}, "orange"},
		{"Yellow", color.RGBA{255, 255, 0, 255}, "yellow"},
		{"Blue", color.RGBA{0, 0, 255, 255}, "blue"},
		{"White", color.RGBA{255, 255, 255, 255}, "white"},
		{"Black", color.RGBA{0, 0, 0, 255}, "black"},
		{"Gray", color.RGBA{128, 128, 128, 255}, "gray"},
		{"Brown", color.RGBA{101, 67, 33, 255}, "brown"},
		{"Beige", color.RGBA{230, 215, 185, 255}, "beige"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := colorful.MakeColor(tt.c)
			if got := ColorFamily(c); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestDominantColor(t *testing.T) {
	pa := NewPatternAnalyzer(DefaultOptions())

	t.Run("Solid red", func(t *testing.T) {
		summary := pa.DominantColor(createTestImage(100, 100, color.RGBA{255, 0, 0, 255}))
		if summary.Family != "red" || summary.Hex != "#ff0000" || summary.Share != 1 {
			t.Errorf("Expected red/#ff0000/1, got %+v", summary)
		}
	})

	t.Run("Mostly white", func(t *testing.T) {
		img := createTestImage(40, 40, color.RGBA{255, 255, 255, 255})
		for y := 0; y < 40; y++ {
			for x := 0; x < 10; x++ {
				img.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
		summary := pa.DominantColor(img)
		if summary.Family != "white" {
			t.Errorf("Expected white, got %s", summary.Family)
		}
		if summary.Share != 0.75 {
			t.Errorf("Expected share 0.75, got %f", summary.Share)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if summary := pa.DominantColor(nil); summary != (ColorSummary{}) {
			t.Errorf("Expected empty summary, got %+v", summary)
		}
	})
}
