package texture

import (
	"fmt"
	"image"
	"math"

	"github.com/anime-shed/pattern-inspector-go/internal/raster"
)

// GLCMOptions configures co-occurrence analysis. Angles are in degrees and
// limited to 0, 45, 90 and 135.
type GLCMOptions struct {
	GrayLevels int
	Distances  []int
	Angles     []int
	Advanced   bool
}

func DefaultGLCMOptions() GLCMOptions {
	return GLCMOptions{
		GrayLevels: 8,
		Distances:  []int{1},
		Angles:     []int{0, 45, 90, 135},
		Advanced:   true,
	}
}

// GLCMStats are the statistics of one normalized co-occurrence matrix, or
// their average over several offsets.
type GLCMStats struct {
	Contrast      float64 `json:"contrast"`
	Dissimilarity float64 `json:"dissimilarity"`
	Homogeneity   float64 `json:"homogeneity"`
	Energy        float64 `json:"energy"`
	Correlation   float64 `json:"correlation"`

	Entropy                 float64 `json:"entropy"`
	ClusterShade            float64 `json:"cluster_shade"`
	ClusterProminence       float64 `json:"cluster_prominence"`
	MaxProbability          float64 `json:"max_probability"`
	InverseDifferenceMoment float64 `json:"inverse_difference_moment"`
	Autocorrelation         float64 `json:"autocorrelation"`
}

// Vector returns the base statistics, followed by the advanced ones when
// requested.
func (s GLCMStats) Vector(advanced bool) []float64 {
	v := []float64{s.Contrast, s.Dissimilarity, s.Homogeneity, s.Energy, s.Correlation}
	if advanced {
		v = append(v, s.Entropy, s.ClusterShade, s.ClusterProminence,
			s.MaxProbability, s.InverseDifferenceMoment, s.Autocorrelation)
	}
	return v
}

func (s GLCMStats) add(o GLCMStats) GLCMStats {
	return GLCMStats{
		Contrast:                s.Contrast + o.Contrast,
		Dissimilarity:           s.Dissimilarity + o.Dissimilarity,
		Homogeneity:             s.Homogeneity + o.Homogeneity,
		Energy:                  s.Energy + o.Energy,
		Correlation:             s.Correlation + o.Correlation,
		Entropy:                 s.Entropy + o.Entropy,
		ClusterShade:            s.ClusterShade + o.ClusterShade,
		ClusterProminence:       s.ClusterProminence + o.ClusterProminence,
		MaxProbability:          s.MaxProbability + o.MaxProbability,
		InverseDifferenceMoment: s.InverseDifferenceMoment + o.InverseDifferenceMoment,
		Autocorrelation:         s.Autocorrelation + o.Autocorrelation,
	}
}

func (s GLCMStats) scale(f float64) GLCMStats {
	return GLCMStats{
		Contrast:                s.Contrast * f,
		Dissimilarity:           s.Dissimilarity * f,
		Homogeneity:             s.Homogeneity * f,
		Energy:                  s.Energy * f,
		Correlation:             s.Correlation * f,
		Entropy:                 s.Entropy * f,
		ClusterShade:            s.ClusterShade * f,
		ClusterProminence:       s.ClusterProminence * f,
		MaxProbability:          s.MaxProbability * f,
		InverseDifferenceMoment: s.InverseDifferenceMoment * f,
		Autocorrelation:         s.Autocorrelation * f,
	}
}

// AngleOffset converts an angle in degrees and a distance into the pixel
// offset of the neighbour, with y growing downwards.
func AngleOffset(angle, distance int) (dx, dy int, err error) {
	switch angle {
	case 0:
		return distance, 0, nil
	case 45:
		return distance, -distance, nil
	case 90:
		return 0, -distance, nil
	case 135:
		return -distance, -distance, nil
	}
	return 0, 0, fmt.Errorf("unsupported GLCM angle %d", angle)
}

// Quantize maps 8-bit luminance into levels bins.
func Quantize(gray *image.Gray, levels int) []int {
	pix := raster.Pixels(gray)
	out := make([]int, len(pix))
	for i, v := range pix {
		q := int(v) * levels / 256
		if q >= levels {
			q = levels - 1
		}
		out[i] = q
	}
	return out
}

// ComputeGLCM builds the levels x levels co-occurrence matrix of gray for
// the neighbour offset (dx, dy) and normalizes it to probabilities. Pixels
// within max(|dx|, |dy|) of an edge are skipped as reference pixels. The
// matrix is all zeros when the image has no valid pair.
func ComputeGLCM(gray *image.Gray, levels, dx, dy int) ([][]float64, error) {
	if levels < 2 || levels > 256 {
		return nil, fmt.Errorf("GLCM gray levels must be within [2, 256] (got %d)", levels)
	}
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	q := Quantize(gray, levels)
	return cooccurrence(q, w, h, levels, dx, dy, max(abs(dx), abs(dy))), nil
}

func cooccurrence(q []int, w, h, levels, dx, dy, border int) [][]float64 {
	m := make([][]float64, levels)
	for i := range m {
		m[i] = make([]float64, levels)
	}
	var total float64
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			nx, ny := x+dx, y+dy
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				continue
			}
			m[q[y*w+x]][q[ny*w+nx]]++
			total++
		}
	}
	if total == 0 {
		return m
	}
	for i := range m {
		for j := range m[i] {
			m[i][j] /= total
		}
	}
	return m
}

// GLCMStatistics computes every statistic of a normalized matrix. When one
// of the marginal deviations is zero the correlation is defined as 1.
func GLCMStatistics(p [][]float64) GLCMStats {
	var s GLCMStats
	var sum, muI, muJ float64
	for i := range p {
		for j, v := range p[i] {
			sum += v
			muI += float64(i) * v
			muJ += float64(j) * v
		}
	}
	if sum == 0 {
		return s
	}

	var varI, varJ float64
	for i := range p {
		for j, v := range p[i] {
			di, dj := float64(i)-muI, float64(j)-muJ
			varI += di * di * v
			varJ += dj * dj * v
		}
	}
	sigmaI, sigmaJ := math.Sqrt(varI), math.Sqrt(varJ)

	var cov float64
	for i := range p {
		for j, v := range p[i] {
			if v == 0 {
				continue
			}
			fi, fj := float64(i), float64(j)
			d := fi - fj
			s.Contrast += v * d * d
			s.Dissimilarity += v * math.Abs(d)
			s.Homogeneity += v / (1 + d*d)
			s.Energy += v * v
			cov += v * (fi - muI) * (fj - muJ)

			s.Entropy -= v * math.Log(v)
			c := fi + fj - muI - muJ
			s.ClusterShade += v * c * c * c
			s.ClusterProminence += v * c * c * c * c
			if v > s.MaxProbability {
				s.MaxProbability = v
			}
			s.InverseDifferenceMoment += v / (1 + math.Abs(d))
			s.Autocorrelation += fi * fj * v
		}
	}
	if sigmaI == 0 || sigmaJ == 0 {
		s.Correlation = 1
	} else {
		s.Correlation = cov / (sigmaI * sigmaJ)
	}
	return s
}

// GLCMFeatures averages the statistics over every configured angle and
// distance. The border skipped for each offset is the largest distance.
func GLCMFeatures(img image.Image, opts GLCMOptions) (GLCMStats, error) {
	if opts.GrayLevels < 2 || opts.GrayLevels > 256 {
		return GLCMStats{}, fmt.Errorf("GLCM gray levels must be within [2, 256] (got %d)", opts.GrayLevels)
	}
	if len(opts.Distances) == 0 || len(opts.Angles) == 0 {
		return GLCMStats{}, fmt.Errorf("GLCM needs at least one distance and one angle")
	}
	border := 0
	for _, d := range opts.Distances {
		if d < 1 {
			return GLCMStats{}, fmt.Errorf("GLCM distance must be >= 1 (got %d)", d)
		}
		border = max(border, d)
	}

	gray := raster.ToGray(img)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()
	q := Quantize(gray, opts.GrayLevels)

	var acc GLCMStats
	n := 0
	for _, angle := range opts.Angles {
		for _, d := range opts.Distances {
			dx, dy, err := AngleOffset(angle, d)
			if err != nil {
				return GLCMStats{}, err
			}
			acc = acc.add(GLCMStatistics(cooccurrence(q, w, h, opts.GrayLevels, dx, dy, border)))
			n++
		}
	}
	return acc.scale(1 / float64(n)), nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
