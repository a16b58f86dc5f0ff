package adapter

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/anime-shed/pattern-inspector-go/internal/embedding"
)

// Layout of the feature vector tail the heuristic model reads.
const (
	lbpBins          = 256
	gaborBands       = 4
	glcmStats        = 11
	waveletBands     = 3
	minHeuristicSize = lbpBins + gaborBands + glcmStats + waveletBands
)

// referenceTensor runs models in process: a gonum linear layer when the
// manifest carries weights, otherwise a nearest-centroid heuristic.
type referenceTensor struct{}

// NewReferenceTensor returns the in-process inference backend.
func NewReferenceTensor() TensorInference {
	return &referenceTensor{}
}

func (t *referenceTensor) Name() string {
	return "reference"
}

func (t *referenceTensor) Close() error {
	return nil
}

func (t *referenceTensor) Load(ctx context.Context, spec ModelSpec) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(spec.Weights) == 0 {
		for _, label := range spec.Labels {
			if _, ok := labelProfiles[label]; !ok {
				return nil, fmt.Errorf("model %q: no weights and no built-in profile for label %q", spec.ID, label)
			}
		}
		return &heuristicModel{spec: spec}, nil
	}
	return newLinearModel(spec)
}

// linearModel computes softmax(W*features + T*text + b).
type linearModel struct {
	spec  ModelSpec
	w     *mat.Dense
	textW *mat.Dense
	bias  *mat.VecDense
}

func newLinearModel(spec ModelSpec) (*linearModel, error) {
	rows := len(spec.Labels)
	if len(spec.Weights) != rows {
		return nil, fmt.Errorf("model %q: %d weight rows for %d labels", spec.ID, len(spec.Weights), rows)
	}
	cols := len(spec.Weights[0])
	flat := make([]float64, 0, rows*cols)
	for i, row := range spec.Weights {
		if len(row) != cols {
			return nil, fmt.Errorf("model %q: weight row %d has %d columns, want %d", spec.ID, i, len(row), cols)
		}
		flat = append(flat, row...)
	}

	m := &linearModel{spec: spec, w: mat.NewDense(rows, cols, flat)}

	bias := make([]float64, rows)
	if len(spec.Bias) > 0 {
		if len(spec.Bias) != rows {
			return nil, fmt.Errorf("model %q: %d bias values for %d labels", spec.ID, len(spec.Bias), rows)
		}
		copy(bias, spec.Bias)
	}
	m.bias = mat.NewVecDense(rows, bias)

	if len(spec.TextWeights) > 0 {
		if len(spec.TextWeights) != rows {
			return nil, fmt.Errorf("model %q: %d text weight rows for %d labels", spec.ID, len(spec.TextWeights), rows)
		}
		tc := len(spec.TextWeights[0])
		tflat := make([]float64, 0, rows*tc)
		for _, row := range spec.TextWeights {
			if len(row) != tc {
				return nil, fmt.Errorf("model %q: ragged text weights", spec.ID)
			}
			tflat = append(tflat, row...)
		}
		m.textW = mat.NewDense(rows, tc, tflat)
	}
	return m, nil
}

func (m *linearModel) ID() string       { return m.spec.ID }
func (m *linearModel) Labels() []string { return m.spec.Labels }
func (m *linearModel) Close() error     { return nil }

func (m *linearModel) Run(ctx context.Context, inputs []NamedTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features := inputByName(inputs, m.spec.FeatureInput)
	_, cols := m.w.Dims()
	if len(features) != cols {
		return nil, fmt.Errorf("model %q expects %d features, got %d", m.spec.ID, cols, len(features))
	}

	var logits mat.VecDense
	logits.MulVec(m.w, mat.NewVecDense(cols, toFloat64(features)))
	logits.AddVec(&logits, m.bias)

	if text := inputByName(inputs, m.spec.TextInput); text != nil && m.textW != nil {
		_, tc := m.textW.Dims()
		if len(text) != tc {
			return nil, fmt.Errorf("model %q expects %d text values, got %d", m.spec.ID, tc, len(text))
		}
		var textLogits mat.VecDense
		textLogits.MulVec(m.textW, mat.NewVecDense(tc, toFloat64(text)))
		logits.AddVec(&logits, &textLogits)
	}
	return softmax(logits.RawVector().Data), nil
}

// profile is the summary signature a label is expected to produce:
// LBP uniformity, GLCM homogeneity, GLCM energy, squashed contrast,
// GLCM correlation, normalized entropy, Gabor anisotropy, wavelet energy.
type profile struct {
	centroid [8]float64
	keywords string
}

var labelProfiles = map[string]profile{
	// pattern model
	"marble":        {[8]float64{0.80, 0.70, 0.10, 0.25, 0.80, 0.55, 0.30, 0.10}, "marble veined veining calacatta carrara polished stone"},
	"granite":       {[8]float64{0.60, 0.45, 0.05, 0.60, 0.30, 0.85, 0.15, 0.35}, "granite speckled flecked stone"},
	"terrazzo":      {[8]float64{0.55, 0.50, 0.06, 0.55, 0.35, 0.80, 0.10, 0.30}, "terrazzo chips aggregate speckle"},
	"wood-look":     {[8]float64{0.75, 0.65, 0.12, 0.30, 0.85, 0.55, 0.75, 0.15}, "wood look plank grain oak walnut timber"},
	"concrete-look": {[8]float64{0.85, 0.85, 0.25, 0.10, 0.70, 0.40, 0.10, 0.05}, "concrete cement look industrial grey"},
	"mosaic":        {[8]float64{0.50, 0.40, 0.08, 0.70, 0.40, 0.75, 0.35, 0.45}, "mosaic sheet chips small grid"},
	"encaustic":     {[8]float64{0.55, 0.45, 0.10, 0.65, 0.45, 0.70, 0.30, 0.40}, "encaustic cement decor motif patterned victorian"},
	"subway":        {[8]float64{0.85, 0.80, 0.30, 0.20, 0.75, 0.35, 0.70, 0.20}, "subway metro brick bevel wall"},
	"hexagon":       {[8]float64{0.75, 0.65, 0.15, 0.40, 0.55, 0.55, 0.20, 0.30}, "hexagon hex honeycomb"},
	"herringbone":   {[8]float64{0.70, 0.55, 0.10, 0.45, 0.50, 0.60, 0.55, 0.35}, "herringbone chevron parquet zigzag"},
	// generic material model
	"ceramic":       {[8]float64{0.80, 0.75, 0.20, 0.20, 0.75, 0.45, 0.20, 0.10}, "ceramic glazed wall tile"},
	"porcelain":     {[8]float64{0.85, 0.80, 0.25, 0.15, 0.80, 0.40, 0.15, 0.08}, "porcelain rectified floor tile vitrified"},
	"natural-stone": {[8]float64{0.60, 0.50, 0.06, 0.50, 0.45, 0.80, 0.20, 0.30}, "natural stone slate travertine limestone granite marble quartzite"},
	"wood":          {[8]float64{0.75, 0.60, 0.10, 0.35, 0.85, 0.60, 0.80, 0.20}, "wood timber oak plank veneer"},
	"metal":         {[8]float64{0.90, 0.85, 0.35, 0.10, 0.90, 0.30, 0.60, 0.05}, "metal steel brushed aluminium copper brass"},
	"glass":         {[8]float64{0.95, 0.90, 0.45, 0.05, 0.90, 0.20, 0.10, 0.03}, "glass translucent glossy crystal"},
	"concrete":      {[8]float64{0.80, 0.75, 0.15, 0.20, 0.60, 0.55, 0.10, 0.10}, "concrete cement screed microcement"},
	"textile":       {[8]float64{0.50, 0.40, 0.05, 0.70, 0.35, 0.85, 0.50, 0.45}, "textile fabric woven weave linen carpet"},
}

// heuristicModel scores labels by distance between a summary of the feature
// vector and each label's profile, with a bonus for text affinity.
type heuristicModel struct {
	spec ModelSpec
}

func (m *heuristicModel) ID() string       { return m.spec.ID }
func (m *heuristicModel) Labels() []string { return m.spec.Labels }
func (m *heuristicModel) Close() error     { return nil }

func (m *heuristicModel) Run(ctx context.Context, inputs []NamedTensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	features := inputByName(inputs, m.spec.FeatureInput)
	if len(features) < minHeuristicSize {
		return nil, fmt.Errorf("model %q needs at least %d features, got %d", m.spec.ID, minHeuristicSize, len(features))
	}
	summary := summarize(toFloat64(features))

	var text []float64
	if raw := inputByName(inputs, m.spec.TextInput); raw != nil {
		text = toFloat64(raw)
	}

	logits := make([]float64, len(m.spec.Labels))
	for i, label := range m.spec.Labels {
		p := labelProfiles[label]
		logits[i] = -8 * floats.Distance(summary[:], p.centroid[:], 2)
		if text != nil {
			logits[i] += 3 * embedding.Cosine(text, embedding.Embed(p.keywords, len(text)))
		}
	}
	return softmax(logits), nil
}

func summarize(v []float64) [8]float64 {
	n := len(v)
	wavelet := v[n-waveletBands:]
	glcm := v[n-waveletBands-glcmStats : n-waveletBands]
	gabor := v[lbpBins : lbpBins+gaborBands]

	var uniformity float64
	for code := 0; code < lbpBins; code++ {
		if isUniformCode(uint8(code)) {
			uniformity += v[code]
		}
	}

	gMax, gMin := floats.Max(gabor), floats.Min(gabor)
	anisotropy := 0.0
	if gMax > 0 {
		anisotropy = (gMax - gMin) / gMax
	}

	contrast, homogeneity, energy, correlation, entropy := glcm[0], glcm[2], glcm[3], glcm[4], glcm[5]
	return [8]float64{
		uniformity,
		homogeneity,
		energy,
		contrast / (1 + contrast),
		clampFloat((correlation+1)/2, 0, 1),
		clampFloat(entropy/math.Log(64), 0, 1),
		anisotropy,
		floats.Sum(wavelet) / float64(len(wavelet)) / (1 + floats.Sum(wavelet)/float64(len(wavelet))),
	}
}

// isUniformCode reports whether the circular 8-bit pattern has at most two
// 0/1 transitions.
func isUniformCode(code uint8) bool {
	rotated := bits.RotateLeft8(code, 1)
	return bits.OnesCount8(code^rotated) <= 2
}

func softmax(logits []float64) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	peak := floats.Max(logits)
	var sum float64
	exps := make([]float64, len(logits))
	for i, l := range logits {
		exps[i] = math.Exp(l - peak)
		sum += exps[i]
	}
	for i := range exps {
		out[i] = float32(exps[i] / sum)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
