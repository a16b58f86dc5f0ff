package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/logger"
)

// Built-in model identifiers.
const (
	PatternModelID  = "pattern"
	MaterialModelID = "material-generic"
)

// Tensor names every model understands.
const (
	FeatureInputName = "features"
	TextInputName    = "text"
	ScoresOutputName = "scores"
)

// PatternLabels are the classes of the pattern model.
var PatternLabels = []string{
	"marble", "granite", "terrazzo", "wood-look", "concrete-look",
	"mosaic", "encaustic", "subway", "hexagon", "herringbone",
}

// MaterialLabels are the generic material categories.
var MaterialLabels = []string{
	"ceramic", "porcelain", "natural-stone", "wood",
	"metal", "glass", "concrete", "textile",
}

// NamedTensor is one flat float input bound to a model input by name.
type NamedTensor struct {
	Name string
	Data []float32
}

// ModelSpec describes a model: its labels and, for the reference backend, an
// optional linear layer. Manifests live at <model root>/<id>.json.
type ModelSpec struct {
	ID           string      `json:"id"`
	Labels       []string    `json:"labels"`
	FeatureInput string      `json:"feature_input,omitempty"`
	TextInput    string      `json:"text_input,omitempty"`
	Output       string      `json:"output,omitempty"`
	Weights      [][]float64 `json:"weights,omitempty"`
	Bias         []float64   `json:"bias,omitempty"`
	TextWeights  [][]float64 `json:"text_weights,omitempty"`

	// Path is the ONNX graph next to the manifest, empty when none exists
	Path string `json:"-"`
}

// Model is a loaded classifier. Run returns one score per label.
type Model interface {
	ID() string
	Labels() []string
	Run(ctx context.Context, inputs []NamedTensor) ([]float32, error)
	Close() error
}

// TensorInference loads models for one inference backend.
type TensorInference interface {
	Name() string
	Load(ctx context.Context, spec ModelSpec) (Model, error)
	Close() error
}

// ResolveModelSpec reads the manifest for id from root, falling back to the
// built-in definition for the shipped model ids.
func ResolveModelSpec(root, id string) (ModelSpec, error) {
	spec, ok := builtinSpec(id)

	manifest := filepath.Join(root, id+".json")
	data, err := os.ReadFile(manifest)
	switch {
	case err == nil:
		var fromFile ModelSpec
		if err := json.Unmarshal(data, &fromFile); err != nil {
			return ModelSpec{}, fmt.Errorf("invalid model manifest %s: %w", manifest, err)
		}
		if fromFile.ID == "" {
			fromFile.ID = id
		}
		if len(fromFile.Labels) == 0 {
			fromFile.Labels = spec.Labels
		}
		spec, ok = fromFile, true
	case !errors.Is(err, fs.ErrNotExist):
		return ModelSpec{}, fmt.Errorf("failed to read model manifest %s: %w", manifest, err)
	}

	if !ok {
		return ModelSpec{}, fmt.Errorf("unknown model %q", id)
	}
	if len(spec.Labels) == 0 {
		return ModelSpec{}, fmt.Errorf("model %q has no labels", id)
	}
	if spec.FeatureInput == "" {
		spec.FeatureInput = FeatureInputName
	}
	if spec.TextInput == "" {
		spec.TextInput = TextInputName
	}
	if spec.Output == "" {
		spec.Output = ScoresOutputName
	}

	graph := filepath.Join(root, id+".onnx")
	if _, err := os.Stat(graph); err == nil {
		spec.Path = graph
	}
	return spec, nil
}

func builtinSpec(id string) (ModelSpec, bool) {
	switch id {
	case PatternModelID:
		return ModelSpec{ID: id, Labels: PatternLabels}, true
	case MaterialModelID:
		return ModelSpec{ID: id, Labels: MaterialLabels}, true
	}
	return ModelSpec{}, false
}

// inputByName returns the tensor bound to name, or nil.
func inputByName(inputs []NamedTensor, name string) []float32 {
	for _, in := range inputs {
		if in.Name == name {
			return in.Data
		}
	}
	return nil
}

// resilientTensor loads graphs through the accelerated backend when a graph
// exists and otherwise, or on any load error, through the reference backend.
type resilientTensor struct {
	primary  TensorInference
	fallback TensorInference
	once     sync.Once
}

func newResilientTensor(primary, fallback TensorInference) *resilientTensor {
	return &resilientTensor{primary: primary, fallback: fallback}
}

func (r *resilientTensor) Name() string {
	if r.primary != nil {
		return r.primary.Name()
	}
	return r.fallback.Name()
}

func (r *resilientTensor) Load(ctx context.Context, spec ModelSpec) (Model, error) {
	if r.primary != nil && spec.Path != "" {
		m, err := r.primary.Load(ctx, spec)
		if err == nil {
			return m, nil
		}
		r.once.Do(func() {
			logger.WithError(err).WithFields(logrus.Fields{
				"model":       spec.ID,
				"accelerated": r.primary.Name(),
				"reference":   r.fallback.Name(),
			}).Warn("Accelerated inference backend failed, using reference backend")
		})
	}
	return r.fallback.Load(ctx, spec)
}

func (r *resilientTensor) Close() error {
	var errs []error
	if r.primary != nil {
		errs = append(errs, r.primary.Close())
	}
	errs = append(errs, r.fallback.Close())
	return errors.Join(errs...)
}
