// Package classifier turns a feature vector, and optional text evidence,
// into a material label through model inference.
package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	"github.com/anime-shed/pattern-inspector-go/internal/embedding"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

// ModelProvider loads models by id. *adapter.LibraryAdapter implements it.
type ModelProvider interface {
	LoadModel(ctx context.Context, id string) (adapter.Model, error)
}

// Options configures the classifier.
type Options struct {
	MaxAlternatives     int
	MinAlternativeScore float64
	TextDim             int
}

func DefaultOptions() Options {
	return Options{
		MaxAlternatives:     2,
		MinAlternativeScore: 0.1,
		TextDim:             embedding.Dim,
	}
}

// Classifier is safe for concurrent use.
type Classifier struct {
	models ModelProvider
	opts   Options
}

func NewClassifier(models ModelProvider, opts Options) *Classifier {
	return &Classifier{models: models, opts: opts}
}

// FailedClassification is the placeholder returned when inference fails.
func FailedClassification(modelID string, err error) models.Classification {
	c := models.Classification{
		MaterialType:           models.MaterialClassificationError,
		Confidence:             models.FailureConfidence,
		AlternativeSuggestions: []string{},
		ModelID:                modelID,
		Degraded:               true,
	}
	if err != nil {
		c.FailureReason = err.Error()
	}
	return c
}

// Classify runs modelID over features. Non-empty text is embedded and
// passed as a second named input. The returned classification is always
// usable; on failure it is the placeholder and the error says why.
// Adapter-not-ready errors are returned unwrapped.
func (c *Classifier) Classify(ctx context.Context, modelID string, features models.FeatureVector, text string) (models.Classification, error) {
	out, err := c.classify(ctx, modelID, features, text)
	if err != nil {
		logger.WithError(err).WithField("model", modelID).Warn("Classification failed")
		if apperrors.IsAdapterNotReady(err) {
			return FailedClassification(modelID, err), err
		}
		return FailedClassification(modelID, err), apperrors.NewStageError("classification", err)
	}
	return out, nil
}

func (c *Classifier) classify(ctx context.Context, modelID string, features models.FeatureVector, text string) (out models.Classification, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("classification panicked: %v", rec)
		}
	}()

	if len(features) == 0 {
		return out, fmt.Errorf("empty feature vector")
	}
	model, err := c.models.LoadModel(ctx, modelID)
	if err != nil {
		return out, err
	}

	inputs := []adapter.NamedTensor{{Name: adapter.FeatureInputName, Data: features.Float32()}}
	if text = strings.TrimSpace(text); text != "" {
		inputs = append(inputs, adapter.NamedTensor{
			Name: adapter.TextInputName,
			Data: models.FeatureVector(embedding.Embed(text, c.opts.TextDim)).Float32(),
		})
	}

	scores, err := model.Run(ctx, inputs)
	if err != nil {
		return out, err
	}
	labels := model.Labels()
	if len(scores) != len(labels) || len(scores) == 0 {
		return out, fmt.Errorf("model %s returned %d scores for %d labels", modelID, len(scores), len(labels))
	}
	for i, s := range scores {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return out, fmt.Errorf("model %s returned invalid score for %s", modelID, labels[i])
		}
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	top := order[0]
	out = models.Classification{
		MaterialType:           labels[top],
		Confidence:             clamp01(float64(scores[top])),
		AlternativeSuggestions: []string{},
		ModelID:                modelID,
	}
	for _, i := range order[1:] {
		if len(out.AlternativeSuggestions) >= c.opts.MaxAlternatives {
			break
		}
		if float64(scores[i]) < c.opts.MinAlternativeScore {
			break
		}
		out.AlternativeSuggestions = append(out.AlternativeSuggestions, labels[i])
	}

	logger.WithFields(logrus.Fields{
		"model":        modelID,
		"label":        out.MaterialType,
		"confidence":   out.Confidence,
		"alternatives": out.AlternativeSuggestions,
		"with_text":    len(inputs) > 1,
	}).Debug("Classification finished")
	return out, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
