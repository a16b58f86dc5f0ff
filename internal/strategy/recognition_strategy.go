// Package strategy chooses the classification pipeline for one image: the
// specialized pattern model or the generic material model.
package strategy

import (
	"context"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	"github.com/anime-shed/pattern-inspector-go/internal/analyzer"
	"github.com/anime-shed/pattern-inspector-go/internal/logger"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

const (
	PatternStrategyName  = "pattern"
	MaterialStrategyName = "material"
)

// Classifier is the part of *classifier.Classifier the strategies use.
type Classifier interface {
	Classify(ctx context.Context, modelID string, features models.FeatureVector, text string) (models.Classification, error)
}

// Input is everything a strategy may look at.
type Input struct {
	Image    image.Image
	Features texture.Features
	Pattern  analyzer.PatternScore
	Text     string
}

// Decision is a classification plus the properties the strategy adds to
// the result.
type Decision struct {
	Classification models.Classification
	Properties     map[string]interface{}
}

// RecognitionStrategy defines the interface for classification strategies
type RecognitionStrategy interface {
	Recognize(ctx context.Context, in Input) (Decision, error)
	GetStrategyName() string
	ModelID() string
}

// PatternStrategy runs the specialized pattern model.
type PatternStrategy struct {
	classifier Classifier
	modelID    string
}

func NewPatternStrategy(c Classifier) *PatternStrategy {
	return &PatternStrategy{classifier: c, modelID: adapter.PatternModelID}
}

func (s *PatternStrategy) Recognize(ctx context.Context, in Input) (Decision, error) {
	cls, err := s.classifier.Classify(ctx, s.modelID, in.Features.Vector, in.Text)
	d := Decision{
		Classification: cls,
		Properties: map[string]interface{}{
			"pipeline":      PatternStrategyName,
			"patternFamily": cls.MaterialType,
			"patternScore":  in.Pattern.Score,
		},
	}
	return d, err
}

func (s *PatternStrategy) GetStrategyName() string {
	return PatternStrategyName
}

func (s *PatternStrategy) ModelID() string {
	return s.modelID
}

// MaterialStrategy runs the generic multi-class material model.
type MaterialStrategy struct {
	classifier Classifier
	modelID    string
}

func NewMaterialStrategy(c Classifier) *MaterialStrategy {
	return &MaterialStrategy{classifier: c, modelID: adapter.MaterialModelID}
}

func (s *MaterialStrategy) Recognize(ctx context.Context, in Input) (Decision, error) {
	cls, err := s.classifier.Classify(ctx, s.modelID, in.Features.Vector, in.Text)
	d := Decision{
		Classification: cls,
		Properties: map[string]interface{}{
			"pipeline":         MaterialStrategyName,
			"materialCategory": cls.MaterialType,
			"patternScore":     in.Pattern.Score,
		},
	}
	return d, err
}

func (s *MaterialStrategy) GetStrategyName() string {
	return MaterialStrategyName
}

func (s *MaterialStrategy) ModelID() string {
	return s.modelID
}

// RecognitionContext holds the current strategy
type RecognitionContext struct {
	strategy RecognitionStrategy
}

// NewRecognitionContext creates a new recognition context
func NewRecognitionContext(strategy RecognitionStrategy) *RecognitionContext {
	return &RecognitionContext{strategy: strategy}
}

// SetStrategy changes the recognition strategy
func (rc *RecognitionContext) SetStrategy(strategy RecognitionStrategy) {
	rc.strategy = strategy
}

// Execute runs the current strategy
func (rc *RecognitionContext) Execute(ctx context.Context, in Input) (Decision, error) {
	logger.WithFields(logrus.Fields{
		"strategy": rc.strategy.GetStrategyName(),
		"model":    rc.strategy.ModelID(),
	}).Debug("Executing recognition strategy")
	return rc.strategy.Recognize(ctx, in)
}

// GetCurrentStrategy returns the current strategy
func (rc *RecognitionContext) GetCurrentStrategy() RecognitionStrategy {
	return rc.strategy
}

// Selector picks the strategy from the pre-classifier outcome.
type Selector struct {
	Pattern  RecognitionStrategy
	Material RecognitionStrategy
}

func NewSelector(c Classifier) Selector {
	return Selector{Pattern: NewPatternStrategy(c), Material: NewMaterialStrategy(c)}
}

// Select returns the pattern strategy for pattern images, the material
// strategy otherwise.
func (s Selector) Select(score analyzer.PatternScore) RecognitionStrategy {
	if score.IsPattern {
		return s.Pattern
	}
	return s.Material
}

// Context returns a RecognitionContext primed with the selected strategy.
func (s Selector) Context(score analyzer.PatternScore) *RecognitionContext {
	return NewRecognitionContext(s.Select(score))
}
