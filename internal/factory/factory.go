package factory

import (
	"fmt"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	"github.com/anime-shed/pattern-inspector-go/internal/analyzer"
	"github.com/anime-shed/pattern-inspector-go/internal/classifier"
	"github.com/anime-shed/pattern-inspector-go/internal/config"
	"github.com/anime-shed/pattern-inspector-go/internal/document"
	"github.com/anime-shed/pattern-inspector-go/internal/enhance"
	"github.com/anime-shed/pattern-inspector-go/internal/geometry"
	"github.com/anime-shed/pattern-inspector-go/internal/observer"
	"github.com/anime-shed/pattern-inspector-go/internal/quality"
	"github.com/anime-shed/pattern-inspector-go/internal/service"
	"github.com/anime-shed/pattern-inspector-go/internal/storage"
	"github.com/anime-shed/pattern-inspector-go/internal/strategy"
	"github.com/anime-shed/pattern-inspector-go/internal/texture"
)

// StorageType represents different types of source backends
type StorageType string

const (
	// HTTPStorage for HTTP(S) sources
	HTTPStorage StorageType = "http"
	// AzureStorage for azblob:// sources
	AzureStorage StorageType = "azure"
)

// StorageFactory creates source fetchers
type StorageFactory interface {
	CreateFetcher(storageType StorageType) (storage.SourceFetcher, error)
	// Fetchers maps every configured URL scheme to its fetcher
	Fetchers() map[string]storage.SourceFetcher
}

// StageFactory creates the recognition pipeline stages
type StageFactory interface {
	CreateStages(lib *adapter.LibraryAdapter, events observer.Subject) service.Stages
	ServiceOptions() service.Options
}

type storageFactory struct {
	cfg *config.Config
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg *config.Config) StorageFactory {
	return &storageFactory{cfg: cfg}
}

// CreateFetcher creates a fetcher based on the specified type
func (f *storageFactory) CreateFetcher(storageType StorageType) (storage.SourceFetcher, error) {
	switch storageType {
	case HTTPStorage:
		opts := storage.DefaultHTTPOptions()
		if f.cfg.SourceFetchTimeout > 0 {
			opts.Timeout = f.cfg.SourceFetchTimeout
		}
		if f.cfg.MaxRequestBodySize > 0 {
			opts.MaxBytes = f.cfg.MaxRequestBodySize
		}
		return storage.NewHTTPSourceFetcher(opts), nil
	case AzureStorage:
		if f.cfg.AzureAccountName == "" || f.cfg.AzureAccountKey == "" {
			return nil, fmt.Errorf("azure storage is not configured")
		}
		return storage.NewAzureBlobFetcher(f.cfg.AzureAccountName, f.cfg.AzureAccountKey, f.cfg.MaxRequestBodySize)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

func (f *storageFactory) Fetchers() map[string]storage.SourceFetcher {
	fetchers := map[string]storage.SourceFetcher{}
	if httpFetcher, err := f.CreateFetcher(HTTPStorage); err == nil {
		fetchers["http"] = httpFetcher
		fetchers["https"] = httpFetcher
	}
	if azureFetcher, err := f.CreateFetcher(AzureStorage); err == nil {
		fetchers["azblob"] = azureFetcher
	}
	return fetchers
}

type stageFactory struct {
	pipeline config.PipelineConfig
}

// NewStageFactory creates a stage factory over an immutable pipeline config
func NewStageFactory(pipeline config.PipelineConfig) StageFactory {
	return &stageFactory{pipeline: pipeline}
}

// CreateStages wires every stage to lib. events may be nil.
func (f *stageFactory) CreateStages(lib *adapter.LibraryAdapter, events observer.Subject) service.Stages {
	evaluator := quality.NewEvaluator(lib, quality.DefaultOptions())
	enhancer := enhance.NewEnhancer(lib, enhance.DefaultOptions())

	docOpts := document.DefaultOptions()
	if f.pipeline.PageWorkers > 0 {
		docOpts.Workers = f.pipeline.PageWorkers
	}

	return service.Stages{
		Quality:    evaluator,
		Enhancer:   enhancer,
		Geometry:   geometry.NewCorrector(lib, geometry.DefaultOptions()),
		Texture:    texture.NewExtractor(lib, texture.DefaultOptions()),
		Analyzer:   analyzer.NewPatternAnalyzer(analyzer.DefaultOptions()),
		Strategies: strategy.NewSelector(classifier.NewClassifier(lib, classifier.DefaultOptions())),
		Documents:  document.NewExtractor(lib, evaluator, enhancer, docOpts),
		Events:     events,
	}
}

func (f *stageFactory) ServiceOptions() service.Options {
	opts := service.DefaultOptions()
	if f.pipeline.DefaultTargetDPI > 0 {
		opts.DefaultTargetDPI = f.pipeline.DefaultTargetDPI
	}
	if f.pipeline.PageWorkers > 0 {
		opts.RegionWorkers = f.pipeline.PageWorkers
	}
	return opts
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	StorageFactory StorageFactory
	StageFactory   StageFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory(cfg *config.Config) *ComponentFactory {
	return &ComponentFactory{
		StorageFactory: NewStorageFactory(cfg),
		StageFactory:   NewStageFactory(cfg.Pipeline()),
	}
}
