package factory

import (
	"testing"
	"time"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	"github.com/anime-shed/pattern-inspector-go/internal/config"
	"github.com/anime-shed/pattern-inspector-go/internal/observer"
)

func testConfig() *config.Config {
	return &config.Config{
		SourceFetchTimeout: 5 * time.Second,
		MaxRequestBodySize: 1024,
		DefaultTargetDPI:   150,
		PageWorkers:        2,
	}
}

func TestStorageFactory_CreateFetcher(t *testing.T) {
	f := NewStorageFactory(testConfig())
	tests := []struct {
		name        string
		storageType StorageType
		wantErr     bool
	}{
		{"HTTP", HTTPStorage, false},
		{"Azure without credentials", AzureStorage, true},
		{"Unknown", StorageType("local"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher, err := f.CreateFetcher(tt.storageType)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if !tt.wantErr && fetcher == nil {
				t.Error("Expected a fetcher")
			}
		})
	}
}

func TestStorageFactory_Fetchers(t *testing.T) {
	fetchers := NewStorageFactory(testConfig()).Fetchers()
	for _, scheme := range []string{"http", "https"} {
		if fetchers[scheme] == nil {
			t.Errorf("Expected a fetcher for %s", scheme)
		}
	}
	if _, ok := fetchers["azblob"]; ok {
		t.Error("Expected no azblob fetcher without credentials")
	}
}

func TestStageFactory(t *testing.T) {
	cfg := testConfig()
	f := NewStageFactory(cfg.Pipeline())

	opts := f.ServiceOptions()
	if opts.DefaultTargetDPI != 150 {
		t.Errorf("Expected target DPI 150, got %f", opts.DefaultTargetDPI)
	}
	if opts.RegionWorkers != 2 {
		t.Errorf("Expected 2 region workers, got %d", opts.RegionWorkers)
	}
	if opts.EnhanceBelow != 0.65 {
		t.Errorf("Expected enhancement threshold 0.65, got %f", opts.EnhanceBelow)
	}

	lib := adapter.New(adapter.Options{VisionBackend: "reference"})
	events := observer.NewEventPublisher()
	stages := f.CreateStages(lib, events)
	if stages.Quality == nil || stages.Enhancer == nil || stages.Geometry == nil ||
		stages.Texture == nil || stages.Analyzer == nil || stages.Documents == nil {
		t.Errorf("Expected every stage to be wired, got %+v", stages)
	}
	if stages.Strategies.Pattern == nil || stages.Strategies.Material == nil {
		t.Error("Expected both strategies")
	}
	if stages.Events != events {
		t.Error("Expected the event publisher to be wired")
	}
}
