package adapter_test

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/anime-shed/pattern-inspector-go/internal/adapter"
	"github.com/anime-shed/pattern-inspector-go/internal/adapter/adaptertest"
	apperrors "github.com/anime-shed/pattern-inspector-go/internal/errors"
)

func referenceOptions(t *testing.T) adapter.Options {
	return adapter.Options{ModelRoot: t.TempDir(), VisionBackend: "reference"}
}

func featureInput(n int) []adapter.NamedTensor {
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(i%7) / 7
	}
	return []adapter.NamedTensor{{Name: adapter.FeatureInputName, Data: data}}
}

func TestLibraryAdapter_LoadModelOnce(t *testing.T) {
	tensor := &adaptertest.FakeTensor{LoadDelay: 20 * time.Millisecond}
	a := adapter.New(referenceOptions(t), adapter.WithTensor(tensor))
	defer a.Dispose()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.LoadModel(context.Background(), adapter.PatternModelID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Unexpected load error: %v", err)
	}
	if tensor.Loads() != 1 {
		t.Errorf("Expected exactly 1 backend load, got %d", tensor.Loads())
	}
	if a.ModelLoads() != 1 {
		t.Errorf("Expected exactly 1 cached model, got %d", a.ModelLoads())
	}
}

func TestLibraryAdapter_CancelledCallerKeepsSharedLoad(t *testing.T) {
	tensor := &adaptertest.FakeTensor{LoadDelay: 80 * time.Millisecond}
	a := adapter.New(referenceOptions(t), adapter.WithTensor(tensor))
	defer a.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := a.LoadModel(ctx, adapter.PatternModelID)
		first <- err
	}()

	time.Sleep(10 * time.Millisecond)
	second := make(chan error, 1)
	go func() {
		_, err := a.LoadModel(context.Background(), adapter.PatternModelID)
		second <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-first; err != context.Canceled {
		t.Errorf("Expected the cancelled caller to get context.Canceled, got %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("Expected the other caller to get the model, got %v", err)
	}
	if tensor.Loads() != 1 {
		t.Errorf("Expected exactly 1 backend load, got %d", tensor.Loads())
	}
	if a.ModelLoads() != 1 {
		t.Errorf("Expected the model to be cached, got %d loads", a.ModelLoads())
	}
}

func TestLibraryAdapter_FailedLoadIsNotCached(t *testing.T) {
	tensor := &adaptertest.FakeTensor{LoadErr: os.ErrPermission}
	a := adapter.New(referenceOptions(t), adapter.WithTensor(tensor))
	defer a.Dispose()

	for i := 0; i < 2; i++ {
		_, err := a.LoadModel(context.Background(), adapter.MaterialModelID)
		if err == nil {
			t.Fatal("Expected load error")
		}
		if apperrors.IsAdapterNotReady(err) {
			t.Errorf("Expected load failure not to be adapter-not-ready, got %v", err)
		}
	}
	if tensor.Loads() != 2 {
		t.Errorf("Expected a retry after a failed load, got %d loads", tensor.Loads())
	}
}

func TestLibraryAdapter_Dispose(t *testing.T) {
	tensor := &adaptertest.FakeTensor{}
	a := adapter.New(referenceOptions(t), adapter.WithTensor(tensor))

	model, err := a.LoadModel(context.Background(), adapter.PatternModelID)
	if err != nil {
		t.Fatalf("Unexpected load error: %v", err)
	}
	if _, err := model.Run(context.Background(), featureInput(8)); err != nil {
		t.Fatalf("Unexpected run error: %v", err)
	}

	if err := a.Dispose(); err != nil {
		t.Fatalf("Unexpected dispose error: %v", err)
	}
	if err := a.Dispose(); err != nil {
		t.Errorf("Expected second dispose to be a no-op, got %v", err)
	}

	if _, err := model.Run(context.Background(), featureInput(8)); !apperrors.IsAdapterNotReady(err) {
		t.Errorf("Expected held model to fail after dispose, got %v", err)
	}
	if _, err := a.Vision(); !apperrors.IsAdapterNotReady(err) {
		t.Errorf("Expected Vision to fail after dispose, got %v", err)
	}
	if _, err := a.Document(); !apperrors.IsAdapterNotReady(err) {
		t.Errorf("Expected Document to fail after dispose, got %v", err)
	}
	if _, err := a.LoadModel(context.Background(), adapter.PatternModelID); !apperrors.IsAdapterNotReady(err) {
		t.Errorf("Expected LoadModel to fail after dispose, got %v", err)
	}
}

func TestLibraryAdapter_ReferenceBackends(t *testing.T) {
	a := adapter.New(referenceOptions(t))
	defer a.Dispose()

	v, err := a.Vision()
	if err != nil {
		t.Fatalf("Unexpected vision error: %v", err)
	}
	if v.Name() != "reference" {
		t.Errorf("Expected reference vision backend, got %s", v.Name())
	}

	model, err := a.LoadModel(context.Background(), adapter.PatternModelID)
	if err != nil {
		t.Fatalf("Unexpected load error: %v", err)
	}
	scores, err := model.Run(context.Background(), featureInput(420))
	if err != nil {
		t.Fatalf("Unexpected run error: %v", err)
	}
	if len(scores) != len(adapter.PatternLabels) {
		t.Fatalf("Expected %d scores, got %d", len(adapter.PatternLabels), len(scores))
	}
	var sum float64
	for _, s := range scores {
		sum += float64(s)
	}
	if math.Abs(sum-1) > 1e-4 {
		t.Errorf("Expected scores to sum to 1, got %g", sum)
	}

	again, err := model.Run(context.Background(), featureInput(420))
	if err != nil {
		t.Fatalf("Unexpected run error: %v", err)
	}
	for i := range scores {
		if scores[i] != again[i] {
			t.Fatalf("Expected deterministic scores, differ at %d", i)
		}
	}

	if _, err := model.Run(context.Background(), featureInput(10)); err == nil {
		t.Error("Expected error for a vector shorter than the layout")
	}

	backends := a.Backends()
	if backends["vision"] != "reference" || backends["tensor"] == "" {
		t.Errorf("Unexpected backends %v", backends)
	}
}

func TestLibraryAdapter_UnknownModel(t *testing.T) {
	a := adapter.New(referenceOptions(t))
	defer a.Dispose()

	_, err := a.LoadModel(context.Background(), "does-not-exist")
	if err == nil {
		t.Fatal("Expected error for unknown model")
	}
	if apperrors.IsAdapterNotReady(err) {
		t.Errorf("Expected unknown model to be a stage failure, got %v", err)
	}
}

func TestResolveModelSpec_LinearManifest(t *testing.T) {
	root := t.TempDir()
	manifest := adapter.ModelSpec{
		ID:      "tiny",
		Labels:  []string{"a", "b"},
		Weights: [][]float64{{1, 0, 0}, {0, 0, 1}},
		Bias:    []float64{0, 0},
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "tiny.json"), data, 0o600); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	a := adapter.New(adapter.Options{ModelRoot: root, VisionBackend: "reference"})
	defer a.Dispose()

	model, err := a.LoadModel(context.Background(), "tiny")
	if err != nil {
		t.Fatalf("Unexpected load error: %v", err)
	}
	scores, err := model.Run(context.Background(), []adapter.NamedTensor{
		{Name: adapter.FeatureInputName, Data: []float32{0, 0, 5}},
	})
	if err != nil {
		t.Fatalf("Unexpected run error: %v", err)
	}
	if scores[1] <= scores[0] {
		t.Errorf("Expected label b to win, got %v", scores)
	}

	if _, err := model.Run(context.Background(), featureInput(4)); err == nil {
		t.Error("Expected error for wrong feature width")
	}
}

func TestResolveModelSpec_Builtin(t *testing.T) {
	spec, err := adapter.ResolveModelSpec(t.TempDir(), adapter.MaterialModelID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(spec.Labels) != 8 {
		t.Errorf("Expected 8 material categories, got %d", len(spec.Labels))
	}
	if spec.FeatureInput != adapter.FeatureInputName || spec.TextInput != adapter.TextInputName {
		t.Errorf("Expected default input names, got %s/%s", spec.FeatureInput, spec.TextInput)
	}
	if spec.Path != "" {
		t.Errorf("Expected no graph path, got %s", spec.Path)
	}
}
