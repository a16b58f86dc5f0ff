package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}

	if cfg.DefaultTargetDPI != 300 {
		t.Errorf("Expected default DPI 300, got %g", cfg.DefaultTargetDPI)
	}
	if cfg.VisionBackend != "auto" {
		t.Errorf("Expected auto vision backend, got %s", cfg.VisionBackend)
	}
	if cfg.ServerAddress() != "0.0.0.0:8080" {
		t.Errorf("Expected 0.0.0.0:8080, got %s", cfg.ServerAddress())
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("MODEL_ROOT", "/srv/models")
	t.Setenv("USE_GPU", "true")
	t.Setenv("RECOGNITION_TIMEOUT", "5s")
	t.Setenv("VISION_BACKEND", "Reference")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	p := cfg.Pipeline()
	if p.ModelRoot != "/srv/models" {
		t.Errorf("Expected model root /srv/models, got %s", p.ModelRoot)
	}
	if !p.UseGPU {
		t.Error("Expected GPU flag to be set")
	}
	if p.VisionBackend != "reference" {
		t.Errorf("Expected lower-cased backend, got %s", p.VisionBackend)
	}
	if cfg.RecognitionTimeout != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %s", cfg.RecognitionTimeout)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Bad port", "PORT", "abc"},
		{"DPI out of range", "DEFAULT_TARGET_DPI", "5000"},
		{"Unknown backend", "VISION_BACKEND", "cuda"},
		{"Azure key without account", "AZURE_STORAGE_KEY", "secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(); err == nil {
				t.Errorf("Expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestPipeline_IsCopy(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	p := cfg.Pipeline()
	p.ModelRoot = "/mutated"
	if cfg.ModelRoot == "/mutated" {
		t.Error("Expected Pipeline to return an independent copy")
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("RENDERER_WORKER_PATH=/opt/poppler/pdftoppm\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("RENDERER_WORKER_PATH", "")
	os.Unsetenv("RENDERER_WORKER_PATH")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.RendererWorkerPath != "/opt/poppler/pdftoppm" {
		t.Errorf("Expected renderer path from env file, got %s", cfg.RendererWorkerPath)
	}

	if _, err := Load(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("Expected missing env file to be ignored, got %v", err)
	}
}
