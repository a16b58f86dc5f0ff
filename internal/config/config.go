package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is loaded once at process start. Nothing mutates it afterwards;
// the pipeline only ever sees the PipelineConfig value returned by Pipeline.
type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	SourceFetchTimeout time.Duration
	RecognitionTimeout time.Duration
	MaxRequestBodySize int64

	ModelRoot          string
	VisionDataRoot     string
	RendererWorkerPath string
	RuntimeLibPath     string
	UseGPU             bool
	MemoryCeilingMB    int64
	LogLevel           string
	VisionBackend      string
	DefaultTargetDPI   float64
	PageWorkers        int

	RedisURL          string
	CacheTTL          time.Duration
	DatabaseURL       string
	QdrantAddress     string
	QdrantCollection  string
	AzureAccountName  string
	AzureAccountKey   string
	QueueName         string
	WorkerConcurrency int
}

// PipelineConfig is the subset of settings the recognition pipeline and the
// library adapter consume.
type PipelineConfig struct {
	ModelRoot          string
	VisionDataRoot     string
	RendererWorkerPath string
	RuntimeLibPath     string
	UseGPU             bool
	MemoryCeilingMB    int64
	LogLevel           string
	VisionBackend      string
	DefaultTargetDPI   float64
	PageWorkers        int
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// Pipeline returns a copy of the pipeline settings.
func (c *Config) Pipeline() PipelineConfig {
	return PipelineConfig{
		ModelRoot:          c.ModelRoot,
		VisionDataRoot:     c.VisionDataRoot,
		RendererWorkerPath: c.RendererWorkerPath,
		RuntimeLibPath:     c.RuntimeLibPath,
		UseGPU:             c.UseGPU,
		MemoryCeilingMB:    c.MemoryCeilingMB,
		LogLevel:           c.LogLevel,
		VisionBackend:      c.VisionBackend,
		DefaultTargetDPI:   c.DefaultTargetDPI,
		PageWorkers:        c.PageWorkers,
	}
}

// Load reads an optional .env file and then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return LoadFromEnv()
}

func LoadFromEnv() (*Config, error) {
	// Set defaults
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 60*time.Second),
		SourceFetchTimeout: parseDurationOrDefault("SOURCE_FETCH_TIMEOUT", 15*time.Second),
		RecognitionTimeout: parseDurationOrDefault("RECOGNITION_TIMEOUT", 45*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 50*1024*1024), // 50MB, documents are large

		ModelRoot:          getEnvOrDefault("MODEL_ROOT", "./models"),
		VisionDataRoot:     getEnvOrDefault("VISION_DATA_ROOT", "./vision-data"),
		RendererWorkerPath: getEnvOrDefault("RENDERER_WORKER_PATH", "pdftoppm"),
		RuntimeLibPath:     os.Getenv("ONNXRUNTIME_LIB"),
		UseGPU:             parseBoolOrDefault("USE_GPU", false),
		MemoryCeilingMB:    parseIntOrDefault("MEMORY_CEILING_MB", 2048),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
		VisionBackend:      strings.ToLower(getEnvOrDefault("VISION_BACKEND", "auto")),
		DefaultTargetDPI:   parseFloatOrDefault("DEFAULT_TARGET_DPI", 300),
		PageWorkers:        int(parseIntOrDefault("PAGE_WORKERS", 0)),

		RedisURL:          os.Getenv("REDIS_URL"),
		CacheTTL:          parseDurationOrDefault("CACHE_TTL", 24*time.Hour),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		QdrantAddress:     os.Getenv("QDRANT_ADDRESS"),
		QdrantCollection:  getEnvOrDefault("QDRANT_COLLECTION", "pattern_features"),
		AzureAccountName:  os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureAccountKey:   os.Getenv("AZURE_STORAGE_KEY"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "recognition"),
		WorkerConcurrency: int(parseIntOrDefault("WORKER_CONCURRENCY", 4)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.RequestTimeout <= 0 || c.SourceFetchTimeout <= 0 || c.RecognitionTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s, recognition=%s)",
			c.RequestTimeout, c.SourceFetchTimeout, c.RecognitionTimeout)
	}
	if c.DefaultTargetDPI < 36 || c.DefaultTargetDPI > 1200 {
		return fmt.Errorf("DEFAULT_TARGET_DPI must be within [36, 1200] (got %g)", c.DefaultTargetDPI)
	}
	if c.MemoryCeilingMB <= 0 {
		return fmt.Errorf("MEMORY_CEILING_MB must be > 0 (got %d)", c.MemoryCeilingMB)
	}
	switch c.VisionBackend {
	case "auto", "accelerated", "reference":
	default:
		return fmt.Errorf("VISION_BACKEND must be auto, accelerated or reference (got %q)", c.VisionBackend)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be > 0 (got %d)", c.WorkerConcurrency)
	}
	if (c.AzureAccountName == "") != (c.AzureAccountKey == "") {
		return fmt.Errorf("AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY must be set together")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
