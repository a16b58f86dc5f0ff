package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/anime-shed/pattern-inspector-go/pkg/models"
)

func TestCacheKey(t *testing.T) {
	buf := []byte("tile bytes")
	yes := true

	base := CacheKey(buf, models.RecognizeOptions{})
	if !strings.HasPrefix(base, cacheKeyPrefix) {
		t.Errorf("Expected key prefix %s, got %s", cacheKeyPrefix, base)
	}
	if base != CacheKey([]byte("tile bytes"), models.RecognizeOptions{}) {
		t.Error("Expected identical input to give identical keys")
	}

	variants := map[string]string{
		"content":  CacheKey([]byte("other bytes"), models.RecognizeOptions{}),
		"document": CacheKey(buf, models.RecognizeOptions{IsDocument: &yes}),
		"enhance":  CacheKey(buf, models.RecognizeOptions{EnhanceResolution: true}),
		"dpi":      CacheKey(buf, models.RecognizeOptions{TargetDPI: 150}),
	}
	for name, key := range variants {
		if key == base {
			t.Errorf("Expected %s to change the key", name)
		}
	}
}

func TestRedisResultCache_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	cache := NewRedisResultCacheWithClient(client, time.Minute)
	defer cache.Close()

	_, hit, err := cache.Get(context.Background(), CacheKey([]byte("x"), models.RecognizeOptions{}))
	if err == nil {
		t.Error("Expected error from unreachable server")
	}
	if hit {
		t.Error("Expected no hit")
	}
}

func TestNewRedisResultCache_BadURL(t *testing.T) {
	if _, err := NewRedisResultCache("", time.Minute); err == nil {
		t.Error("Expected error for empty URL")
	}
	if _, err := NewRedisResultCache("http://localhost:6379", time.Minute); err == nil {
		t.Error("Expected error for non-redis scheme")
	}
}

func TestPointID(t *testing.T) {
	fixed := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	if got := PointID(fixed); got != fixed {
		t.Errorf("Expected UUID to be kept, got %s", got)
	}

	derived := PointID("req-1/r0p1")
	if _, err := uuid.Parse(derived); err != nil {
		t.Errorf("Expected derived id to be a UUID, got %s", derived)
	}
	if derived != PointID("req-1/r0p1") {
		t.Error("Expected derived ids to be stable")
	}

	if a, b := PointID(""), PointID(""); a == b {
		t.Error("Expected random ids for empty input")
	}
}

func TestPayloadConversion(t *testing.T) {
	in := map[string]interface{}{
		"material_type": "ceramic",
		"page":          2,
		"confidence":    0.75,
		"degraded":      false,
		"tags":          []string{"a"},
	}
	out := fromPayload(toPayload(in))

	if out["material_type"] != "ceramic" {
		t.Errorf("Expected string to survive, got %v", out["material_type"])
	}
	if out["page"] != int64(2) {
		t.Errorf("Expected int to become int64 2, got %v", out["page"])
	}
	if out["confidence"] != 0.75 || out["degraded"] != false {
		t.Errorf("Expected float and bool to survive, got %v", out)
	}
	if out["tags"] != "[a]" {
		t.Errorf("Expected unsupported values to be stringified, got %v", out["tags"])
	}
}

func TestPostgresSQL(t *testing.T) {
	if _, err := NewPostgresResultStore(context.Background(), "", ""); err == nil {
		t.Error("Expected error for empty database URL")
	}

	table := `"recognition_jobs"`
	if !strings.Contains(createTableSQL(table), "CREATE TABLE IF NOT EXISTS "+table) {
		t.Error("Expected quoted table in schema statement")
	}
	upsert := upsertSQL(table)
	if !strings.Contains(upsert, "ON CONFLICT (id) DO UPDATE") || !strings.Contains(upsert, table+".outcome") {
		t.Errorf("Unexpected upsert statement: %s", upsert)
	}
	if nullableJSON(nil) != nil {
		t.Error("Expected empty outcome to be stored as NULL")
	}
}
