package eventstore

import (
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func TestCompressPayload_RoundTrip(t *testing.T) {
	payload := map[string]any{
		"text":       "the quick brown fox",
		"importance": 0.82,
		"nested":     map[string]any{"mode": "expert"},
	}

	encoded, err := compressPayload(payload, gzip.DefaultCompression)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if encoded == "" {
		t.Fatal("empty encoding")
	}

	decoded, err := decompressPayload(encoded)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if decoded["text"] != "the quick brown fox" {
		t.Errorf("text = %v", decoded["text"])
	}
	if decoded["importance"] != 0.82 {
		t.Errorf("importance = %v", decoded["importance"])
	}
	nested, ok := decoded["nested"].(map[string]any)
	if !ok || nested["mode"] != "expert" {
		t.Errorf("nested = %v", decoded["nested"])
	}
}

func TestCompressPayload_NilPayload(t *testing.T) {
	encoded, err := compressPayload(nil, gzip.BestCompression)
	if err != nil {
		t.Fatalf("compress nil: %v", err)
	}
	decoded, err := decompressPayload(encoded)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if decoded != nil {
		t.Fatalf("decoded = %v, want nil", decoded)
	}
}

func TestDecompressPayload_RejectsGarbage(t *testing.T) {
	if _, err := decompressPayload("not base64 at all!!!"); err == nil {
		t.Fatal("expected base64 error")
	}
	// Valid base64 but not a gzip stream.
	if _, err := decompressPayload("aGVsbG8gd29ybGQ="); err == nil {
		t.Fatal("expected gzip header error")
	}
}

func TestArchiverConfig_Defaults(t *testing.T) {
	var cfg ArchiverConfig
	cfg.applyDefaults()

	if cfg.Schedule != "0 3 * * *" {
		t.Errorf("Schedule = %q", cfg.Schedule)
	}
	if cfg.Retention != 30*24*time.Hour {
		t.Errorf("Retention = %v", cfg.Retention)
	}
	if cfg.BatchLimit != 5000 {
		t.Errorf("BatchLimit = %d", cfg.BatchLimit)
	}
}

func TestAdvisoryLockKeys_StableAndDistinct(t *testing.T) {
	hi1, lo1 := advisoryLockKeys("user_42")
	hi2, lo2 := advisoryLockKeys("user_42")
	if hi1 != hi2 || lo1 != lo2 {
		t.Fatal("keys not stable for the same stream")
	}

	hi3, lo3 := advisoryLockKeys("user_43")
	if hi1 == hi3 && lo1 == lo3 {
		t.Fatal("distinct streams share lock keys")
	}
}

func TestPostgresStoreConfig_Defaults(t *testing.T) {
	var cfg PostgresStoreConfig
	cfg.applyDefaults()

	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d", cfg.BatchSize)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval)
	}
	if cfg.MaxBuffered != 10000 {
		t.Errorf("MaxBuffered = %d", cfg.MaxBuffered)
	}
}
