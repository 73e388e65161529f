package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := GetConfig()
	if cfg.Batch.Size != 8192 {
		t.Fatalf("expected default batch size 8192, got %d", cfg.Batch.Size)
	}
	if cfg.Query.MaxConcurrentQueries != 2 {
		t.Fatalf("expected default max concurrent queries 2, got %d", cfg.Query.MaxConcurrentQueries)
	}
}

func TestDecode(t *testing.T) {
	t.Run("rejects non-yaml files", func(t *testing.T) {
		if err := Decode("config.json"); err == nil {
			t.Fatalf("expected error for non-yaml path, got nil")
		}
	})

	t.Run("merges file values over defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "batch:\n  size: 512\nquery:\n  enable_concurrent_execution: false\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		if err := Decode(path); err != nil {
			t.Fatalf("failed to decode config: %v", err)
		}
		cfg := GetConfig()
		if cfg.Batch.Size != 512 {
			t.Fatalf("expected merged batch size 512, got %d", cfg.Batch.Size)
		}
		if cfg.Query.EnableConcurrentExecution {
			t.Fatalf("expected concurrent execution disabled")
		}
		// untouched keys keep their defaults
		if cfg.Batch.MaxDownloadSizeMB != 10 {
			t.Fatalf("expected default max download size 10, got %d", cfg.Batch.MaxDownloadSizeMB)
		}
	})
}

func TestLoadSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "OBJECT_STORE_ACCESS_KEY=ak\nOBJECT_STORE_SECRET_KEY=sk\nOBJECT_STORE_ENDPOINT=play.min.io\nOBJECT_STORE_BUCKET=data\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	if err := LoadSecrets(path); err != nil {
		t.Fatalf("failed to load secrets: %v", err)
	}
	s := GetConfig().Secretes
	if s.AccessKey != "ak" || s.SecretKey != "sk" || s.EndpointURL != "play.min.io" || s.BucketName != "data" {
		t.Fatalf("secrets not loaded: %+v", s)
	}
}
