package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// TestConfigValidate_RejectsUnknownBackend checks the backend switch.
func TestConfigValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := &Config{StorageBackend: "ftp"}

	err := cfg.Validate()
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if validationErr.Field != "storage_backend" {
		t.Fatalf("expected field storage_backend, got %s", validationErr.Field)
	}
}

// TestConfigValidate_BackendRequirements checks per-backend required fields.
func TestConfigValidate_BackendRequirements(t *testing.T) {
	cases := map[string]*Config{
		"storage_root": {StorageBackend: BackendFS},
		"endpoint":     {StorageBackend: BackendMinIO},
		"base_url":     {StorageBackend: BackendFS, StorageRoot: "/data", BaseURL: "ftp://x"},
	}
	for field, cfg := range cases {
		err := cfg.Validate()
		var validationErr *ValidationError
		if !errors.As(err, &validationErr) || validationErr.Field != field {
			t.Fatalf("expected ValidationError on %s, got %v", field, err)
		}
	}
}

// TestConfigValidate_FillsDefaults checks zero values are corrected.
func TestConfigValidate_FillsDefaults(t *testing.T) {
	cfg := &Config{
		StorageBackend: BackendMinIO,
		Endpoint:       "localhost:9000",
		Jobs:           0,
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if cfg.Jobs != 1 {
		t.Fatalf("expected jobs=1, got %d", cfg.Jobs)
	}
	if cfg.Addr != DefaultAddr || cfg.DedupeTTL != DefaultDedupeTTL || cfg.QueueSize != DefaultQueueSize {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if !strings.HasSuffix(cfg.LogFile, filepath.Join(".hsextract", "hsextract.log")) {
		t.Fatalf("unexpected log file default: %s", cfg.LogFile)
	}
	if !strings.HasSuffix(cfg.StateFile, filepath.Join(".hsextract", "state.json")) {
		t.Fatalf("unexpected state file default: %s", cfg.StateFile)
	}
}

// TestDefaultConfig_UsesCPUCount checks the worker default.
func TestDefaultConfig_UsesCPUCount(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Jobs != runtime.NumCPU() {
		t.Fatalf("expected jobs=%d, got %d", runtime.NumCPU(), cfg.Jobs)
	}
	if cfg.StorageBackend != BackendFS {
		t.Fatalf("expected fs backend by default, got %s", cfg.StorageBackend)
	}
}

// TestLoadFromFile_OverridesDefaults checks YAML decoding over defaults.
func TestLoadFromFile_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
storage_backend: minio
endpoint: minio:9000
buckets: [alice, bob]
jobs: 3
dedupe_ttl: 45s
log_json: true
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.StorageBackend != BackendMinIO || cfg.Endpoint != "minio:9000" || cfg.Jobs != 3 || !cfg.LogJSON {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.DedupeTTL != 45*time.Second {
		t.Fatalf("unexpected ttl: %s", cfg.DedupeTTL)
	}
	if len(cfg.Buckets) != 2 || cfg.Buckets[1] != "bob" {
		t.Fatalf("unexpected buckets: %v", cfg.Buckets)
	}
	if cfg.Addr != DefaultAddr {
		t.Fatalf("unset keys should keep defaults, got addr %q", cfg.Addr)
	}
}

// TestLoadFromFile_Errors checks missing and malformed files.
func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("jobs: [not-an-int"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

// TestLoad_EnvOverridesFile checks HSEXTRACT_* variables win over YAML.
func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("jobs: 2\naddr: \":9000\"\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("HSEXTRACT_JOBS", "7")
	t.Setenv("HSEXTRACT_DEDUPE_TTL", "2m")
	t.Setenv("HSEXTRACT_BUCKETS", "one,two,three")
	t.Setenv("HSEXTRACT_SECURE", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if cfg.Jobs != 7 {
		t.Fatalf("env should override jobs, got %d", cfg.Jobs)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("file value should survive, got %q", cfg.Addr)
	}
	if cfg.DedupeTTL != 2*time.Minute || !cfg.Secure {
		t.Fatalf("unexpected env decode: %+v", cfg)
	}
	if len(cfg.Buckets) != 3 || cfg.Buckets[2] != "three" {
		t.Fatalf("unexpected buckets: %v", cfg.Buckets)
	}
}
