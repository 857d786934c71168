package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FullConfig(t *testing.T) {
	yaml := `source: cam-7
category: intersection
roi_config_path: config/roi_config.json

perf:
  pipeline_mode: cascade
  analysis_fps_short: 4
  analysis_fps_long: 2
  long_video_threshold_sec: 90
  local_downscale_long_edge: 640
  gemini_flash_max_candidates: 6
  gemini_pro_max_candidates: 3
  gemini_flash_concurrency: 4
  gemini_pro_concurrency: 2
  gemini_flash_timeout_sec: 30
  gemini_pro_timeout_sec: 45
  gemini_retry_attempts: 1
  flash_min_local_score: 0.5
  pro_uncertain_conf_low: 0.4
  pro_uncertain_conf_high: 0.65

analytics:
  dataset: cascadewatch
  backend: s3
  path: my-bucket/prefix
  region: us-east-1
  endpoint: https://example.com
  s3_path_style: true

notify:
  - type: webhook
    url: https://hooks.example.com/cascadewatch
    headers:
      Authorization: Bearer token123
    timeout: 10s
    retries: 3
  - type: redis
    url: redis://localhost:6379/0
    channel: cascadewatch.runs
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	assertEqual(t, "source", cfg.Source, "cam-7")
	assertEqual(t, "category", cfg.Category, "intersection")
	assertEqual(t, "roi_config_path", cfg.ROIConfigPath, "config/roi_config.json")

	assertEqual(t, "perf.pipeline_mode", cfg.Perf.PipelineMode, "cascade")
	if cfg.Perf.GeminiFlashMaxCandidates != 6 {
		t.Errorf("expected gemini_flash_max_candidates=6, got %d", cfg.Perf.GeminiFlashMaxCandidates)
	}
	if cfg.Perf.GeminiProTimeoutSec != 45 {
		t.Errorf("expected gemini_pro_timeout_sec=45, got %d", cfg.Perf.GeminiProTimeoutSec)
	}
	if cfg.Perf.ProUncertainConfHigh != 0.65 {
		t.Errorf("expected pro_uncertain_conf_high=0.65, got %v", cfg.Perf.ProUncertainConfHigh)
	}

	assertEqual(t, "analytics.backend", cfg.Analytics.Backend, "s3")
	assertEqual(t, "analytics.path", cfg.Analytics.Path, "my-bucket/prefix")
	assertEqual(t, "analytics.region", cfg.Analytics.Region, "us-east-1")
	if !cfg.Analytics.S3PathStyle {
		t.Error("expected analytics.s3_path_style=true")
	}

	if len(cfg.Notify) != 2 {
		t.Fatalf("expected 2 notify targets, got %d", len(cfg.Notify))
	}
	assertEqual(t, "notify[0].type", cfg.Notify[0].Type, "webhook")
	if cfg.Notify[0].Timeout.Duration != 10*time.Second {
		t.Errorf("expected notify[0].timeout=10s, got %v", cfg.Notify[0].Timeout.Duration)
	}
	if cfg.Notify[0].Retries == nil || *cfg.Notify[0].Retries != 3 {
		t.Errorf("expected notify[0].retries=3")
	}
	if cfg.Notify[0].Headers["Authorization"] != "Bearer token123" {
		t.Errorf("expected Authorization header")
	}
	assertEqual(t, "notify[1].type", cfg.Notify[1].Type, "redis")
	assertEqual(t, "notify[1].channel", cfg.Notify[1].Channel, "cascadewatch.runs")
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeTemp(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Source != "" {
		t.Errorf("expected empty source, got %q", cfg.Source)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/cascadewatch.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTemp(t, "{{invalid yaml")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_SOURCE", "expanded-source")

	yaml := `source: ${TEST_SOURCE}`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	assertEqual(t, "source", cfg.Source, "expanded-source")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	yaml := `source: cam-7
bogus_key: should_fail
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	if !strings.Contains(err.Error(), "bogus_key") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestLoad_UnknownNestedKeyRejected(t *testing.T) {
	yaml := `analytics:
  backend: fs
  path: ./data
  unknown_field: bad
`
	path := writeTemp(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown nested key, got nil")
	}
	if !strings.Contains(err.Error(), "unknown_field") {
		t.Errorf("error should mention the unknown key, got: %v", err)
	}
}

func TestDuration_UnmarshalYAML(t *testing.T) {
	yaml := `notify:
  - type: webhook
    url: https://hooks.example.com/cascadewatch
    timeout: 30s
`
	path := writeTemp(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Notify[0].Timeout.Duration != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.Notify[0].Timeout.Duration)
	}
}

// writeTemp writes content to a temp file and returns the path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cascadewatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func assertEqual(t *testing.T, field, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %q, want %q", field, got, want)
	}
}
