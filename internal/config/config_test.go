package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("SOURCE_TIMEOUT", "15s")
	t.Setenv("WORKER_CONCURRENCY", "3")
	t.Setenv("RESULT_SINK", "FILE")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg := Load()
	if cfg.SourceTimeout != 15*time.Second {
		t.Fatalf("expected source timeout 15s got %s", cfg.SourceTimeout)
	}
	if cfg.WorkerConcurrency != 3 {
		t.Fatalf("expected concurrency 3 got %d", cfg.WorkerConcurrency)
	}
	if cfg.ResultSink != "file" {
		t.Fatalf("expected lower-cased sink got %q", cfg.ResultSink)
	}
	if !cfg.S3PathStyle {
		t.Fatalf("expected path style enabled")
	}
	if cfg.QueuePrefix != "agg" {
		t.Fatalf("expected default queue prefix got %q", cfg.QueuePrefix)
	}
}

func TestLoadSources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.yaml")
	body := `
sources:
  - id: blinkit
    kind: http
    base_url: http://localhost:7001
    timeout: 30s
    retry:
      max_attempts: 3
      backoff_initial: 500ms
  - id: zepto
    kind: fixture
    path: fixtures/zepto.json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write sources: %v", err)
	}

	specs, err := LoadSources(path)
	if err != nil {
		t.Fatalf("load sources: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("expected 2 sources got %d", len(specs))
	}
	if specs[0].ID != "blinkit" || specs[1].ID != "zepto" {
		t.Fatalf("fan-out order not preserved: %+v", specs)
	}
	if specs[0].Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout got %s", specs[0].Timeout)
	}
	if specs[0].Retry == nil || specs[0].Retry.MaxAttempts != 3 || specs[0].Retry.BackoffInitial != 500*time.Millisecond {
		t.Fatalf("unexpected retry override: %+v", specs[0].Retry)
	}
}

func TestParseSourcesRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"duplicate id": "sources:\n  - {id: a, kind: fixture, path: x}\n  - {id: a, kind: fixture, path: y}\n",
		"missing id":   "sources:\n  - {kind: fixture, path: x}\n",
		"unknown kind": "sources:\n  - {id: a, kind: browser}\n",
		"no base url":  "sources:\n  - {id: a, kind: http}\n",
		"no path":      "sources:\n  - {id: a, kind: fixture}\n",
	}
	for name, body := range cases {
		if _, err := ParseSources([]byte(body)); !errors.Is(err, ErrInvalidSources) {
			t.Fatalf("%s: expected ErrInvalidSources got %v", name, err)
		}
	}
}
