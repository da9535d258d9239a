package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout_seconds: 5
auth:
  enabled: true
  api_key: secret
pipeline:
  path: /etc/stagetracker/pipeline.yaml
  watch: false
ingest:
  queue_depth: 16
  max_batch: 10
rate_limit:
  enabled: true
  default_rps: 5
  default_burst: 10
  sources:
    firehose:
      rps: 0
    billing:
      rps: 2.5
      burst: 4
worker:
  concurrency: 6
  retry_backoff_ms: 50
storage:
  backend: local
  local:
    base_dir: /tmp/archive
  prefix: archive
database:
  max_conn_lifetime: 1h
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if got := cfg.RequestTimeout(); got != 5*time.Second {
		t.Fatalf("expected request timeout 5s, got %v", got)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Pipeline.Path != "/etc/stagetracker/pipeline.yaml" || cfg.Pipeline.Watch {
		t.Fatalf("unexpected pipeline config %+v", cfg.Pipeline)
	}
	if cfg.Worker.Concurrency != 6 || cfg.RetryBackoff() != 50*time.Millisecond {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Worker)
	}
	if cfg.Worker.MaxRetries != 3 {
		t.Fatalf("expected default max retries, got %d", cfg.Worker.MaxRetries)
	}
	billing, ok := cfg.RateLimit.Sources["billing"]
	if !ok || billing.RPS != 2.5 || billing.Burst != 4 {
		t.Fatalf("expected billing rate override, got %+v", cfg.RateLimit.Sources)
	}
	if cfg.Storage.Backend != "local" || cfg.Storage.Local.BaseDir != "/tmp/archive" {
		t.Fatalf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Storage.ContentType != "application/json" {
		t.Fatalf("expected default content type, got %q", cfg.Storage.ContentType)
	}
	if cfg.Database.MaxConnLifetime != time.Hour {
		t.Fatalf("expected 1h conn lifetime, got %v", cfg.Database.MaxConnLifetime)
	}
	if !cfg.Logging.Development {
		t.Fatal("expected development logging")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Ingest.SourceHeader != "X-Source" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Storage.Backend != "memory" || cfg.Database.DSN != "" || cfg.PubSub.ProjectID != "" {
		t.Fatalf("expected in-memory defaults, got %+v", cfg)
	}
	if !cfg.Progress.Enabled || cfg.Progress.Batch.MaxEvents != 1000 {
		t.Fatalf("unexpected progress defaults %+v", cfg.Progress)
	}
	if cfg.ShutdownTimeout() != 10*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", cfg.ShutdownTimeout())
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("STAGETRACKER_SERVER_PORT", "7070")
	t.Setenv("STAGETRACKER_PIPELINE_PATH", "/srv/pipeline.yaml")
	t.Setenv("STAGETRACKER_WORKER_CONCURRENCY", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Pipeline.Path != "/srv/pipeline.yaml" || cfg.Worker.Concurrency != 2 {
		t.Fatalf("expected env overrides, got %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Ingest:  IngestConfig{QueueDepth: 1, MaxBatch: 1},
		Worker:  WorkerConfig{Concurrency: 1},
		Storage: StorageConfig{Backend: "memory"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, want: "worker.concurrency"},
		{name: "invalid queue depth", mutate: func(c *Config) { c.Ingest.QueueDepth = 0 }, want: "ingest.queue_depth"},
		{name: "invalid batch", mutate: func(c *Config) { c.Ingest.MaxBatch = -1 }, want: "ingest.max_batch"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "gcs missing bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.bucket"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "pubsub missing topic", mutate: func(c *Config) { c.PubSub.ProjectID = "p" }, want: "pubsub.topic_name"},
		{name: "negative debounce", mutate: func(c *Config) {
			c.Pipeline.Watch = true
			c.Pipeline.DebounceMs = -1
		}, want: "pipeline.debounce_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestConfigValidateAllowsZeroDebounce(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server:   ServerConfig{Port: 8080},
		Ingest:   IngestConfig{QueueDepth: 1, MaxBatch: 1},
		Worker:   WorkerConfig{Concurrency: 1},
		Storage:  StorageConfig{Backend: "memory"},
		Pipeline: PipelineConfig{Path: "pipeline.yaml", Watch: true, DebounceMs: 0},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero debounce means reload immediately, got %v", err)
	}
}
