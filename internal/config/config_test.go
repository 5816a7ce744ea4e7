package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Fetch.Start != 1 || cfg.Fetch.End != 38700 {
		t.Fatalf("unexpected default range [%d, %d)", cfg.Fetch.Start, cfg.Fetch.End)
	}
	if cfg.Fetch.Backoff != 2*time.Second {
		t.Fatalf("expected 2s backoff, got %v", cfg.Fetch.Backoff)
	}
	if len(cfg.Fetch.TransientStatuses) != 1 || cfg.Fetch.TransientStatuses[0] != 503 {
		t.Fatalf("expected [503] transient statuses, got %v", cfg.Fetch.TransientStatuses)
	}
	if cfg.Load.BatchSize != 4 || cfg.Index.Name != "writeups" {
		t.Fatalf("unexpected load defaults: %+v %+v", cfg.Load, cfg.Index)
	}
	if got := strings.Join(cfg.Index.TensorFields, ","); got != "title,body,tags" {
		t.Fatalf("unexpected tensor fields %q", got)
	}
	if cfg.FetchWorkers() != 1 {
		t.Fatalf("sequential mode must use one worker, got %d", cfg.FetchWorkers())
	}
	if !cfg.Pipeline.FailOnEmpty {
		t.Fatal("expected fail_on_empty default true")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
fetch:
  start: 100
  end: 200
  mode: pooled
  workers: 8
  timeout: 5s
  max_attempts: 3
  backoff: 500ms
  backoff_strategy: exponential
  transient_statuses: [429, 503]
  rate_per_second: 2.5
  burst: 2
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: raw/
index:
  backend: valkey
  name: ctf
valkey:
  addrs: ["valkey:6379"]
load:
  batch_size: 16
  concurrency: 2
  start_offset: 40
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fetch.Start != 100 || cfg.Fetch.End != 200 {
		t.Fatalf("expected range overrides, got %+v", cfg.Fetch)
	}
	if cfg.FetchWorkers() != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.FetchWorkers())
	}
	if cfg.Fetch.Timeout != 5*time.Second || cfg.Fetch.Backoff != 500*time.Millisecond {
		t.Fatalf("expected duration overrides, got %v %v", cfg.Fetch.Timeout, cfg.Fetch.Backoff)
	}
	if len(cfg.Fetch.TransientStatuses) != 2 {
		t.Fatalf("expected two transient statuses, got %v", cfg.Fetch.TransientStatuses)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected gcs storage, got %+v", cfg.Storage)
	}
	if cfg.Index.Backend != "valkey" || cfg.Valkey.Addrs[0] != "valkey:6379" {
		t.Fatalf("expected valkey index, got %+v %+v", cfg.Index, cfg.Valkey)
	}
	if cfg.Load.BatchSize != 16 || cfg.Load.StartOffset != 40 {
		t.Fatalf("expected load overrides, got %+v", cfg.Load)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging disabled")
	}
}

func TestLoadWithBoundValues(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.Set("fetch.end", 10)
	v.Set("load.batch_size", 2)
	cfg, err := LoadWith(v, "")
	if err != nil {
		t.Fatalf("LoadWith() error = %v", err)
	}
	if cfg.Fetch.End != 10 || cfg.Load.BatchSize != 2 {
		t.Fatalf("expected explicit values to win, got %+v %+v", cfg.Fetch, cfg.Load)
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

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "empty base url", mutate: func(c *Config) { c.Fetch.BaseURL = "" }, want: "fetch.base_url"},
		{name: "zero start", mutate: func(c *Config) { c.Fetch.Start = 0 }, want: "fetch.start"},
		{name: "inverted range", mutate: func(c *Config) { c.Fetch.End = 0 }, want: "fetch.end"},
		{name: "unknown mode", mutate: func(c *Config) { c.Fetch.Mode = "parallel" }, want: "fetch.mode"},
		{name: "pooled without workers", mutate: func(c *Config) {
			c.Fetch.Mode = ModePooled
			c.Fetch.Workers = 0
		}, want: "fetch.workers"},
		{name: "zero timeout", mutate: func(c *Config) { c.Fetch.Timeout = 0 }, want: "fetch.timeout"},
		{name: "zero attempts", mutate: func(c *Config) { c.Fetch.MaxAttempts = 0 }, want: "fetch.max_attempts"},
		{name: "exponential without cap", mutate: func(c *Config) {
			c.Fetch.BackoffStrategy = "exponential"
			c.Fetch.BackoffMax = 0
		}, want: "fetch.backoff_max"},
		{name: "bad strategy", mutate: func(c *Config) { c.Fetch.BackoffStrategy = "linear" }, want: "fetch.backoff_strategy"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.gcs_bucket"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "unknown index", mutate: func(c *Config) { c.Index.Backend = "elastic" }, want: "index.backend"},
		{name: "zero batch", mutate: func(c *Config) { c.Load.BatchSize = 0 }, want: "load.batch_size"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Load.Concurrency = 0 }, want: "load.concurrency"},
		{name: "zero limit", mutate: func(c *Config) { c.Verify.Limit = 0 }, want: "verify.limit"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Index.TensorFields = append([]string(nil), base.Index.TensorFields...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadReadsEnvOnlyKeys(t *testing.T) {
	t.Setenv("WRITEUPS_LEDGER_DSN", "postgres://localhost/writeups")
	t.Setenv("WRITEUPS_EMBEDDING_API_KEY", "sk-test")
	t.Setenv("WRITEUPS_PUBSUB_PROJECT_ID", "ctf-project")
	t.Setenv("WRITEUPS_PUBSUB_TOPIC", "writeups-progress")
	t.Setenv("WRITEUPS_STORAGE_GCS_BUCKET", "writeup-pages")
	t.Setenv("WRITEUPS_VALKEY_PASSWORD", "hunter2")
	t.Setenv("WRITEUPS_LOAD_BATCH_SIZE", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ledger.DSN != "postgres://localhost/writeups" {
		t.Fatalf("ledger dsn = %q", cfg.Ledger.DSN)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Fatalf("embedding api key = %q", cfg.Embedding.APIKey)
	}
	if cfg.PubSub.ProjectID != "ctf-project" || cfg.PubSub.Topic != "writeups-progress" {
		t.Fatalf("pubsub = %+v", cfg.PubSub)
	}
	if cfg.Storage.GCSBucket != "writeup-pages" {
		t.Fatalf("gcs bucket = %q", cfg.Storage.GCSBucket)
	}
	if cfg.Valkey.Password != "hunter2" {
		t.Fatalf("valkey password = %q", cfg.Valkey.Password)
	}
	if cfg.Load.BatchSize != 9 {
		t.Fatalf("batch size = %d", cfg.Load.BatchSize)
	}
}
