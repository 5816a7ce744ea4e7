// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetch modes accepted by fetch.mode.
const (
	ModeSequential = "sequential"
	ModePooled     = "pooled"
)

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Corpus    CorpusConfig    `mapstructure:"corpus"`
	Index     IndexConfig     `mapstructure:"index"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Load      LoadConfig      `mapstructure:"load"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Server    ServerConfig    `mapstructure:"server"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// FetchConfig governs the fetcher and the fetch coordinator.
type FetchConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	Start             int           `mapstructure:"start"`
	End               int           `mapstructure:"end"`
	Mode              string        `mapstructure:"mode"`
	Workers           int           `mapstructure:"workers"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	Backoff           time.Duration `mapstructure:"backoff"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	BackoffStrategy   string        `mapstructure:"backoff_strategy"`
	BackoffJitter     bool          `mapstructure:"backoff_jitter"`
	TransientStatuses []int         `mapstructure:"transient_statuses"`
	RatePerSecond     float64       `mapstructure:"rate_per_second"`
	Burst             int           `mapstructure:"burst"`
	SkipExisting      bool          `mapstructure:"skip_existing"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
}

// StorageConfig selects and configures the payload store.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Dir         string `mapstructure:"dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
	BadgerPath  string `mapstructure:"badger_path"`
}

// LedgerConfig controls the optional Postgres fetch ledger.
type LedgerConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// CorpusConfig configures the corpus builder.
type CorpusConfig struct {
	Output  string `mapstructure:"output"`
	Workers int    `mapstructure:"workers"`
}

// IndexConfig selects the search index backend.
type IndexConfig struct {
	Backend      string        `mapstructure:"backend"`
	Endpoint     string        `mapstructure:"endpoint"`
	Name         string        `mapstructure:"name"`
	Model        string        `mapstructure:"model"`
	TensorFields []string      `mapstructure:"tensor_fields"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ValkeyConfig configures the Valkey vector index backend.
type ValkeyConfig struct {
	Addrs      []string `mapstructure:"addrs"`
	Password   string   `mapstructure:"password"`
	Prefix     string   `mapstructure:"prefix"`
	Dimensions int      `mapstructure:"dimensions"`
}

// EmbeddingConfig configures the OpenAI-compatible embeddings client.
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LoadConfig governs batch submission to the index.
type LoadConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int `mapstructure:"concurrency"`
	StartOffset int `mapstructure:"start_offset"`
}

// VerifyConfig holds the sample verification query.
type VerifyConfig struct {
	Query string `mapstructure:"query"`
	Limit int    `mapstructure:"limit"`
}

// PipelineConfig toggles end-to-end run behavior.
type PipelineConfig struct {
	FailOnEmpty bool `mapstructure:"fail_on_empty"`
}

// ServerConfig controls the optional ops HTTP server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// PubSubConfig holds metadata for run summary notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith builds a Config using v, which may already carry bound flags.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix("WRITEUPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch.base_url", "https://ctftime.org/writeup")
	v.SetDefault("fetch.start", 1)
	v.SetDefault("fetch.end", 38700)
	v.SetDefault("fetch.mode", ModeSequential)
	v.SetDefault("fetch.workers", 4)
	v.SetDefault("fetch.queue_depth", 64)
	v.SetDefault("fetch.user_agent", "writeup-search/0.1 (+https://github.com/JakeFAU/writeup-search)")
	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_attempts", 5)
	v.SetDefault("fetch.backoff", 2*time.Second)
	v.SetDefault("fetch.backoff_max", 30*time.Second)
	v.SetDefault("fetch.backoff_strategy", "fixed")
	v.SetDefault("fetch.transient_statuses", []int{503})
	v.SetDefault("fetch.backoff_jitter", false)
	v.SetDefault("fetch.rate_per_second", 0.0)
	v.SetDefault("fetch.burst", 1)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.skip_existing", true)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.dir", "writeups")
	v.SetDefault("storage.prefix", "writeups/")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.badger_path", "writeups.badger")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("ledger.dsn", "")
	v.SetDefault("ledger.table", "writeup_fetches")
	v.SetDefault("ledger.max_conns", 4)
	v.SetDefault("corpus.output", "writeups.json")
	v.SetDefault("corpus.workers", 4)
	v.SetDefault("index.backend", "marqo")
	v.SetDefault("index.endpoint", "http://localhost:8882")
	v.SetDefault("index.name", "writeups")
	v.SetDefault("index.model", "")
	v.SetDefault("index.tensor_fields", []string{"title", "body", "tags"})
	v.SetDefault("index.timeout", 60*time.Second)
	v.SetDefault("valkey.addrs", []string{"localhost:6379"})
	v.SetDefault("valkey.prefix", "writeup:")
	v.SetDefault("valkey.dimensions", 1536)
	v.SetDefault("valkey.password", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimensions", 0)
	v.SetDefault("load.batch_size", 4)
	v.SetDefault("load.concurrency", 1)
	v.SetDefault("load.start_offset", 0)
	v.SetDefault("verify.query", "What to do if variable names are jumbled (java)?")
	v.SetDefault("verify.limit", 1)
	v.SetDefault("pipeline.fail_on_empty", true)
	v.SetDefault("server.addr", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.BaseURL == "" {
		return fmt.Errorf("fetch.base_url must be set")
	}
	if c.Fetch.Start <= 0 {
		return fmt.Errorf("fetch.start must be > 0")
	}
	if c.Fetch.End < c.Fetch.Start {
		return fmt.Errorf("fetch.end must be >= fetch.start")
	}
	switch c.Fetch.Mode {
	case ModeSequential, ModePooled:
	default:
		return fmt.Errorf("fetch.mode must be %q or %q", ModeSequential, ModePooled)
	}
	if c.Fetch.Mode == ModePooled && c.Fetch.Workers <= 0 {
		return fmt.Errorf("fetch.workers must be > 0 in pooled mode")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	switch c.Fetch.BackoffStrategy {
	case "fixed":
	case "exponential":
		if c.Fetch.BackoffMax <= 0 {
			return fmt.Errorf("fetch.backoff_max must be > 0 for exponential backoff")
		}
	default:
		return fmt.Errorf("fetch.backoff_strategy must be fixed or exponential")
	}
	switch c.Storage.Backend {
	case "local", "memory", "badger":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.Corpus.Output == "" {
		return fmt.Errorf("corpus.output must be set")
	}
	switch c.Index.Backend {
	case "marqo":
		if c.Index.Endpoint == "" {
			return fmt.Errorf("index.endpoint must be set for the marqo backend")
		}
	case "valkey":
		if len(c.Valkey.Addrs) == 0 {
			return fmt.Errorf("valkey.addrs must be set for the valkey backend")
		}
	default:
		return fmt.Errorf("index.backend %q is not supported", c.Index.Backend)
	}
	if c.Index.Name == "" {
		return fmt.Errorf("index.name must be set")
	}
	if c.Load.BatchSize <= 0 {
		return fmt.Errorf("load.batch_size must be > 0")
	}
	if c.Load.Concurrency <= 0 {
		return fmt.Errorf("load.concurrency must be > 0")
	}
	if c.Load.StartOffset < 0 {
		return fmt.Errorf("load.start_offset must be >= 0")
	}
	if c.Verify.Limit <= 0 {
		return fmt.Errorf("verify.limit must be > 0")
	}
	return nil
}

// FetchWorkers returns the effective number of fetch workers for the configured mode.
func (c Config) FetchWorkers() int {
	if c.Fetch.Mode == ModeSequential {
		return 1
	}
	return c.Fetch.Workers
}
