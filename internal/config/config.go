package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names an optional YAML file overlaid on the environment.
const EnvConfigFile = "LEDGER_FETCHER_CONFIG"

type Config struct {
	Fetch   FetchConfig   `yaml:"fetch"`
	Secrets SecretsConfig `yaml:"secrets"`
	Export  ExportConfig  `yaml:"export"`
	Catalog CatalogConfig `yaml:"catalog"`
	Notify  NotifyConfig  `yaml:"notify"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type FetchConfig struct {
	Workers        int `yaml:"workers"`
	RetryAttempts  int `yaml:"retry_attempts"`
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
	QueryTimeoutS  int `yaml:"query_timeout_s"`
	// ConnString is used as-is when no secret store is configured.
	ConnString string `yaml:"conn_string"`
}

// RetryBackoff returns the initial delay between ledger attempts.
func (f FetchConfig) RetryBackoff() time.Duration {
	return time.Duration(f.RetryBackoffMs) * time.Millisecond
}

// QueryTimeout returns the per-chunk query limit; zero means none.
func (f FetchConfig) QueryTimeout() time.Duration {
	return time.Duration(f.QueryTimeoutS) * time.Second
}

type SecretsConfig struct {
	// URLTemplate is a runtimevar URL with one %s for the secret name.
	URLTemplate      string `yaml:"url_template"`
	ConnTemplateName string `yaml:"conn_template_name"`
	TimeoutS         int    `yaml:"timeout_s"`
}

type ExportConfig struct {
	BucketURL       string `yaml:"bucket_url"`
	Prefix          string `yaml:"prefix"`
	Format          string `yaml:"format"`
	KeepBalanceRows bool   `yaml:"keep_balance_rows"`
}

// Enabled reports whether fetched ledgers are exported at all.
func (e ExportConfig) Enabled() bool {
	return e.BucketURL != ""
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	// Strict fails the run when the catalog cannot be written.
	Strict bool `yaml:"strict"`
}

type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	BackupDir string `yaml:"backup_dir"`
	Retries   int    `yaml:"retries"`
	Strict    bool   `yaml:"strict"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type LogConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Load reads the environment and then overlays the YAML file at path, or at
// $LEDGER_FETCHER_CONFIG when path is empty. Keys absent from the file keep
// their environment or default value.
func Load(path string) (Config, error) {
	cfg := FromEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		slog.Debug("loaded config file", "component", "config", "path", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults.
func FromEnv() Config {
	return Config{
		Fetch: FetchConfig{
			Workers:        getenvInt("FETCH_WORKERS", 8),
			RetryAttempts:  getenvInt("FETCH_RETRY_ATTEMPTS", 2),
			RetryBackoffMs: getenvInt("FETCH_RETRY_BACKOFF_MS", 500),
			QueryTimeoutS:  getenvInt("FETCH_QUERY_TIMEOUT_S", 0),
			ConnString:     os.Getenv("SQL_CONN_STRING"),
		},
		Secrets: SecretsConfig{
			URLTemplate:      os.Getenv("SECRETS_URL_TEMPLATE"),
			ConnTemplateName: getenvDefault("SECRETS_CONN_TEMPLATE_NAME", "sql-connection-template"),
			TimeoutS:         getenvInt("SECRETS_TIMEOUT_S", 10),
		},
		Export: ExportConfig{
			BucketURL:       os.Getenv("EXPORT_BUCKET_URL"),
			Prefix:          getenvDefault("EXPORT_PREFIX", "reports/"),
			Format:          getenvDefault("EXPORT_FORMAT", "parquet"),
			KeepBalanceRows: os.Getenv("EXPORT_KEEP_BALANCE_ROWS") == "true",
		},
		Catalog: CatalogConfig{
			PostgresDSN: os.Getenv("CATALOG_DSN"),
			Strict:      os.Getenv("CATALOG_STRICT") == "true",
		},
		Notify: NotifyConfig{
			Enabled:   os.Getenv("NOTIFY_ENABLED") == "true",
			Endpoint:  os.Getenv("NOTIFY_ENDPOINT"),
			BackupDir: getenvDefault("NOTIFY_BACKUP_DIR", "./notify-backup"),
			Retries:   getenvInt("NOTIFY_RETRIES", 3),
			Strict:    os.Getenv("NOTIFY_STRICT") == "true",
		},
		Metrics: MetricsConfig{
			Enabled:   os.Getenv("METRICS_ENABLED") == "true",
			Address:   getenvDefault("METRICS_ADDRESS", ":9090"),
			Namespace: getenvDefault("METRICS_NAMESPACE", "ledger_fetcher"),
		},
		Log: LogConfig{
			Format: getenvDefault("LOG_FORMAT", "json"),
			Level:  getenvDefault("LOG_LEVEL", "info"),
		},
	}
}

// Validate rejects settings the fetcher cannot run with.
func (c Config) Validate() error {
	if c.Fetch.Workers < 1 {
		return fmt.Errorf("fetch.workers must be at least 1, got %d", c.Fetch.Workers)
	}
	if c.Fetch.RetryAttempts < 1 {
		return fmt.Errorf("fetch.retry_attempts must be at least 1, got %d", c.Fetch.RetryAttempts)
	}
	if c.Fetch.RetryBackoffMs < 0 || c.Fetch.QueryTimeoutS < 0 {
		return fmt.Errorf("fetch durations must not be negative")
	}
	switch c.Export.Format {
	case "", "parquet", "jsonl.zst":
	default:
		return fmt.Errorf("export.format must be parquet or jsonl.zst, got %q", c.Export.Format)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring invalid integer env var", "component", "config", "key", key, "value", v)
		return def
	}
	return parsed
}
