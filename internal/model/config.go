package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StoreConfig selects and locates the record store.
type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`

	// Path is the sqlite database file.
	Path string `mapstructure:"path" yaml:"path"`

	// DSN is the postgres connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// IMAPConfig holds the IMAP server settings used for fetching.
type IMAPConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
	Mailbox  string `mapstructure:"mailbox" yaml:"mailbox"`
}

// SMTPConfig holds the SMTP server settings used for sending replies.
type SMTPConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
	TLS  bool   `mapstructure:"tls" yaml:"tls"`
}

// GmailConfig points at a pre-provisioned OAuth client and token.
type GmailConfig struct {
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	TokenFile       string `mapstructure:"token_file" yaml:"token_file"`
}

// SourceConfig holds mail source settings.
type SourceConfig struct {
	// Type is "imap" or "gmail".
	Type string `mapstructure:"type" yaml:"type"`

	// Address is the account's own address; mail from it is skipped.
	Address string `mapstructure:"address" yaml:"address"`

	IMAP  IMAPConfig  `mapstructure:"imap" yaml:"imap"`
	SMTP  SMTPConfig  `mapstructure:"smtp" yaml:"smtp"`
	Gmail GmailConfig `mapstructure:"gmail" yaml:"gmail"`

	// PageSize is the number of messages requested per fetch.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// MaxPerRun caps how many messages one sync run fetches.
	MaxPerRun int `mapstructure:"max_per_run" yaml:"max_per_run"`

	// LookbackDays bounds the first fetch when no cursor is stored.
	LookbackDays int `mapstructure:"lookback_days" yaml:"lookback_days"`

	IgnoreSenders         []string `mapstructure:"ignore_senders" yaml:"ignore_senders"`
	IgnoreSubjectKeywords []string `mapstructure:"ignore_subject_keywords" yaml:"ignore_subject_keywords"`
}

// InferenceConfig holds the local model server settings.
type InferenceConfig struct {
	BaseURL       string        `mapstructure:"base_url" yaml:"base_url"`
	Model         string        `mapstructure:"model" yaml:"model"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HealthTimeout time.Duration `mapstructure:"health_timeout" yaml:"health_timeout"`
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	MaxTokens     int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature   float64       `mapstructure:"temperature" yaml:"temperature"`
}

// PipelineConfig tunes the processing stages.
type PipelineConfig struct {
	// Workers is the fixed size of the processing pool.
	Workers int `mapstructure:"workers" yaml:"workers"`

	// ContextBudget is the character budget of a reply context window.
	ContextBudget int `mapstructure:"context_budget" yaml:"context_budget"`

	// FragmentChars caps each prior message's body in the context.
	FragmentChars int `mapstructure:"fragment_chars" yaml:"fragment_chars"`

	// ExcerptChars caps the body excerpt sent to the classifier.
	ExcerptChars int `mapstructure:"excerpt_chars" yaml:"excerpt_chars"`

	MaxSummaryBullets int `mapstructure:"max_summary_bullets" yaml:"max_summary_bullets"`

	// SignatureName is appended under the closing of drafted replies.
	SignatureName string `mapstructure:"signature_name" yaml:"signature_name"`
}

// SyncConfig controls background syncing.
type SyncConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"`
}

// APIConfig holds the HTTP server settings.
type APIConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	Dir       string `mapstructure:"dir" yaml:"dir"`
	MaxFiles  int    `mapstructure:"max_files" yaml:"max_files"`
	MaxSizeMB int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// RetentionConfig controls cleanup of old records.
type RetentionConfig struct {
	Days int `mapstructure:"days" yaml:"days"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Source    SourceConfig    `mapstructure:"source" yaml:"source"`
	Inference InferenceConfig `mapstructure:"inference" yaml:"inference"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
}

// envPrefix is prepended to every environment override, e.g.
// INBOXPILOT_INFERENCE_MODEL.
const envPrefix = "INBOXPILOT"

// ConfigDir returns ~/.config/inboxpilot.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "inboxpilot")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/inboxpilot/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// setDefaults registers every key so that environment overrides resolve
// even when the key is absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", filepath.Join(ConfigDir(), "inboxpilot.db"))
	v.SetDefault("store.dsn", "")

	v.SetDefault("source.type", "imap")
	v.SetDefault("source.address", "")
	v.SetDefault("source.imap.host", "")
	v.SetDefault("source.imap.port", "993")
	v.SetDefault("source.imap.username", "")
	v.SetDefault("source.imap.tls", true)
	v.SetDefault("source.imap.mailbox", "INBOX")
	v.SetDefault("source.smtp.host", "")
	v.SetDefault("source.smtp.port", "465")
	v.SetDefault("source.smtp.tls", true)
	v.SetDefault("source.gmail.credentials_file", filepath.Join(ConfigDir(), "credentials.json"))
	v.SetDefault("source.gmail.token_file", filepath.Join(ConfigDir(), "token.json"))
	v.SetDefault("source.page_size", 20)
	v.SetDefault("source.max_per_run", 100)
	v.SetDefault("source.lookback_days", 7)
	v.SetDefault("source.ignore_senders", []string{})
	v.SetDefault("source.ignore_subject_keywords", []string{})

	v.SetDefault("inference.base_url", "http://localhost:11434")
	v.SetDefault("inference.model", "phi3:mini")
	v.SetDefault("inference.timeout", 30*time.Second)
	v.SetDefault("inference.health_timeout", 5*time.Second)
	v.SetDefault("inference.max_retries", 2)
	v.SetDefault("inference.max_tokens", 512)
	v.SetDefault("inference.temperature", 0.3)

	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.context_budget", 2000)
	v.SetDefault("pipeline.fragment_chars", 400)
	v.SetDefault("pipeline.excerpt_chars", 500)
	v.SetDefault("pipeline.max_summary_bullets", 3)
	v.SetDefault("pipeline.signature_name", "")

	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.schedule", "@every 5m")

	v.SetDefault("api.addr", "127.0.0.1:8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_files", 10)
	v.SetDefault("log.max_size_mb", 20)

	v.SetDefault("retention.days", 30)
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// applying INBOXPILOT_* environment overrides. A missing file yields the
// defaults.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, pathErr := err.(*os.PathError)
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !pathErr && !notFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Source.Type {
	case "imap", "gmail":
	default:
		return fmt.Errorf("unknown source.type %q", c.Source.Type)
	}

	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}

	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("store", cfg.Store)
	v.Set("source", cfg.Source)
	v.Set("inference", cfg.Inference)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("sync", cfg.Sync)
	v.Set("api", cfg.API)
	v.Set("log", cfg.Log)
	v.Set("retention", cfg.Retention)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
