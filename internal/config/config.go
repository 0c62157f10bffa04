package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hyperengineering/bridge/internal/validation"
	"gopkg.in/yaml.v3"
)

// Embedding providers.
const (
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Index      IndexConfig      `yaml:"index"`
	Completion CompletionConfig `yaml:"completion"`
	Summary    SummaryConfig    `yaml:"summary"`
	Backup     BackupConfig     `yaml:"backup"`
	Log        LogConfig        `yaml:"log"`

	// DevMode relaxes API key requirements and defaults to the local
	// hashing embedder. Env-only.
	DevMode bool `yaml:"-"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig contains credential and session token settings.
type AuthConfig struct {
	JWTSecret  string   `yaml:"-"` // env-only, never in YAML
	TokenTTL   Duration `yaml:"token_ttl"`
	BcryptCost int      `yaml:"bcrypt_cost"`
}

// EmbeddingConfig contains embedding service settings.
type EmbeddingConfig struct {
	Provider  string   `yaml:"provider"`
	APIKey    string   `yaml:"-"` // env-only, never in YAML
	Model     string   `yaml:"model"`
	BaseURL   string   `yaml:"base_url"`
	BatchSize int      `yaml:"batch_size"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// IndexConfig contains symptom index retrieval settings.
type IndexConfig struct {
	MinScore       float64  `yaml:"min_score"`
	TopK           int      `yaml:"top_k"`
	RebuildTimeout Duration `yaml:"rebuild_timeout"`
}

// CompletionConfig contains upstream completion service settings.
type CompletionConfig struct {
	APIKey    string `yaml:"-"` // env-only, never in YAML
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// SummaryConfig contains summary generation settings.
type SummaryConfig struct {
	Timeout           Duration `yaml:"timeout"`
	RequestsPerMinute float64  `yaml:"requests_per_minute"`
	Burst             int      `yaml:"burst"`
}

// BackupConfig contains database backup settings. Interval 0 disables the
// background backup worker; `bridge backup` still works.
type BackupConfig struct {
	Interval Duration            `yaml:"interval"`
	Dir      string              `yaml:"dir"`
	Retain   int                 `yaml:"retain"`
	Storage  BackupStorageConfig `yaml:"storage"`
}

// BackupStorageConfig contains S3-compatible object storage settings.
// An empty Bucket keeps backups local-only.
type BackupStorageConfig struct {
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	Bucket    string   `yaml:"bucket"`
	Prefix    string   `yaml:"prefix"`
	UseSSL    *bool    `yaml:"use_ssl"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("BRIDGE_CONFIG_PATH", "config/bridge.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath, false); err != nil {
		return nil, err
	}

	return finish(cfg)
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, path, true); err != nil {
		return nil, err
	}

	return finish(cfg)
}

// LoadForTools loads configuration like Load but skips validation, for
// offline commands (migrate, user create) that need no secrets.
func LoadForTools() (*Config, error) {
	cfg := newDefaults()

	if err := loadYAMLFile(cfg, getEnv("BRIDGE_CONFIG_PATH", "config/bridge.yaml"), false); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	if cfg.DevMode && cfg.Embedding.APIKey == "" && os.Getenv("BRIDGE_EMBEDDING_PROVIDER") == "" {
		cfg.Embedding.Provider = ProviderHashing
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/bridge.db",
		},
		Auth: AuthConfig{
			TokenTTL:   Duration(120 * time.Minute),
			BcryptCost: 12,
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderOpenAI,
			Model:     "text-embedding-3-small",
			BatchSize: 100,
			CacheTTL:  Duration(24 * time.Hour),
		},
		Index: IndexConfig{
			MinScore:       0.2,
			TopK:           5,
			RebuildTimeout: Duration(30 * time.Second),
		},
		Completion: CompletionConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 500,
		},
		Summary: SummaryConfig{
			Timeout:           Duration(30 * time.Second),
			RequestsPerMinute: 6,
			Burst:             3,
		},
		Backup: BackupConfig{
			Dir:    "data/backups",
			Retain: 7,
			Storage: BackupStorageConfig{
				Region:    "us-east-1",
				Prefix:    "bridge",
				URLExpiry: Duration(15 * time.Minute),
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file. A missing file is
// only an error when required.
func loadYAMLFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	envInt("BRIDGE_PORT", &cfg.Server.Port)
	envDuration("BRIDGE_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("BRIDGE_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("BRIDGE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	envString("BRIDGE_DB_PATH", &cfg.Database.Path)

	// Auth
	envString("BRIDGE_JWT_SECRET", &cfg.Auth.JWTSecret)
	envDuration("BRIDGE_TOKEN_TTL", &cfg.Auth.TokenTTL)
	envInt("BRIDGE_BCRYPT_COST", &cfg.Auth.BcryptCost)

	// Embedding (OPENAI_API_KEY is industry convention)
	envString("OPENAI_API_KEY", &cfg.Embedding.APIKey)
	envString("BRIDGE_EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	envString("BRIDGE_EMBEDDING_MODEL", &cfg.Embedding.Model)
	envString("BRIDGE_EMBEDDING_BASE_URL", &cfg.Embedding.BaseURL)

	// Index
	envFloat("BRIDGE_INDEX_MIN_SCORE", &cfg.Index.MinScore)
	envInt("BRIDGE_INDEX_TOP_K", &cfg.Index.TopK)

	// Completion; KINDO_API_KEY is accepted for existing deployments
	envString("KINDO_API_KEY", &cfg.Completion.APIKey)
	envString("BRIDGE_COMPLETION_API_KEY", &cfg.Completion.APIKey)
	envString("BRIDGE_COMPLETION_BASE_URL", &cfg.Completion.BaseURL)
	envString("BRIDGE_COMPLETION_MODEL", &cfg.Completion.Model)

	// Summary
	envDuration("BRIDGE_SUMMARY_TIMEOUT", &cfg.Summary.Timeout)
	envFloat("BRIDGE_SUMMARY_RATE_PER_MINUTE", &cfg.Summary.RequestsPerMinute)

	// Backup
	envDuration("BRIDGE_BACKUP_INTERVAL", &cfg.Backup.Interval)
	envString("BRIDGE_BACKUP_DIR", &cfg.Backup.Dir)
	envInt("BRIDGE_BACKUP_RETAIN", &cfg.Backup.Retain)
	envString("BRIDGE_S3_ENDPOINT", &cfg.Backup.Storage.Endpoint)
	envString("BRIDGE_S3_REGION", &cfg.Backup.Storage.Region)
	envString("BRIDGE_S3_BUCKET", &cfg.Backup.Storage.Bucket)
	envString("BRIDGE_S3_ACCESS_KEY", &cfg.Backup.Storage.AccessKey)
	envString("BRIDGE_S3_SECRET_KEY", &cfg.Backup.Storage.SecretKey)
	if v := os.Getenv("BRIDGE_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Backup.Storage.UseSSL = &useSSL
	}

	// Log
	envString("BRIDGE_LOG_LEVEL", &cfg.Log.Level)
	envString("BRIDGE_LOG_FORMAT", &cfg.Log.Format)

	if v := os.Getenv("BRIDGE_DEV_MODE"); v != "" {
		cfg.DevMode = v == "true" || v == "1"
	}
}

// validate checks required values and ranges. The JWT secret is required
// even in dev mode; API keys are not.
func (c *Config) validate() error {
	var errs []error

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("BRIDGE_JWT_SECRET is required"))
	}
	if !c.DevMode {
		if c.Embedding.Provider == ProviderOpenAI && c.Embedding.APIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required"))
		}
		if c.Completion.APIKey == "" {
			errs = append(errs, errors.New("BRIDGE_COMPLETION_API_KEY is required"))
		}
	}

	var v validation.Collector
	v.Add(validation.ValidateEnum("embedding.provider", c.Embedding.Provider, []string{ProviderOpenAI, ProviderHashing}))
	v.Add(validation.ValidateEnum("log.format", c.Log.Format, []string{"json", "text"}))
	v.Add(validation.ValidateEnum("log.level", c.Log.Level, []string{"debug", "info", "warn", "error"}))
	v.Add(validation.ValidateRange("index.min_score", c.Index.MinScore, 0, 1))
	v.Add(validation.ValidateRange("server.port", float64(c.Server.Port), 1, 65535))
	if c.Index.TopK <= 0 {
		v.Add(&validation.ValidationError{Field: "index.top_k", Message: "must be positive"})
	}
	if c.Auth.TokenTTL <= 0 {
		v.Add(&validation.ValidationError{Field: "auth.token_ttl", Message: "must be positive"})
	}
	if c.Summary.Timeout <= 0 {
		v.Add(&validation.ValidationError{Field: "summary.timeout", Message: "must be positive"})
	}
	if c.Backup.Interval < 0 {
		v.Add(&validation.ValidationError{Field: "backup.interval", Message: "must not be negative"})
	}
	if c.Backup.Retain < 1 {
		v.Add(&validation.ValidationError{Field: "backup.retain", Message: "must be at least 1"})
	}
	if c.Backup.Storage.Bucket != "" && c.Backup.Storage.Endpoint == "" {
		v.Add(&validation.ValidationError{Field: "backup.storage.endpoint", Message: "is required when a bucket is set"})
	}
	if err := v.Err(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}
