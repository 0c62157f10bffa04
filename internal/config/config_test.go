package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

// Helper to clear all config-related env vars
func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"BRIDGE_PORT",
		"BRIDGE_READ_TIMEOUT",
		"BRIDGE_WRITE_TIMEOUT",
		"BRIDGE_SHUTDOWN_TIMEOUT",
		"BRIDGE_DB_PATH",
		"BRIDGE_JWT_SECRET",
		"BRIDGE_TOKEN_TTL",
		"BRIDGE_BCRYPT_COST",
		"OPENAI_API_KEY",
		"BRIDGE_EMBEDDING_PROVIDER",
		"BRIDGE_EMBEDDING_MODEL",
		"BRIDGE_EMBEDDING_BASE_URL",
		"BRIDGE_INDEX_MIN_SCORE",
		"BRIDGE_INDEX_TOP_K",
		"KINDO_API_KEY",
		"BRIDGE_COMPLETION_API_KEY",
		"BRIDGE_COMPLETION_BASE_URL",
		"BRIDGE_COMPLETION_MODEL",
		"BRIDGE_SUMMARY_TIMEOUT",
		"BRIDGE_SUMMARY_RATE_PER_MINUTE",
		"BRIDGE_BACKUP_INTERVAL",
		"BRIDGE_BACKUP_DIR",
		"BRIDGE_BACKUP_RETAIN",
		"BRIDGE_S3_ENDPOINT",
		"BRIDGE_S3_REGION",
		"BRIDGE_S3_BUCKET",
		"BRIDGE_S3_ACCESS_KEY",
		"BRIDGE_S3_SECRET_KEY",
		"BRIDGE_S3_USE_SSL",
		"BRIDGE_LOG_LEVEL",
		"BRIDGE_LOG_FORMAT",
		"BRIDGE_CONFIG_PATH",
		"BRIDGE_DEV_MODE",
	}
	for _, v := range envVars {
		if old, ok := os.LookupEnv(v); ok {
			os.Unsetenv(v)
			t.Cleanup(func() { os.Setenv(v, old) })
		}
	}
	// Point at a file that does not exist so a local config/bridge.yaml
	// never leaks into tests.
	t.Setenv("BRIDGE_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
}

// Helper to set dev mode with the one secret that is always required
func setDevModeEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BRIDGE_DEV_MODE", "true")
	t.Setenv("BRIDGE_JWT_SECRET", "dev-secret")
}

// Helper to set production env vars (API keys required)
func setProdEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BRIDGE_JWT_SECRET", "prod-secret")
	t.Setenv("OPENAI_API_KEY", "sk-test-openai-key")
	t.Setenv("BRIDGE_COMPLETION_API_KEY", "test-completion-key")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// Test: Default values when no config file and no env vars (dev mode)
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout.Std() != 15*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 15s", cfg.Server.ShutdownTimeout.Std())
	}
	if cfg.Database.Path != "data/bridge.db" {
		t.Errorf("Database.Path = %q, want data/bridge.db", cfg.Database.Path)
	}
	if cfg.Auth.TokenTTL.Std() != 120*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want 120m", cfg.Auth.TokenTTL.Std())
	}
	if cfg.Index.MinScore != 0.2 {
		t.Errorf("Index.MinScore = %v, want 0.2", cfg.Index.MinScore)
	}
	if cfg.Index.TopK != 5 {
		t.Errorf("Index.TopK = %d, want 5", cfg.Index.TopK)
	}
	if cfg.Completion.MaxTokens != 500 {
		t.Errorf("Completion.MaxTokens = %d, want 500", cfg.Completion.MaxTokens)
	}
	if cfg.Summary.Timeout.Std() != 30*time.Second {
		t.Errorf("Summary.Timeout = %v, want 30s", cfg.Summary.Timeout.Std())
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
}

func TestLoad_DevModeSelectsHashingEmbedder(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.DevMode {
		t.Error("DevMode = false, want true")
	}
	if cfg.Embedding.Provider != ProviderHashing {
		t.Errorf("Embedding.Provider = %q, want %q", cfg.Embedding.Provider, ProviderHashing)
	}
}

func TestLoad_DevModeKeepsOpenAIWhenKeySet(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-dev")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Embedding.Provider != ProviderOpenAI {
		t.Errorf("Embedding.Provider = %q, want %q", cfg.Embedding.Provider, ProviderOpenAI)
	}
}

func TestLoad_JWTSecretAlwaysRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("BRIDGE_DEV_MODE", "true")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() error = nil, want missing JWT secret")
	}
	if !strings.Contains(err.Error(), "BRIDGE_JWT_SECRET") {
		t.Errorf("error = %q, want mention of BRIDGE_JWT_SECRET", err)
	}
}

func TestLoad_ProdRequiresAPIKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("BRIDGE_JWT_SECRET", "secret")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() error = nil, want missing API keys")
	}
	for _, want := range []string{"OPENAI_API_KEY", "BRIDGE_COMPLETION_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want mention of %s", err, want)
		}
	}
}

func TestLoad_ProdWithKeys(t *testing.T) {
	clearEnv(t)
	setProdEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "prod-secret" {
		t.Errorf("Auth.JWTSecret = %q, want prod-secret", cfg.Auth.JWTSecret)
	}
	if cfg.Completion.APIKey != "test-completion-key" {
		t.Errorf("Completion.APIKey = %q, want test-completion-key", cfg.Completion.APIKey)
	}
}

func TestLoad_CompletionKeyFallback(t *testing.T) {
	tests := []struct {
		name   string
		bridge string
		kindo  string
		want   string
	}{
		{"kindo only", "", "kindo-key", "kindo-key"},
		{"bridge wins", "bridge-key", "kindo-key", "bridge-key"},
		{"bridge only", "bridge-key", "", "bridge-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("BRIDGE_JWT_SECRET", "secret")
			t.Setenv("OPENAI_API_KEY", "sk")
			if tt.bridge != "" {
				t.Setenv("BRIDGE_COMPLETION_API_KEY", tt.bridge)
			}
			if tt.kindo != "" {
				t.Setenv("KINDO_API_KEY", tt.kindo)
			}

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Completion.APIKey != tt.want {
				t.Errorf("Completion.APIKey = %q, want %q", cfg.Completion.APIKey, tt.want)
			}
		})
	}
}

// Test: YAML overrides defaults, env overrides YAML
func TestLoad_Precedence(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	path := writeConfig(t, `
server:
  port: 9090
  read_timeout: 5s
database:
  path: /tmp/from-yaml.db
index:
  min_score: 0.35
  top_k: 8
summary:
  timeout: 10s
log:
  level: debug
`)
	t.Setenv("BRIDGE_CONFIG_PATH", path)
	t.Setenv("BRIDGE_PORT", "7070")
	t.Setenv("BRIDGE_INDEX_TOP_K", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070 (env)", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout.Std() != 5*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 5s (yaml)", cfg.Server.ReadTimeout.Std())
	}
	if cfg.Database.Path != "/tmp/from-yaml.db" {
		t.Errorf("Database.Path = %q, want yaml value", cfg.Database.Path)
	}
	if cfg.Index.MinScore != 0.35 {
		t.Errorf("Index.MinScore = %v, want 0.35 (yaml)", cfg.Index.MinScore)
	}
	if cfg.Index.TopK != 3 {
		t.Errorf("Index.TopK = %d, want 3 (env)", cfg.Index.TopK)
	}
	if cfg.Summary.Timeout.Std() != 10*time.Second {
		t.Errorf("Summary.Timeout = %v, want 10s", cfg.Summary.Timeout.Std())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	// Unset keys keep defaults.
	if cfg.Completion.MaxTokens != 500 {
		t.Errorf("Completion.MaxTokens = %d, want default 500", cfg.Completion.MaxTokens)
	}
}

// Secrets in YAML are ignored.
func TestLoad_SecretsNotReadFromYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("BRIDGE_DEV_MODE", "true")

	path := writeConfig(t, `
auth:
  jwt_secret: from-yaml
  JWTSecret: from-yaml
`)
	t.Setenv("BRIDGE_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want missing JWT secret")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	t.Setenv("BRIDGE_CONFIG_PATH", writeConfig(t, "summary:\n  timeout: soon\n"))

	_, err := Load()
	if err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("error = %q, want invalid duration", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	t.Setenv("BRIDGE_CONFIG_PATH", writeConfig(t, "server: [unterminated"))

	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("LoadFromFile() error = nil, want error for missing file")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)

	cfg, err := LoadFromFile(writeConfig(t, "auth:\n  token_ttl: 45m\n"))
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Auth.TokenTTL.Std() != 45*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want 45m", cfg.Auth.TokenTTL.Std())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad provider", func(c *Config) { c.Embedding.Provider = "magic" }, "embedding.provider"},
		{"min score too high", func(c *Config) { c.Index.MinScore = 1.5 }, "index.min_score"},
		{"negative min score", func(c *Config) { c.Index.MinScore = -0.9 }, "index.min_score"},
		{"zero min score", func(c *Config) { c.Index.MinScore = 0 }, ""},
		{"zero top k", func(c *Config) { c.Index.TopK = 0 }, "index.top_k"},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "auth.token_ttl"},
		{"zero summary timeout", func(c *Config) { c.Summary.Timeout = 0 }, "summary.timeout"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative backup interval", func(c *Config) { c.Backup.Interval = Duration(-time.Minute) }, "backup.interval"},
		{"zero retain", func(c *Config) { c.Backup.Retain = 0 }, "backup.retain"},
		{"bucket without endpoint", func(c *Config) { c.Backup.Storage.Bucket = "b" }, "backup.storage.endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newDefaults()
			cfg.DevMode = true
			cfg.Auth.JWTSecret = "secret"
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("validate() error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_YAMLRoundTrip(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte(`"90s"`), &d); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", d.Std())
	}

	out, err := yaml.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "1m30s" {
		t.Errorf("Marshal() = %q, want 1m30s", out)
	}
}

func TestLoadForTools_NoSecretsRequired(t *testing.T) {
	clearEnv(t)
	t.Setenv("BRIDGE_DB_PATH", "/tmp/tools.db")

	cfg, err := LoadForTools()
	if err != nil {
		t.Fatalf("LoadForTools() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/tools.db" {
		t.Errorf("Database.Path = %q, want /tmp/tools.db", cfg.Database.Path)
	}
	if cfg.Auth.BcryptCost != 12 {
		t.Errorf("Auth.BcryptCost = %d, want 12", cfg.Auth.BcryptCost)
	}
}

func TestLoad_BackupEnv(t *testing.T) {
	clearEnv(t)
	setDevModeEnv(t)
	t.Setenv("BRIDGE_BACKUP_INTERVAL", "6h")
	t.Setenv("BRIDGE_S3_ENDPOINT", "minio:9000")
	t.Setenv("BRIDGE_S3_BUCKET", "bridge-backups")
	t.Setenv("BRIDGE_S3_ACCESS_KEY", "ak")
	t.Setenv("BRIDGE_S3_SECRET_KEY", "sk")
	t.Setenv("BRIDGE_S3_USE_SSL", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backup.Interval.Std() != 6*time.Hour {
		t.Errorf("Backup.Interval = %v, want 6h", cfg.Backup.Interval.Std())
	}
	if cfg.Backup.Retain != 7 || cfg.Backup.Dir != "data/backups" {
		t.Errorf("Backup defaults = %d/%q", cfg.Backup.Retain, cfg.Backup.Dir)
	}
	st := cfg.Backup.Storage
	if st.Bucket != "bridge-backups" || st.Endpoint != "minio:9000" {
		t.Errorf("Storage = %+v", st)
	}
	if st.AccessKey != "ak" || st.SecretKey != "sk" {
		t.Error("storage credentials not read from env")
	}
	if st.UseSSL == nil || *st.UseSSL {
		t.Errorf("UseSSL = %v, want false", st.UseSSL)
	}
}
