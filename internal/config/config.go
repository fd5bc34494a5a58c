package config

import (
	"bytes"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const Version = "0.3.0"

// Credentials holds secrets loaded from credentials.toml.
type Credentials struct {
	APIKey string `toml:"api_key"`
}

// LoadCredentials reads credentials.toml. Returns an empty Credentials if
// the file does not exist. Warns if the file has insecure permissions.
func LoadCredentials() (*Credentials, error) {
	path, err := CredentialsPath()
	if err != nil {
		return &Credentials{}, nil
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return &Credentials{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat credentials: %w", err)
	}

	// Warn on insecure permissions (anything beyond owner read/write).
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		slog.Warn("credentials file has insecure permissions",
			"path", path, "mode", fmt.Sprintf("%04o", perm))
	}

	creds := &Credentials{}
	if _, err := toml.DecodeFile(path, creds); err != nil {
		return nil, fmt.Errorf("decode credentials %s: %w", path, err)
	}
	return creds, nil
}

// SaveCredentials writes credentials.toml with 0600 permissions.
func SaveCredentials(creds *Credentials) error {
	path, err := CredentialsPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(creds); err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), fs.FileMode(0o600)); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

type Config struct {
	DBPath      string `toml:"db_path"`
	ManifestDir string `toml:"manifest_dir"`
	LogLevel    string `toml:"log_level"`

	API    APIConfig    `toml:"api"`
	Submit SubmitConfig `toml:"submit"`
	Poll   PollConfig   `toml:"poll"`
	Notify NotifyConfig `toml:"notify"`

	// Resolved at runtime (not in TOML).
	BaseDir string `toml:"-"`
}

type APIConfig struct {
	BaseURL          string `toml:"base_url"`
	Key              string `toml:"key"`
	Model            string `toml:"model"`
	CompletionWindow string `toml:"completion_window"`
	RequestTimeout   string `toml:"request_timeout"`
}

type SubmitConfig struct {
	Journals []string `toml:"journals"`
	MaxItems int      `toml:"max_items"`
}

type PollConfig struct {
	Interval         string `toml:"interval"`
	MaxPolls         int    `toml:"max_polls"`
	ThroughputWindow string `toml:"throughput_window"`
}

type NotifyConfig struct {
	WebhookURL   string `toml:"webhook_url"`
	SlackWebhook string `toml:"slack_webhook"`
	Desktop      bool   `toml:"desktop"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(path)
	// Snapshot the key from the config file before credentials/env are merged in.
	fileKey := cfg.API.Key
	applyDefaults(cfg)
	applyCredentialsAndEnv(cfg)
	if fileKey != "" {
		slog.Warn("api key found in config file; prefer credentials.toml or TERMSCAN_API_KEY env var")
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	resolvePaths(cfg)
	return cfg, nil
}

// LoadMinimal loads config without running validate(). Used by `termscan init`
// where the API key may not be configured yet.
func LoadMinimal(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(path)
	applyDefaults(cfg)
	applyCredentialsAndEnv(cfg)
	resolvePaths(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.DBPath == "" {
		if d, err := DataDir(); err == nil {
			cfg.DBPath = filepath.Join(d, "termscan.db")
		} else {
			cfg.DBPath = "termscan.db"
		}
	}
	if cfg.ManifestDir == "" {
		if d, err := DataDir(); err == nil {
			cfg.ManifestDir = filepath.Join(d, "manifests")
		} else {
			cfg.ManifestDir = "manifests"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.API.Model == "" {
		cfg.API.Model = "gpt-5-mini"
	}
	if cfg.API.CompletionWindow == "" {
		cfg.API.CompletionWindow = "24h"
	}
	if cfg.API.RequestTimeout == "" {
		cfg.API.RequestTimeout = "2m"
	}
	if cfg.Submit.MaxItems == 0 {
		cfg.Submit.MaxItems = 40000
	}
	if cfg.Poll.Interval == "" {
		cfg.Poll.Interval = "15s"
	}
	if cfg.Poll.MaxPolls == 0 {
		// 24h of polling at the default 15s interval.
		cfg.Poll.MaxPolls = 5760
	}
	if cfg.Poll.ThroughputWindow == "" {
		cfg.Poll.ThroughputWindow = "6h"
	}
}

// applyCredentialsAndEnv merges the API key from credentials.toml and then
// from environment variables. Priority (highest → lowest):
// TERMSCAN_API_KEY > OPENAI_API_KEY > credentials.toml > config file.
func applyCredentialsAndEnv(cfg *Config) {
	creds, err := LoadCredentials()
	if err != nil {
		slog.Warn("failed to load credentials", "error", err)
	}
	if creds != nil && creds.APIKey != "" {
		cfg.API.Key = creds.APIKey
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.API.Key = v
	}
	if v := os.Getenv("TERMSCAN_API_KEY"); v != "" {
		cfg.API.Key = v
	}
}

func validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level: %q", cfg.LogLevel)
	}
	if err := validateBaseURL(cfg.API.BaseURL); err != nil {
		return fmt.Errorf("invalid api.base_url: %w", err)
	}
	if cfg.API.Model == "" {
		return fmt.Errorf("api.model is required")
	}
	if _, err := time.ParseDuration(cfg.API.RequestTimeout); err != nil {
		return fmt.Errorf("invalid api.request_timeout %q: %w", cfg.API.RequestTimeout, err)
	}
	if d, err := time.ParseDuration(cfg.Poll.Interval); err != nil || d <= 0 {
		return fmt.Errorf("invalid poll.interval %q", cfg.Poll.Interval)
	}
	if cfg.Poll.MaxPolls < 0 {
		return fmt.Errorf("poll.max_polls must be positive")
	}
	if d, err := time.ParseDuration(cfg.Poll.ThroughputWindow); err != nil || d <= 0 {
		return fmt.Errorf("invalid poll.throughput_window %q", cfg.Poll.ThroughputWindow)
	}
	if cfg.Submit.MaxItems < 0 {
		return fmt.Errorf("submit.max_items must be positive")
	}
	normalized, err := normalizeJournals(cfg.Submit.Journals)
	if err != nil {
		return fmt.Errorf("invalid submit.journals: %w", err)
	}
	cfg.Submit.Journals = normalized
	if cfg.Notify.WebhookURL != "" {
		if err := validateBaseURL(cfg.Notify.WebhookURL); err != nil {
			return fmt.Errorf("invalid notify.webhook_url: %w", err)
		}
	}
	if cfg.Notify.SlackWebhook != "" {
		if err := validateBaseURL(cfg.Notify.SlackWebhook); err != nil {
			return fmt.Errorf("invalid notify.slack_webhook: %w", err)
		}
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func normalizeJournals(journals []string) ([]string, error) {
	if len(journals) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(journals))
	seen := make(map[string]struct{}, len(journals))
	for i, j := range journals {
		trimmed := strings.TrimSpace(j)
		if trimmed == "" {
			return nil, fmt.Errorf("journal at index %d is empty", i)
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out, nil
}

func resolvePaths(cfg *Config) {
	cfg.DBPath = absPath(cfg.BaseDir, cfg.DBPath)
	cfg.ManifestDir = absPath(cfg.BaseDir, cfg.ManifestDir)
}

func absPath(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// ManifestPath returns the manifest file path for a batch.
func (cfg *Config) ManifestPath(batchID string) string {
	return filepath.Join(cfg.ManifestDir, batchID+".jsonl")
}

// RequestTimeout returns the parsed api.request_timeout. Validated at load.
func (cfg *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(cfg.API.RequestTimeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// PollInterval returns the parsed poll.interval. Validated at load.
func (cfg *Config) PollInterval() time.Duration {
	d, err := time.ParseDuration(cfg.Poll.Interval)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// ThroughputWindow returns the parsed poll.throughput_window. Validated at load.
func (cfg *Config) ThroughputWindow() time.Duration {
	d, err := time.ParseDuration(cfg.Poll.ThroughputWindow)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

func (cfg *Config) SlogLevel() slog.Level {
	switch cfg.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
