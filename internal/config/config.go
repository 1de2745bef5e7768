package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/analyzers"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scanner"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/scoring"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/threatintel"
)

const (
	DefaultConfigPath = "configs/config.json"
)

type Config struct {
	Daemon      DaemonConfig      `json:"daemon"`
	Storage     StorageConfig     `json:"storage"`
	Scan        ScanConfig        `json:"scan"`
	Policy      PolicyConfig      `json:"policy"`
	Probes      ProbesConfig      `json:"probes"`
	Narrator    NarratorConfig    `json:"narrator"`
	ThreatIntel ThreatIntelConfig `json:"threat_intel"`
	API         APIConfig         `json:"api"`
	Alerting    AlertingConfig    `json:"alerting"`
}

type DaemonConfig struct {
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
	ShutdownTimeout string `json:"shutdown_timeout"`
}

type StorageConfig struct {
	DBPath              string `json:"db_path"`
	RetentionDays       int    `json:"retention_days"`
	PruneSchedule       string `json:"prune_schedule"`
	EncryptionKeyBase64 string `json:"encryption_key_base64"`
}

type ScanConfig struct {
	GateTimeout     string                     `json:"gate_timeout"`
	AnalyzerTimeout string                     `json:"analyzer_timeout"`
	BatchTimeout    string                     `json:"batch_timeout"`
	PrepareTimeout  string                     `json:"prepare_timeout"`
	Analyzers       []string                   `json:"analyzers"`
	RateLimits      map[string]RateLimitConfig `json:"rate_limits"`
	MaxFileBytes    int64                      `json:"max_file_bytes"`
	RecentLimit     int                        `json:"recent_limit"`
}

type RateLimitConfig struct {
	PerSecond float64 `json:"per_second"`
	Burst     int     `json:"burst"`
}

type PolicyConfig struct {
	Path  string `json:"path"`
	Watch bool   `json:"watch"`
}

type ProbesConfig struct {
	Offline      bool   `json:"offline"`
	RDAPBaseURL  string `json:"rdap_base_url"`
	UserAgent    string `json:"user_agent"`
	Timeout      string `json:"timeout"`
	MaxBodyBytes int64  `json:"max_body_bytes"`
	MaxRedirects int    `json:"max_redirects"`
	CacheTTL     string `json:"cache_ttl"`
	AllowPrivate bool   `json:"allow_private"`
}

type NarratorConfig struct {
	Enabled       bool    `json:"enabled"`
	BaseURL       string  `json:"base_url"`
	Model         string  `json:"model"`
	APIKey        string  `json:"api_key"`
	APIKeyEnv     string  `json:"api_key_env"`
	Timeout       string  `json:"timeout"`
	MaxTokens     int     `json:"max_tokens"`
	RatePerSecond float64 `json:"rate_per_second"`
	Burst         int     `json:"burst"`
}

type ThreatIntelConfig struct {
	Enabled           bool                       `json:"enabled"`
	Schedule          string                     `json:"schedule"`
	RunOnStart        bool                       `json:"run_on_start"`
	Sources           []threatintel.SourceConfig `json:"sources"`
	CacheDir          string                     `json:"cache_dir"`
	AirgapImportPath  string                     `json:"airgap_import_path"`
	KeyringPath       string                     `json:"keyring_path"`
	RequireSignatures bool                       `json:"require_signatures"`
	Concurrency       int                        `json:"concurrency"`
	Timeout           string                     `json:"timeout"`
}

type APIConfig struct {
	Enabled        bool   `json:"enabled"`
	BindAddr       string `json:"bind_addr"`
	ReadOnly       bool   `json:"read_only"`
	AuthToken      string `json:"auth_token"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`
}

type AlertingConfig struct {
	Enabled      bool                 `json:"enabled"`
	MinRiskLevel string               `json:"min_risk_level"`
	DedupWindow  string               `json:"dedup_window"`
	RetryMax     int                  `json:"retry_max"`
	RetryBackoff string               `json:"retry_backoff"`
	Channels     []AlertChannelConfig `json:"channels"`
}

type AlertChannelConfig struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
	// MinRiskLevel raises the engine threshold for this channel only.
	MinRiskLevel string `json:"min_risk_level"`

	URL string `json:"url"`
	// Headers are added to every webhook request, e.g. an Authorization
	// token for the receiving endpoint.
	Headers map[string]string `json:"headers,omitempty"`
}

func Default() Config {
	return Config{
		Daemon: DaemonConfig{
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: "10s",
		},
		Storage: StorageConfig{
			DBPath:        "/var/lib/elara/badger",
			RetentionDays: 30,
			PruneSchedule: "@daily",
		},
		Scan: ScanConfig{
			GateTimeout:     "3s",
			AnalyzerTimeout: "8s",
			BatchTimeout:    "30s",
			PrepareTimeout:  "10s",
			Analyzers:       []string{},
			RateLimits:      map[string]RateLimitConfig{},
			MaxFileBytes:    25 << 20,
			RecentLimit:     100,
		},
		Policy: PolicyConfig{},
		Probes: ProbesConfig{
			UserAgent:    "elara-scanner/1.0",
			Timeout:      "5s",
			MaxBodyBytes: 2 << 20,
			MaxRedirects: 10,
			CacheTTL:     "24h",
		},
		Narrator: NarratorConfig{
			Enabled:       false,
			APIKeyEnv:     "OPENAI_API_KEY",
			Timeout:       "6s",
			MaxTokens:     600,
			RatePerSecond: 2,
			Burst:         4,
		},
		ThreatIntel: ThreatIntelConfig{
			Enabled:     false,
			Schedule:    "@every 6h",
			RunOnStart:  true,
			Sources:     []threatintel.SourceConfig{},
			CacheDir:    "/var/lib/elara/feeds",
			Concurrency: 4,
			Timeout:     "2m",
		},
		API: APIConfig{
			Enabled:        false,
			BindAddr:       "127.0.0.1:8790",
			ReadOnly:       false,
			MaxUploadBytes: 25 << 20,
		},
		Alerting: AlertingConfig{
			Enabled:      false,
			MinRiskLevel: string(scoring.LevelHigh),
			DedupWindow:  "5m",
			RetryMax:     3,
			RetryBackoff: "2s",
			Channels: []AlertChannelConfig{
				{Type: "log", Enabled: true},
			},
		},
	}
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadOptional behaves like Load but falls back to defaults plus environment
// overrides when the file does not exist.
func LoadOptional(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		applyEnvOverrides(&cfg)
		return cfg, cfg.Validate()
	}
	return Load(path)
}

func (c Config) Validate() error {
	var errs []string

	durations := func(field, value string) {
		if value == "" {
			return
		}
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			errs = append(errs, field+" must be a positive duration (e.g. 5s)")
		}
	}
	schedule := func(field, value string) {
		if _, err := cron.ParseStandard(value); err != nil {
			errs = append(errs, fmt.Sprintf("%s must be a cron expression or descriptor: %v", field, err))
		}
	}
	level := func(field, value string) {
		if value == "" {
			return
		}
		if _, err := scoring.ParseRiskLevel(value); err != nil {
			errs = append(errs, field+" must be one of: safe, low, medium, high, critical")
		}
	}

	switch strings.ToLower(c.Daemon.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "daemon.log_level must be one of: debug, info, warn, error")
	}

	switch strings.ToLower(c.Daemon.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "daemon.log_format must be one of: json, text")
	}
	durations("daemon.shutdown_timeout", c.Daemon.ShutdownTimeout)

	if c.Storage.DBPath == "" {
		errs = append(errs, "storage.db_path is required")
	} else if !filepath.IsAbs(c.Storage.DBPath) {
		errs = append(errs, "storage.db_path must be an absolute path")
	}
	if c.Storage.RetentionDays < 0 {
		errs = append(errs, "storage.retention_days must be >= 0")
	}
	if c.Storage.RetentionDays > 0 {
		schedule("storage.prune_schedule", c.Storage.PruneSchedule)
	}
	if c.Storage.EncryptionKeyBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(c.Storage.EncryptionKeyBase64)
		if err != nil {
			errs = append(errs, "storage.encryption_key_base64 must be valid base64")
		} else if len(decoded) != 32 {
			errs = append(errs, "storage.encryption_key_base64 must decode to 32 bytes")
		}
	}

	durations("scan.gate_timeout", c.Scan.GateTimeout)
	durations("scan.analyzer_timeout", c.Scan.AnalyzerTimeout)
	durations("scan.batch_timeout", c.Scan.BatchTimeout)
	durations("scan.prepare_timeout", c.Scan.PrepareTimeout)
	for _, name := range c.Scan.Analyzers {
		if !isAnalyzer(name) {
			errs = append(errs, fmt.Sprintf("scan.analyzers contains unknown analyzer: %s", name))
		}
	}
	for name, rl := range c.Scan.RateLimits {
		if !isAnalyzer(name) {
			errs = append(errs, fmt.Sprintf("scan.rate_limits contains unknown analyzer: %s", name))
		}
		if rl.PerSecond < 0 || rl.Burst < 0 {
			errs = append(errs, fmt.Sprintf("scan.rate_limits.%s must not be negative", name))
		}
	}
	if c.Scan.MaxFileBytes < 0 {
		errs = append(errs, "scan.max_file_bytes must be >= 0")
	}
	if c.Scan.RecentLimit < 0 {
		errs = append(errs, "scan.recent_limit must be >= 0")
	}

	if c.Policy.Watch && c.Policy.Path == "" {
		errs = append(errs, "policy.path is required when watch is enabled")
	}

	durations("probes.timeout", c.Probes.Timeout)
	durations("probes.cache_ttl", c.Probes.CacheTTL)
	if c.Probes.MaxBodyBytes < 0 {
		errs = append(errs, "probes.max_body_bytes must be >= 0")
	}

	if c.Narrator.Enabled {
		if c.Narrator.APIKey == "" && c.Narrator.APIKeyEnv == "" {
			errs = append(errs, "narrator.api_key or narrator.api_key_env is required when enabled")
		}
		durations("narrator.timeout", c.Narrator.Timeout)
		if c.Narrator.NarratorTimeoutDuration() >= c.Scan.BatchTimeoutDuration() {
			errs = append(errs, "narrator.timeout must be shorter than scan.batch_timeout")
		}
	}
	if c.Narrator.RatePerSecond < 0 {
		errs = append(errs, "narrator.rate_per_second must be >= 0")
	}

	if c.ThreatIntel.Enabled {
		schedule("threat_intel.schedule", c.ThreatIntel.Schedule)
		if len(c.ThreatIntel.Sources) == 0 && c.ThreatIntel.AirgapImportPath == "" {
			errs = append(errs, "threat_intel.sources must include at least one source when enabled")
		}
		seen := map[string]bool{}
		for i, src := range c.ThreatIntel.Sources {
			if src.ID == "" {
				errs = append(errs, fmt.Sprintf("threat_intel.sources[%d].id is required", i))
			} else if seen[src.ID] {
				errs = append(errs, fmt.Sprintf("threat_intel.sources[%d].id %q is duplicated", i, src.ID))
			}
			seen[src.ID] = true
			if strings.TrimSpace(src.URL) == "" && c.ThreatIntel.AirgapImportPath == "" {
				errs = append(errs, fmt.Sprintf("threat_intel.sources[%d].url is required", i))
			}
			switch src.Format {
			case "", threatintel.FormatLines, threatintel.FormatCSV:
			default:
				errs = append(errs, fmt.Sprintf("threat_intel.sources[%d].format must be one of: lines, csv", i))
			}
			if src.Severity != "" && src.Severity.Rank() < 0 {
				errs = append(errs, fmt.Sprintf("threat_intel.sources[%d].severity is not a known severity", i))
			}
		}
		if c.ThreatIntel.CacheDir == "" {
			errs = append(errs, "threat_intel.cache_dir is required when enabled")
		} else if !filepath.IsAbs(c.ThreatIntel.CacheDir) {
			errs = append(errs, "threat_intel.cache_dir must be an absolute path")
		}
		if c.ThreatIntel.RequireSignatures && c.ThreatIntel.KeyringPath == "" {
			errs = append(errs, "threat_intel.keyring_path is required when require_signatures is true")
		}
		durations("threat_intel.timeout", c.ThreatIntel.Timeout)
	}
	if c.ThreatIntel.AirgapImportPath != "" && !filepath.IsAbs(c.ThreatIntel.AirgapImportPath) {
		errs = append(errs, "threat_intel.airgap_import_path must be an absolute path if set")
	}

	if c.API.Enabled {
		if c.API.BindAddr == "" {
			errs = append(errs, "api.bind_addr is required when enabled")
		}
		if c.API.AuthToken == "" {
			errs = append(errs, "api.auth_token is required when enabled")
		}
	}
	if c.API.MaxUploadBytes < 0 {
		errs = append(errs, "api.max_upload_bytes must be >= 0")
	}

	level("alerting.min_risk_level", c.Alerting.MinRiskLevel)
	durations("alerting.dedup_window", c.Alerting.DedupWindow)
	durations("alerting.retry_backoff", c.Alerting.RetryBackoff)
	if c.Alerting.RetryMax < 0 {
		errs = append(errs, "alerting.retry_max must be >= 0")
	}
	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "log":
		case "webhook":
			if ch.Enabled && ch.URL == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d].url is required for webhook", i))
			}
		case "":
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type is required", i))
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type must be one of: log, webhook", i))
		}
		level(fmt.Sprintf("alerting.channels[%d].min_risk_level", i), ch.MinRiskLevel)
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func isAnalyzer(name string) bool {
	for _, c := range analyzers.Categories {
		if c == name {
			return true
		}
	}
	return false
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func (d DaemonConfig) ShutdownTimeoutDuration() time.Duration {
	return parseDuration(d.ShutdownTimeout, 10*time.Second)
}

// EngineOptions maps the scan section onto engine options. Unset values fall
// back to the engine defaults.
func (s ScanConfig) EngineOptions() scanner.Options {
	def := scanner.DefaultOptions()
	return scanner.Options{
		GateTimeout:     parseDuration(s.GateTimeout, def.GateTimeout),
		AnalyzerTimeout: parseDuration(s.AnalyzerTimeout, def.AnalyzerTimeout),
		BatchTimeout:    parseDuration(s.BatchTimeout, def.BatchTimeout),
		PrepareTimeout:  parseDuration(s.PrepareTimeout, def.PrepareTimeout),
	}
}

func (s ScanConfig) BatchTimeoutDuration() time.Duration {
	return parseDuration(s.BatchTimeout, scanner.DefaultOptions().BatchTimeout)
}

func (s ScanConfig) AnalyzerOptions() analyzers.Options {
	limits := make(map[string]analyzers.RateLimit, len(s.RateLimits))
	for name, rl := range s.RateLimits {
		limits[name] = analyzers.RateLimit{PerSecond: rl.PerSecond, Burst: rl.Burst}
	}
	return analyzers.Options{Enabled: append([]string(nil), s.Analyzers...), RateLimits: limits}
}

func (p ProbesConfig) TimeoutDuration() time.Duration {
	return parseDuration(p.Timeout, 5*time.Second)
}

func (p ProbesConfig) CacheTTLDuration() time.Duration {
	return parseDuration(p.CacheTTL, 24*time.Hour)
}

func (n NarratorConfig) NarratorTimeoutDuration() time.Duration {
	return parseDuration(n.Timeout, 6*time.Second)
}

// ResolveAPIKey prefers the inline key and falls back to the named variable.
func (n NarratorConfig) ResolveAPIKey() string {
	if n.APIKey != "" {
		return n.APIKey
	}
	if n.APIKeyEnv != "" {
		return os.Getenv(n.APIKeyEnv)
	}
	return ""
}

func (t ThreatIntelConfig) UpdaterConfig(userAgent string) threatintel.Config {
	return threatintel.Config{
		Enabled:           t.Enabled,
		Sources:           append([]threatintel.SourceConfig(nil), t.Sources...),
		CacheDir:          t.CacheDir,
		AirgapImportPath:  t.AirgapImportPath,
		KeyringPath:       t.KeyringPath,
		RequireSignatures: t.RequireSignatures,
		Concurrency:       t.Concurrency,
		Timeout:           parseDuration(t.Timeout, 2*time.Minute),
		UserAgent:         userAgent,
	}
}

func (a AlertingConfig) DedupWindowDuration() time.Duration {
	return parseDuration(a.DedupWindow, 5*time.Minute)
}

func (a AlertingConfig) RetryBackoffDuration() time.Duration {
	return parseDuration(a.RetryBackoff, 2*time.Second)
}

func (a AlertingConfig) MinLevel() scoring.RiskLevel {
	if lvl, err := scoring.ParseRiskLevel(a.MinRiskLevel); err == nil {
		return lvl
	}
	return scoring.LevelHigh
}

func (c Config) Redacted() Config {
	clone := c
	if clone.API.AuthToken != "" {
		clone.API.AuthToken = "REDACTED"
	}
	if clone.Narrator.APIKey != "" {
		clone.Narrator.APIKey = "REDACTED"
	}
	if clone.Storage.EncryptionKeyBase64 != "" {
		clone.Storage.EncryptionKeyBase64 = "REDACTED"
	}
	if len(clone.ThreatIntel.Sources) > 0 {
		sources := make([]threatintel.SourceConfig, len(clone.ThreatIntel.Sources))
		for i, src := range clone.ThreatIntel.Sources {
			src.URL = redactURL(src.URL)
			src.SignatureURL = redactURL(src.SignatureURL)
			sources[i] = src
		}
		clone.ThreatIntel.Sources = sources
	}
	channels := make([]AlertChannelConfig, len(clone.Alerting.Channels))
	for i, ch := range clone.Alerting.Channels {
		if ch.URL != "" {
			ch.URL = "REDACTED"
		}
		if len(ch.Headers) > 0 {
			headers := make(map[string]string, len(ch.Headers))
			for k := range ch.Headers {
				headers[k] = "REDACTED"
			}
			ch.Headers = headers
		}
		channels[i] = ch
	}
	clone.Alerting.Channels = channels
	return clone
}

// redactURL keeps the scheme and host; feed URLs often carry API keys in the
// path or query.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		rest := raw[i+3:]
		if j := strings.IndexAny(rest, "/?"); j >= 0 {
			return raw[:i+3] + rest[:j] + "/REDACTED"
		}
		return raw
	}
	return "REDACTED"
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("ELARA_LOG_LEVEL"); ok && v != "" {
		cfg.Daemon.LogLevel = v
	}
	if v, ok := os.LookupEnv("ELARA_DB_PATH"); ok && v != "" {
		cfg.Storage.DBPath = v
	}
	if v, ok := os.LookupEnv("ELARA_POLICY_PATH"); ok && v != "" {
		cfg.Policy.Path = v
	}
	if v, ok := os.LookupEnv("ELARA_THREAT_INTEL_ENABLED"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.ThreatIntel.Enabled = parsed
		}
	}
	if v, ok := os.LookupEnv("ELARA_NARRATOR_ENABLED"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Narrator.Enabled = parsed
		}
	}
	if v, ok := os.LookupEnv("ELARA_NARRATOR_API_KEY"); ok && v != "" {
		cfg.Narrator.APIKey = v
	}
	if v, ok := os.LookupEnv("ELARA_PROBES_OFFLINE"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Probes.Offline = parsed
		}
	}
	if v, ok := os.LookupEnv("ELARA_API_ENABLED"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.API.Enabled = parsed
		}
	}
	if v, ok := os.LookupEnv("ELARA_API_TOKEN"); ok && v != "" {
		cfg.API.AuthToken = v
	}
}
