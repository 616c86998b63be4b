package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the lifecycle engine
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Automation AutomationConfig `yaml:"automation"`
	Sequences  SequencesConfig  `yaml:"sequences"`
	Nudges     NudgesConfig     `yaml:"nudges"`
	Sender     SenderConfig     `yaml:"sender"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	LogLevel   string           `yaml:"log_level"`
}

// Duration is a time.Duration that also accepts a day suffix in YAML,
// e.g. "3d", "36h" or "90s".
type Duration time.Duration

// ParseDuration extends time.ParseDuration with whole or fractional days.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(s)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	// CORSOrigins lists origins allowed to call the admin API.
	CORSOrigins []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the Postgres connection. An empty URL runs the engine
// on in-memory stores.
type DatabaseConfig struct {
	URL             string   `yaml:"url"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the optional Redis used for locks and send receipts.
type RedisConfig struct {
	URL     string   `yaml:"url"`
	LockTTL Duration `yaml:"lock_ttl"`
}

// AutomationConfig tunes the dispatch and behavioral ticks.
type AutomationConfig struct {
	Enabled          bool     `yaml:"enabled"`
	DispatchInterval Duration `yaml:"dispatch_interval"`
	NudgeInterval    Duration `yaml:"nudge_interval"`
	BatchSize        int      `yaml:"batch_size"`
	Workers          int      `yaml:"workers"`
	SendTimeout      Duration `yaml:"send_timeout"`
	SoftDeadline     Duration `yaml:"soft_deadline"`
	MinStepGap       Duration `yaml:"min_step_gap"`
}

// SequencesConfig selects where sequence definitions are loaded from.
type SequencesConfig struct {
	Source   string   `yaml:"source"` // "db", "file" or "s3"
	Path     string   `yaml:"path"`
	Bucket   string   `yaml:"bucket"`
	Key      string   `yaml:"key"`
	Region   string   `yaml:"region"`
	CacheTTL Duration `yaml:"cache_ttl"`
}

// NudgesConfig holds behavioral nudge settings. An empty Rules list keeps
// the built-in rule table.
type NudgesConfig struct {
	Enabled     bool         `yaml:"enabled"`
	Channel     string       `yaml:"channel"`
	QuietPeriod Duration     `yaml:"quiet_period"`
	BatchSize   int          `yaml:"batch_size"`
	Rules       []RuleConfig `yaml:"rules"`
}

// RuleConfig is one nudge rule override.
type RuleConfig struct {
	ID                string   `yaml:"id"`
	Condition         string   `yaml:"condition"`
	MinElapsed        Duration `yaml:"min_elapsed"`
	Within            Duration `yaml:"within"`
	ProgressThreshold *float64 `yaml:"progress_threshold"`
	Priority          int      `yaml:"priority"`
	Cooldown          Duration `yaml:"cooldown"`
	Subject           string   `yaml:"subject"`
	Template          string   `yaml:"template"`
}

// CleanupConfig controls the retention worker. It only runs against
// Postgres.
type CleanupConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Interval            Duration `yaml:"interval"`
	TickRuns            Duration `yaml:"tick_runs"`
	FinishedEnrollments Duration `yaml:"finished_enrollments"`
	OutreachMarkers     Duration `yaml:"outreach_markers"`
}

// SenderConfig holds the delivery channels.
type SenderConfig struct {
	SES        SESConfig     `yaml:"ses"`
	Webhook    WebhookConfig `yaml:"webhook"`
	ReceiptTTL Duration      `yaml:"receipt_ttl"`

	// DryRun logs messages instead of delivering them. Local runs only.
	DryRun bool `yaml:"dry_run"`
}

// SESConfig holds AWS SES configuration
type SESConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	FromEmail        string `yaml:"from_email"`
	FromName         string `yaml:"from_name"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// WebhookConfig holds the HTTP webhook channel.
type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	MaxRetries     int    `yaml:"max_retries"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	cfg := preset()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := preset()
	cfg.applyDefaults()
	return cfg
}

// preset holds defaults for fields where an explicit zero means "off".
func preset() *Config {
	return &Config{
		Nudges: NudgesConfig{QuietPeriod: Duration(24 * time.Hour)},
	}
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = Duration(30 * time.Minute)
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = Duration(30 * time.Second)
	}
	if cfg.Automation.DispatchInterval == 0 {
		cfg.Automation.DispatchInterval = Duration(5 * time.Minute)
	}
	if cfg.Automation.NudgeInterval == 0 {
		cfg.Automation.NudgeInterval = Duration(30 * time.Minute)
	}
	if cfg.Automation.BatchSize == 0 {
		cfg.Automation.BatchSize = 500
	}
	if cfg.Automation.Workers == 0 {
		cfg.Automation.Workers = 8
	}
	if cfg.Automation.SendTimeout == 0 {
		cfg.Automation.SendTimeout = Duration(15 * time.Second)
	}
	if cfg.Automation.SoftDeadline == 0 {
		cfg.Automation.SoftDeadline = Duration(2 * time.Minute)
	}
	if cfg.Automation.MinStepGap == 0 {
		cfg.Automation.MinStepGap = Duration(time.Minute)
	}
	if cfg.Sequences.Source == "" {
		cfg.Sequences.Source = "db"
	}
	if cfg.Sequences.Path == "" {
		cfg.Sequences.Path = "sequences.yaml"
	}
	if cfg.Sequences.CacheTTL == 0 {
		cfg.Sequences.CacheTTL = Duration(5 * time.Minute)
	}
	if cfg.Nudges.Channel == "" {
		cfg.Nudges.Channel = "email"
	}
	if cfg.Nudges.BatchSize == 0 {
		cfg.Nudges.BatchSize = 1000
	}
	if cfg.Sender.SES.Region == "" {
		cfg.Sender.SES.Region = "us-west-2"
	}
	if cfg.Sender.Webhook.MaxRetries == 0 {
		cfg.Sender.Webhook.MaxRetries = 3
	}
	if cfg.Sender.Webhook.TimeoutSeconds == 0 {
		cfg.Sender.Webhook.TimeoutSeconds = 30
	}
	if cfg.Sender.ReceiptTTL == 0 {
		cfg.Sender.ReceiptTTL = Duration(7 * 24 * time.Hour)
	}
	if cfg.Cleanup.Interval == 0 {
		cfg.Cleanup.Interval = Duration(time.Hour)
	}
	if cfg.Cleanup.TickRuns == 0 {
		cfg.Cleanup.TickRuns = Duration(30 * 24 * time.Hour)
	}
	if cfg.Cleanup.FinishedEnrollments == 0 {
		cfg.Cleanup.FinishedEnrollments = Duration(180 * 24 * time.Hour)
	}
	if cfg.Cleanup.OutreachMarkers == 0 {
		cfg.Cleanup.OutreachMarkers = Duration(90 * 24 * time.Hour)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in production. A missing config
// file falls back to defaults.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// SES overrides
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Sender.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Sender.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Sender.SES.Region = v
	}
	if v := os.Getenv("AWS_SES_FROM_EMAIL"); v != "" {
		cfg.Sender.SES.FromEmail = v
		cfg.Sender.SES.Enabled = true
	}

	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Sender.Webhook.URL = v
	}
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Sender.Webhook.Secret = v
	}

	// Sequence source overrides
	if v := os.Getenv("SEQUENCES_SOURCE"); v != "" {
		cfg.Sequences.Source = v
	}
	if v := os.Getenv("SEQUENCES_S3_BUCKET"); v != "" {
		cfg.Sequences.Bucket = v
	}
	return nil
}
