package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/praktijkzorg/medguard/internal/guardrails"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Guardrails    GuardrailsConfig    `yaml:"guardrails"`
	Memory        MemoryConfig        `yaml:"memory"`
	Audit         AuditConfig         `yaml:"audit"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
}

// GuardrailsConfig wraps the guardrails toggles and remembers whether the
// enabled key was present, so an explicit enabled=false is not mistaken
// for an absent section and overwritten with defaults.
type GuardrailsConfig struct {
	guardrails.Config `yaml:",inline"`

	enabledSet bool
}

func (g *GuardrailsConfig) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode(&g.Config); err != nil {
		return err
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if value.Content[i].Value == "enabled" {
			g.enabledSet = true
		}
	}
	return nil
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
}

type DatabaseConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	// Enabled=false keeps the audit trail on the JSONL sink only.
	Enabled bool `yaml:"enabled"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	AccessTokenExpiry  time.Duration `yaml:"access_token_expiry"`
	RefreshTokenExpiry time.Duration `yaml:"refresh_token_expiry"`
}

// MemoryConfig defaults both flags to true; the set markers keep an
// explicit false from being flipped back on by applyDefaults.
type MemoryConfig struct {
	EnforcePatientIsolation bool
	SharedReadForAll        bool

	enforceSet bool
	sharedSet  bool
}

func (m *MemoryConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		EnforcePatientIsolation *bool `yaml:"enforce_patient_isolation"`
		SharedReadForAll        *bool `yaml:"shared_read_for_all"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.EnforcePatientIsolation != nil {
		m.EnforcePatientIsolation = *raw.EnforcePatientIsolation
		m.enforceSet = true
	}
	if raw.SharedReadForAll != nil {
		m.SharedReadForAll = *raw.SharedReadForAll
		m.sharedSet = true
	}
	return nil
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Region  string `yaml:"region"`
}

type NotificationsConfig struct {
	Slack SlackNotifyConfig `yaml:"slack"`
	Email EmailNotifyConfig `yaml:"email"`
}

type SlackNotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type EmailNotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ReportSchedule  string `yaml:"report_schedule"`
	ArchiveSchedule string `yaml:"archive_schedule"`
	RetentionDays   int    `yaml:"retention_days"`
	ReportOutputDir string `yaml:"report_output_dir"`
}

// Load reads the YAML config at path, expanding ${ENV} references. A
// missing file yields the defaults; a malformed file is a startup
// failure, not something to limp past.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = "change-me-in-production"
		fmt.Println("WARNING: Using default JWT secret. Set auth.jwt_secret in production!")
	}
	if c.Auth.AccessTokenExpiry == 0 {
		c.Auth.AccessTokenExpiry = 15 * time.Minute
	}
	if c.Auth.RefreshTokenExpiry == 0 {
		c.Auth.RefreshTokenExpiry = 7 * 24 * time.Hour
	}

	if !c.Guardrails.Enabled && !c.Guardrails.enabledSet && !c.guardrailsConfigured() {
		c.Guardrails.Config = guardrails.DefaultConfig()
	}

	// Isolation defaults on; only an explicit config key turns it off.
	if !c.Memory.enforceSet {
		c.Memory.EnforcePatientIsolation = true
	}
	if !c.Memory.sharedSet {
		c.Memory.SharedReadForAll = true
	}

	if c.Audit.Dir == "" {
		c.Audit.Dir = "audit-logs"
	}
	c.Audit.Enabled = true // the trail is not optional

	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "medguard/audit"
	}
	if c.Archive.Region == "" {
		c.Archive.Region = "eu-west-1"
	}

	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}

	if c.Scheduler.ReportSchedule == "" {
		c.Scheduler.ReportSchedule = "0 6 * * *"
	}
	if c.Scheduler.ArchiveSchedule == "" {
		c.Scheduler.ArchiveSchedule = "30 2 * * *"
	}
	if c.Scheduler.RetentionDays == 0 {
		c.Scheduler.RetentionDays = 90
	}
	if c.Scheduler.ReportOutputDir == "" {
		c.Scheduler.ReportOutputDir = "reports"
	}
}

// guardrailsConfigured detects a guardrails section that sets checks or
// term lists without an explicit enabled key; such a section is also left
// alone by defaulting.
func (c *Config) guardrailsConfigured() bool {
	g := c.Guardrails
	return g.CheckJailbreak || g.CheckTopic || g.CheckInputPII ||
		g.CheckBlockedTerms || g.CheckPromptLeak || g.CheckMedicalAdvice ||
		g.CheckOutputPII || len(g.BlockedTerms) > 0 || len(g.TrustedSources) > 0
}

func (c *Config) validate() error {
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}
	if c.Database.Enabled && c.Database.User == "" {
		return fmt.Errorf("database.user is required when database is enabled")
	}
	return nil
}
