// Package config provides YAML-based configuration loading for the helpdesk,
// with environment overrides for secrets and deploy-time settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the top-level helpdesk configuration, loaded from helpdesk.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Primary    PrimaryConfig    `yaml:"primary"`
	Local      LocalConfig      `yaml:"local"`
	Mode       ModeConfig       `yaml:"mode"`
	Sessions   SessionsConfig   `yaml:"sessions"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	Slack      SlackConfig      `yaml:"slack"`
	Discord    DiscordConfig    `yaml:"discord"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Report     ReportConfig     `yaml:"report"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

// DatabaseConfig selects the exchange-log store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DB_DRIVER"` // "sqlite" or "mysql"
	Path     string `yaml:"path" env:"DB_PATH"`     // sqlite file
	Host     string `yaml:"host" env:"DB_HOST"`
	Port     int    `yaml:"port" env:"DB_PORT"`
	User     string `yaml:"user" env:"DB_USER"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	Database string `yaml:"database" env:"DB_NAME"`
}

// PrimaryConfig points at the hosted RAG/LLM query service.
type PrimaryConfig struct {
	URL             string `yaml:"url" env:"LLM_SERVICE_URL"`
	TimeoutSec      int    `yaml:"timeout_sec"`       // synchronous channels (web UI)
	AsyncTimeoutSec int    `yaml:"async_timeout_sec"` // push channels (WhatsApp, Slack)
}

// LocalConfig points at the self-hosted Ollama model.
type LocalConfig struct {
	Enabled         bool    `yaml:"enabled" env:"LOCAL_LLM_ENABLED"`
	BaseURL         string  `yaml:"base_url" env:"OLLAMA_BASE_URL"`
	Model           string  `yaml:"model" env:"OLLAMA_MODEL"`
	ProbeTimeoutSec int     `yaml:"probe_timeout_sec"`
	FreshnessSec    int     `yaml:"freshness_sec"`
	ChatTimeoutSec  int     `yaml:"chat_timeout_sec"`
	HistoryTurns    int     `yaml:"history_turns"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	MaxTokens       int     `yaml:"max_tokens"`
}

// ModeConfig seeds the enhanced/demo toggle.
type ModeConfig struct {
	Enhanced bool `yaml:"enhanced" env:"USE_ENHANCED_MODE"`
}

// SessionsConfig controls conversation state.
type SessionsConfig struct {
	MaxTurns int         `yaml:"max_turns"`
	Store    string      `yaml:"store" env:"SESSION_STORE"` // "memory" or "redis"
	Redis    RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection settings for the redis session store.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

// DeliveryConfig tunes the long-poll delivery used by push channels.
type DeliveryConfig struct {
	FirstNoticeSec    int `yaml:"first_notice_sec"`
	NoticeIntervalSec int `yaml:"notice_interval_sec"`
	MaxNotices        int `yaml:"max_notices"`
	MaxWaitSec        int `yaml:"max_wait_sec"`
}

// WhatsAppConfig holds Cloud API credentials.
type WhatsAppConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AccessToken   string `yaml:"access_token" env:"ACCESS_TOKEN"`
	AppSecret     string `yaml:"app_secret" env:"APP_SECRET"`
	VerifyToken   string `yaml:"verify_token" env:"VERIFY_TOKEN"`
	PhoneNumberID string `yaml:"phone_number_id" env:"PHONE_NUMBER_ID"`
	APIVersion    string `yaml:"api_version" env:"VERSION"`
	DisplayNumber string `yaml:"display_number" env:"DISPLAY_PHONE_NUMBER"` // only answer messages sent to this number
	GraphURL      string `yaml:"graph_url"`
}

// SlackConfig holds Socket Mode credentials. Every message in HelpChannel
// is treated as a question; elsewhere the bot answers DMs and mentions.
type SlackConfig struct {
	Enabled     bool   `yaml:"enabled"`
	AppToken    string `yaml:"app_token" env:"SLACK_APP_TOKEN"`
	BotToken    string `yaml:"bot_token" env:"SLACK_BOT_TOKEN"`
	HelpChannel string `yaml:"help_channel"`
}

// DiscordConfig holds Gateway credentials.
type DiscordConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BotToken    string `yaml:"bot_token" env:"DISCORD_BOT_TOKEN"`
	HelpChannel string `yaml:"help_channel"`
}

// ClassifierConfig enables the Anthropic message classifier.
type ClassifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
	Model   string `yaml:"model"`
}

// ReportConfig controls the scheduled usage report email.
type ReportConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Cron      string   `yaml:"cron"`
	OutputDir string   `yaml:"output_dir"`
	SMTPHost  string   `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort  int      `yaml:"smtp_port" env:"SMTP_PORT"`
	Username  string   `yaml:"username" env:"SMTP_USERNAME"`
	Password  string   `yaml:"password" env:"SMTP_PASSWORD"`
	From      string   `yaml:"from"`
	To        []string `yaml:"to"`
	Cc        []string `yaml:"cc"`
}

// LogConfig controls operational logging.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
	File  string `yaml:"file" env:"LOG_FILE"`
}

// Load reads a YAML config file from path, applies environment overrides
// (including a .env file in the working directory, if any) and returns a
// validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return parse(data, true)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// overrides are not applied.
func Parse(data []byte) (*Config, error) {
	return parse(data, false)
}

func parse(data []byte, withEnv bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if withEnv {
		if err := env.Parse(&cfg); err != nil {
			return nil, fmt.Errorf("config: environment: %w", err)
		}
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "rag_response_logging.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
	}

	if c.Primary.URL == "" {
		c.Primary.URL = "http://127.0.0.1:5000/query/"
	}
	if c.Primary.TimeoutSec == 0 {
		c.Primary.TimeoutSec = 30
	}
	if c.Primary.AsyncTimeoutSec == 0 {
		c.Primary.AsyncTimeoutSec = 600
	}

	if c.Local.BaseURL == "" {
		c.Local.BaseURL = "http://127.0.0.1:11434"
	}
	if c.Local.Model == "" {
		c.Local.Model = "llama3"
	}
	if c.Local.ProbeTimeoutSec == 0 {
		c.Local.ProbeTimeoutSec = 5
	}
	if c.Local.FreshnessSec == 0 {
		c.Local.FreshnessSec = 30
	}
	if c.Local.ChatTimeoutSec == 0 {
		c.Local.ChatTimeoutSec = 60
	}
	if c.Local.HistoryTurns == 0 {
		c.Local.HistoryTurns = 5
	}
	if c.Local.Temperature == 0 {
		c.Local.Temperature = 0.7
	}
	if c.Local.TopP == 0 {
		c.Local.TopP = 0.9
	}
	if c.Local.MaxTokens == 0 {
		c.Local.MaxTokens = 512
	}

	if c.Sessions.MaxTurns == 0 {
		c.Sessions.MaxTurns = 20
	}
	if c.Sessions.Store == "" {
		c.Sessions.Store = "memory"
	}
	if c.Sessions.Redis.Addr == "" {
		c.Sessions.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Sessions.Redis.TTLHours == 0 {
		c.Sessions.Redis.TTLHours = 24
	}

	if c.Delivery.FirstNoticeSec == 0 {
		c.Delivery.FirstNoticeSec = 3
	}
	if c.Delivery.NoticeIntervalSec == 0 {
		c.Delivery.NoticeIntervalSec = 60
	}
	if c.Delivery.MaxNotices == 0 {
		c.Delivery.MaxNotices = 3
	}
	if c.Delivery.MaxWaitSec == 0 {
		// Must outlast the slowest tier chain: primary, probe, local chat.
		c.Delivery.MaxWaitSec = c.Primary.AsyncTimeoutSec + c.Local.ProbeTimeoutSec + c.Local.ChatTimeoutSec + 15
	}

	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v18.0"
	}
	if c.WhatsApp.GraphURL == "" {
		c.WhatsApp.GraphURL = "https://graph.facebook.com"
	}

	if c.Classifier.Model == "" {
		c.Classifier.Model = "claude-3-haiku-20240307"
	}

	if c.Report.Cron == "" {
		c.Report.Cron = "0 0 * * *"
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "./RAG_logs"
	}
	if c.Report.SMTPPort == 0 {
		c.Report.SMTPPort = 465
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Database == "" {
			errs = append(errs, "database.database is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	switch c.Sessions.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("sessions.store %q is not supported (memory, redis)", c.Sessions.Store))
	}
	if c.Sessions.MaxTurns < 1 {
		errs = append(errs, "sessions.max_turns must be positive")
	}
	if c.Delivery.MaxNotices < 0 {
		errs = append(errs, "delivery.max_notices must not be negative")
	}
	if c.Delivery.MaxWaitSec <= c.Primary.AsyncTimeoutSec {
		errs = append(errs, "delivery.max_wait_sec must exceed primary.async_timeout_sec")
	}
	if c.WhatsApp.Enabled {
		if c.WhatsApp.AccessToken == "" {
			errs = append(errs, "whatsapp.access_token is required")
		}
		if c.WhatsApp.PhoneNumberID == "" {
			errs = append(errs, "whatsapp.phone_number_id is required")
		}
		if c.WhatsApp.AppSecret == "" {
			errs = append(errs, "whatsapp.app_secret is required")
		}
	}
	if c.Slack.Enabled && (c.Slack.AppToken == "" || c.Slack.BotToken == "") {
		errs = append(errs, "slack.app_token and slack.bot_token are required")
	}
	if c.Discord.Enabled && c.Discord.BotToken == "" {
		errs = append(errs, "discord.bot_token is required")
	}
	if c.Classifier.Enabled && c.Classifier.APIKey == "" {
		errs = append(errs, "classifier.api_key is required")
	}
	if c.Report.Enabled {
		if c.Report.SMTPHost == "" {
			errs = append(errs, "report.smtp_host is required")
		}
		if c.Report.From == "" {
			errs = append(errs, "report.from is required")
		}
		if len(c.Report.To) == 0 {
			errs = append(errs, "report.to needs at least one recipient")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Seconds converts a config value in seconds to a time.Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
