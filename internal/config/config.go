// Package config loads the configurator settings from defaults, an optional
// JSON file, the environment and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/spapperi/configurator/internal/flow"
	"github.com/spapperi/configurator/internal/oracle"
	"github.com/spapperi/configurator/internal/store"
)

const (
	// DefaultStateDir is the default directory for configurator state data.
	DefaultStateDir = "/var/lib/configurator"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "configurator.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow session database filename.
	DefaultWhatsAppDBFileName = "whatsapp.db"
	// DefaultAPIAddr is the default HTTP listen address.
	DefaultAPIAddr = ":8080"

	envPrefix = "CONFIGURATOR_"
)

// Messaging channels.
const (
	ChannelNone     = "none"
	ChannelTwilio   = "twilio"
	ChannelWhatsApp = "whatsapp"
)

// ErrMissingAPIKey is returned when the selected oracle provider has no key.
var ErrMissingAPIKey = errors.New("missing API key for oracle provider")

// Config is the full configurator configuration.
type Config struct {
	StateDir    string `koanf:"state_dir" validate:"required"`
	DatabaseDSN string `koanf:"database_dsn"`
	APIAddr     string `koanf:"api_addr" validate:"required"`
	ExportDir   string `koanf:"export_dir"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Oracle    OracleConfig    `koanf:"oracle"`
	Flow      FlowConfig      `koanf:"flow"`
	Messaging MessagingConfig `koanf:"messaging"`
}

// OracleConfig selects and tunes the answer validator.
type OracleConfig struct {
	Provider        string        `koanf:"provider" validate:"oneof=openai anthropic"`
	Model           string        `koanf:"model"`
	OpenAIAPIKey    string        `koanf:"openai_api_key"`
	AnthropicAPIKey string        `koanf:"anthropic_api_key"`
	Timeout         time.Duration `koanf:"timeout" validate:"min=1s,max=2m"`
	Temperature     float64       `koanf:"temperature" validate:"gte=0,lte=2"`
	MaxTokens       int           `koanf:"max_tokens" validate:"gt=0"`
}

// FlowConfig tunes the conversation state machine.
type FlowConfig struct {
	HistoryWindow int `koanf:"history_window" validate:"gt=0,lte=100"`
}

// MessagingConfig selects the optional chat channel.
type MessagingConfig struct {
	Channel          string `koanf:"channel" validate:"oneof=none twilio whatsapp"`
	TwilioAccountSID string `koanf:"twilio_account_sid" validate:"required_if=Channel twilio"`
	TwilioAuthToken  string `koanf:"twilio_auth_token" validate:"required_if=Channel twilio"`
	TwilioFromNumber string `koanf:"twilio_from_number" validate:"required_if=Channel twilio"`
	WhatsAppDBDSN    string `koanf:"whatsapp_db_dsn"`
	QROutput         string `koanf:"qr_output"`
	NumericCode      bool   `koanf:"numeric_code"`
	// PublicURL is the externally reachable base URL. It prefixes image
	// links and is the URL Twilio signatures are computed over.
	PublicURL string `koanf:"public_url" validate:"omitempty,url"`
}

// TwilioWebhookURL is the URL Twilio is configured to call, or "" when no
// public URL is set.
func (m MessagingConfig) TwilioWebhookURL() string {
	if m.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(m.PublicURL, "/") + "/webhooks/twilio"
}

// Options control a Load call.
type Options struct {
	// ConfigPath is an optional JSON config file. A missing file is an error
	// only when the path was given explicitly.
	ConfigPath string
	// Overrides are applied last, keyed by koanf path (e.g. "oracle.model").
	Overrides map[string]interface{}
	// SkipDotEnv disables loading .env from the working directory.
	SkipDotEnv bool
}

// wellKnownEnv maps unprefixed environment variables to config keys.
var wellKnownEnv = map[string]string{
	"OPENAI_API_KEY":     "oracle.openai_api_key",
	"ANTHROPIC_API_KEY":  "oracle.anthropic_api_key",
	"DATABASE_URL":       "database_dsn",
	"API_ADDR":           "api_addr",
	"TWILIO_ACCOUNT_SID": "messaging.twilio_account_sid",
	"TWILIO_AUTH_TOKEN":  "messaging.twilio_auth_token",
	"TWILIO_FROM_NUMBER": "messaging.twilio_from_number",
	"PUBLIC_URL":         "messaging.public_url",
}

// Defaults returns the compiled-in defaults keyed by koanf path.
func Defaults() map[string]interface{} {
	return map[string]interface{}{
		"state_dir":              DefaultStateDir,
		"database_dsn":           "",
		"api_addr":               DefaultAPIAddr,
		"export_dir":             "",
		"log_level":              "info",
		"oracle.provider":        oracle.ProviderOpenAI,
		"oracle.model":           "",
		"oracle.timeout":         flow.DefaultOracleTimeout,
		"oracle.temperature":     oracle.DefaultTemperature,
		"oracle.max_tokens":      oracle.DefaultMaxTokens,
		"flow.history_window":    flow.DefaultHistoryWindow,
		"messaging.channel":      ChannelNone,
		"messaging.numeric_code": false,
	}
}

// Load builds the configuration. Priority, highest last: defaults, JSON
// file, CONFIGURATOR_* variables, well-known variables, overrides.
func Load(opts Options) (*Config, error) {
	if !opts.SkipDotEnv {
		if err := godotenv.Load(); err != nil {
			slog.Debug("failed to load .env file", "error", err)
		} else {
			slog.Debug("successfully loaded .env file")
		}
	}

	k := koanf.New(".")
	for key, value := range Defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := k.Load(file.Provider(opts.ConfigPath), json.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		slog.Debug("config file loaded", "path", opts.ConfigPath)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	for name, key := range wellKnownEnv {
		if v := os.Getenv(name); v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("failed to apply %s: %w", name, err)
			}
		}
	}

	for key, value := range opts.Overrides {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to apply override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Oracle.Provider = strings.ToLower(cfg.Oracle.Provider)
	cfg.Messaging.Channel = strings.ToLower(cfg.Messaging.Channel)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("configuration loaded",
		"state_dir", cfg.StateDir,
		"dsn_set", cfg.DatabaseDSN != "",
		"api_addr", cfg.APIAddr,
		"oracle_provider", cfg.Oracle.Provider,
		"openai_key_set", cfg.Oracle.OpenAIAPIKey != "",
		"anthropic_key_set", cfg.Oracle.AnthropicAPIKey != "",
		"channel", cfg.Messaging.Channel)
	return &cfg, nil
}

// envTransform converts CONFIGURATOR_ORACLE__MODEL to oracle.model.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// RequireOracleKey checks that the selected provider has an API key.
func (c *Config) RequireOracleKey() error {
	switch c.Oracle.Provider {
	case oracle.ProviderOpenAI:
		if c.Oracle.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: set OPENAI_API_KEY", ErrMissingAPIKey)
		}
	case oracle.ProviderAnthropic:
		if c.Oracle.AnthropicAPIKey == "" {
			return fmt.Errorf("%w: set ANTHROPIC_API_KEY", ErrMissingAPIKey)
		}
	}
	return nil
}

// StoreDSN resolves the application store DSN. An empty DSN defaults to a
// SQLite file in the state directory.
func (c *Config) StoreDSN() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// WhatsAppDSN resolves the whatsmeow session database DSN.
func (c *Config) WhatsAppDSN() string {
	if c.Messaging.WhatsAppDBDSN != "" {
		return c.Messaging.WhatsAppDBDSN
	}
	return "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// ReportDir resolves the directory completed reports are written to.
func (c *Config) ReportDir() string {
	if c.ExportDir != "" {
		return c.ExportDir
	}
	return filepath.Join(c.StateDir, "exports")
}

// UsesFileStore reports whether the store lives in the state directory.
func (c *Config) UsesFileStore() bool {
	return store.DetectDSNType(c.StoreDSN()) == store.DSNTypeSQLite
}

// OracleSettings maps the oracle section onto oracle.Config.
func (c *Config) OracleSettings() oracle.Config {
	return oracle.Config{
		Provider:        c.Oracle.Provider,
		Model:           c.Oracle.Model,
		OpenAIAPIKey:    c.Oracle.OpenAIAPIKey,
		AnthropicAPIKey: c.Oracle.AnthropicAPIKey,
		Temperature:     c.Oracle.Temperature,
		MaxTokens:       c.Oracle.MaxTokens,
	}
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
