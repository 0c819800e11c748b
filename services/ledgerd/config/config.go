package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"xficredit/crypto"
	telemetry "xficredit/observability/otel"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config captures the runtime settings for the ledger daemon.
type Config struct {
	ListenAddress   string          `yaml:"listen"`
	Environment     string          `yaml:"env"`
	ProtocolPath    string          `yaml:"protocol"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"`
	Storage         StorageConfig   `yaml:"storage"`
	Journal         JournalConfig   `yaml:"journal"`
	Redis           RedisConfig     `yaml:"redis"`
	Auth            AuthConfig      `yaml:"auth"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Bank            BankConfig      `yaml:"bank"`
	Logging         LoggingConfig   `yaml:"logging"`
	Telemetry       TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects the key-value backend holding ledger state.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// JournalConfig selects the SQL database receiving the event journal. An
// empty driver disables the journal.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables event fan-out over a Redis channel when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	Buffer   int    `yaml:"buffer"`
}

// AuthConfig describes the bearer tokens the API accepts.
type AuthConfig struct {
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
	// AnonymousReads lets GET routes through without a token.
	AnonymousReads bool `yaml:"anonymous_reads"`
}

// RateLimitConfig bounds requests per caller.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// BankConfig selects where user funds move. In memory mode Genesis balances
// are minted at startup.
type BankConfig struct {
	Mode           string        `yaml:"mode"`
	BaseURL        string        `yaml:"base_url"`
	APIToken       string        `yaml:"api_token"`
	Timeout        Duration      `yaml:"timeout"`
	YieldCustody   string        `yaml:"yield_custody"`
	LendingCustody string        `yaml:"lending_custody"`
	Genesis        []GenesisMint `yaml:"genesis"`
}

// GenesisMint credits Account with Amount of Token in memory mode.
type GenesisMint struct {
	Account string `yaml:"account"`
	Token   string `yaml:"token"`
	Amount  string `yaml:"amount"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig selects the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string            `yaml:"endpoint"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	Traces      bool              `yaml:"traces"`
	Metrics     bool              `yaml:"metrics"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

const (
	BankMemory = "memory"
	BankRemote = "remote"

	defaultListen  = ":8085"
	defaultChannel = "xfi.events"
)

// Load reads the YAML configuration from disk, overlays a .env file when
// present and XFI_* environment variables, and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	// A missing .env file is not an error.
	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.ListenAddress, "XFI_LISTEN")
	setStr(&cfg.Environment, "XFI_ENV")
	setStr(&cfg.ProtocolPath, "XFI_PROTOCOL_CONFIG")
	setStr(&cfg.Storage.Backend, "XFI_STORAGE_BACKEND")
	setStr(&cfg.Storage.Path, "XFI_STORAGE_PATH")
	setStr(&cfg.Journal.Driver, "XFI_JOURNAL_DRIVER")
	setStr(&cfg.Journal.DSN, "XFI_JOURNAL_DSN")
	setStr(&cfg.Redis.Addr, "XFI_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "XFI_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "XFI_REDIS_DB")
	setStr(&cfg.Auth.HMACSecret, "XFI_JWT_SECRET")
	setStr(&cfg.Bank.BaseURL, "XFI_BANK_URL")
	setStr(&cfg.Bank.APIToken, "XFI_BANK_TOKEN")
	setStr(&cfg.Logging.Level, "XFI_LOG_LEVEL")
	setStr(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	if raw, ok := os.LookupEnv("OTEL_EXPORTER_OTLP_HEADERS"); ok && strings.TrimSpace(raw) != "" {
		cfg.Telemetry.Headers = telemetry.ParseHeaders(raw)
	}
}

func setStr(dst *string, key string) {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		*dst = strings.TrimSpace(value)
	}
}

func setInt(dst *int, key string) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		*dst = parsed
	}
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.ProtocolPath = strings.TrimSpace(cfg.ProtocolPath)
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout.Duration = 10 * time.Second
	}

	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)

	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)

	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	if cfg.Redis.Channel = strings.TrimSpace(cfg.Redis.Channel); cfg.Redis.Channel == "" {
		cfg.Redis.Channel = defaultChannel
	}
	if cfg.Redis.Buffer <= 0 {
		cfg.Redis.Buffer = 1024
	}

	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	if cfg.Auth.ClockSkew.Duration <= 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}

	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 50
	}

	cfg.Bank.Mode = strings.ToLower(strings.TrimSpace(cfg.Bank.Mode))
	if cfg.Bank.Mode == "" {
		cfg.Bank.Mode = BankMemory
	}
	cfg.Bank.BaseURL = strings.TrimSpace(cfg.Bank.BaseURL)
	if cfg.Bank.Timeout.Duration <= 0 {
		cfg.Bank.Timeout.Duration = 10 * time.Second
	}
	for i := range cfg.Bank.Genesis {
		cfg.Bank.Genesis[i].Token = strings.ToUpper(strings.TrimSpace(cfg.Bank.Genesis[i].Token))
		cfg.Bank.Genesis[i].Amount = strings.TrimSpace(cfg.Bank.Genesis[i].Amount)
	}
}

func (cfg *Config) validate() error {
	if cfg.ProtocolPath == "" {
		return fmt.Errorf("protocol config path required")
	}
	switch cfg.Storage.Backend {
	case "memory":
	case "leveldb", "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage: path required for %s backend", cfg.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.Storage.Backend)
	}
	switch cfg.Journal.Driver {
	case "":
	case "sqlite", "postgres":
		if cfg.Journal.DSN == "" {
			return fmt.Errorf("journal: dsn required for %s driver", cfg.Journal.Driver)
		}
	default:
		return fmt.Errorf("journal: unknown driver %q", cfg.Journal.Driver)
	}
	if cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret required")
	}
	if len(cfg.Auth.HMACSecret) < 32 {
		return fmt.Errorf("auth: hmac_secret must be at least 32 bytes")
	}
	switch cfg.Bank.Mode {
	case BankMemory:
	case BankRemote:
		if cfg.Bank.BaseURL == "" {
			return fmt.Errorf("bank: base_url required in remote mode")
		}
		if len(cfg.Bank.Genesis) > 0 {
			return fmt.Errorf("bank: genesis balances are only supported in memory mode")
		}
	default:
		return fmt.Errorf("bank: unknown mode %q", cfg.Bank.Mode)
	}
	for _, raw := range []string{cfg.Bank.YieldCustody, cfg.Bank.LendingCustody} {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := crypto.ParseAddress(raw); err != nil {
			return fmt.Errorf("bank: custody %q: %w", raw, err)
		}
	}
	for i, mint := range cfg.Bank.Genesis {
		if _, err := crypto.ParseAddress(mint.Account); err != nil {
			return fmt.Errorf("bank: genesis[%d]: %w", i, err)
		}
		if mint.Token == "" {
			return fmt.Errorf("bank: genesis[%d]: token required", i)
		}
		if _, ok := ParseAmount(mint.Amount); !ok {
			return fmt.Errorf("bank: genesis[%d]: invalid amount %q", i, mint.Amount)
		}
	}
	return nil
}
