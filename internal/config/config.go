package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	_ "github.com/joho/godotenv/autoload"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

const (
	envPrefix     = "PAYMENTS_"
	configFileEnv = envPrefix + "CONFIG_FILE"
)

type Config struct {
	Primary  Primary        `koanf:"primary"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Mpesa    MpesaConfig    `koanf:"mpesa"`
	Redis    RedisConfig    `koanf:"redis"`
	NATS     NATSConfig     `koanf:"nats"`
	Retry    RetryConfig    `koanf:"retry"`
	Logger   LoggerConfig   `koanf:"logger"`
	Worker   WorkerConfig   `koanf:"worker"`
	Payments PaymentsConfig `koanf:"payments"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required,oneof=development staging production test"`
}

type ServerConfig struct {
	Port           string        `koanf:"port" validate:"required"`
	ReadTimeout    time.Duration `koanf:"read_timeout" validate:"required"`
	WriteTimeout   time.Duration `koanf:"write_timeout" validate:"required"`
	IdleTimeout    time.Duration `koanf:"idle_timeout" validate:"required"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"required"`
	CORSOrigins    string        `koanf:"cors_origins"`
}

// AllowedOrigins splits the comma separated CORS origin list.
func (c ServerConfig) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

type DatabaseConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"required"`
	User            string        `koanf:"user" validate:"required"`
	Password        string        `koanf:"password" validate:"required"`
	Name            string        `koanf:"name" validate:"required"`
	SSLMode         string        `koanf:"ssl_mode" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"required"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"required"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"required"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time" validate:"required"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

type MpesaConfig struct {
	Environment     string        `koanf:"environment" validate:"required,oneof=sandbox production"`
	BaseURL         string        `koanf:"base_url"`
	ConsumerKey     string        `koanf:"consumer_key" validate:"required"`
	ConsumerSecret  string        `koanf:"consumer_secret" validate:"required"`
	ShortCode       string        `koanf:"short_code" validate:"required,numeric"`
	PartyB          string        `koanf:"party_b"`
	PassKey         string        `koanf:"pass_key" validate:"required"`
	TransactionType string        `koanf:"transaction_type" validate:"required,oneof=CustomerPayBillOnline CustomerBuyGoodsOnline"`
	CallbackBaseURL string        `koanf:"callback_base_url" validate:"required,url"`
	Timeout         time.Duration `koanf:"timeout" validate:"required"`
}

// APIBaseURL returns the explicit base URL or the one for the environment.
func (c MpesaConfig) APIBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Environment == "production" {
		return "https://api.safaricom.co.ke"
	}
	return "https://sandbox.safaricom.co.ke"
}

type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr" validate:"required_with=Enabled"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	Name          string        `koanf:"name"`
	Stream        string        `koanf:"stream"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

type WorkerConfig struct {
	Interval   time.Duration `koanf:"interval" validate:"required"`
	BatchSize  int           `koanf:"batch_size" validate:"required"`
	StaleAfter time.Duration `koanf:"stale_after" validate:"required"`
}

type RetryConfig struct {
	BaseDelay  int32 `koanf:"base_delay"`
	MaxRetries int32 `koanf:"max_retries"`
}

type LoggerConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type PaymentsConfig struct {
	STKTimeout     time.Duration  `koanf:"stk_timeout" validate:"required"`
	IdempotencyTTL time.Duration  `koanf:"idempotency_ttl" validate:"required"`
	ExpiryGrace    time.Duration  `koanf:"expiry_grace" validate:"required"`
	Methods        []MethodConfig `koanf:"methods" validate:"dive"`
}

var defaults = map[string]interface{}{
	"primary.env":                 "development",
	"server.port":                 "8080",
	"server.read_timeout":         "15s",
	"server.write_timeout":        "45s",
	"server.idle_timeout":         "60s",
	"server.request_timeout":      "40s",
	"database.ssl_mode":           "disable",
	"database.max_open_conns":     10,
	"database.max_idle_conns":     2,
	"database.conn_max_lifetime":  "1h",
	"database.conn_max_idle_time": "30m",
	"mpesa.environment":           "sandbox",
	"mpesa.transaction_type":      "CustomerPayBillOnline",
	"mpesa.timeout":               "30s",
	"nats.name":                   "mpesa-payment-engine",
	"nats.stream":                 "PAYMENTS",
	"nats.max_reconnects":         10,
	"nats.reconnect_wait":         "2s",
	"retry.base_delay":            1,
	"retry.max_retries":           3,
	"logger.level":                "info",
	"logger.format":               "json",
	"worker.interval":             "30s",
	"worker.batch_size":           50,
	"worker.stale_after":          "2m",
	"payments.stk_timeout":        "2m",
	"payments.idempotency_ttl":    "24h",
	"payments.expiry_grace":       "10m",
}

// LoadConfig layers defaults, an optional YAML file named by
// PAYMENTS_CONFIG_FILE and PAYMENTS_* environment variables, in that order.
// Nested keys use a double underscore: PAYMENTS_MPESA__SHORT_CODE.
func LoadConfig() (*Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		logger.Error("failed to load defaults", "error", err)
		return nil, err
	}

	if path := os.Getenv(configFileEnv); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			logger.Error("failed to load config file", "path", path, "error", err)
			return nil, err
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"__",
			".",
		)
	}), nil)
	if err != nil {
		logger.Error("failed to load environment variables", "error", err)
		return nil, err
	}

	mainConfig := &Config{}

	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Error("could not unmarshal main config", "error", err)
		return nil, err
	}

	validate := validator.New()

	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Error("config validation failed", "error", err)
		return nil, err
	}

	return mainConfig, nil
}

// NewLogger builds the process logger from the configured level and format.
func (c LoggerConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
