package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"subscription-payments/internal/domain/model"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format   string `yaml:"format" validate:"omitempty,oneof=json console"`
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	WebhookRPS     float64       `yaml:"webhook_rps"`
	WebhookBurst   int           `yaml:"webhook_burst"`
	// TrustProxyHeaders keys webhook rate limits on X-Forwarded-For / X-Real-IP.
	// Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" validate:"oneof=postgres memory"`
	URL      string `yaml:"url" validate:"required_if=Driver postgres"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"` // empty disables the distributed lock
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"` // empty disables event publishing
	Name          string        `yaml:"name"`
	Stream        string        `yaml:"stream"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type TelegramConfig struct {
	Token    string  `yaml:"token"` // empty disables alerts
	AdminIDs []int64 `yaml:"admin_ids" validate:"required_with=Token"`
}

type CardPayConfig struct {
	Enabled            bool          `yaml:"enabled"`
	BaseURL            string        `yaml:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	APIKey             string        `yaml:"api_key" validate:"required_if=Enabled true"`
	WebhookSecret      string        `yaml:"webhook_secret" validate:"required_if=Enabled true"`
	SignatureTolerance time.Duration `yaml:"signature_tolerance"`
}

type ZarinPalConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MerchantID      string `yaml:"merchant_id" validate:"required_if=Enabled true"`
	CallbackURL     string `yaml:"callback_url" validate:"omitempty,url"`
	Sandbox         bool   `yaml:"sandbox"`
	AccessToken     string `yaml:"access_token"`
	GraphQLEndpoint string `yaml:"graphql_endpoint"`
	WebhookSecret   string `yaml:"webhook_secret" validate:"required_if=Enabled true"`
}

type WalletConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url" validate:"required_if=Enabled true,omitempty,url"`
	APIKey        string `yaml:"api_key" validate:"required_if=Enabled true"`
	WebhookSecret string `yaml:"webhook_secret" validate:"required_if=Enabled true"`
}

type PaymentConfig struct {
	SuccessURL string         `yaml:"success_url" validate:"required,url"`
	CancelURL  string         `yaml:"cancel_url" validate:"required,url"`
	SessionTTL time.Duration  `yaml:"session_ttl"`
	CardPay    CardPayConfig  `yaml:"cardpay"`
	ZarinPal   ZarinPalConfig `yaml:"zarinpal"`
	Wallet     WalletConfig   `yaml:"wallet"`
}

// WebhookSecret returns the webhook signing secret configured for p.
func (c PaymentConfig) WebhookSecret(p model.Provider) string {
	switch p {
	case model.ProviderCardPay:
		return c.CardPay.WebhookSecret
	case model.ProviderZarinPal:
		return c.ZarinPal.WebhookSecret
	case model.ProviderWallet:
		return c.Wallet.WebhookSecret
	}
	return ""
}

type ReconcilerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
	Workers    int           `yaml:"workers"`
	LockTTL    time.Duration `yaml:"lock_ttl"`
}

type PlanConfig struct {
	ID           string            `yaml:"id" validate:"required"`
	Name         string            `yaml:"name" validate:"required"`
	Product      string            `yaml:"product" validate:"required,oneof=premium business"`
	Cycle        string            `yaml:"cycle" validate:"required,oneof=monthly yearly"`
	DurationDays int               `yaml:"duration_days" validate:"gt=0"`
	Prices       map[string]string `yaml:"prices" validate:"required,min=1"` // currency -> decimal string
	Default      bool              `yaml:"default"`                          // used when a request omits the billing cycle
}

type CatalogConfig struct {
	Plans []PlanConfig `yaml:"plans" validate:"required,min=1,dive"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	HTTP       HTTPConfig       `yaml:"http"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Payment    PaymentConfig    `yaml:"payment"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Catalog    CatalogConfig    `yaml:"catalog"`

	Runtime RuntimeConfig `yaml:"-"`
}

// secretEnv overlays secrets from PAYMENTS_* environment variables so they need
// not live in the YAML file.
type secretEnv struct {
	DatabaseURL           string `envconfig:"DATABASE_URL"`
	RedisPassword         string `envconfig:"REDIS_PASSWORD"`
	TelegramToken         string `envconfig:"TELEGRAM_TOKEN"`
	CardPayAPIKey         string `envconfig:"CARDPAY_API_KEY"`
	CardPayWebhookSecret  string `envconfig:"CARDPAY_WEBHOOK_SECRET"`
	ZarinPalMerchantID    string `envconfig:"ZARINPAL_MERCHANT_ID"`
	ZarinPalAccessToken   string `envconfig:"ZARINPAL_ACCESS_TOKEN"`
	ZarinPalWebhookSecret string `envconfig:"ZARINPAL_WEBHOOK_SECRET"`
	WalletAPIKey          string `envconfig:"WALLET_API_KEY"`
	WalletWebhookSecret   string `envconfig:"WALLET_WEBHOOK_SECRET"`
}

const envPrefix = "PAYMENTS"

var validate = validator.New()

// LoadConfig reads -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(b)
	if err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return cfg, nil
}

// Parse decodes YAML, overlays environment secrets, applies defaults and validates.
func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var env secretEnv
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	env.apply(&cfg)
	applyDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (e secretEnv) apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.URL, e.DatabaseURL)
	set(&cfg.Redis.Password, e.RedisPassword)
	set(&cfg.Telegram.Token, e.TelegramToken)
	set(&cfg.Payment.CardPay.APIKey, e.CardPayAPIKey)
	set(&cfg.Payment.CardPay.WebhookSecret, e.CardPayWebhookSecret)
	set(&cfg.Payment.ZarinPal.MerchantID, e.ZarinPalMerchantID)
	set(&cfg.Payment.ZarinPal.AccessToken, e.ZarinPalAccessToken)
	set(&cfg.Payment.ZarinPal.WebhookSecret, e.ZarinPalWebhookSecret)
	set(&cfg.Payment.Wallet.APIKey, e.WalletAPIKey)
	set(&cfg.Payment.Wallet.WebhookSecret, e.WalletWebhookSecret)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		cfg.HTTP.RequestTimeout = 15 * time.Second
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		cfg.HTTP.MaxBodyBytes = 1 << 20
	}
	if cfg.HTTP.WebhookRPS <= 0 {
		cfg.HTTP.WebhookRPS = 50
	}
	if cfg.HTTP.WebhookBurst <= 0 {
		cfg.HTTP.WebhookBurst = 100
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.NATS.Name == "" {
		cfg.NATS.Name = "subscription-payments"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "PAYMENTS"
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = 10
	}
	if cfg.NATS.ReconnectWait <= 0 {
		cfg.NATS.ReconnectWait = 2 * time.Second
	}
	if cfg.Payment.SessionTTL <= 0 {
		cfg.Payment.SessionTTL = 30 * time.Minute
	}
	if cfg.Payment.CardPay.SignatureTolerance <= 0 {
		cfg.Payment.CardPay.SignatureTolerance = 5 * time.Minute
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}
	if cfg.Reconciler.BatchSize <= 0 {
		cfg.Reconciler.BatchSize = 200
	}
	if cfg.Reconciler.Workers <= 0 {
		cfg.Reconciler.Workers = 4
	}
	if cfg.Reconciler.LockTTL <= 0 {
		cfg.Reconciler.LockTTL = 2 * cfg.Reconciler.Interval
	}
}
