package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-cart/pkg/enums"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Backend  BackendConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Coupon   CouponConfig
	Currency CurrencyConfig
	Metrics  MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if err := c.Backend.validate(); err != nil {
		return err
	}
	if !c.Storage.Driver.IsValid() {
		return fmt.Errorf("%s must be one of memory, redis; got %q", EnvStorageDriver, c.Storage.Driver)
	}
	if c.Storage.Driver == StorageDriverRedis && c.Redis.URL == "" && c.Redis.Address == "" {
		return fmt.Errorf("either %s or %s is required for the redis storage driver", EnvRedisURL, EnvRedisAddr)
	}
	if !c.Coupon.TransientPolicy.IsValid() {
		return fmt.Errorf("invalid %s %q", EnvCouponTransientPolicy, c.Coupon.TransientPolicy)
	}
	if c.Coupon.Debounce < 0 {
		return fmt.Errorf("%s must not be negative", EnvCouponDebounce)
	}
	return nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type BackendConfig struct {
	BaseURL   string        `envconfig:"STOREFRONT_BACKEND_BASE_URL" required:"true"`
	APIPrefix string        `envconfig:"STOREFRONT_BACKEND_API_PREFIX" default:"/api"`
	Timeout   time.Duration `envconfig:"STOREFRONT_BACKEND_TIMEOUT" default:"10s"`
}

// Endpoint returns the base URL joined with the API prefix.
func (b BackendConfig) Endpoint() string {
	base := strings.TrimRight(b.BaseURL, "/")
	prefix := strings.Trim(b.APIPrefix, "/")
	if prefix == "" {
		return base
	}
	return base + "/" + prefix
}

func (b BackendConfig) validate() error {
	parsed, err := url.Parse(b.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", EnvBackendBaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) url", EnvBackendBaseURL)
	}
	if b.Timeout <= 0 {
		return fmt.Errorf("%s must be positive", EnvBackendTimeout)
	}
	return nil
}

type StorageDriver string

const (
	StorageDriverMemory StorageDriver = "memory"
	StorageDriverRedis  StorageDriver = "redis"
)

func (d StorageDriver) IsValid() bool {
	return d == StorageDriverMemory || d == StorageDriverRedis
}

type StorageConfig struct {
	Driver StorageDriver `envconfig:"STOREFRONT_STORAGE_DRIVER" default:"redis"`
	// Scope partitions persisted records, one per browser profile or terminal.
	Scope string `envconfig:"STOREFRONT_STORAGE_SCOPE" default:"default"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"4"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"3s"`
}

type CouponConfig struct {
	Debounce        time.Duration         `envconfig:"STOREFRONT_COUPON_DEBOUNCE" default:"700ms"`
	TransientPolicy enums.TransientPolicy `envconfig:"STOREFRONT_COUPON_TRANSIENT_POLICY" default:"keep_marker"`
}

type CurrencyConfig struct {
	Symbol    string `envconfig:"STOREFRONT_CURRENCY_SYMBOL" default:"$"`
	Precision int    `envconfig:"STOREFRONT_CURRENCY_PRECISION" default:"2"`
}

type MetricsConfig struct {
	Enabled bool `envconfig:"STOREFRONT_METRICS_ENABLED" default:"false"`
}
