package config

const EnvPrefix = "STOREFRONT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv                = "STOREFRONT_APP_ENV"
	EnvLogLevel              = "STOREFRONT_LOG_LEVEL"
	EnvBackendBaseURL        = "STOREFRONT_BACKEND_BASE_URL"
	EnvBackendAPIPrefix      = "STOREFRONT_BACKEND_API_PREFIX"
	EnvBackendTimeout        = "STOREFRONT_BACKEND_TIMEOUT"
	EnvStorageDriver         = "STOREFRONT_STORAGE_DRIVER"
	EnvStorageScope          = "STOREFRONT_STORAGE_SCOPE"
	EnvRedisURL              = "STOREFRONT_REDIS_URL"
	EnvRedisAddr             = "STOREFRONT_REDIS_ADDR"
	EnvCouponDebounce        = "STOREFRONT_COUPON_DEBOUNCE"
	EnvCouponTransientPolicy = "STOREFRONT_COUPON_TRANSIENT_POLICY"
	EnvCurrencySymbol        = "STOREFRONT_CURRENCY_SYMBOL"
	EnvMetricsEnabled        = "STOREFRONT_METRICS_ENABLED"
)
