package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/angelmondragon/storefront-cart/internal/coupon"
	"github.com/angelmondragon/storefront-cart/internal/gateway"
	"github.com/angelmondragon/storefront-cart/internal/storefront"
	"github.com/angelmondragon/storefront-cart/pkg/auth/session"
	"github.com/angelmondragon/storefront-cart/pkg/config"
	"github.com/angelmondragon/storefront-cart/pkg/kv"
	"github.com/angelmondragon/storefront-cart/pkg/logger"
	"github.com/angelmondragon/storefront-cart/pkg/metrics"
	"github.com/angelmondragon/storefront-cart/pkg/money"
	"github.com/angelmondragon/storefront-cart/pkg/redis"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v3"
	"go.uber.org/multierr"
)

// runtime holds the dependencies built once per invocation.
type runtime struct {
	logg     *logger.Logger
	front    *storefront.Storefront
	redis    *redis.Client
	registry *prometheus.Registry
}

func (rt *runtime) bootstrap(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	rt.logg = logger.New(logger.Options{ServiceName: "storefront", Output: os.Stderr})

	if err := godotenv.Load(cmd.String("env-file")); err != nil {
		rt.logg.Debug(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return ctx, fmt.Errorf("load config: %w", err)
	}

	rt.logg = logger.New(logger.Options{
		ServiceName: "storefront",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Output:      os.Stderr,
	})

	var store kv.Store
	switch cfg.Storage.Driver {
	case config.StorageDriverRedis:
		client, err := redis.New(ctx, cfg.Redis, rt.logg)
		if err != nil {
			return ctx, fmt.Errorf("bootstrap redis: %w", err)
		}
		rt.redis = client
		store = client
	default:
		rt.logg.Warn(ctx, "memory storage selected, cart state will not outlive this process")
		store = kv.NewMemory()
	}

	var cartMetrics *metrics.CartMetrics
	if cfg.Metrics.Enabled {
		rt.registry = prometheus.NewRegistry()
		cartMetrics = metrics.NewCartMetrics(rt.registry)
	}

	sessions, err := session.NewManager(store, redis.SessionKey(cfg.Storage.Scope))
	if err != nil {
		return ctx, fmt.Errorf("create session manager: %w", err)
	}

	client, err := gateway.NewClient(cfg.Backend.Endpoint(),
		gateway.WithTimeout(cfg.Backend.Timeout),
		gateway.WithCredentials(sessions),
		gateway.WithMetrics(cartMetrics),
	)
	if err != nil {
		return ctx, fmt.Errorf("create backend client: %w", err)
	}

	front, err := storefront.New(storefront.Params{
		Logger:          rt.logg,
		Backend:         client,
		Store:           store,
		Session:         sessions,
		Scope:           cfg.Storage.Scope,
		Clock:           coupon.SystemClock(),
		CouponDebounce:  cfg.Coupon.Debounce,
		TransientPolicy: cfg.Coupon.TransientPolicy,
		CallTimeout:     cfg.Backend.Timeout,
		Metrics:         cartMetrics,
		Formatter:       money.NewFormatter(cfg.Currency.Symbol, cfg.Currency.Precision),
	})
	if err != nil {
		return ctx, fmt.Errorf("create storefront: %w", err)
	}
	rt.front = front

	rt.logg.Debug(rt.logg.WithFields(ctx, map[string]any{
		"env":     cfg.App.Env,
		"backend": cfg.Backend.Endpoint(),
		"storage": string(cfg.Storage.Driver),
		"scope":   cfg.Storage.Scope,
	}), "storefront ready")
	return ctx, nil
}

func (rt *runtime) shutdown(ctx context.Context, cmd *cli.Command) error {
	if rt.front != nil {
		rt.front.Close()
	}

	var errs error
	if rt.registry != nil && cmd.Bool("print-metrics") {
		errs = multierr.Append(errs, writeMetrics(os.Stderr, rt.registry))
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errs
}

func writeMetrics(w io.Writer, registry *prometheus.Registry) error {
	families, err := registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	var errs error
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

var errNotReady = errors.New("storefront not initialised")

func (rt *runtime) storefront() (*storefront.Storefront, error) {
	if rt.front == nil {
		return nil, errNotReady
	}
	return rt.front, nil
}
