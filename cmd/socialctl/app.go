package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gobeaver/beaver-social/cache"
	"github.com/gobeaver/beaver-social/config"
	"github.com/gobeaver/beaver-social/database"
	"github.com/gobeaver/beaver-social/krypto"
	"github.com/gobeaver/beaver-social/logger"
	"github.com/gobeaver/beaver-social/metrics"
	"github.com/gobeaver/beaver-social/notify"
	"github.com/gobeaver/beaver-social/oauth"
	"github.com/gobeaver/beaver-social/vault"
)

// appConfig is read from BEAVER_*.
type appConfig struct {
	// SessionSecret seals sessions kept in the cache. Empty stores them as
	// plain JSON.
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default:1h"`

	RateLimit float64 `env:"RATE_LIMIT,default:5"`
	RateBurst int     `env:"RATE_BURST,default:10"`

	BreakerFailures int           `env:"BREAKER_FAILURES,default:5"`
	BreakerTimeout  time.Duration `env:"BREAKER_TIMEOUT,default:30s"`

	NATS bool `env:"NATS_ENABLED,default:false"`
}

// app is the wired stack shared by every command.
type app struct {
	logger  *zap.Logger
	hub     *oauth.Hub
	vault   *vault.GormVault
	db      *database.Database
	store   cache.Cache
	bus     *notify.Bus
	nats    *notify.NATSPublisher
	metrics *metrics.Prometheus

	closers []func(context.Context) error
}

// newApp builds the stack from the environment. callbacks, when set, fills
// in the provider callback URLs.
func (c *cli) newApp(ctx context.Context, callbacks func([]oauth.Settings) []oauth.Settings) (_ *app, err error) {
	logCfg, err := logger.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("logger config: %w", err)
	}
	a := &app{logger: logger.New(*logCfg)}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	settings, err := oauth.LoadHubSettings()
	if err != nil {
		return nil, err
	}
	if callbacks != nil {
		settings = callbacks(settings)
	}
	registry, err := c.registry()
	if err != nil {
		return nil, err
	}

	a.vault, a.db, err = vault.Open(ctx, config.DefaultPrefix)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.db.Close() })

	a.store, err = cache.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })

	storeOpts := []oauth.StoreOption{oauth.WithSessionTTL(cfg.SessionTTL)}
	if cfg.SessionSecret != "" {
		sealer, err := krypto.NewSealer([]byte(cfg.SessionSecret), "beaver-social/session")
		if err != nil {
			return nil, fmt.Errorf("session sealer: %w", err)
		}
		storeOpts = append(storeOpts, oauth.WithSealer(sealer))
	}

	a.bus = notify.NewBus(a.logger)
	if err := a.subscribeNotifiers(cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.bus.Close)

	a.metrics = metrics.New(metrics.Config{})

	a.hub, err = oauth.NewHub(oauth.HubConfig{
		Registry: registry,
		Resolver: oauth.NewStoreResolver(a.store, storeOpts...),
		Settings: settings,
		ServiceOptions: []oauth.Option{
			oauth.WithLogger(a.logger),
			oauth.WithPublisher(a.bus),
			oauth.WithMetrics(a.metrics),
			oauth.WithVault(a.vault),
			oauth.WithRateLimit(oauth.NewIdentityLimiter(cfg.RateLimit, cfg.RateBurst)),
		},
		Breaker: func(name string) oauth.CircuitBreaker {
			return oauth.NewDefaultCircuitBreaker(oauth.CircuitBreakerConfig{
				FailureThreshold: cfg.BreakerFailures,
				Timeout:          cfg.BreakerTimeout,
				OnStateChange:    a.metrics.BreakerStateChanged(name),
			})
		},
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (c *cli) registry() (*oauth.Registry, error) {
	registry := c.newRegistry()
	if c.catalog == "" {
		return registry, nil
	}
	f, err := os.Open(c.catalog)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	defer f.Close()
	if err := registry.LoadCatalog(f); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", c.catalog, err)
	}
	return registry, nil
}

// subscribeNotifiers attaches Slack when a webhook is configured and NATS
// when BEAVER_NATS_ENABLED is set.
func (a *app) subscribeNotifiers(cfg appConfig) error {
	slackCfg, err := notify.GetSlackConfig()
	if err != nil {
		return fmt.Errorf("slack config: %w", err)
	}
	if slackCfg.WebhookURL != "" {
		slack, err := notify.NewSlack(*slackCfg, a.logger)
		if err != nil {
			return err
		}
		a.bus.Subscribe(slack)
	}

	if !cfg.NATS {
		return nil
	}
	natsCfg, err := notify.GetNATSConfig()
	if err != nil {
		return fmt.Errorf("nats config: %w", err)
	}
	a.nats, err = notify.NewNATSPublisher(*natsCfg, a.logger)
	if err != nil {
		return err
	}
	a.bus.Subscribe(a.nats)
	a.closers = append(a.closers, func(context.Context) error { return a.nats.Close() })
	return nil
}

// Close releases everything in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *app) service(ctx context.Context, identity, provider string) (context.Context, *oauth.Service, error) {
	svc, err := a.hub.Service(provider)
	if err != nil {
		return ctx, nil, err
	}
	return oauth.WithIdentity(ctx, identity), svc, nil
}
