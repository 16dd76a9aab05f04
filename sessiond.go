package sessiond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/sessiond/internal/logging"
	httpAdapter "github.com/aretw0/sessiond/pkg/adapters/http"
	"github.com/aretw0/sessiond/pkg/adapters/memory"
	"github.com/aretw0/sessiond/pkg/adapters/redis"
	"github.com/aretw0/sessiond/pkg/config"
	"github.com/aretw0/sessiond/pkg/observability"
	"github.com/aretw0/sessiond/pkg/persistence/middleware"
	"github.com/aretw0/sessiond/pkg/ports"
	"github.com/aretw0/sessiond/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Version is the release of the module. Overridden at build time with -ldflags.
var Version = "0.1.0-dev"

// Backend names accepted in the store configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Service is an opened session storage with its metrics.
type Service struct {
	Storage  *session.Storage
	Map      ports.SessionMap
	Registry *prometheus.Registry

	logger  *slog.Logger
	closers []func() error
}

// Option defines a functional option for Open.
type Option func(*openOptions)

type openOptions struct {
	logger *slog.Logger
	base   ports.SessionMap
}

// WithLogger sets a custom structured logger for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(o *openOptions) {
		o.logger = logger
	}
}

// WithSessionMap injects the backing map, bypassing the configured backend.
func WithSessionMap(m ports.SessionMap) Option {
	return func(o *openOptions) {
		o.base = m
	}
}

// Open builds the storage described by cfg. A nil cfg means config.Default().
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &openOptions{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	svc := &Service{logger: o.logger, Registry: prometheus.NewRegistry()}

	base := o.base
	if base == nil {
		var err error
		if base, err = svc.openBackend(ctx, cfg); err != nil {
			return nil, err
		}
	}

	mws, err := middlewares(cfg, o.logger)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Map = middleware.Chain(base, mws...)

	opTimeout := cfg.Store.OpTimeout
	if opTimeout <= 0 {
		opTimeout = session.DefaultOpTimeout
	}

	metrics := observability.NewMetrics()
	if err := metrics.Register(svc.Registry); err != nil {
		_ = svc.Close()
		return nil, err
	}
	collector := observability.NewCollector(base,
		observability.WithCollectorLogger(o.logger),
		observability.WithSampleTimeout(opTimeout),
	)
	if err := svc.Registry.Register(collector); err != nil {
		_ = svc.Close()
		return nil, err
	}

	svc.Storage = session.NewStorage(svc.Map,
		session.WithLogger(o.logger),
		session.WithMetrics(metrics),
		session.WithIdlePolicy(session.NewIdlePolicy(cfg, o.logger)),
		session.WithOpTimeout(opTimeout),
	)

	o.logger.Info("Session storage opened",
		"backend", cfg.Store.Backend,
		"node", cfg.Store.Node,
		"middlewares", len(mws),
	)
	return svc, nil
}

func (s *Service) openBackend(ctx context.Context, cfg *config.Config) (ports.SessionMap, error) {
	switch cfg.Store.Backend {
	case "", BackendMemory:
		return memory.NewCluster().Join(cfg.Store.Node), nil
	case BackendRedis:
		store := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithNode(cfg.Store.Node),
		)
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		s.closers = append(s.closers, store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// middlewares returns the configured decorators, outermost first.
func middlewares(cfg *config.Config, logger *slog.Logger) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware
	if cfg.Store.Tracing {
		mws = append(mws, middleware.NewTracingMiddleware(middleware.WithTracingLogger(logger)))
	}
	if cfg.Encryption.Enabled() {
		active, fallback, err := cfg.Encryption.Keys()
		if err != nil {
			return nil, err
		}
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		})
		if err != nil {
			return nil, err
		}
		mws = append(mws, enc)
	}
	if len(cfg.Store.MaskParameters) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.Store.MaskParameters)
		if err != nil {
			return nil, fmt.Errorf("invalid mask_parameters: %w", err)
		}
		mws = append(mws, pii)
	}
	return mws, nil
}

// Handler returns the HTTP surface (health, metrics, session reads).
func (s *Service) Handler() http.Handler {
	return httpAdapter.NewHandler(s.Storage,
		httpAdapter.WithGatherer(s.Registry),
		httpAdapter.WithLogger(s.logger),
	)
}

// Close releases backend connections.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	s.closers = nil
	return errors.Join(errs...)
}
