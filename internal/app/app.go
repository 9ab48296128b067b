// Package app builds the blogsync dependency graph from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/desurestar/RSOD-project/internal/blogapi"
	"github.com/desurestar/RSOD-project/internal/config"
	"github.com/desurestar/RSOD-project/internal/credential"
	"github.com/desurestar/RSOD-project/internal/domain"
	"github.com/desurestar/RSOD-project/internal/service"
	"github.com/desurestar/RSOD-project/internal/session"
	"github.com/desurestar/RSOD-project/pkg/health"
	"github.com/desurestar/RSOD-project/pkg/httpclient"
	"github.com/desurestar/RSOD-project/pkg/middleware"
	"github.com/desurestar/RSOD-project/pkg/tracing"
)

// Version is reported in the User-Agent header and trace resource.
var Version = "0.1.0"

// Option customises New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	store      credential.Store
}

// WithHTTPClient sends API traffic through hc instead of a pooled transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithStore uses store instead of the one selected by TOKEN_STORE.
func WithStore(store credential.Store) Option {
	return func(o *options) { o.store = store }
}

// App wires together all dependencies of the blog client.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	Store   credential.Store
	Session *session.Coordinator
	API     *blogapi.Client
	Blog    *service.Blog

	rdb            *redis.Client
	breaker        *httpclient.CircuitBreaker
	health         *health.Handler
	opsServer      *http.Server
	shutdownTracer tracing.ShutdownFunc
}

// New creates the application and restores any persisted session.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "blogsync",
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Insecure:       true,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	a := &App{
		cfg:            cfg,
		logger:         logger,
		health:         health.NewHandler(),
		shutdownTracer: shutdownTracer,
	}

	a.Store = o.store
	if a.Store == nil {
		if a.Store, err = a.openStore(ctx); err != nil {
			_ = shutdownTracer(ctx)
			return nil, err
		}
	}

	// Refresh calls bypass the session middlewares; everything else shares
	// the limiter and breaker.
	limit := rate.Limit(cfg.RateLimitRPS)
	if cfg.RateLimitRPS <= 0 {
		limit = rate.Inf
	}
	common := httpclient.Chain{
		httpclient.RequestID(),
		httpclient.UserAgent("blogsync/" + Version),
		httpclient.Logging(logger),
		httpclient.Tracing(),
		httpclient.Metrics(),
	}
	transport := httpclient.Chain{httpclient.RateLimit(rate.NewLimiter(limit, cfg.RateLimitBurst))}
	if cfg.BreakerEnabled {
		a.breaker = httpclient.NewCircuitBreaker(httpclient.DefaultCircuitBreakerConfig("blog-api"), logger)
		transport = transport.Append(a.breaker.Middleware())
	}

	httpCfg := httpclient.Config{
		Timeout:         cfg.HTTPTimeout,
		MaxRetries:      cfg.HTTPMaxRetries,
		RetryWaitMin:    cfg.HTTPRetryWaitMin,
		RetryWaitMax:    cfg.HTTPRetryWaitMax,
		MaxConnsPerHost: httpclient.DefaultConfig().MaxConnsPerHost,
	}
	newClient := func(chain httpclient.Chain) *httpclient.Client {
		if o.httpClient != nil {
			return httpclient.NewWithHTTPClient(httpCfg, chain, o.httpClient)
		}
		return httpclient.New(httpCfg, chain)
	}

	authAPI, err := blogapi.New(newClient(common.Append(transport...)), cfg.BaseURL, logger)
	if err != nil {
		_ = a.closeDeps(ctx)
		return nil, err
	}

	sessionCfg := session.DefaultConfig()
	sessionCfg.RefreshTimeout = cfg.RefreshTimeout
	sessionCfg.BaseURL = authAPI.BaseURL()
	// The view models do not exist yet; the hook resolves them on call.
	sessionCfg.OnExpired = func(ctx context.Context, cause error) {
		if a.Blog != nil {
			a.Blog.Expired(ctx, cause)
		}
	}
	if a.Session, err = session.New(a.Store, authAPI, sessionCfg, logger); err != nil {
		_ = a.closeDeps(ctx)
		return nil, err
	}

	chain := common.Append(a.Session.Middlewares()...).Append(transport...)
	if a.API, err = blogapi.New(newClient(chain), cfg.BaseURL, logger); err != nil {
		_ = a.closeDeps(ctx)
		return nil, err
	}
	a.Blog = service.New(a.API, a.Session, service.Config{
		FeedPageSize: cfg.FeedPageSize,
		ReplyWindow:  cfg.ReplyWindow,
	}, logger)

	if err := a.Session.Hydrate(ctx); err != nil {
		logger.WarnContext(ctx, "could not restore session", slog.String("error", err.Error()))
	}

	a.registerChecks()
	if cfg.MetricsAddr != "" {
		a.opsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           a.OpsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (credential.Store, error) {
	switch a.cfg.TokenStore {
	case config.StoreMemory:
		return credential.NewMemory(domain.Tokens{}), nil
	case config.StoreFile:
		a.logger.DebugContext(ctx, "using token file", slog.String("path", a.cfg.TokenFile))
		return credential.NewFile(a.cfg.TokenFile), nil
	case config.StoreRedis:
		rdb, err := credential.NewRedisClient(ctx, a.cfg.Redis())
		if err != nil {
			return nil, fmt.Errorf("connect token store: %w", err)
		}
		a.rdb = rdb
		a.logger.InfoContext(ctx, "connected to Redis",
			slog.String("addr", a.cfg.Redis().Addr()),
			slog.Int("db", a.cfg.RedisDB),
		)
		return credential.NewRedis(rdb, a.cfg.RedisKeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown token store %q", a.cfg.TokenStore)
	}
}

func (a *App) registerChecks() {
	if c, ok := a.Store.(interface{ Check(context.Context) error }); ok {
		a.health.RegisterCritical("token_store", c.Check)
	}
	if a.breaker != nil {
		a.health.RegisterNonCritical("blog_api", func(context.Context) error {
			if a.breaker.State() == gobreaker.StateOpen {
				return errors.New("circuit breaker open")
			}
			return nil
		})
	}
	a.health.RegisterNonCritical("session", func(context.Context) error {
		if !a.Session.Authenticated() {
			return errors.New("not logged in")
		}
		return nil
	})
}

// Health runs the registered checks.
func (a *App) Health(ctx context.Context) health.Response {
	return a.health.Check(ctx)
}

// OpsHandler serves /metrics, /healthz and /readyz.
func (a *App) OpsHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestLogging(a.logger))
	r.Use(middleware.PrometheusMetrics("ops"))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", a.health.LivenessHandler())
	r.Get("/readyz", a.health.ReadinessHandler())
	return r
}

// Run serves the operations endpoint until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if a.opsServer == nil {
		<-ctx.Done()
		return a.Shutdown(context.Background())
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting ops server", slog.String("addr", a.opsServer.Addr))
		if err := a.opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return errors.Join(err, a.Shutdown(context.Background()))
	}
	return a.Shutdown(context.Background())
}

// Shutdown stops the ops server and releases connections. Tokens stay in
// the store.
func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if a.opsServer != nil {
		if err := a.opsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ops server shutdown: %w", err))
		}
	}
	if err := a.closeDeps(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeDeps(ctx context.Context) error {
	var errs []error
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
