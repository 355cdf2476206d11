package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/osvaldoandrade/tokengate/internal/metrics"
	"github.com/osvaldoandrade/tokengate/internal/middleware"
	"github.com/osvaldoandrade/tokengate/internal/providers"
	"github.com/osvaldoandrade/tokengate/internal/ratelimit"
	"github.com/osvaldoandrade/tokengate/internal/tracing"
	"github.com/osvaldoandrade/tokengate/pkg/authz"
	"github.com/osvaldoandrade/tokengate/pkg/authz/rego"
	"github.com/osvaldoandrade/tokengate/pkg/config"
	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

type Application struct {
	Config      *config.Config
	Engine      *gin.Engine
	Logger      *slog.Logger
	Keys        *keys.Store
	Tokens      *ServiceHolder
	Authorizer  *authz.Authorizer
	RateLimiter ratelimit.Limiter
	Redis       redis.UniversalClient

	TracingShutdown func(context.Context) error

	evaluator authz.Evaluator
	logOutput io.Writer
	stop      context.CancelFunc
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithRedisClient replaces the client built from redisAddr.
func WithRedisClient(rdb redis.UniversalClient) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

// WithEvaluator replaces the policy evaluator built from policy.files.
func WithEvaluator(ev authz.Evaluator) ApplicationOption {
	return func(app *Application) error {
		app.evaluator = ev
		return nil
	}
}

// WithLogOutput redirects the application log.
func WithLogOutput(w io.Writer) ApplicationOption {
	return func(app *Application) error {
		app.logOutput = w
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg, logOutput: os.Stdout}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	logger := newLogger(cfg, app.logOutput)
	slog.SetDefault(logger)
	app.Logger = logger

	ctx, cancel := context.WithCancel(context.Background())
	app.stop = cancel

	shutdown, err := tracing.Setup(ctx, cfg.TracingSettings(), logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.TracingShutdown = shutdown

	if app.Redis == nil {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	}
	app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)

	static, source, err := cfg.KeySources(app.Redis, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	storeOpts := append(cfg.KeyStoreOptions(),
		keys.WithStaticKeys(static...),
		keys.WithLogger(logger),
		keys.WithFetchObserver(metrics.ObserveKeyFetch),
	)
	if source != nil {
		storeOpts = append(storeOpts, keys.WithSource(source))
	}
	app.Keys = keys.NewStore(storeOpts...)
	metrics.RegisterKeyCollector(app.Keys)

	app.Tokens, err = NewServiceHolder(cfg, app.Keys, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	if app.evaluator == nil && len(cfg.Policy.Files) > 0 {
		ev, err := rego.NewFromFiles(ctx, cfg.Policy.Query, cfg.Policy.Files)
		if err != nil {
			cancel()
			return nil, err
		}
		logger.Info("policy loaded", "query", ev.Query(), "modules", ev.Modules())
		app.evaluator = ev
	}
	if app.evaluator != nil {
		app.Authorizer, err = authz.New(app.Tokens, app.evaluator,
			authz.WithLogger(logger),
			authz.WithDecisionObserver(metrics.ObserveDecision),
		)
		if err != nil {
			cancel()
			return nil, err
		}
	} else {
		logger.Warn("no policy configured; authorize requests will be rejected")
	}

	if source != nil && cfg.JWT.JWKSRefreshSeconds > 0 {
		go app.Keys.Start(ctx, time.Duration(cfg.JWT.JWKSRefreshSeconds)*time.Second)
	}

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		cancel()
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	return app, nil
}

// WatchConfig reloads the token service whenever the file at path changes.
// It blocks until ctx is done.
func (app *Application) WatchConfig(ctx context.Context, path string) {
	app.Tokens.Watch(ctx, path)
}

// Close stops background refresh and flushes the trace exporter.
func (app *Application) Close(ctx context.Context) error {
	if app.stop != nil {
		app.stop()
	}
	if app.TracingShutdown != nil {
		return app.TracingShutdown(ctx)
	}
	return nil
}

func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "tokengate", "env", cfg.Env)
}
