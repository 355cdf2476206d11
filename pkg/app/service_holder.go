package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/osvaldoandrade/tokengate/internal/metrics"
	"github.com/osvaldoandrade/tokengate/pkg/config"
	"github.com/osvaldoandrade/tokengate/pkg/jwt"
	"github.com/osvaldoandrade/tokengate/pkg/jwt/keys"
)

// ServiceHolder publishes the current token service. Reloads swap the whole
// service; requests already in flight keep the one they started with.
type ServiceHolder struct {
	cur      atomic.Pointer[jwt.Service]
	provider keys.Provider
	logger   *slog.Logger
}

func NewServiceHolder(cfg *config.Config, provider keys.Provider, logger *slog.Logger) (*ServiceHolder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &ServiceHolder{provider: provider, logger: logger}
	svc, err := h.build(cfg)
	if err != nil {
		return nil, err
	}
	h.cur.Store(svc)
	return h, nil
}

func (h *ServiceHolder) Current() *jwt.Service { return h.cur.Load() }

func (h *ServiceHolder) Validating() bool { return h.Current().Validating() }

func (h *ServiceHolder) DecodeTokenSet(ctx context.Context, set jwt.TokenSet) (*jwt.DecodedTokens, error) {
	return h.Current().DecodeTokenSet(ctx, set)
}

// Reload rebuilds the token service from cfg. On error the previous service
// stays in place. Key sources are not rebuilt.
func (h *ServiceHolder) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("error").Inc()
		return err
	}
	svc, err := h.build(cfg)
	if err != nil {
		metrics.ConfigReloadsTotal.WithLabelValues("error").Inc()
		return err
	}
	h.cur.Store(svc)
	metrics.ConfigReloadsTotal.WithLabelValues("ok").Inc()
	h.logger.Info("token service reloaded", "validating", svc.Validating())
	return nil
}

// Watch reloads from path on every write until ctx is done. The parent
// directory is watched so editors that replace the file are picked up.
func (h *ServiceHolder) Watch(ctx context.Context, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		h.logger.Error("config watcher", "err", err)
		return
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		h.logger.Error("config watcher", "path", target, "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := config.LoadConfig(target)
			if err == nil {
				err = h.Reload(cfg)
			} else {
				metrics.ConfigReloadsTotal.WithLabelValues("error").Inc()
			}
			if err != nil {
				h.logger.Warn("config reload rejected", "path", target, "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error("config watcher", "err", err)
		}
	}
}

func (h *ServiceHolder) build(cfg *config.Config) (*jwt.Service, error) {
	tc, err := cfg.TokenConfig()
	if err != nil {
		return nil, err
	}
	return jwt.NewService(tc, h.provider,
		jwt.WithLogger(h.logger),
		jwt.WithDecodeObserver(metrics.ObserveTokenDecode),
	)
}
