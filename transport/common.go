package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/pkg/retry"
)

func newLifecycle(name string, deps Deps) lifecycle {
	l := lifecycle{name: name, health: deps.Health}
	if deps.MetricsRegistry != nil {
		l.core = deps.MetricsRegistry.CoreMetrics()
	}
	return l
}

func validateDeps(cfg Config, deps Deps) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if deps.Codec == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "transport", "New", "codec required for "+cfg.Name)
	}
	if deps.Sink == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "transport", "New", "sink required for "+cfg.Name)
	}
	if cfg.ThrottlingAllowed && deps.Throttle == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "transport", "New", "throttle controller required for "+cfg.Name)
	}
	return nil
}

func componentLogger(logger *slog.Logger, kind string, cfg Config) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("component", kind+"-input", "input", cfg.Name)
}

func bindRetry(deps Deps) retry.Config {
	if deps.BindRetry != nil {
		return *deps.BindRetry
	}
	return retry.Quick()
}

func startThrottle(ctx context.Context, cfg Config, deps Deps) error {
	if !cfg.ThrottlingAllowed {
		return nil
	}
	if err := deps.Throttle.Start(ctx); err != nil {
		return errors.Wrap(err, "transport", "Launch", "start throttle controller for "+cfg.Name)
	}
	return nil
}

func stopThrottle(cfg Config, deps Deps) error {
	if !cfg.ThrottlingAllowed {
		return nil
	}
	return deps.Throttle.Stop()
}

// waitUnthrottled parks a read loop while the input is throttled. false
// means ctx ended.
func waitUnthrottled(ctx context.Context, cfg Config, deps Deps) bool {
	if !cfg.ThrottlingAllowed {
		return ctx.Err() == nil
	}
	for !deps.Throttle.BlockUntilUnthrottled(ctx, 0) {
		if ctx.Err() != nil {
			return false
		}
	}
	return ctx.Err() == nil
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
