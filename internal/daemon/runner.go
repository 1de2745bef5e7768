package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/config"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/logging"
	"github.com/Elara-Tanmoy/elara-mvp-final-sub011/internal/policy"
)

type Runner struct {
	cfg        config.Config
	logger     *logging.Logger
	configPath string
	app        *App
}

func New(cfg config.Config, logger *logging.Logger, configPath string) *Runner {
	return &Runner{
		cfg:        cfg,
		logger:     logger,
		configPath: configPath,
	}
}

func (r *Runner) Run(ctx context.Context) error {
	app, err := Open(r.cfg, r.logger)
	if err != nil {
		return err
	}
	r.app = app

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	if r.cfg.Policy.Watch && r.cfg.Policy.Path != "" {
		watcher, err := policy.NewWatcher(r.cfg.Policy.Path, r.logger, func(p *policy.Policy) {
			if err := app.ApplyPolicy(p); err != nil {
				r.logger.Error("apply policy failed", logging.F("error", err))
			}
		})
		if err != nil {
			r.logger.Warn("policy watch disabled", logging.F("error", err))
		} else {
			defer watcher.Close()
			go watcher.Run(ctx)
		}
	}

	app.Scheduler.Start(ctx)

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- app.API.Start(ctx)
	}()

	r.logger.Info("daemon started", logging.F("analyzers", app.Registry.List()))

	go r.handleSignals(sigCh, cancel, r.reload)

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			r.logger.Error("api server failed", logging.F("error", err))
			cancel()
			_ = r.shutdown(r.cfg.Daemon.ShutdownTimeoutDuration())
			return err
		}
		<-ctx.Done()
	}

	return r.shutdown(r.cfg.Daemon.ShutdownTimeoutDuration())
}

func (r *Runner) handleSignals(sigCh <-chan os.Signal, cancel context.CancelFunc, reload func()) {
	for sig := range sigCh {
		switch sig {
		case syscall.SIGHUP:
			r.logger.Info("config reload requested")
			if reload != nil {
				reload()
			}
		case syscall.SIGINT, syscall.SIGTERM:
			r.logger.Warn("shutdown signal received", logging.F("signal", sig.String()))
			cancel()
			return
		default:
			r.logger.Warn("unexpected signal received", logging.F("signal", sig.String()))
		}
	}
}

// reload re-applies the policy file and the threat feed sources. Other
// settings need a restart.
func (r *Runner) reload() {
	if r.app == nil {
		return
	}
	if err := r.app.ReloadPolicy(); err != nil {
		r.logger.Error("policy reload failed", logging.F("error", err))
	}
	if r.configPath == "" {
		return
	}
	cfg, err := config.Load(r.configPath)
	if err != nil {
		r.logger.Error("config reload failed", logging.F("error", err))
		return
	}
	r.app.Updater.UpdateConfig(cfg.ThreatIntel.UpdaterConfig(cfg.Probes.UserAgent))
	r.logger.Info("threat feed config reloaded", logging.F("sources", len(cfg.ThreatIntel.Sources)))
}

func (r *Runner) shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r.logger.Info("shutdown starting", logging.F("timeout", timeout.String()))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.app.API.Shutdown(ctx); err != nil {
		r.logger.Warn("api shutdown failed", logging.F("error", err))
	}

	done := make(chan error, 1)
	go func() { done <- r.app.Close() }()
	select {
	case err := <-done:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		r.logger.Warn("shutdown timed out")
		return ctx.Err()
	}
	r.logger.Info("shutdown complete")
	return nil
}
