// Package bootstrap assembles the process: bootstrap config, logging,
// telemetry, the bus connection and the runtime config fetch.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"flashgate/internal/bus"
	"flashgate/internal/config"
	"flashgate/internal/configurator"
	"flashgate/internal/core"
	"flashgate/internal/health"
	"flashgate/pkg/logging"
	"flashgate/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App holds the process-wide dependencies assembled before the gate starts
type App struct {
	Boot    *config.Bootstrap
	Runtime *config.Runtime
	Logger  core.ILogger
	Bus     *bus.NATSBus
	Monitor *health.Monitor

	tel       *telemetry.Telemetry
	healthSrv *health.Server
}

// NewApp bootstraps everything up to, but not including, the gate itself
func NewApp(ctx context.Context, configPath string) (*App, error) {
	boot, err := config.LoadBootstrap(configPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap config: %w", err)
	}

	logger, err := newLogger(boot.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobalLogger(logger)

	tel, err := telemetry.Setup("flashgate")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	rt, err := configurator.Fetch(ctx, boot.Configurator, logger)
	if err != nil {
		return nil, fmt.Errorf("runtime config: %w", err)
	}

	b, err := bus.NewNATSBus(boot.Bus.URL, logger)
	if err != nil {
		return nil, err
	}

	monitor := health.NewMonitor(logger)
	monitor.Register("bus", b.Check)

	return &App{
		Boot:      boot,
		Runtime:   rt,
		Logger:    logger,
		Bus:       b,
		Monitor:   monitor,
		tel:       tel,
		healthSrv: health.NewServer(boot.Metrics.Listen, monitor, logger),
	}, nil
}

func newLogger(cfg config.LoggingConfig) (*logging.ZapLogger, error) {
	if cfg.Config != "" {
		return logging.NewZapLoggerFromFile(cfg.Config)
	}
	return logging.NewZapLogger(cfg.Level)
}

// Runner is a long-lived component driven by the app lifecycle
type Runner interface {
	Run(ctx context.Context) error
}

// Run drives the runners until a termination signal or the first failure,
// then releases process-wide resources.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.healthSrv.Start()
	a.Logger.Info("Application starting")

	g, ctx := errgroup.WithContext(ctx)
	for _, runner := range runners {
		r := runner
		g.Go(func() error { return r.Run(ctx) })
	}

	err := g.Wait()
	a.shutdown()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}
	a.Logger.Info("Application shut down")
	return nil
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.healthSrv.Stop(ctx); err != nil {
		a.Logger.Warn("Health server shutdown failed", "error", err)
	}
	if err := a.Bus.Close(); err != nil {
		a.Logger.Warn("Bus close failed", "error", err)
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err)
	}
}
