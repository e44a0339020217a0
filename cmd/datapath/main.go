// Command datapath runs the vswitchd-core datapath root as a standalone
// process: it loads configuration, wires the worker fleet's dependencies
// (driver, counters, rate limiter), starts the management and metrics HTTP
// surfaces, and blocks until an OS signal requests shutdown. Grounded on
// the teacher's cmd/main.go (flag parsing, config file resolution) plus
// internal/app.App's New/Start/Run component-wiring and signal-handling
// shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-net/vswitchd-core/internal/config"
	"github.com/ssw-net/vswitchd-core/internal/datapath"
	"github.com/ssw-net/vswitchd-core/internal/metrics"
	"github.com/ssw-net/vswitchd-core/internal/mgmt"
	"github.com/ssw-net/vswitchd-core/pkg/actions"
	"github.com/ssw-net/vswitchd-core/pkg/driver"
	"github.com/ssw-net/vswitchd-core/pkg/hotreload"
	"github.com/ssw-net/vswitchd-core/pkg/ratelimit"
	"github.com/ssw-net/vswitchd-core/pkg/task_manager"
	"github.com/ssw-net/vswitchd-core/pkg/tracing"
	"github.com/ssw-net/vswitchd-core/pkg/upcall"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	if configFile == "" {
		if envConfigFile := os.Getenv("VSD_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/etc/vswitchd/config.yaml"
		}
	}

	fmt.Printf("Using configuration file: %s\n", configFile)

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("datapath exited with error")
		os.Exit(1)
	}
}

func newLogger(level, format string) *logrus.Logger {
	logger := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	return logger
}

// run wires every component together and blocks until a shutdown signal is
// received, then drains them in reverse dependency order.
func run(cfg *config.Config, logger *logrus.Logger) error {
	var err error

	traceCfg := tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
		BatchTimeout:   cfg.Tracing.BatchTimeout,
		MaxBatchSize:   cfg.Tracing.MaxBatchSize,
	}
	tracer, err := tracing.New(traceCfg, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	drv := driver.NewFakeDriver()

	counterFactory := func(workerID int) actions.Counters {
		return metrics.NewWorkerCounters(workerID)
	}
	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst})

	dp := datapath.New(cfg.Datapath, drv, counterFactory, limiter, logger)
	dp.RegisterUpcallCallback(defaultUpcallHandler(logger))

	for _, p := range cfg.Ports {
		if _, err := dp.AddPort(p.Name, p.Number, p.DevType, p.NumaID, p.PollMode, p.RxQueues); err != nil {
			return fmt.Errorf("add port %s: %w", p.Name, err)
		}
	}

	var mgmtServer *mgmt.Server
	if cfg.Mgmt.Enabled {
		mgmtServer = mgmt.NewServer(fmt.Sprintf("%s:%d", cfg.Mgmt.Host, cfg.Mgmt.Port), dp, logger)
		if err := mgmtServer.Start(); err != nil {
			return fmt.Errorf("start management server: %w", err)
		}
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port), cfg.Metrics.Path, logger)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
	}

	var reloader *hotreload.Watcher
	if cfg.Datapath.CoreMaskFile != "" {
		hotCfg := hotreload.Config{
			Enabled:          cfg.HotReload.Enabled,
			WatchInterval:    cfg.HotReload.WatchInterval,
			DebounceInterval: cfg.HotReload.DebounceInterval,
		}
		reloader, err = hotreload.New(hotCfg, cfg.Datapath.CoreMaskFile, dp.SetCoreMask, logger)
		if err != nil {
			return fmt.Errorf("create core mask watcher: %w", err)
		}
		if err := reloader.Start(); err != nil {
			return fmt.Errorf("start core mask watcher: %w", err)
		}
	}

	stats := task_manager.New(task_manager.Config{Interval: cfg.Stats.Interval}, dp.SampleWorkerStats, metrics.GaugeSink{}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	stats.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"app":        cfg.App.Name,
		"core_mask":  cfg.Datapath.CoreMask,
		"ports":      len(cfg.Ports),
		"mgmt_addr":  fmt.Sprintf("%s:%d", cfg.Mgmt.Host, cfg.Mgmt.Port),
		"metrics_on": cfg.Metrics.Enabled,
	}).Info("datapath root starting")

	runErr := dp.Run(ctx)

	stats.Stop()
	if reloader != nil {
		reloader.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("failed to stop metrics server")
		}
	}
	if mgmtServer != nil {
		if err := mgmtServer.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("failed to stop management server")
		}
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("failed to shut down tracing")
	}

	logger.Info("datapath root stopped")
	return runErr
}

// defaultUpcallHandler answers every upcall with an empty, non-installing
// response: this process has no control plane of its own, so a miss is
// logged and the packet is left to be dropped by the caller's empty action
// list.
func defaultUpcallHandler(logger *logrus.Logger) upcall.Callback {
	return func(ctx context.Context, req upcall.Request) (upcall.Response, error) {
		logger.WithFields(logrus.Fields{
			"worker": req.WorkerID,
			"kind":   req.Kind,
			"ufid":   req.Ufid,
		}).Debug("upcall miss, no control plane action registered")
		return upcall.Response{}, nil
	}
}
