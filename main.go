package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"cdc-router/internal/config"
	"cdc-router/internal/metrics"
)

func main() {
	// Setup logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	app := &cli.App{
		Name:  "cdc-router",
		Usage: "route database change events onto a change log and reconcile them into MongoDB",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML configuration file",
				Value:   "config.yaml",
				EnvVars: []string{"CDC_ROUTER_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			newSourceCommand(logger),
			newBinlogCommand(logger),
			newSinkCommand(logger),
			newCheckMySQLCommand(logger),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

// loadConfig loads the configuration named by the global --config flag and
// applies its log level
func loadConfig(cCtx *cli.Context, logger *logrus.Logger) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return nil, err
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("Unknown log level %q, using %s", cfg.Logging.Level, logger.GetLevel())
	}
	return cfg, nil
}

// newMetrics registers the pipeline counters and starts the metrics
// endpoint when one is configured. The returned function stops it.
func newMetrics(cfg config.MetricsConfig, logger *logrus.Logger) (*metrics.Metrics, func()) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	if cfg.Listen == "" {
		return m, func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("Serving metrics on %s/metrics", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server error: %v", err)
		}
	}()

	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// run executes fn until it returns or a termination signal arrives
func run(parent context.Context, logger *logrus.Logger, name string, fn func(ctx context.Context) error) error {
	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	var err error
	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
		cancel()
		err = <-errChan
	case err = <-errChan:
	}

	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	logger.Infof("%s stopped", name)
	return nil
}
