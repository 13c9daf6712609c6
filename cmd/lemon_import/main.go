// Command lemon_import loads the Little Lemon order history into a relational
// database.
//
// Usage:
//
//	lemon_import [-config path] [-env path] [-metrics-backend name] [-validate] [-v]
//
// Exit codes: 0 on success, 1 on an invalid configuration or a failed run,
// 2 on a usage error.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"lemonetl/internal/config"
	"lemonetl/internal/importer"
	"lemonetl/internal/logging"
	"lemonetl/internal/metrics"
	"lemonetl/internal/metrics/datadog"
	"lemonetl/internal/metrics/prompush"

	// register all backends with the storage factory; the config picks one.
	_ "lemonetl/internal/storage/all"
)

type runner interface {
	Run(ctx context.Context, cfg config.Import) (importer.Summary, error)
}

// appDeps are the side-effecting seams of runMain.
type appDeps struct {
	loadConfig  func(path, envFile string) (config.Import, error)
	newLogger   func(cfg logging.Config) (*zap.SugaredLogger, func(), error)
	initMetrics func(ctx context.Context, job string, m config.Metrics, log logging.Logger) (func(), error)
	newRunner   func(log logging.Logger) runner
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig:  config.Load,
		newLogger:   logging.New,
		initMetrics: initMetrics,
		newRunner:   func(log logging.Logger) runner { return importer.NewDefaultRunner(log) },
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("lemon_import", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath    string
		envFile    string
		backendFlg string
		validate   bool
		verbose    bool
	)
	fs.StringVar(&cfgPath, "config", "configs/lemon_import.json", "import config JSON path")
	fs.StringVar(&envFile, "env", ".env", "optional .env file used to expand ${VAR} in the DSN")
	fs.StringVar(&backendFlg, "metrics-backend", "", "metrics backend override (none, pushgateway, datadog)")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable debug logs")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(stderr, "usage: lemon_import -config <path> [-validate] [-v]")
		return 2
	}

	cfg, err := deps.loadConfig(cfgPath, envFile)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	if backendFlg != "" {
		cfg.Metrics.Backend = backendFlg
		cfg.ApplyDefaults()
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(stderr, iss)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "configuration is invalid: %s\n", cfgPath)
		return 1
	}
	if validate {
		fmt.Fprintf(stdout, "configuration is valid: %s\n", cfgPath)
		return 0
	}

	log, closeLog, err := deps.newLogger(logging.Config{File: cfg.Logging.File, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(stderr, "init logging: %v\n", err)
		return 1
	}
	defer closeLog()

	cleanup, err := deps.initMetrics(ctx, cfg.Job, cfg.Metrics, log)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	summary, err := deps.newRunner(log).Run(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "run: %v\n", err)
		return 1
	}
	if _, err := summary.WriteTo(stdout); err != nil {
		fmt.Fprintf(stderr, "write summary: %v\n", err)
		return 1
	}
	return 0
}

// closingBackend is a metrics backend that owns a background flush loop.
type closingBackend interface {
	metrics.Backend
	Close() error
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closingBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
)

var errUnknownBackend = errors.New("unknown metrics backend")

// initMetrics installs the configured backend and returns its cleanup.
// The cleanup is never nil and flushes (pushgateway) or closes (datadog).
func initMetrics(ctx context.Context, job string, m config.Metrics, log logging.Logger) (func(), error) {
	log = logging.OrNop(log)
	noop := func() {}

	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none":
		log.Debugw("metrics disabled")
		return noop, nil

	case "pushgateway":
		b, err := newPushBackend(job, m.PushgatewayURL)
		if err != nil {
			return noop, fmt.Errorf("pushgateway: %w", err)
		}
		setMetricsBackend(b)
		log.Infow("metrics enabled", "backend", "pushgateway", "url", m.PushgatewayURL, "job", job)
		return func() {
			if err := b.Flush(); err != nil {
				log.Warnw("metrics: pushgateway flush error", "error", err)
			}
		}, nil

	case "datadog":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       m.Tags,
			FlushEvery: m.FlushEvery.Std(),
		})
		if err != nil {
			return noop, fmt.Errorf("datadog: %w", err)
		}
		setMetricsBackend(b)
		log.Infow("metrics enabled", "backend", "datadog", "job", job, "tags", m.Tags)
		return func() {
			if err := b.Close(); err != nil {
				log.Warnw("metrics: datadog close error", "error", err)
			}
		}, nil

	default:
		return noop, fmt.Errorf("%w %q (want none|pushgateway|datadog)", errUnknownBackend, m.Backend)
	}
}
