package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/colemanliyah/lance"
	"github.com/colemanliyah/lance/internal/config"
	"github.com/colemanliyah/lance/lexical/ngram"
	promcollector "github.com/colemanliyah/lance/metrics/prometheus"
)

// app holds state shared by every subcommand.
type app struct {
	cfgFile     string
	storeURL    string
	logLevel    string
	logFormat   string
	metricsAddr string

	cfg     *config.Config
	logger  *lance.Logger
	metrics ngram.MetricsCollector
	server  *http.Server
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "lance-ngram",
		Short: "Build and query n-gram substring indexes",
		Long: `lance-ngram builds n-gram indexes over a text column and answers
substring-containment queries with a candidate row set.

Indexes live in a blob store: a local directory, s3://bucket/prefix,
minio://endpoint/bucket/prefix or bolt:///path/to/file.db.

Example usage:
  lance-ngram build title.ngram --input 'data/**/*.txt'
  lance-ngram search title.ngram "hello" --verify --input 'data/**/*.txt'
  lance-ngram stats title.ngram`,
		SilenceUsage:       true,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	flags.StringVar(&a.storeURL, "store", "", "blob store URL (default from config)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	cmd.AddCommand(newBuildCmd(a), newSearchCmd(a), newStatsCmd(a))
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store.URL = a.storeURL
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	lvl, _ := cfg.Logging.SlogLevel()
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if strings.EqualFold(cfg.Logging.Format, "json") {
		h = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	} else {
		h = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	}
	a.logger = lance.NewLogger(h)

	a.metrics = ngram.NoopMetricsCollector{}
	if cfg.Metrics.Addr != "" {
		return a.serveMetrics(cfg.Metrics)
	}
	return nil
}

func (a *app) serveMetrics(mc config.MetricsConfig) error {
	reg := prometheus.NewRegistry()
	coll, err := promcollector.New(reg, mc.Namespace)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	ln, err := net.Listen("tcp", mc.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", mc.Addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	a.metrics = coll

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.server.Shutdown(ctx)
}

// buildOptions returns the configured build options plus runtime wiring.
func (a *app) buildOptions(extra ...ngram.Option) []ngram.Option {
	opts := a.cfg.BuildOptions()
	opts = append(opts,
		ngram.WithLogger(a.logger.Logger),
		ngram.WithMetrics(a.metrics),
	)
	return append(opts, extra...)
}

// loadOptions returns the configured load options plus runtime wiring.
func (a *app) loadOptions() []ngram.Option {
	opts := a.cfg.LoadOptions()
	return append(opts,
		ngram.WithLogger(a.logger.Logger),
		ngram.WithMetrics(a.metrics),
	)
}
