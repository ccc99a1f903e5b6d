package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/torosent/roomfire/internal/config"
	"github.com/torosent/roomfire/internal/metrics"
	"github.com/torosent/roomfire/internal/output"
	"github.com/torosent/roomfire/internal/pool"
	"github.com/torosent/roomfire/internal/ratelimit"
	"github.com/torosent/roomfire/internal/runner"
	"github.com/torosent/roomfire/internal/threshold"
	"github.com/torosent/roomfire/internal/tracing"
	"github.com/torosent/roomfire/internal/websocket"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

var (
	errThresholdsFailed = errors.New("thresholds failed")
	errMessagesFailed   = errors.New("messages failed")
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	runID := output.NewRunID()
	logger = logger.With(zap.String("run_id", runID))

	tp, err := tracing.Init(ctx, cfg.Tracing, runID)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector()

	if cfg.MetricsAddr != "" {
		srv, err := startMetricsServer(cfg.MetricsAddr, collector, logger)
		if err != nil {
			return err
		}
		defer srv.Shutdown()
	}

	dialer := websocket.NewDialer(websocket.Config{
		ServerURL:        cfg.Server,
		Headers:          toHeader(cfg.Headers),
		HandshakeTimeout: cfg.ConnectTimeout,
		Propagate:        tp.HandshakeInjector(),
		OnClose:          collector.ConnectionClosed,
	})

	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	opts.Opener = pool.DialerOpener(dialer)
	opts.Collector = collector
	opts.Logger = logger
	opts.Tracer = tp.Tracer()

	logger.Info("starting chat load test",
		zap.String("server", cfg.Server),
		zap.Int("total", cfg.Total),
		zap.Int("rooms", cfg.Rooms),
		zap.Int("rate", cfg.Rate.Limit))

	var progress *output.ProgressReporter
	if cfg.Format() == config.ReportFormatText {
		progress = output.NewProgressReporter(collector, int64(cfg.Total), progressInterval, stdout)
		progress.Start()
	}

	res, err := runner.New(opts).Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	stats := collector.Stats()
	report := output.NewReport(runID, cfg.Server, res, stats)
	report.Thresholds = threshold.NewEvaluator(thresholds).Evaluate(stats, res.Duration)

	if err := printReport(stdout, cfg.Format(), report); err != nil {
		return err
	}
	if err := writeExports(cfg, collector, stats, logger); err != nil {
		return err
	}

	if !report.ThresholdsPassed() {
		return errThresholdsFailed
	}
	if cfg.FailOnErrors && res.Failures > 0 {
		return fmt.Errorf("%d %w", res.Failures, errMessagesFailed)
	}
	return nil
}

// buildOptions maps the loaded configuration onto runner options. Timing
// settings apply to the main phase; warmup uses runner.DefaultWarmupTiming.
func buildOptions(cfg *config.Config) (runner.Options, error) {
	mode, err := ratelimit.ParseMode(cfg.Rate.Mode)
	if err != nil {
		return runner.Options{}, err
	}
	return runner.Options{
		Total:          cfg.Total,
		Rooms:          cfg.Rooms,
		QueueCapacity:  cfg.QueueCapacity,
		WarmupWorkers:  cfg.Warmup.Workers,
		WarmupQuota:    cfg.Warmup.Quota,
		WarmupTimeout:  cfg.Warmup.Timeout,
		MainWorkerCap:  cfg.Main.WorkerCap,
		MainMultiplier: cfg.Main.Multiplier,
		Parallelism:    cfg.Main.Parallelism,
		MainTimeout:    cfg.Main.Timeout,
		WarmupTiming:   runner.DefaultWarmupTiming,
		MainTiming: runner.Timing{
			ConnectTimeout:  cfg.ConnectTimeout,
			ResponseTimeout: cfg.ResponseTimeout,
			BackoffBase:     cfg.Retry.BaseDelay,
		},
		MaxAttempts:      cfg.Retry.MaxAttempts,
		PollTimeout:      cfg.PollTimeout,
		GracefulShutdown: cfg.GracefulShutdown,
		Limiter:          ratelimit.New(mode, cfg.Rate.Limit),
	}, nil
}

func printReport(w io.Writer, format config.ReportFormat, report output.Report) error {
	switch format {
	case config.ReportFormatJSON:
		return output.PrintJSONReport(w, report)
	case config.ReportFormatYAML:
		return output.PrintYAMLReport(w, report)
	default:
		output.PrintReport(w, report)
		return nil
	}
}

func writeExports(cfg *config.Config, collector *metrics.Collector, stats metrics.Stats, logger *zap.Logger) error {
	if cfg.MetricsCSV != "" {
		if err := output.WriteMetricsCSV(cfg.MetricsCSV, collector.Records()); err != nil {
			return fmt.Errorf("metrics csv: %w", err)
		}
		logger.Info("wrote metrics csv", zap.String("path", cfg.MetricsCSV))
	}
	if cfg.ThroughputCSV != "" {
		if err := output.WriteThroughputCSV(cfg.ThroughputCSV, stats.Throughput); err != nil {
			return fmt.Errorf("throughput csv: %w", err)
		}
		logger.Info("wrote throughput csv", zap.String("path", cfg.ThroughputCSV))
	}
	return nil
}

func toHeader(headers map[string]string) http.Header {
	if len(headers) == 0 {
		return nil
	}
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return h
}
