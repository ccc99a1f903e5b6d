package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "roomfire",
		Short:         "WebSocket room chat load generator",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.StringP("server", "s", DefaultServer, "Chat server base URL (ws:// or wss://)")
	flags.StringSlice("header", nil, "Additional handshake header in key=value form")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Workload
	flags.IntP("total", "t", DefaultTotal, "Total number of messages to send")
	flags.Int("rooms", DefaultRooms, "Number of chat rooms (1..n)")
	flags.Int("queue-capacity", DefaultQueueCapacity, "Capacity of the message queue between generator and workers")

	// Phases
	flags.Int("warmup-workers", DefaultWarmupWorkers, "Warmup worker count (0 disables warmup)")
	flags.Int("warmup-quota", DefaultWarmupQuota, "Messages per warmup worker")
	flags.Duration("warmup-timeout", DefaultWarmupTimeout, "Warmup phase timeout")
	flags.Int("main-worker-cap", DefaultMainWorkerCap, "Upper bound on main phase workers")
	flags.Int("main-multiplier", DefaultMainMultiplier, "Main phase workers per CPU")
	flags.Int("parallelism", 0, "CPU count used to size the main phase (0 = detected)")
	flags.Duration("main-timeout", DefaultMainTimeout, "Main phase timeout")

	// Pacing and retries
	flags.IntP("rate", "r", 0, "Messages per second limit for the main phase (0 means unlimited)")
	flags.String("rate-mode", DefaultRateMode, "Rate limiter mode: 'window' (bursty) or 'smooth'")
	flags.Int("max-attempts", DefaultMaxAttempts, "Send attempts per message before it counts as failed")
	flags.Duration("base-delay", DefaultBaseDelay, "Base retry backoff for the main phase")
	flags.Duration("connect-timeout", DefaultConnectTimeout, "Room connection timeout for the main phase")
	flags.Duration("response-timeout", DefaultResponseTimeout, "Reply timeout for the main phase")
	flags.Duration("poll-timeout", DefaultPollTimeout, "How long a worker waits on an empty queue before re-checking")
	flags.Duration("graceful-shutdown", DefaultGracefulShutdown, "Max time to wait for in-flight messages after the main phase")

	// Output
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.String("report-format", string(ReportFormatText), "Report format: 'text', 'json' or 'yaml'")
	flags.String("metrics-csv", "", "Write per-message records to this CSV file")
	flags.String("throughput-csv", "", "Write 10-second throughput buckets to this CSV file")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.StringSlice("threshold", nil, "Performance thresholds (repeatable, e.g., 'latency:p95 < 500')")
	flags.Bool("fail-on-errors", false, "Exit non-zero when any message failed")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.String("log-format", DefaultLogFormat, "Log format: console or json")

	// Tracing
	flags.String("tracing-endpoint", "", "OTLP endpoint for trace export (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.String("tracing-service-name", "", "Service name reported with traces")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of messages traced (0.0-1.0)")
	flags.Bool("tracing-insecure", false, "Export traces without TLS")
	flags.Bool("tracing-propagate", false, "Inject trace context into handshake headers")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("server") {
		val, err := fs.GetString("server")
		if err != nil {
			return err
		}
		cfg.Server = strings.TrimSpace(val)
	}
	if fs.Changed("header") {
		vals, err := fs.GetStringSlice("header")
		if err != nil {
			return err
		}
		for _, kv := range vals {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return fmt.Errorf("header %q must be in key=value form", kv)
			}
			cfg.Headers[http.CanonicalHeaderKey(strings.TrimSpace(key))] = strings.TrimSpace(value)
		}
	}

	ints := []struct {
		flag string
		dst  *int
	}{
		{"total", &cfg.Total},
		{"rooms", &cfg.Rooms},
		{"queue-capacity", &cfg.QueueCapacity},
		{"warmup-workers", &cfg.Warmup.Workers},
		{"warmup-quota", &cfg.Warmup.Quota},
		{"main-worker-cap", &cfg.Main.WorkerCap},
		{"main-multiplier", &cfg.Main.Multiplier},
		{"parallelism", &cfg.Main.Parallelism},
		{"rate", &cfg.Rate.Limit},
		{"max-attempts", &cfg.Retry.MaxAttempts},
	}
	for _, f := range ints {
		if !fs.Changed(f.flag) {
			continue
		}
		val, err := fs.GetInt(f.flag)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	durations := []struct {
		flag string
		dst  *time.Duration
	}{
		{"warmup-timeout", &cfg.Warmup.Timeout},
		{"main-timeout", &cfg.Main.Timeout},
		{"base-delay", &cfg.Retry.BaseDelay},
		{"connect-timeout", &cfg.ConnectTimeout},
		{"response-timeout", &cfg.ResponseTimeout},
		{"poll-timeout", &cfg.PollTimeout},
		{"graceful-shutdown", &cfg.GracefulShutdown},
	}
	for _, f := range durations {
		if !fs.Changed(f.flag) {
			continue
		}
		val, err := fs.GetDuration(f.flag)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	strs := []struct {
		flag string
		dst  *string
	}{
		{"rate-mode", &cfg.Rate.Mode},
		{"metrics-csv", &cfg.MetricsCSV},
		{"throughput-csv", &cfg.ThroughputCSV},
		{"metrics-addr", &cfg.MetricsAddr},
		{"log-level", &cfg.LogLevel},
		{"log-format", &cfg.LogFormat},
		{"tracing-endpoint", &cfg.Tracing.Endpoint},
		{"tracing-protocol", &cfg.Tracing.Protocol},
		{"tracing-service-name", &cfg.Tracing.ServiceName},
	}
	for _, f := range strs {
		if !fs.Changed(f.flag) {
			continue
		}
		val, err := fs.GetString(f.flag)
		if err != nil {
			return err
		}
		*f.dst = strings.TrimSpace(val)
	}

	if fs.Changed("report-format") {
		val, err := fs.GetString("report-format")
		if err != nil {
			return err
		}
		cfg.ReportFormat = ReportFormat(strings.TrimSpace(val))
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("fail-on-errors") {
		val, err := fs.GetBool("fail-on-errors")
		if err != nil {
			return err
		}
		cfg.FailOnErrors = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		cfg.Tracing.Propagate = &val
	}

	return nil
}
