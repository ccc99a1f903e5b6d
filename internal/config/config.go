package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// ReportFormat selects how the final report is rendered.
type ReportFormat string

const (
	ReportFormatText ReportFormat = "text"
	ReportFormatJSON ReportFormat = "json"
	ReportFormatYAML ReportFormat = "yaml"
)

// Default values applied by the loader before the config file and flags.
const (
	DefaultServer           = "ws://localhost:8080"
	DefaultTotal            = 500000
	DefaultRooms            = 20
	DefaultQueueCapacity    = 100000
	DefaultWarmupWorkers    = 32
	DefaultWarmupQuota      = 1000
	DefaultWarmupTimeout    = 10 * time.Minute
	DefaultMainWorkerCap    = 256
	DefaultMainMultiplier   = 8
	DefaultMainTimeout      = 15 * time.Minute
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = 200 * time.Millisecond
	DefaultConnectTimeout   = 30 * time.Second
	DefaultResponseTimeout  = 5 * time.Second
	DefaultPollTimeout      = 5 * time.Second
	DefaultGracefulShutdown = 5 * time.Second
	DefaultRateMode         = "window"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "console"
)

type Config struct {
	Server           string            `mapstructure:"server"`
	Headers          map[string]string `mapstructure:"headers"`
	Total            int               `mapstructure:"total"`
	Rooms            int               `mapstructure:"rooms"`
	QueueCapacity    int               `mapstructure:"queue_capacity"`
	Warmup           WarmupConfig      `mapstructure:"warmup"`
	Main             MainConfig        `mapstructure:"main"`
	Rate             RateConfig        `mapstructure:"rate"`
	Retry            RetryConfig       `mapstructure:"retry"`
	ConnectTimeout   time.Duration     `mapstructure:"connect_timeout"`
	ResponseTimeout  time.Duration     `mapstructure:"response_timeout"`
	PollTimeout      time.Duration     `mapstructure:"poll_timeout"`
	GracefulShutdown time.Duration     `mapstructure:"graceful_shutdown"`
	JSONOutput       bool              `mapstructure:"json_output"`
	ReportFormat     ReportFormat      `mapstructure:"report_format"`
	MetricsCSV       string            `mapstructure:"metrics_csv"`
	ThroughputCSV    string            `mapstructure:"throughput_csv"`
	MetricsAddr      string            `mapstructure:"metrics_addr"`
	Thresholds       []string          `mapstructure:"thresholds"`
	FailOnErrors     bool              `mapstructure:"fail_on_errors"`
	LogLevel         string            `mapstructure:"log_level"`
	LogFormat        string            `mapstructure:"log_format"`
	Tracing          TracingConfig     `mapstructure:"tracing"`
	ConfigFile       string            `mapstructure:"-"`
}

type WarmupConfig struct {
	Workers int           `mapstructure:"workers"`
	Quota   int           `mapstructure:"quota"` // messages per warmup worker
	Timeout time.Duration `mapstructure:"timeout"`
}

type MainConfig struct {
	WorkerCap   int           `mapstructure:"worker_cap"`
	Multiplier  int           `mapstructure:"multiplier"`  // workers per CPU
	Parallelism int           `mapstructure:"parallelism"` // 0 uses the CPU count
	Timeout     time.Duration `mapstructure:"timeout"`
}

type RateConfig struct {
	Limit int    `mapstructure:"limit"` // messages per second, 0 = unlimited
	Mode  string `mapstructure:"mode"`  // "window" or "smooth"
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"` // nil follows Enabled
}

// Enabled reports whether an OTLP endpoint is configured either here or
// through OTEL_EXPORTER_OTLP_ENDPOINT.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context goes into handshake headers.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

// Format resolves the effective report format. JSONOutput wins for
// compatibility with --json-output.
func (c Config) Format() ReportFormat {
	if c.JSONOutput {
		return ReportFormatJSON
	}
	if c.ReportFormat == "" {
		return ReportFormatText
	}
	return c.ReportFormat
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.Server) == "" {
		issues = append(issues, "server is required (use --help for usage information)")
	} else if u, err := url.Parse(c.Server); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		issues = append(issues, fmt.Sprintf("server %q must be a ws:// or wss:// URL", c.Server))
	}

	if c.Rate.Limit > 10000 {
		fmt.Fprintf(os.Stderr, "WARNING: High rate limit configured (%d msg/s). Ensure you have authorization to test the target system.\n", c.Rate.Limit)
	}

	if c.Total < 0 {
		issues = append(issues, "total must be >= 0")
	}
	if c.Rooms < 1 {
		issues = append(issues, "rooms must be >= 1")
	}
	if c.QueueCapacity < 1 {
		issues = append(issues, "queue_capacity must be >= 1")
	}
	if c.Rate.Limit < 0 {
		issues = append(issues, "rate.limit must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(c.Rate.Mode)) {
	case "", "window", "smooth":
	default:
		issues = append(issues, fmt.Sprintf("rate.mode %q is not supported (use window or smooth)", c.Rate.Mode))
	}
	if c.Retry.MaxAttempts < 1 {
		issues = append(issues, "retry.max_attempts must be >= 1")
	}

	issues = append(issues, validatePhases(c.Warmup, c.Main)...)
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"retry.base_delay", c.Retry.BaseDelay},
		{"connect_timeout", c.ConnectTimeout},
		{"response_timeout", c.ResponseTimeout},
		{"poll_timeout", c.PollTimeout},
		{"graceful_shutdown", c.GracefulShutdown},
	} {
		if d.value < 0 {
			issues = append(issues, fmt.Sprintf("%s must be >= 0", d.name))
		}
	}

	switch c.ReportFormat {
	case "", ReportFormatText, ReportFormatJSON, ReportFormatYAML:
	default:
		issues = append(issues, fmt.Sprintf("report_format %q is not supported (use text, json or yaml)", c.ReportFormat))
	}
	if c.JSONOutput && c.ReportFormat == ReportFormatYAML {
		issues = append(issues, "json-output and report-format=yaml are mutually exclusive")
	}
	if c.MetricsCSV != "" && c.MetricsCSV == c.ThroughputCSV {
		issues = append(issues, "metrics_csv and throughput_csv must be different files")
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log_level %q is not supported", c.LogLevel))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		issues = append(issues, fmt.Sprintf("log_format %q is not supported (use console or json)", c.LogFormat))
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validatePhases(w WarmupConfig, m MainConfig) []string {
	var issues []string
	if w.Workers < 0 {
		issues = append(issues, "warmup.workers must be >= 0")
	}
	if w.Quota < 0 {
		issues = append(issues, "warmup.quota must be >= 0")
	}
	if w.Timeout <= 0 {
		issues = append(issues, "warmup.timeout must be > 0")
	}
	if m.WorkerCap < 1 {
		issues = append(issues, "main.worker_cap must be >= 1")
	}
	if m.Multiplier < 1 {
		issues = append(issues, "main.multiplier must be >= 1")
	}
	if m.Parallelism < 0 {
		issues = append(issues, "main.parallelism must be >= 0")
	}
	if m.Timeout <= 0 {
		issues = append(issues, "main.timeout must be > 0")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing.protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing.sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	if t.Insecure && t.Enabled() {
		fmt.Fprintln(os.Stderr, "WARNING: OTLP export without TLS (tracing.insecure: true). Use only against a local collector.")
	}
	return issues
}
