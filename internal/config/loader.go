package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns a Config populated with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Server:        DefaultServer,
		Headers:       map[string]string{},
		Total:         DefaultTotal,
		Rooms:         DefaultRooms,
		QueueCapacity: DefaultQueueCapacity,
		Warmup: WarmupConfig{
			Workers: DefaultWarmupWorkers,
			Quota:   DefaultWarmupQuota,
			Timeout: DefaultWarmupTimeout,
		},
		Main: MainConfig{
			WorkerCap:  DefaultMainWorkerCap,
			Multiplier: DefaultMainMultiplier,
			Timeout:    DefaultMainTimeout,
		},
		Rate: RateConfig{Mode: DefaultRateMode},
		Retry: RetryConfig{
			MaxAttempts: DefaultMaxAttempts,
			BaseDelay:   DefaultBaseDelay,
		},
		ConnectTimeout:   DefaultConnectTimeout,
		ResponseTimeout:  DefaultResponseTimeout,
		PollTimeout:      DefaultPollTimeout,
		GracefulShutdown: DefaultGracefulShutdown,
		ReportFormat:     ReportFormatText,
		LogLevel:         DefaultLogLevel,
		LogFormat:        DefaultLogFormat,
		Tracing:          TracingConfig{Protocol: "grpc", SampleRate: 1.0},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
// Precedence is defaults, then the config file, then explicitly set flags.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.Server = strings.TrimRight(strings.TrimSpace(cfg.Server), "/")
	cfg.Rate.Mode = strings.ToLower(strings.TrimSpace(cfg.Rate.Mode))
	cfg.ReportFormat = ReportFormat(strings.ToLower(string(cfg.ReportFormat)))
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}
	s, err := newSection(settings)
	if err != nil {
		return err
	}

	if err := set(s, &cfg.Server, trimmedString, "server", "target"); err != nil {
		return err
	}
	if raw, ok := s.lookup("headers"); ok {
		hdrs, err := asHeaders(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		for k, v := range hdrs {
			cfg.Headers[k] = v
		}
	}

	for _, f := range []struct {
		key string
		dst *int
	}{
		{"total", &cfg.Total},
		{"rooms", &cfg.Rooms},
		{"queue_capacity", &cfg.QueueCapacity},
	} {
		if err := set(s, f.dst, asInt, f.key); err != nil {
			return err
		}
	}

	sections := []struct {
		key   string
		apply func(section) error
	}{
		{"warmup", func(sub section) error { return parseWarmup(sub, &cfg.Warmup) }},
		{"main", func(sub section) error { return parseMain(sub, &cfg.Main) }},
		{"retry", func(sub section) error { return parseRetry(sub, &cfg.Retry) }},
		{"tracing", func(sub section) error { return parseTracing(sub, &cfg.Tracing) }},
	}
	for _, sec := range sections {
		raw, ok := s.lookup(sec.key)
		if !ok {
			continue
		}
		sub, err := newSection(raw)
		if err == nil {
			err = sec.apply(sub)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", sec.key, err)
		}
	}
	if raw, ok := s.lookup("rate"); ok {
		if err := parseRate(raw, &cfg.Rate); err != nil {
			return fmt.Errorf("rate: %w", err)
		}
	}

	for _, f := range []struct {
		key string
		dst *time.Duration
	}{
		{"connect_timeout", &cfg.ConnectTimeout},
		{"response_timeout", &cfg.ResponseTimeout},
		{"poll_timeout", &cfg.PollTimeout},
		{"graceful_shutdown", &cfg.GracefulShutdown},
	} {
		if err := set(s, f.dst, asDuration, f.key); err != nil {
			return err
		}
	}

	for _, f := range []struct {
		key string
		dst *string
	}{
		{"metrics_csv", &cfg.MetricsCSV},
		{"throughput_csv", &cfg.ThroughputCSV},
		{"metrics_addr", &cfg.MetricsAddr},
		{"log_level", &cfg.LogLevel},
		{"log_format", &cfg.LogFormat},
	} {
		if err := set(s, f.dst, trimmedString, f.key); err != nil {
			return err
		}
	}

	var format string
	if err := set(s, &format, trimmedString, "report_format"); err != nil {
		return err
	}
	if format != "" {
		cfg.ReportFormat = ReportFormat(format)
	}
	if err := set(s, &cfg.JSONOutput, asBool, "json_output"); err != nil {
		return err
	}
	if err := set(s, &cfg.FailOnErrors, asBool, "fail_on_errors"); err != nil {
		return err
	}
	return set(s, &cfg.Thresholds, asStringSlice, "thresholds")
}

func parseWarmup(s section, w *WarmupConfig) error {
	if err := set(s, &w.Workers, asInt, "workers"); err != nil {
		return err
	}
	if err := set(s, &w.Quota, asInt, "quota"); err != nil {
		return err
	}
	return set(s, &w.Timeout, asDuration, "timeout")
}

func parseMain(s section, m *MainConfig) error {
	if err := set(s, &m.WorkerCap, asInt, "worker_cap"); err != nil {
		return err
	}
	if err := set(s, &m.Multiplier, asInt, "multiplier"); err != nil {
		return err
	}
	if err := set(s, &m.Parallelism, asInt, "parallelism"); err != nil {
		return err
	}
	return set(s, &m.Timeout, asDuration, "timeout")
}

// parseRate accepts either a bare number ("rate: 500") or a map with limit
// and mode.
func parseRate(value interface{}, r *RateConfig) error {
	if _, ok := number(value); ok {
		limit, err := asInt(value)
		r.Limit = limit
		return err
	}
	if str, ok := value.(string); ok {
		limit, err := asInt(str)
		r.Limit = limit
		return err
	}

	s, err := newSection(value)
	if err != nil {
		return err
	}
	if err := set(s, &r.Limit, asInt, "limit"); err != nil {
		return err
	}
	return set(s, &r.Mode, trimmedString, "mode")
}

func parseRetry(s section, r *RetryConfig) error {
	if err := set(s, &r.MaxAttempts, asInt, "max_attempts"); err != nil {
		return err
	}
	return set(s, &r.BaseDelay, asDuration, "base_delay")
}

func parseTracing(s section, t *TracingConfig) error {
	if err := set(s, &t.Endpoint, trimmedString, "endpoint"); err != nil {
		return err
	}
	if err := set(s, &t.Protocol, trimmedString, "protocol"); err != nil {
		return err
	}
	if err := set(s, &t.ServiceName, trimmedString, "service_name"); err != nil {
		return err
	}
	if err := set(s, &t.SampleRate, asFloat64, "sample_rate"); err != nil {
		return err
	}
	if err := set(s, &t.Insecure, asBool, "insecure"); err != nil {
		return err
	}
	if _, ok := s.lookup("propagate"); ok {
		var propagate bool
		if err := set(s, &propagate, asBool, "propagate"); err != nil {
			return err
		}
		t.Propagate = &propagate
	}
	return nil
}
