package tracing

import (
	"strings"
	"testing"

	"github.com/torosent/roomfire/internal/config"
)

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "AlwaysOffSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "TraceIDRatioBased"},
	}
	for _, tt := range tests {
		s, err := newSampler(tt.rate)
		if err != nil {
			t.Fatalf("newSampler(%g) error = %v", tt.rate, err)
		}
		if !strings.Contains(s.Description(), tt.want) {
			t.Errorf("newSampler(%g).Description() = %q, want %s", tt.rate, s.Description(), tt.want)
		}
	}

	if _, err := newSampler(1.01); err == nil {
		t.Error("newSampler(1.01) should return error")
	}
}

func TestResolveTargetFallsBackToEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_SERVICE_NAME", "")

	got := resolveTarget(config.TracingConfig{Protocol: " HTTP "})
	if got.endpoint != "collector:4317" {
		t.Errorf("endpoint = %q, want collector:4317", got.endpoint)
	}
	if got.protocol != "http" {
		t.Errorf("protocol = %q, want http", got.protocol)
	}
	if got.service != defaultServiceName {
		t.Errorf("service = %q, want %s", got.service, defaultServiceName)
	}

	t.Setenv("OTEL_SERVICE_NAME", "chat-load")
	got = resolveTarget(config.TracingConfig{Endpoint: "otel:4317", ServiceName: ""})
	if got.endpoint != "otel:4317" || got.protocol != "grpc" || got.service != "chat-load" {
		t.Errorf("resolveTarget() = %+v", got)
	}
}
