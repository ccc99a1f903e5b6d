// Package tracing exports task and attempt spans over OTLP and propagates W3C
// trace context into chat handshakes.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/roomfire/internal/config"
)

const (
	defaultServiceName  = "roomfire"
	instrumentationName = "github.com/torosent/roomfire"
)

// Provider owns the tracer used by the runner for one load run.
type Provider struct {
	tp        *sdktrace.TracerProvider
	tracer    trace.Tracer
	propagate bool
}

// exportTarget is the tracing config with environment fallbacks applied.
type exportTarget struct {
	endpoint string
	protocol string
	service  string
}

func resolveTarget(cfg config.TracingConfig) exportTarget {
	t := exportTarget{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		protocol: strings.ToLower(strings.TrimSpace(cfg.Protocol)),
		service:  strings.TrimSpace(cfg.ServiceName),
	}
	if t.endpoint == "" {
		t.endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if t.protocol == "" {
		t.protocol = "grpc"
	}
	if t.service == "" {
		t.service = os.Getenv("OTEL_SERVICE_NAME")
	}
	if t.service == "" {
		t.service = defaultServiceName
	}
	return t
}

// Init builds the span pipeline for one run. Without an endpoint it returns a
// provider whose tracer is a no-op. The run id becomes service.instance.id so
// every span of one run can be found together.
func Init(ctx context.Context, cfg config.TracingConfig, runID string) (*Provider, error) {
	target := resolveTarget(cfg)
	if target.endpoint == "" {
		return &Provider{propagate: cfg.Propagate != nil && *cfg.Propagate}, nil
	}

	sampler, err := newSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(target.service)}
	if runID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(runID))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := newExporter(ctx, target, cfg.Insecure)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		tp:        tp,
		tracer:    tp.Tracer(instrumentationName),
		propagate: cfg.ShouldPropagate(),
	}, nil
}

// newSampler traces the given fraction of tasks.
func newSampler(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		return sdktrace.NeverSample(), nil
	case rate == 1:
		return sdktrace.AlwaysSample(), nil
	default:
		return sdktrace.TraceIDRatioBased(rate), nil
	}
}

func newExporter(ctx context.Context, target exportTarget, plaintext bool) (sdktrace.SpanExporter, error) {
	switch target.protocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(target.endpoint)}
		if plaintext {
			opts = append(opts, otlptracegrpc.WithDialOption(
				grpc.WithTransportCredentials(insecure.NewCredentials())))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(target.endpoint)}
		if plaintext {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", target.protocol)
	}
}

// Tracer returns the run tracer, or a no-op tracer when export is off.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

func (p *Provider) ShouldPropagate() bool {
	return p != nil && p.propagate
}

// HandshakeInjector returns a function that adds trace context to WebSocket
// handshake headers, or nil when propagation is off.
func (p *Provider) HandshakeInjector() func(ctx context.Context, headers http.Header) {
	if !p.ShouldPropagate() {
		return nil
	}
	return InjectHTTPHeaders
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}
