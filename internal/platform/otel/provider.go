// Package otel installs the OpenTelemetry tracer provider for cart binaries.
package otel

import (
	"context"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/louisbranch/shopping-cart/internal/platform/config"
)

// settings are read from the environment on every Setup call.
type settings struct {
	Enabled     string `env:"CART_OTEL_ENABLED"`
	Endpoint    string `env:"CART_OTEL_ENDPOINT"`
	SampleRatio string `env:"CART_OTEL_SAMPLE_RATIO"`
}

func (s settings) active() bool {
	if strings.TrimSpace(s.Endpoint) == "" {
		return false
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(s.Enabled))
	return err != nil || enabled
}

// sampler keeps every trace unless a ratio in (0, 1) is configured, in which
// case root spans are sampled at that ratio and children follow their parent.
func (s settings) sampler() sdktrace.Sampler {
	ratio, err := strconv.ParseFloat(strings.TrimSpace(s.SampleRatio), 64)
	if err != nil || ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Setup exports traces for service over OTLP/HTTP when CART_OTEL_ENDPOINT is
// set and CART_OTEL_ENABLED is not false. Otherwise nothing is installed.
// The returned function flushes pending spans.
func Setup(ctx context.Context, service string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var cfg settings
	if err := config.ParseEnv(&cfg); err != nil {
		return noop, err
	}
	if !cfg.active() {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return noop, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return provider.Shutdown, nil
}
