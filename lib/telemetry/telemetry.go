package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"skyquery/lib/configutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer from the globally registered provider.
// Library packages call this instead of otel.Tracer so provider
// wiring stays in one place.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

var providers struct {
	tracer *sdktrace.TracerProvider
	meter  *metric.MeterProvider
}

// searches up the filesystem from the cwd to find a file
// called telemetry.json5, once found it will then use it
// as a config to setup telemetry. a missing config is not an
// error: telemetry stays a no-op so library consumers and tests
// don't need an OTLP endpoint.
func SetupFromEnv(ctx context.Context, serviceName string) error {
	config, err := configutil.ReadRecursively[Config]("telemetry.json5")
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("no telemetry.json5 found, telemetry disabled", "service", serviceName)
		return nil
	}
	if err != nil {
		return err
	}
	return Setup(ctx, serviceName, config)
}

func Setup(ctx context.Context, serviceName string, config Config) error {
	r, err := newResource(serviceName)
	if err != nil {
		return err
	}

	tracerProvider, err := newTraceProvider(ctx, r, config)
	if err != nil {
		return err
	}
	otel.SetTracerProvider(tracerProvider)
	providers.tracer = tracerProvider

	meterProvider, err := newMetricProvider(ctx, r, config)
	if err != nil {
		return err
	}
	otel.SetMeterProvider(meterProvider)
	providers.meter = meterProvider

	return nil
}

func Shutdown(ctx context.Context) error {
	var errlist []error
	if providers.tracer != nil {
		if err := providers.tracer.Shutdown(ctx); err != nil {
			errlist = append(errlist, err)
		}
		providers.tracer = nil
	}
	if providers.meter != nil {
		if err := providers.meter.Shutdown(ctx); err != nil {
			errlist = append(errlist, err)
		}
		providers.meter = nil
	}
	return errors.Join(errlist...)
}

var setupTestEnvironments = map[string]bool{}

// sets up telemetry in a testing environment, ensuring that it isn't
// set up more than once
func SetupForTesting(serviceName string) func() {
	if setupTestEnvironments[serviceName] {
		return func() {}
	}
	setupTestEnvironments[serviceName] = true

	InitSlog(true)
	err := SetupFromEnv(context.Background(), serviceName)
	if err != nil {
		panic(err)
	}

	return func() {
		err := Shutdown(context.Background())
		if err != nil {
			panic(err)
		}
	}
}
