package otelcol

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"

	"hrplane/pkg/otelcol/exporters"
)

var Module = fx.Module("otelcol",
	fx.Provide(
		exporters.ProvideHttp,
		ProvideTrace,
	),
	fx.Invoke(registerTracerProvider),
)

func ProvideTrace(exporter *otlptrace.Exporter) *trace.TracerProvider {
	return trace.NewTracerProvider(
		trace.WithResource(resource.Default()),
		trace.WithBatcher(exporter),
	)
}

func registerTracerProvider(lc fx.Lifecycle, tp *trace.TracerProvider) {
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}
