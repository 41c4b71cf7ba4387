// Package observability wires the process-wide slog default handler to the
// OpenTelemetry log SDK. Records flow through a severity filter into either
// a stdout exporter or an OTLP collector endpoint.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const scopeName = "github.com/inkverse/inkgate"

// Exporter selects where structured log records are shipped.
type Exporter string

const (
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
)

// ShutdownFunc flushes and stops the logging pipeline.
type ShutdownFunc func(context.Context) error

// Instrument installs the global slog handler.
//
// format "text" selects a plain human-readable handler that skips the otel
// pipeline entirely; "json" routes records through the otel log SDK to the
// chosen exporter. The returned shutdown function must be called before
// process exit to flush batched records.
func Instrument(level slog.Level, format string, exporter Exporter) (ShutdownFunc, error) {
	if format == "text" {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler))
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(exporter)
	if err != nil {
		return nil, err
	}

	processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exp), severityFor(level))
	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
	global.SetLoggerProvider(provider)

	handler := otelslog.NewHandler(scopeName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(slog.New(handler))

	return provider.Shutdown, nil
}

func newExporter(exporter Exporter) (sdklog.Exporter, error) {
	ctx := context.Background()
	switch exporter {
	case "", ExporterStdout:
		return stdoutlog.New()
	case ExporterOTLPHTTP:
		// Endpoint configuration comes from the standard OTEL_EXPORTER_OTLP_*
		// environment variables.
		return otlploghttp.New(ctx)
	case ExporterOTLPGRPC:
		return otlploggrpc.New(ctx)
	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", exporter)
	}
}

// severityFor maps slog levels to the minimum otel severity passed through
// the filter processor.
func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
