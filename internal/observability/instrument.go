package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Exporter selects where OpenTelemetry log records are sent.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	ExporterOTLPHTTP Exporter = "otlp-http"
	ExporterStdout   Exporter = "stdout"
)

// instrumentationName identifies records bridged from slog.
const instrumentationName = "github.com/florianilch/graphauth"

// Options describes the logging setup.
type Options struct {
	Level  slog.Level
	Format string // "text" or "json"

	// File switches local output from Writer to a rotating log file.
	File       string
	MaxSizeMB  int
	MaxBackups int

	Exporter Exporter
	Endpoint string
	Insecure bool

	// Writer receives local output when File is empty; defaults to stderr.
	// The stdout exporter writes here as well.
	Writer io.Writer
}

// Instrument builds the logger described by opts and installs it as the slog
// default. The returned function flushes and closes every sink.
func Instrument(ctx context.Context, opts Options) (_ func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error
	shutdownAll := func(ctx context.Context) error {
		var errs []error
		for i := len(shutdownFuncs) - 1; i >= 0; i-- {
			errs = append(errs, shutdownFuncs[i](ctx))
		}
		return errors.Join(errs...)
	}
	defer func() {
		if err != nil {
			_ = shutdownAll(ctx)
		}
	}()

	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	if opts.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		}
		shutdownFuncs = append(shutdownFuncs, func(context.Context) error { return rotating.Close() })
		writer = rotating
	}

	local, err := newLocalHandler(writer, opts.Format, opts.Level)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler = local
	if opts.Exporter != "" && opts.Exporter != ExporterNone {
		exporter, err := newExporter(ctx, opts, writer)
		if err != nil {
			return nil, err
		}

		processor := minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severityFor(opts.Level))
		provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(processor))
		shutdownFuncs = append(shutdownFuncs, provider.Shutdown)
		global.SetLoggerProvider(provider)

		// Pipeline errors go to the local handler only, a failing exporter
		// must not feed itself
		internal := slog.New(local)
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			internal.Warn("opentelemetry pipeline error", "error", err)
		}))

		handler = fanout{local, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))}
	}

	slog.SetDefault(slog.New(handler))
	return shutdownAll, nil
}

func newLocalHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

func newExporter(ctx context.Context, opts Options, w io.Writer) (sdklog.Exporter, error) {
	switch opts.Exporter {
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case ExporterOTLPGRPC:
		var grpcOpts []otlploggrpc.Option
		if opts.Endpoint != "" {
			grpcOpts = append(grpcOpts, otlploggrpc.WithEndpoint(opts.Endpoint))
		}
		if opts.Insecure {
			grpcOpts = append(grpcOpts, otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, grpcOpts...)
	case ExporterOTLPHTTP:
		var httpOpts []otlploghttp.Option
		if opts.Endpoint != "" {
			httpOpts = append(httpOpts, otlploghttp.WithEndpoint(opts.Endpoint))
		}
		if opts.Insecure {
			httpOpts = append(httpOpts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, httpOpts...)
	default:
		return nil, fmt.Errorf("unsupported log exporter %q", opts.Exporter)
	}
}

func severityFor(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
