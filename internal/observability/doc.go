// Package observability installs the process-wide slog logger.
//
// Records go to a local handler (text or JSON, on stderr or a rotating file)
// and, when an exporter is configured, to an OpenTelemetry log pipeline as
// well. Call the returned shutdown function before exit to flush the pipeline.
package observability
