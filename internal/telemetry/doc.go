// Package telemetry wires OpenTelemetry tracing and metrics for incidentd.
//
// When enabled, it installs global tracer and meter providers backed by OTLP
// gRPC exporters, so every package's otel.Tracer and otel.Meter calls export
// for free. Telemetry failures never crash the process: a failed exporter
// leaves the instance degraded and the globals as no-ops.
package telemetry
