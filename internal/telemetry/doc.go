// Package telemetry wires OpenTelemetry tracing and metrics for cycled.
//
// Export is OTLP over HTTP. Telemetry failures never crash an agent; the
// providers degrade to no-ops. The supervisor additionally exposes a small
// prometheus surface for restart accounting.
package telemetry
