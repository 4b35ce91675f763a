// Package telemetry wires OpenTelemetry tracing and metrics export for
// signalforge.
//
// Spans are created by the engine ("engine.Decide"), the coordinator
// ("coordinator.Run", "coordinator.account") and the HTTP middleware.
// Export goes to an OTLP collector over gRPC or HTTP/protobuf:
//
//	observability:
//	  enable_telemetry: true
//	  otlp_endpoint: "localhost:4317"
//	  otlp_protocol: "grpc"
//	  sample_rate: 1.0
//	  metrics_interval: "15s"
//
// Prometheus scrape metrics are separate and served on /metrics.
//
// Tests use NewTestTelemetry:
//
//	tt := telemetry.NewTestTelemetry()
//	coord, _ := coordinator.New(..., coordinator.WithTracerProvider(tt.TracerProvider()))
//	tt.AssertSpanExists(t, "coordinator.Run")
package telemetry
