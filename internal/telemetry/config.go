package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	// Enabled turns span export on. When false every helper in this
	// package degrades to a no-op.
	Enabled bool

	// ServiceName is reported to the trace backend as service.name
	ServiceName string

	// ServiceVersion is reported as service.version
	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint, host:port (e.g. "localhost:4317")
	Endpoint string

	// Insecure disables TLS on the exporter connection
	Insecure bool

	// SampleRate is the head sampling ratio in [0.0, 1.0].
	// 1.0 samples every trace.
	SampleRate float64
}

// DefaultConfig returns the configuration used when nothing is set:
// tracing disabled, local collector endpoint, full sampling.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "shuttle",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
