package tracer

// Config defines how the tracer provider of a producer or worker process is
// built.
type Config struct {
	// ServiceName identifies the process in traces, for example
	// "ojs-producer" or "ojs-worker".
	ServiceName string `mapstructure:"service_name"`

	// AppEnv is reported as the deployment.environment and environment
	// resource attributes.
	AppEnv string `mapstructure:"app_env"`

	// EnableExport sends spans to an OTLP/HTTP collector. When false, spans
	// are created and propagated but not exported.
	EnableExport bool `mapstructure:"enable_export"`

	// Endpoint is the collector's host:port. Empty uses the exporter's
	// default or OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string `mapstructure:"endpoint"`

	// Insecure disables TLS towards the collector.
	Insecure bool `mapstructure:"insecure"`

	// Propagators lists the context formats written to and read from job
	// meta: "tracecontext", "baggage" and "jaeger". Empty means tracecontext
	// and baggage.
	Propagators []string `mapstructure:"propagators"`

	// SampleRatio samples this fraction of new traces. Values outside (0, 1)
	// sample everything. Jobs always follow their producer's decision.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}
