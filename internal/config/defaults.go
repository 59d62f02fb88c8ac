package config

// Default values for configuration options, layer 0 of the override chain.
const (
	defaultTusEndpoint     = "/api/tus"
	defaultRoutePrefix     = "/files"
	defaultChunkSize       = "10MiB"
	defaultRetryCount      = 5
	defaultParallelBatch   = 8
	defaultParallelUploads = 4
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
	defaultConnectTimeout  = "10s"
	defaultServerURL       = "http://localhost:8080"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			URL:         defaultServerURL,
			TusEndpoint: defaultTusEndpoint,
			TusEnabled:  true,
			ProbeTus:    true,
			RoutePrefix: defaultRoutePrefix,
		},
		Transfers: TransfersConfig{
			ChunkSize:       defaultChunkSize,
			RetryCount:      defaultRetryCount,
			ParallelBatch:   defaultParallelBatch,
			ParallelUploads: defaultParallelUploads,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
		},
	}
}
