package server

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// Config holds configuration for the protocol runtime.
type Config struct {
	// Limits

	// MaxMessageSize is the largest request accepted from a client.
	// Default: 4096 bytes.
	MaxMessageSize int

	// MaxOutputBuffer is how many bytes of unsent events a client may
	// accumulate before it is disconnected as slow.
	// Default: 4MB.
	MaxOutputBuffer int

	// MaxClients caps concurrent connections. 0 means unlimited.
	// Default: 0.
	MaxClients int

	// ReadBufferSize is the size of each socket read.
	// Default: 4096 bytes.
	ReadBufferSize int

	// Timeouts

	// WriteTimeout bounds the final flush when a client is disconnected.
	// Default: 1 second.
	WriteTimeout time.Duration

	// Diagnostics

	// LogPath is the file the log sink writes to. Reported by jay_log_file.
	LogPath string

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// LogLevel is the dynamic severity threshold shared with the log
	// handler. Default: a new LevelVar at Info.
	LogLevel *slog.LevelVar

	// Registry receives the runtime metrics. Default: a new registry.
	Registry *prometheus.Registry

	// TracerName names the OpenTelemetry tracer. Default: "kestrel".
	TracerName string

	// TracerProvider creates the dispatch tracer.
	// Default: the global provider.
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxMessageSize:  protocol.DefaultMaxMessageSize,
		MaxOutputBuffer: 4 * 1024 * 1024,
		ReadBufferSize:  4096,
		WriteTimeout:    time.Second,
		TracerName:      "kestrel",
	}
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// WithLogger sets the base logger.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// WithLogLevel sets the shared severity threshold.
func (c *Config) WithLogLevel(level *slog.LevelVar) *Config {
	c.LogLevel = level
	return c
}

// WithLogPath sets the path reported for the log file.
func (c *Config) WithLogPath(path string) *Config {
	c.LogPath = path
	return c
}

// WithRegistry sets the Prometheus registry.
func (c *Config) WithRegistry(registry *prometheus.Registry) *Config {
	c.Registry = registry
	return c
}

// WithTracerProvider sets the provider of the dispatch tracer.
func (c *Config) WithTracerProvider(tp trace.TracerProvider) *Config {
	c.TracerProvider = tp
	return c
}

// WithMaxClients sets the client limit.
func (c *Config) WithMaxClients(max int) *Config {
	c.MaxClients = max
	return c
}

// WithMaxOutputBuffer sets the slow-client threshold.
func (c *Config) WithMaxOutputBuffer(n int) *Config {
	c.MaxOutputBuffer = n
	return c
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.MaxOutputBuffer <= 0 {
		c.MaxOutputBuffer = defaults.MaxOutputBuffer
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.TracerName == "" {
		c.TracerName = defaults.TracerName
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.LogLevel == nil {
		c.LogLevel = new(slog.LevelVar)
	}
	if c.Registry == nil {
		c.Registry = prometheus.NewRegistry()
	}
}
