package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-wm/kestrel/internal/errors"
	"github.com/kestrel-wm/kestrel/pkg/ifs"
	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

const (
	// DefaultSocket is the name of the unprivileged socket.
	DefaultSocket = "wayland-1"

	// PrivilegedSuffix is appended to the socket name for the privileged
	// socket when none is configured.
	PrivilegedSuffix = ".jay"

	// DefaultLogFile is the log file name inside the runtime directory.
	DefaultLogFile = "kestrel.log"

	// DefaultLogLevel is the initial log level.
	DefaultLogLevel = "info"

	// DefaultSeat is the name of the only seat.
	DefaultSeat = "seat0"

	// DefaultMaxOutputBuffer is how many bytes of events may be queued for
	// one client.
	DefaultMaxOutputBuffer = 4 * 1024 * 1024
)

// Config is the complete configuration file.
type Config struct {
	// Socket is the unprivileged socket, relative to RuntimeDir unless
	// absolute.
	Socket string `yaml:"socket,omitempty"`

	// PrivilegedSocket accepts clients that may bind secure globals.
	// Empty disables it.
	PrivilegedSocket string `yaml:"privileged_socket,omitempty"`

	// RuntimeDir holds the sockets. Defaults to $XDG_RUNTIME_DIR.
	RuntimeDir string `yaml:"runtime_dir,omitempty"`

	Log     LogConfig      `yaml:"log,omitempty"`
	Diag    DiagConfig     `yaml:"diag,omitempty"`
	Limits  LimitsConfig   `yaml:"limits,omitempty"`
	Seat    SeatConfig     `yaml:"seat,omitempty"`
	Outputs []OutputConfig `yaml:"outputs,omitempty"`

	// path stores the path where the config was loaded from.
	path string

	// root is the parsed document, kept for error positions.
	root *yaml.Node
}

// LogConfig configures the log sink.
type LogConfig struct {
	// File is the log file. Defaults to kestrel.log in RuntimeDir.
	File string `yaml:"file,omitempty"`

	// Level is one of error, warn, info, debug, trace.
	Level string `yaml:"level,omitempty"`

	// Stderr also writes the log to standard error.
	Stderr bool `yaml:"stderr,omitempty"`
}

// DiagConfig configures the diagnostic HTTP endpoint.
type DiagConfig struct {
	// Address is the TCP listen address. Empty disables the endpoint.
	Address string `yaml:"address,omitempty"`

	// WebSocket serves the protocol on /wayland.
	WebSocket bool `yaml:"websocket,omitempty"`
}

// LimitsConfig bounds what clients may consume.
type LimitsConfig struct {
	MaxMessageSize  int `yaml:"max_message_size,omitempty"`
	MaxOutputBuffer int `yaml:"max_output_buffer,omitempty"`
	MaxClients      int `yaml:"max_clients,omitempty"`
}

// SeatConfig configures the seat.
type SeatConfig struct {
	Name string `yaml:"name,omitempty"`
}

// OutputConfig describes one advertised output.
type OutputConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Make        string `yaml:"make,omitempty"`
	Model       string `yaml:"model,omitempty"`
	X           int32  `yaml:"x,omitempty"`
	Y           int32  `yaml:"y,omitempty"`
	Width       int32  `yaml:"width"`
	Height      int32  `yaml:"height"`

	// PhysicalWidth and PhysicalHeight are in millimeters.
	PhysicalWidth  int32 `yaml:"physical_width,omitempty"`
	PhysicalHeight int32 `yaml:"physical_height,omitempty"`

	// Refresh is in mHz.
	Refresh int32 `yaml:"refresh,omitempty"`
	Scale   int32 `yaml:"scale,omitempty"`
}

// New returns a configuration with defaults for everything except the
// runtime directory, which comes from the environment.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the configuration from path. An empty path returns New().
func Load(path string) (*Config, error) {
	if path == "" {
		return New(), nil
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("K100").
				WithDetail("No configuration at " + path).
				Wrap(err)
		}
		return nil, errors.New("K101").Wrap(err)
	}

	cfg, err := Parse(data)
	if err != nil {
		if e, ok := err.(*errors.Error); ok && e.Location != nil {
			e.WithLocation(path, e.Location.Line, e.Location.Column)
		}
		return nil, err
	}
	cfg.path = path
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		e := errors.New("K101").WithDetail(err.Error()).Wrap(err)
		if line := errorLine(err); line > 0 {
			e.Location = &errors.Location{Line: line}
		}
		return nil, e
	}
	if len(root.Content) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			e := errors.New("K103").WithDetail(err.Error()).Wrap(err)
			if line := errorLine(err); line > 0 {
				e.Location = &errors.Location{Line: line}
			}
			return nil, e
		}
		cfg.root = &root
	}
	cfg.applyDefaults()
	return cfg, nil
}

// errorLine extracts the first "line N" position of a yaml.v3 decode error.
func errorLine(err error) int {
	msg := err.Error()
	if te, ok := err.(*yaml.TypeError); ok && len(te.Errors) > 0 {
		msg = te.Errors[0]
	}
	var line int
	if i := strings.Index(msg, "line "); i >= 0 {
		fmt.Sscanf(msg[i:], "line %d", &line)
	}
	return line
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Socket == "" {
		c.Socket = DefaultSocket
	}
	if c.PrivilegedSocket == "" {
		c.PrivilegedSocket = c.Socket + PrivilegedSuffix
	}
	if c.RuntimeDir == "" {
		c.RuntimeDir = os.Getenv("XDG_RUNTIME_DIR")
	}
	if c.Log.File == "" && c.RuntimeDir != "" {
		c.Log.File = filepath.Join(c.RuntimeDir, DefaultLogFile)
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Limits.MaxMessageSize == 0 {
		c.Limits.MaxMessageSize = protocol.DefaultMaxMessageSize
	}
	if c.Limits.MaxOutputBuffer == 0 {
		c.Limits.MaxOutputBuffer = DefaultMaxOutputBuffer
	}
	if c.Seat.Name == "" {
		c.Seat.Name = DefaultSeat
	}
	for i := range c.Outputs {
		if c.Outputs[i].Scale == 0 {
			c.Outputs[i].Scale = 1
		}
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RuntimeDir == "" && (!filepath.IsAbs(c.Socket) || !filepath.IsAbs(c.Log.File)) {
		return errors.New("K200")
	}
	if _, err := server.ParseLevel(c.Log.Level); err != nil {
		return c.invalid("log.level", "unknown level %q", c.Log.Level).
			WithSuggestion("Use one of " + strings.Join(server.LevelNames(), ", "))
	}
	if c.Socket == c.PrivilegedSocket {
		return c.invalid("privileged_socket", "must differ from socket %q", c.Socket)
	}
	if n := c.Limits.MaxMessageSize; n < protocol.HeaderSize || n > protocol.MaxMessageSize {
		return c.invalid("limits.max_message_size", "%d is outside %d..%d", n, protocol.HeaderSize, protocol.MaxMessageSize)
	}
	if c.Limits.MaxOutputBuffer < c.Limits.MaxMessageSize {
		return c.invalid("limits.max_output_buffer", "%d is smaller than max_message_size", c.Limits.MaxOutputBuffer)
	}
	if c.Limits.MaxClients < 0 {
		return c.invalid("limits.max_clients", "must not be negative")
	}
	names := make(map[string]bool, len(c.Outputs))
	for i, o := range c.Outputs {
		key := fmt.Sprintf("outputs.%d", i)
		switch {
		case o.Name == "":
			return c.invalid(key, "output has no name")
		case names[o.Name]:
			return c.invalid(key+".name", "duplicate output %q", o.Name)
		case o.Width <= 0 || o.Height <= 0:
			return c.invalid(key, "output %q has size %dx%d", o.Name, o.Width, o.Height)
		case o.Scale < 1:
			return c.invalid(key+".scale", "scale %d is less than 1", o.Scale)
		}
		names[o.Name] = true
	}
	return nil
}

// invalid returns a K102 error positioned at key when the position is
// known.
func (c *Config) invalid(key, format string, args ...any) *errors.Error {
	e := errors.New("K102").WithDetail(key + ": " + fmt.Sprintf(format, args...))
	if n := c.node(key); n != nil {
		if c.path != "" {
			e.WithLocation(c.path, n.Line, n.Column)
		} else {
			e.Location = &errors.Location{Line: n.Line, Column: n.Column}
		}
	}
	return e
}

// node finds the value node at a dotted key path. Numeric segments index
// sequences.
func (c *Config) node(key string) *yaml.Node {
	if c.root == nil || len(c.root.Content) == 0 {
		return nil
	}
	n := c.root.Content[0]
	for _, part := range strings.Split(key, ".") {
		switch n.Kind {
		case yaml.MappingNode:
			var next *yaml.Node
			for i := 0; i+1 < len(n.Content); i += 2 {
				if n.Content[i].Value == part {
					next = n.Content[i+1]
					break
				}
			}
			if next == nil {
				return nil
			}
			n = next
		case yaml.SequenceNode:
			var idx int
			if _, err := fmt.Sscanf(part, "%d", &idx); err != nil || idx < 0 || idx >= len(n.Content) {
				return nil
			}
			n = n.Content[idx]
		default:
			return nil
		}
	}
	return n
}

// SocketPath resolves a socket name against the runtime directory.
func (c *Config) SocketPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.RuntimeDir, name)
}

// ServerConfig returns the runtime knobs for server.New. The caller adds
// the logger, level and registry.
func (c *Config) ServerConfig() *server.Config {
	cfg := server.DefaultConfig().
		WithLogPath(c.Log.File).
		WithMaxClients(c.Limits.MaxClients).
		WithMaxOutputBuffer(c.Limits.MaxOutputBuffer)
	cfg.MaxMessageSize = c.Limits.MaxMessageSize
	return cfg
}

// Globals returns the options for ifs.Install. Without configured outputs
// the default headless output is used.
func (c *Config) Globals() ifs.Options {
	opts := ifs.DefaultOptions()
	opts.SeatName = c.Seat.Name
	if len(c.Outputs) > 0 {
		opts.Outputs = make([]ifs.OutputInfo, len(c.Outputs))
		for i, o := range c.Outputs {
			opts.Outputs[i] = ifs.OutputInfo{
				Name:           o.Name,
				Description:    o.Description,
				Make:           o.Make,
				Model:          o.Model,
				X:              o.X,
				Y:              o.Y,
				Width:          o.Width,
				Height:         o.Height,
				PhysicalWidth:  o.PhysicalWidth,
				PhysicalHeight: o.PhysicalHeight,
				RefreshMHz:     o.Refresh,
				Scale:          o.Scale,
			}
		}
	}
	return opts
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
