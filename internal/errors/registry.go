package errors

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Configuration (K100-K199)

	"K100": {
		Category:   CategoryConfig,
		Message:    "Configuration file not found",
		Suggestion: "Pass --config with an existing file or run without it to use the defaults",
	},
	"K101": {
		Category:   CategoryConfig,
		Message:    "Configuration file is not valid YAML",
		Suggestion: "Check indentation; YAML does not allow tabs",
	},
	"K102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
	},
	"K103": {
		Category:   CategoryConfig,
		Message:    "Configuration does not match the schema",
		Suggestion: "Check the spelling of the key and the type of its value",
	},

	// Startup (K200-K299)

	"K200": {
		Category:   CategoryStartup,
		Message:    "Runtime directory unavailable",
		Detail:     "The listening sockets are created in the runtime directory.",
		Suggestion: "Set XDG_RUNTIME_DIR or runtime_dir in the configuration",
	},
	"K201": {
		Category:   CategoryStartup,
		Message:    "Socket already in use",
		Detail:     "Another server is accepting connections on this socket.",
		Suggestion: "Stop the other server or choose a different socket name",
	},
	"K202": {
		Category: CategoryStartup,
		Message:  "Cannot listen on socket",
	},
	"K203": {
		Category:   CategoryStartup,
		Message:    "Cannot open log file",
		Suggestion: "Check that the directory exists and is writable",
	},
	"K204": {
		Category: CategoryStartup,
		Message:  "Diagnostic endpoint failed",
	},

	// Command line (K300-K399)

	"K300": {
		Category:   CategoryCLI,
		Message:    "Diagnostic endpoint unreachable",
		Suggestion: "Start the server with diag.address set, or pass --addr",
	},
	"K301": {
		Category: CategoryCLI,
		Message:  "Diagnostic endpoint returned an error",
	},
	"K302": {
		Category:   CategoryCLI,
		Message:    "Unknown log level",
		Suggestion: "Use one of error, warn, info, debug, trace",
	},
}

// Lookup returns the template registered for code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
