package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrel-wm/kestrel/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// defaultDiagAddr is where the client commands look for a running server
// when --addr is not given.
const defaultDiagAddr = "127.0.0.1:9190"

func main() {
	rootCmd := &cobra.Command{
		Use:   "kestrel",
		Short: "A Wayland protocol server",
		Long: `Kestrel serves the Wayland wire protocol on a Unix socket.

Clients bind the compositor, shared memory, seat and output globals.
A second, privileged socket exposes jay_compositor to trusted tools.

The diagnostic endpoint serves Prometheus metrics, the current globals,
connected clients and the log level, and optionally the protocol itself
over WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		logLevelCmd(),
		inspectCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		errors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}
