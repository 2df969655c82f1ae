package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/kestrel-wm/kestrel/internal/config"
	"github.com/kestrel-wm/kestrel/internal/errors"
	"github.com/kestrel-wm/kestrel/pkg/diag"
	"github.com/kestrel-wm/kestrel/pkg/ifs"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

type serveOptions struct {
	config     string
	socket     string
	diagAddr   string
	websocket  bool
	stderr     bool
	noPrivSock bool
	level      levelFlag
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		Long: `Run the server until interrupted or until a privileged client
sends jay_compositor.quit.

Configuration is read from --config when given. Flags override the file.

Examples:
  kestrel serve
  kestrel serve --config ~/.config/kestrel/config.yaml
  kestrel serve --socket wayland-2 --diag 127.0.0.1:9190 --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), &opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.config, "config", "c", "", "Configuration file (YAML)")
	f.StringVarP(&opts.socket, "socket", "S", "", "Socket name or path (default from config)")
	f.StringVar(&opts.diagAddr, "diag", "", "Diagnostic endpoint address (default from config)")
	f.BoolVar(&opts.websocket, "websocket", false, "Serve the protocol over WebSocket on the diagnostic endpoint")
	f.BoolVar(&opts.stderr, "stderr", false, "Also log to standard error")
	f.BoolVar(&opts.noPrivSock, "no-privileged-socket", false, "Do not create the privileged socket")
	f.Var(&opts.level, "log-level", "Initial log level")

	return cmd
}

// loadConfig reads the file and applies the flag overrides.
func loadConfig(opts *serveOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, err
	}
	if opts.socket != "" {
		cfg.Socket = opts.socket
		if opts.config == "" {
			cfg.PrivilegedSocket = opts.socket + config.PrivilegedSuffix
		}
	}
	if opts.diagAddr != "" {
		cfg.Diag.Address = opts.diagAddr
	}
	if opts.websocket {
		cfg.Diag.WebSocket = true
	}
	if opts.stderr {
		cfg.Log.Stderr = true
	}
	if opts.level.set {
		cfg.Log.Level = server.LevelName(opts.level.level)
	}
	if opts.noPrivSock {
		cfg.PrivilegedSocket = ""
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openLog opens the log sink and returns the logger and its level.
func openLog(cfg *config.Config) (*slog.Logger, *slog.LevelVar, io.Closer, error) {
	level, err := server.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)

	f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, nil, errors.New("K203").WithDetail(cfg.Log.File).Wrap(err)
	}
	var w io.Writer = f
	if cfg.Log.Stderr {
		w = io.MultiWriter(f, os.Stderr)
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}))
	return logger, lv, f, nil
}

// listen creates a socket, mapping lock contention to K201.
func listen(state *server.State, path string, privileged bool) (*server.Listener, error) {
	ln, err := server.Listen(state, path, privileged)
	if err == nil {
		return ln, nil
	}
	if stderrors.Is(err, unix.EWOULDBLOCK) {
		return nil, errors.New("K201").WithDetail(path).Wrap(err)
	}
	return nil, errors.New("K202").WithDetail(err.Error()).Wrap(err)
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, lv, logFile, err := openLog(cfg)
	if err != nil {
		return err
	}
	defer logFile.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	state := server.New(cfg.ServerConfig().
		WithLogger(logger).
		WithLogLevel(lv).
		WithRegistry(registry))
	ifs.Install(state, cfg.Globals())

	var listeners []*server.Listener
	defer func() {
		for _, ln := range listeners {
			ln.Close()
		}
	}()
	ln, err := listen(state, cfg.SocketPath(cfg.Socket), false)
	if err != nil {
		return err
	}
	listeners = append(listeners, ln)
	if cfg.PrivilegedSocket != "" {
		pln, err := listen(state, cfg.SocketPath(cfg.PrivilegedSocket), true)
		if err != nil {
			return err
		}
		listeners = append(listeners, pln)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	success("Listening on %s", ln.Path())
	if len(listeners) > 1 {
		info("privileged: %s", listeners[1].Path())
	}
	info("log: %s (%s)", cfg.Log.File, cfg.Log.Level)

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range listeners {
		l := l
		g.Go(func() error { return l.Serve(ctx) })
	}
	if cfg.Diag.Address != "" {
		h := diag.New(state, diag.Options{WebSocket: cfg.Diag.WebSocket})
		info("diagnostics: http://%s/metrics", cfg.Diag.Address)
		g.Go(func() error {
			if err := diag.Serve(ctx, cfg.Diag.Address, h); err != nil {
				return errors.New("K204").WithDetail(err.Error()).Wrap(err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := state.Run(ctx)
		// A quit request stops the loop without cancelling ctx.
		for _, l := range listeners {
			l.Close()
		}
		if err != nil {
			return fmt.Errorf("event loop: %w", err)
		}
		return errStopped
	})

	if err := g.Wait(); err != nil && !stderrors.Is(err, errStopped) {
		return err
	}
	fmt.Println("\n  Shut down.")
	return nil
}

// errStopped ends the errgroup once the event loop has returned.
var errStopped = stderrors.New("stopped")
