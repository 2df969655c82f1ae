// Package diag serves the operator-facing HTTP surface of a running server:
// Prometheus metrics, the capability list, connected clients, leaked objects,
// the dynamic log level, and optionally the protocol itself over WebSocket.
//
// Every handler that reads protocol state runs it as a loop task, so the
// surface never races with request dispatch.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrel-wm/kestrel/pkg/middleware"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// Options configures the diagnostic surface.
type Options struct {
	// WebSocket enables the /wayland endpoint.
	WebSocket bool

	// CheckOrigin validates WebSocket upgrades. Default: same origin only.
	CheckOrigin func(r *http.Request) bool

	// CallTimeout bounds how long a handler waits for the event loop.
	// Default: 2 seconds.
	CallTimeout time.Duration
}

// LogLevel is the body of the /debug/log-level endpoint.
type LogLevel struct {
	Level string `json:"level"`
}

// Handler is the diagnostic HTTP handler.
type Handler struct {
	state    *server.State
	opts     Options
	router   chi.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New builds the handler for state.
func New(state *server.State, opts Options) *Handler {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 2 * time.Second
	}
	h := &Handler{
		state:  state,
		opts:   opts,
		logger: state.Logger().With("component", "diag"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  state.Config().ReadBufferSize,
			WriteBufferSize: state.Config().ReadBufferSize,
			CheckOrigin:     opts.CheckOrigin,
		},
	}

	r := chi.NewRouter()
	r.Use(
		chimw.Recoverer,
		middleware.Prometheus(middleware.WithRegistry(state.Registry())),
		middleware.OpenTelemetry(middleware.WithTracerName(state.Config().TracerName)),
	)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(state.Registry(), promhttp.HandlerOpts{}))
	r.Route("/debug", func(r chi.Router) {
		r.Get("/globals", h.globals)
		r.Get("/clients", h.clients)
		r.Get("/leaks", h.leaks)
		r.Get("/log-level", h.getLogLevel)
		r.Put("/log-level", h.putLogLevel)
	})
	if opts.WebSocket {
		r.Get("/wayland", h.wayland)
	}
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// call runs fn on the event loop on behalf of r.
func (h *Handler) call(w http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.CallTimeout)
	defer cancel()
	if err := h.state.Loop.Call(ctx, fn); err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), status)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (h *Handler) globals(w http.ResponseWriter, r *http.Request) {
	var list []server.GlobalInfo
	if h.call(w, r, func() { list = h.state.Globals.List() }) {
		writeJSON(w, list)
	}
}

func (h *Handler) clients(w http.ResponseWriter, r *http.Request) {
	var list []server.ClientInfo
	if h.call(w, r, func() { list = h.state.Clients() }) {
		writeJSON(w, list)
	}
}

// leaks collects garbage first so only objects that are really held
// elsewhere are listed.
func (h *Handler) leaks(w http.ResponseWriter, r *http.Request) {
	runtime.GC()
	var list []server.Leak
	if h.call(w, r, func() { list = h.state.Leaks().Leaks() }) {
		writeJSON(w, list)
	}
}

func (h *Handler) getLogLevel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, LogLevel{Level: server.LevelName(h.state.LogLevel.Level())})
}

func (h *Handler) putLogLevel(w http.ResponseWriter, r *http.Request) {
	var body LogLevel
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&body); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	level, err := server.ParseLevel(body.Level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if h.call(w, r, func() { h.state.SetLogLevel(level) }) {
		writeJSON(w, LogLevel{Level: server.LevelName(level)})
	}
}

// wayland upgrades the request and serves one unprivileged client over it.
func (h *Handler) wayland(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn := server.NewWSConn(ws, int64(h.state.Config().MaxMessageSize))
	var addErr error
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.CallTimeout)
	defer cancel()
	if err := h.state.Loop.Call(ctx, func() { _, addErr = h.state.AddClient(conn, false) }); err != nil {
		h.logger.Warn("websocket client dropped", "remote", r.RemoteAddr, "error", err)
		conn.Close()
		return
	}
	// AddClient closes the connection itself when it refuses it.
	if addErr != nil {
		h.logger.Warn("websocket client rejected", "remote", r.RemoteAddr, "error", addErr)
	}
}

// Serve listens on addr and serves h until ctx ends.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ServeListener(ctx, ln, h)
}

// ServeListener serves h on ln until ctx ends.
func ServeListener(ctx context.Context, ln net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		case <-done:
		}
	}()
	err := srv.Serve(ln)
	close(done)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
