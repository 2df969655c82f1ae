package server

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/queue"
)

// State is the root of the protocol runtime. Apart from Loop, LogLevel and
// the metrics, it is only touched from Loop tasks.
type State struct {
	Globals  *Globals
	Loop     *Loop
	LogLevel *slog.LevelVar

	config  *Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	leaks   *LeakTracker

	ctx    context.Context
	cancel context.CancelFunc

	clients     map[ClientID]*Client
	nextClient  ClientID
	observers   []*observerEntry
	slowClients *queue.Queue[ClientID]
}

type observerEntry struct {
	Observer
}

// New creates the runtime state.
func New(config *Config) *State {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.Clone()
	}
	config.applyDefaults()

	logger := config.Logger.With("component", "server")
	ctx, cancel := context.WithCancel(context.Background())
	s := &State{
		Globals:     newGlobals(),
		Loop:        NewLoop(logger),
		LogLevel:    config.LogLevel,
		config:      config,
		logger:      logger,
		metrics:     newMetrics(config.Registry),
		tracer:      config.TracerProvider.Tracer(config.TracerName),
		leaks:       NewLeakTracker(),
		ctx:         ctx,
		cancel:      cancel,
		clients:     make(map[ClientID]*Client),
		slowClients: queue.New[ClientID](),
	}
	s.AddObserver(s.metrics)
	s.AddObserver(s.leaks)
	return s
}

// Config returns the runtime configuration.
func (s *State) Config() *Config { return s.config }

// Logger returns the server logger.
func (s *State) Logger() *slog.Logger { return s.logger }

// Registry returns the Prometheus registry holding the runtime metrics.
func (s *State) Registry() *prometheus.Registry { return s.config.Registry }

// Metrics returns the runtime collectors.
func (s *State) Metrics() *Metrics { return s.metrics }

// Leaks returns the leak tracker.
func (s *State) Leaks() *LeakTracker { return s.leaks }

// LogPath returns the path of the log file.
func (s *State) LogPath() string { return s.config.LogPath }

// SetLogLevel changes the severity threshold of the log sink.
func (s *State) SetLogLevel(level slog.Level) {
	s.LogLevel.Set(level)
	s.logger.Info("log level changed", "level", level)
}

// AddObserver registers a lifecycle observer. The returned function
// unregisters it.
func (s *State) AddObserver(o Observer) (remove func()) {
	entry := &observerEntry{Observer: o}
	s.observers = append(s.observers, entry)
	return func() {
		for i, e := range s.observers {
			if e == entry {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *State) objectCreated(c *Client, obj Object) {
	for _, o := range s.observers {
		o.ObjectCreated(c, obj)
	}
}

func (s *State) objectDestroyed(c *Client, obj Object) {
	for _, o := range s.observers {
		o.ObjectDestroyed(c, obj)
	}
}

// AddClient registers a connection and starts serving it. Must run on the
// Loop.
func (s *State) AddClient(conn Conn, privileged bool) (*Client, error) {
	if s.config.MaxClients > 0 && len(s.clients) >= s.config.MaxClients {
		conn.Close()
		return nil, ErrTooManyClients
	}
	s.nextClient++
	c := newClient(s, s.nextClient, conn, privileged)
	display := &Display{ObjectBase: NewObjectBase(c, protocol.DisplayID, 1)}
	if err := c.add(display); err != nil {
		conn.Close()
		return nil, err
	}
	s.clients[c.ID] = c
	s.metrics.clients.Inc()
	s.metrics.clientsTotal.Inc()
	c.logger.Info("client connected", "privileged", privileged)
	c.start()
	return c, nil
}

// Client returns the connected client with id.
func (s *State) Client(id ClientID) (*Client, bool) {
	c, ok := s.clients[id]
	return c, ok
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID         ClientID  `json:"id"`
	Privileged bool      `json:"privileged"`
	Objects    int       `json:"objects"`
	Connected  time.Time `json:"connected"`
}

// Clients lists the connected clients ordered by ID.
func (s *State) Clients() []ClientInfo {
	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, ClientInfo{
			ID:         c.ID,
			Privileged: c.privileged,
			Objects:    c.objects.len(),
			Connected:  c.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// disconnect tears a client down. It is idempotent.
func (s *State) disconnect(c *Client, reason error) {
	if c.closed {
		return
	}
	c.closed = true
	slow := errors.Is(reason, ErrSlowClient)
	c.closeOutput(slow)
	c.teardown()
	c.cancel()
	delete(s.clients, c.ID)
	s.leaks.clientGone(c.ID)
	s.metrics.clients.Dec()

	switch {
	case reason == nil || isClosedErr(reason):
		c.logger.Info("client disconnected")
	default:
		c.logger.Info("client disconnected", "reason", reason)
	}
}

// Run serves clients until ctx ends or the loop is stopped. All clients are
// disconnected before it returns.
func (s *State) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.handleSlowClients(ctx)

	err := s.Loop.Run(ctx)
	for _, c := range s.clients {
		s.disconnect(c, nil)
	}
	s.slowClients.Clear()
	s.cancel()

	if errors.Is(err, ErrLoopStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handleSlowClients disconnects clients whose output buffer overflowed.
func (s *State) handleSlowClients(ctx context.Context) {
	for {
		id, err := s.slowClients.Pop(ctx)
		if err != nil {
			return
		}
		s.Loop.Submit(func() {
			c, ok := s.clients[id]
			if !ok {
				return
			}
			c.logger.Warn("client is too slow, disconnecting")
			s.metrics.slowClients.Inc()
			s.disconnect(c, ErrSlowClient)
		})
	}
}
