package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// ClientID identifies a connection for the lifetime of the process.
type ClientID uint64

// Client is one connected peer. Everything except the output buffer is
// owned by the Loop.
type Client struct {
	ID ClientID

	state      *State
	conn       Conn
	privileged bool
	logger     *slog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	createdAt  time.Time

	objects         objects
	fds             protocol.Fds
	singletons      map[protocol.GlobalName]protocol.ObjectID
	serial          uint32
	lastEnterSerial uint32
	closed          bool

	out     outbox
	flushCh chan struct{}
	done    chan struct{}
}

// outbox is the only client state shared with the writer goroutine.
type outbox struct {
	mu      sync.Mutex
	enc     *protocol.Encoder
	spare   *protocol.Encoder
	closing bool
	slow    bool
}

func newClient(s *State, id ClientID, conn Conn, privileged bool) *Client {
	ctx, cancel := context.WithCancel(s.ctx)
	c := &Client{
		ID:         id,
		state:      s,
		conn:       conn,
		privileged: privileged,
		logger:     s.logger.With("client_id", uint64(id)),
		ctx:        ctx,
		cancel:     cancel,
		createdAt:  time.Now(),
		objects:    newObjects(),
		singletons: make(map[protocol.GlobalName]protocol.ObjectID),
		flushCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	c.out.enc = protocol.NewEncoder()
	c.out.spare = protocol.NewEncoder()
	return c
}

// State returns the server state the client belongs to.
func (c *Client) State() *State { return c.state }

// Privileged reports whether the client connected over a trusted socket.
func (c *Client) Privileged() bool { return c.privileged }

// Logger returns the client logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// Closed reports whether the client has been disconnected.
func (c *Client) Closed() bool { return c.closed }

// ObjectCount returns the number of live objects.
func (c *Client) ObjectCount() int { return c.objects.len() }

// NextSerial issues a new serial.
func (c *Client) NextSerial() uint32 {
	c.serial++
	return c.serial
}

// ValidSerial reports whether serial could have been issued to this client.
// Serials wrap, so anything within half the range behind the current serial
// is accepted.
func (c *Client) ValidSerial(serial uint32) bool {
	return c.serial-serial < 1<<31
}

// LastEnterSerial returns the serial of the most recent pointer enter event
// sent to this client.
func (c *Client) LastEnterSerial() uint32 { return c.lastEnterSerial }

// SetLastEnterSerial records the serial of a pointer enter event.
func (c *Client) SetLastEnterSerial(serial uint32) { c.lastEnterSerial = serial }

// AddClientObject registers an object whose ID the client chose.
func (c *Client) AddClientObject(obj Object) error {
	id := obj.ID()
	switch {
	case id.IsNull():
		return &ClientError{Op: "add", Object: id, Err: ErrNullID}
	case id.IsServer():
		return &ClientError{Op: "add", Object: id, Err: ErrServerID}
	}
	return c.add(obj)
}

// AddServerObject registers an object whose ID came from NewServerID.
func (c *Client) AddServerObject(obj Object) error {
	if !obj.ID().IsServer() {
		return &ClientError{Op: "add", Object: obj.ID(), Err: fmt.Errorf("%w: not a server id", ErrUnknownID)}
	}
	return c.add(obj)
}

func (c *Client) add(obj Object) error {
	if err := c.objects.add(obj); err != nil {
		return err
	}
	c.state.objectCreated(c, obj)
	return nil
}

// NewServerID allocates an ID for an object the server creates.
func (c *Client) NewServerID() (protocol.ObjectID, error) {
	id, err := c.objects.newServerID()
	if err != nil {
		return 0, &ClientError{Op: "new_id", Err: err}
	}
	return id, nil
}

// Remove detaches obj from the registry and runs its BreakLoops hook. The
// client is told the ID is free when it allocated the ID itself.
func (c *Client) Remove(obj Object) error {
	id := obj.ID()
	cur, ok := c.objects.get(id)
	if !ok || cur != obj {
		return &ClientError{Op: "remove", Object: id, Err: ErrUnknownID}
	}
	c.objects.remove(id)
	c.destroyed(obj)
	if !id.IsServer() {
		c.Event(deleteIDEvent{self: protocol.DisplayID, id: id})
	}
	return nil
}

func (c *Client) destroyed(obj Object) {
	obj.BreakLoops()
	for name, bound := range c.singletons {
		if bound == obj.ID() {
			delete(c.singletons, name)
		}
	}
	c.state.objectDestroyed(c, obj)
}

// Event queues an event for the client. Events for a disconnected client
// are dropped and any files they carry are closed. An event too large to
// frame is fatal for the client.
func (c *Client) Event(m protocol.Message) {
	c.out.mu.Lock()
	if c.out.closing {
		c.out.mu.Unlock()
		var discard protocol.Encoder
		dropped, _ := discard.Message(m)
		closeFiles(dropped)
		closeFiles(discard.Fds())
		return
	}
	dropped, err := c.out.enc.Message(m)
	if err != nil {
		c.out.mu.Unlock()
		closeFiles(dropped)
		c.fatal(protocol.DisplayID, err)
		return
	}
	slow := !c.out.slow && c.out.enc.Len() > c.state.config.MaxOutputBuffer
	if slow {
		c.out.slow = true
	}
	c.out.mu.Unlock()

	c.state.metrics.events.Inc()
	if slow {
		c.state.slowClients.Push(c.ID)
	}
	c.Flush()
}

// Flush wakes the writer.
func (c *Client) Flush() {
	select {
	case c.flushCh <- struct{}{}:
	default:
	}
}

// Error reports a fatal error that happened outside request dispatch.
func (c *Client) Error(err error) {
	c.fatal(protocol.DisplayID, err)
}

// Kill disconnects the client without an error event.
func (c *Client) Kill(reason error) {
	c.state.disconnect(c, reason)
}

func (c *Client) handleBatch(reqs []protocol.Request, fds []*os.File, framing error) {
	if c.closed {
		closeFiles(fds)
		return
	}
	c.fds.Push(fds...)
	if n := c.fds.Len(); n > protocol.MaxQueuedFds {
		c.fatal(protocol.DisplayID, &ClientError{
			Op:     "receive",
			Object: protocol.DisplayID,
			Err:    fmt.Errorf("%w: %d unconsumed file descriptors", ErrNoMemory, n),
		})
		return
	}
	for _, req := range reqs {
		if err := c.dispatch(req); err != nil {
			target := req.Object
			if _, ok := c.objects.get(target); !ok {
				target = protocol.DisplayID
			}
			c.fatal(target, err)
			return
		}
		if c.closed {
			return
		}
	}
	if framing != nil {
		c.logger.Warn("malformed message stream", "error", framing)
		c.state.metrics.errors.WithLabelValues(string(KindDecode)).Inc()
		c.state.disconnect(c, framing)
	}
}

// dispatch routes one request to its object.
func (c *Client) dispatch(req protocol.Request) error {
	obj, ok := c.objects.get(req.Object)
	if !ok {
		return &ClientError{Op: "dispatch", Object: req.Object, Err: ErrUnknownID}
	}
	if n := obj.NumRequests(); uint32(req.Opcode) >= n {
		return &ClientError{
			Op:     "dispatch",
			Object: req.Object,
			Err: fmt.Errorf("%w: %s@%d version %d accepts %d requests, got opcode %d",
				ErrOpcodeOutOfRange, obj.Interface(), obj.ID(), obj.Version(), n, req.Opcode),
		}
	}

	iface := obj.Interface()
	_, span := c.state.tracer.Start(c.ctx, iface,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.Int64("kestrel.client_id", int64(c.ID)),
			attribute.Int64("kestrel.object_id", int64(req.Object)),
			attribute.Int("kestrel.opcode", int(req.Opcode)),
		),
	)
	defer span.End()

	start := time.Now()
	p := protocol.NewParser(req.Payload, &c.fds)
	err := c.safeHandle(obj, req.Opcode, p)
	if err == nil && !c.closed {
		if eof := p.EOF(); eof != nil {
			err = &RequestError{Interface: iface, Request: fmt.Sprintf("#%d", req.Opcode), Err: eof}
		}
	}
	c.state.metrics.observeRequest(iface, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// safeHandle runs a handler with panic recovery.
func (c *Client) safeHandle(obj Object, opcode uint16, p *protocol.Parser) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			c.logger.Error("handler panic",
				"panic", r,
				"interface", obj.Interface(),
				"object", obj.ID(),
				"opcode", opcode,
				"stack", string(stack))
			err = &HandlerError{
				Interface: obj.Interface(),
				Object:    obj.ID(),
				Opcode:    opcode,
				Panic:     r,
				Stack:     stack,
			}
		}
	}()
	return obj.HandleRequest(opcode, p)
}

// fatal sends wl_display.error and disconnects the client.
func (c *Client) fatal(target protocol.ObjectID, err error) {
	if c.closed {
		return
	}
	kind, object, code := Classify(err, target)
	c.logger.Warn("fatal client error",
		"kind", kind,
		"object", object,
		"code", code,
		"error", err)
	c.state.metrics.errors.WithLabelValues(string(kind)).Inc()
	c.Event(displayErrorEvent{
		self:    protocol.DisplayID,
		object:  object,
		code:    code,
		message: err.Error(),
	})
	c.state.disconnect(c, err)
}

// teardown removes every object. The client is already marked closed, so
// no delete_id events are produced.
func (c *Client) teardown() {
	for _, obj := range c.objects.sorted() {
		c.objects.remove(obj.ID())
		c.destroyed(obj)
	}
	c.fds.Close()
}

// start launches the reader and writer goroutines.
func (c *Client) start() {
	go c.readLoop()
	go c.writeLoop()
}

// readLoop frames incoming bytes and hands each read to the Loop.
func (c *Client) readLoop() {
	framer := protocol.NewFramer(c.state.config.MaxMessageSize)
	for {
		data, fds, err := c.conn.Read()
		if len(data) > 0 || len(fds) > 0 {
			c.state.metrics.bytesIn.Add(float64(len(data)))
			framer.Feed(data)
			reqs, ferr := framer.Drain()
			c.state.Loop.Submit(func() {
				c.handleBatch(reqs, fds, ferr)
			})
			if ferr != nil {
				return
			}
		}
		if err != nil {
			c.state.Loop.Submit(func() {
				c.state.disconnect(c, err)
			})
			return
		}
	}
}

// writeLoop writes queued events until the client is closed.
func (c *Client) writeLoop() {
	defer close(c.done)
	for range c.flushCh {
		c.out.mu.Lock()
		enc := c.out.enc
		c.out.enc = c.out.spare
		c.out.spare = nil
		closing := c.out.closing
		c.out.mu.Unlock()

		var err error
		if enc.Len() > 0 {
			err = c.conn.Write(enc.Bytes(), enc.Fds())
			c.state.metrics.bytesOut.Add(float64(enc.Len()))
		}
		closeFiles(enc.Fds())
		enc.Reset()

		c.out.mu.Lock()
		c.out.spare = enc
		if c.out.enc.Len() <= c.state.config.MaxOutputBuffer {
			c.out.slow = false
		}
		closing = closing || c.out.closing
		c.out.mu.Unlock()

		if err != nil {
			c.conn.Close()
			c.state.Loop.Submit(func() {
				c.state.disconnect(c, fmt.Errorf("write: %w", err))
			})
			return
		}
		if closing {
			// Drain anything queued after the closing flush was requested.
			c.out.mu.Lock()
			rest := c.out.enc
			c.out.mu.Unlock()
			if rest.Len() > 0 {
				_ = c.conn.Write(rest.Bytes(), rest.Fds())
				closeFiles(rest.Fds())
				rest.Reset()
			}
			c.conn.Close()
			return
		}
	}
}

// closeOutput stops accepting events and asks the writer to flush and close.
func (c *Client) closeOutput(abort bool) {
	c.out.mu.Lock()
	c.out.closing = true
	c.out.mu.Unlock()
	if abort {
		c.conn.Close()
	} else {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.state.config.WriteTimeout))
	}
	c.Flush()
}

func closeFiles(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
