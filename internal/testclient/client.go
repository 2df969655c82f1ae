// Package testclient drives a server.State from the client side of a Unix
// socketpair. It speaks the raw wire format, passes descriptors with
// SCM_RIGHTS and keeps enough bookkeeping for tests to assert on events.
package testclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// DefaultTimeout bounds every blocking read.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is returned when an expected event does not arrive.
	ErrTimeout = errors.New("testclient: timed out waiting for events")

	// ErrDisconnected is returned after the server closed the connection.
	ErrDisconnected = errors.New("testclient: server closed the connection")
)

// Event is one decoded message received from the server.
type Event struct {
	protocol.Header
	Payload []byte
	client  *Client
}

// Args returns a parser over the event payload that draws descriptors from
// the client's received fd queue.
func (e Event) Args() *protocol.Parser {
	return protocol.NewParser(e.Payload, &e.client.fds)
}

// DisplayError is a wl_display.error event.
type DisplayError struct {
	Object  protocol.ObjectID
	Code    uint32
	Message string
}

func (e *DisplayError) Error() string {
	return fmt.Sprintf("display error on %s: code %d: %s", e.Object, e.Code, e.Message)
}

// Global is one wl_registry.global announcement.
type Global struct {
	Name      protocol.GlobalName
	Interface string
	Version   uint32
}

// Client is the peer side of one connection.
type Client struct {
	State  *server.State
	Server *server.Client

	conn    *net.UnixConn
	framer  *protocol.Framer
	fds     protocol.Fds
	nextID  protocol.ObjectID
	pending []Event
	buf     []byte
	oob     []byte

	// Error holds the wl_display.error received, if any.
	Error *DisplayError
	// Deleted records every id released with wl_display.delete_id.
	Deleted map[protocol.ObjectID]bool
	// Globals is filled by GetRegistry.
	Globals  []Global
	Registry protocol.ObjectID
}

// Connect creates a socketpair and registers its server end with state. The
// state's loop must be running.
func Connect(ctx context.Context, state *server.State, privileged bool) (*Client, error) {
	pair, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	local, err := fileConn(pair[0], "client")
	if err != nil {
		unix.Close(pair[1])
		return nil, err
	}
	remote, err := fileConn(pair[1], "server")
	if err != nil {
		local.Close()
		return nil, err
	}

	c := &Client{
		State:   state,
		conn:    local,
		framer:  protocol.NewFramer(protocol.MaxMessageSize),
		nextID:  protocol.DisplayID + 1,
		buf:     make([]byte, 64*1024),
		oob:     make([]byte, unix.CmsgSpace(protocol.MaxFdsPerMessage*4)),
		Deleted: make(map[protocol.ObjectID]bool),
	}

	var addErr error
	err = state.Loop.Call(ctx, func() {
		c.Server, addErr = state.AddClient(server.NewUnixConn(remote, 0), privileged)
	})
	if err == nil {
		err = addErr
	}
	if err != nil {
		local.Close()
		remote.Close()
		return nil, err
	}
	return c, nil
}

func fileConn(fd int, name string) (*net.UnixConn, error) {
	f := os.NewFile(uintptr(fd), name)
	defer f.Close()
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("file conn: %w", err)
	}
	return conn.(*net.UnixConn), nil
}

// NewID allocates a client object id.
func (c *Client) NewID() protocol.ObjectID {
	id := c.nextID
	c.nextID++
	return id
}

// Close closes the client end of the connection.
func (c *Client) Close() error {
	c.fds.Close()
	return c.conn.Close()
}

// Request is a raw request built from typed arguments.
type Request struct {
	Object protocol.ObjectID
	Opcode uint16
	Args   []any
}

// Format implements protocol.Message. Supported argument types are uint32,
// int32, protocol.Fixed, protocol.ObjectID, protocol.GlobalName, string,
// []byte and *os.File.
func (r Request) Format(e *protocol.Encoder) {
	e.Header(r.Object, r.Opcode)
	for _, arg := range r.Args {
		switch v := arg.(type) {
		case uint32:
			e.Uint(v)
		case int32:
			e.Int(v)
		case int:
			e.Int(int32(v))
		case protocol.Fixed:
			e.Fixed(v)
		case protocol.ObjectID:
			e.Object(v)
		case protocol.GlobalName:
			e.Global(v)
		case string:
			e.Str(v)
		case []byte:
			e.Array(v)
		case *os.File:
			e.Fd(v)
		default:
			panic(fmt.Sprintf("testclient: unsupported argument %T", arg))
		}
	}
}

// Send writes one request.
func (c *Client) Send(obj protocol.ObjectID, opcode uint16, args ...any) error {
	return c.SendMessage(Request{Object: obj, Opcode: opcode, Args: args})
}

// SendMessage writes an already formatted message.
func (c *Client) SendMessage(m protocol.Message) error {
	enc := protocol.NewEncoder()
	if _, err := enc.Message(m); err != nil {
		return err
	}
	return c.SendRaw(enc.Bytes(), enc.Fds())
}

// SendRaw writes bytes as they are, attaching fds.
func (c *Client) SendRaw(b []byte, fds []*os.File) error {
	var oob []byte
	if len(fds) > 0 {
		ints := make([]int, len(fds))
		for i, f := range fds {
			ints[i] = int(f.Fd())
		}
		oob = unix.UnixRights(ints...)
	}
	_, _, err := c.conn.WriteMsgUnix(b, oob, nil)
	return err
}

// read pulls one chunk from the socket into the pending list.
func (c *Client) read(deadline time.Time) error {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	n, oobn, _, _, err := c.conn.ReadMsgUnix(c.buf, c.oob)
	if oobn > 0 {
		msgs, perr := unix.ParseSocketControlMessage(c.oob[:oobn])
		if perr == nil {
			for _, m := range msgs {
				fds, rerr := unix.ParseUnixRights(&m)
				if rerr != nil {
					continue
				}
				for _, fd := range fds {
					c.fds.Push(os.NewFile(uintptr(fd), "received"))
				}
			}
		}
	}
	if n > 0 {
		c.framer.Feed(c.buf[:n])
		msgs, ferr := c.framer.Drain()
		for _, m := range msgs {
			c.record(Event{Header: m.Header, Payload: m.Payload, client: c})
		}
		if ferr != nil {
			return ferr
		}
	}
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return ErrTimeout
		}
		return ErrDisconnected
	}
	if n == 0 {
		return ErrDisconnected
	}
	return nil
}

// Display events.
const (
	displayError    = 0
	displayDeleteID = 1
)

func (c *Client) record(ev Event) {
	if ev.Object == protocol.DisplayID {
		p := ev.Args()
		switch ev.Opcode {
		case displayError:
			obj, _ := p.Object()
			code, _ := p.Uint()
			msg, _ := p.Str()
			c.Error = &DisplayError{Object: obj, Code: code, Message: msg}
		case displayDeleteID:
			id, _ := p.Uint()
			c.Deleted[protocol.ObjectID(id)] = true
		}
	}
	c.pending = append(c.pending, ev)
}

// Roundtrip sends wl_display.sync and returns every event received before
// the callback fired. The server handles requests in order, so everything
// caused by earlier requests is included.
func (c *Client) Roundtrip() ([]Event, error) {
	cb := c.NewID()
	if err := c.Send(protocol.DisplayID, 0, cb); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(DefaultTimeout)
	for {
		for i, ev := range c.pending {
			if ev.Object == protocol.DisplayID && ev.Opcode == displayDeleteID {
				if id, _ := ev.Args().Uint(); protocol.ObjectID(id) == cb {
					out := make([]Event, 0, i)
					for _, prev := range c.pending[:i] {
						if prev.Object != cb {
							out = append(out, prev)
						}
					}
					c.pending = append([]Event(nil), c.pending[i+1:]...)
					return out, nil
				}
			}
		}
		if err := c.read(deadline); err != nil {
			if c.Error != nil {
				return c.drain(), c.Error
			}
			return c.drain(), err
		}
	}
}

func (c *Client) drain() []Event {
	out := c.pending
	c.pending = nil
	return out
}

// WaitClosed reads until the server closes the connection and returns the
// events received on the way.
func (c *Client) WaitClosed() ([]Event, error) {
	deadline := time.Now().Add(DefaultTimeout)
	for {
		err := c.read(deadline)
		if errors.Is(err, ErrDisconnected) {
			return c.drain(), nil
		}
		if err != nil {
			return c.drain(), err
		}
	}
}

// GetRegistry creates a registry and collects the advertised globals.
func (c *Client) GetRegistry() error {
	c.Registry = c.NewID()
	if err := c.Send(protocol.DisplayID, 1, c.Registry); err != nil {
		return err
	}
	events, err := c.Roundtrip()
	if err != nil {
		return err
	}
	c.Globals = c.Globals[:0]
	for _, ev := range events {
		if ev.Object != c.Registry || ev.Opcode != 0 {
			continue
		}
		p := ev.Args()
		name, _ := p.Global()
		iface, _ := p.Str()
		version, _ := p.Uint()
		c.Globals = append(c.Globals, Global{Name: name, Interface: iface, Version: version})
	}
	return nil
}

// Find returns the first advertised global implementing iface.
func (c *Client) Find(iface string) (Global, bool) {
	for _, g := range c.Globals {
		if g.Interface == iface {
			return g, true
		}
	}
	return Global{}, false
}

// Bind binds the first global implementing iface and returns the new id.
// GetRegistry must have been called.
func (c *Client) Bind(iface string, version uint32) (protocol.ObjectID, error) {
	g, ok := c.Find(iface)
	if !ok {
		return 0, fmt.Errorf("testclient: %s is not advertised", iface)
	}
	id := c.NewID()
	if err := c.Send(c.Registry, 0, g.Name, iface, version, id); err != nil {
		return 0, err
	}
	return id, nil
}

// Filter returns the events addressed to obj.
func Filter(events []Event, obj protocol.ObjectID) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Object == obj {
			out = append(out, ev)
		}
	}
	return out
}

// Call runs fn on the server loop.
func (c *Client) Call(fn func()) error {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return c.State.Loop.Call(ctx, fn)
}

// ObjectCount returns the number of live objects on the server side.
func (c *Client) ObjectCount() int {
	var n int
	_ = c.Call(func() { n = c.Server.ObjectCount() })
	return n
}
