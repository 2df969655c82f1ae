package server

import (
	"encoding/binary"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu      sync.Mutex
	written []byte
	closed  bool
	closeCh chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{closeCh: make(chan struct{})}
}

func (f *fakeConn) Read() ([]byte, []*os.File, error) {
	<-f.closeCh
	return nil, nil, io.EOF
}

func (f *fakeConn) Write(b []byte, fds []*os.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, b...)
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

// newTestState returns a state whose clients are driven directly by the test
// goroutine, without a running loop.
func newTestState(t *testing.T) *State {
	t.Helper()
	return New(DefaultConfig())
}

// newTestClient creates a client with a display object but no I/O
// goroutines.
func newTestClient(t *testing.T, s *State, privileged bool) *Client {
	t.Helper()
	s.nextClient++
	c := newClient(s, s.nextClient, newFakeConn(), privileged)
	if err := c.add(&Display{ObjectBase: NewObjectBase(c, protocol.DisplayID, 1)}); err != nil {
		t.Fatal(err)
	}
	s.clients[c.ID] = c
	return c
}

// queuedEvents decodes the events waiting in the client's outbox.
func queuedEvents(t *testing.T, c *Client) []protocol.Request {
	t.Helper()
	c.out.mu.Lock()
	defer c.out.mu.Unlock()
	framer := protocol.NewFramer(protocol.MaxMessageSize)
	framer.Feed(c.out.enc.Bytes())
	msgs, err := framer.Drain()
	if err != nil {
		t.Fatalf("queued events: %v", err)
	}
	return msgs
}

func words(vs ...uint32) []byte {
	b := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.NativeEndian.PutUint32(b[4*i:], v)
	}
	return b
}

func str(s string) []byte {
	n := uint32(len(s) + 1)
	b := words(n)
	body := make([]byte, (n+3)&^3)
	copy(body, s)
	return append(b, body...)
}

// widget is a test interface with one request per version.
type widget struct {
	ObjectBase
	pings  []uint32
	broken bool
}

var widgetRequests = NewRequests("test_widget",
	Request[*widget]{Name: "ping", Since: 1, Handle: (*widget).ping},
	Request[*widget]{Name: "destroy", Since: 1, Handle: (*widget).destroy},
	Request[*widget]{Name: "panic", Since: 2, Handle: (*widget).explode},
	Request[*widget]{Name: "fail", Since: 3, Handle: (*widget).fail},
)

func (o *widget) Interface() string { return "test_widget" }

func (o *widget) NumRequests() uint32 { return widgetRequests.Accepted(o.Version()) }

func (o *widget) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return widgetRequests.Dispatch(o, opcode, p)
}

func (o *widget) BreakLoops() { o.broken = true }

func (o *widget) ping(p *protocol.Parser) error {
	v, err := p.Uint()
	if err != nil {
		return err
	}
	o.pings = append(o.pings, v)
	return nil
}

func (o *widget) destroy(p *protocol.Parser) error {
	return o.client.Remove(o)
}

func (o *widget) explode(p *protocol.Parser) error {
	panic("widget exploded")
}

func (o *widget) fail(p *protocol.Parser) error {
	return NewProtocolError(o.id, 7, "widget failed")
}

// widgetGlobal binds widgets.
type widgetGlobal struct {
	GlobalBase
	version   uint32
	singleton bool
	secure    bool
	bound     []*widget
}

func newWidgetGlobal(s *State, version uint32) *widgetGlobal {
	return &widgetGlobal{GlobalBase: NewGlobalBase(s.Globals.NewName()), version: version}
}

func (g *widgetGlobal) Interface() string { return "test_widget" }
func (g *widgetGlobal) Version() uint32   { return g.version }
func (g *widgetGlobal) Singleton() bool   { return g.singleton }
func (g *widgetGlobal) Secure() bool      { return g.secure }

func (g *widgetGlobal) Bind(c *Client, id protocol.ObjectID, version uint32) error {
	obj := &widget{ObjectBase: NewObjectBase(c, id, version)}
	if err := c.AddClientObject(obj); err != nil {
		return err
	}
	g.bound = append(g.bound, obj)
	return nil
}
