package ifs

import (
	"context"
	"testing"
	"time"

	"github.com/kestrel-wm/kestrel/internal/testclient"
	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// Request opcodes used by the tests.
const (
	opCreateSurface = 0
	opCreateRegion  = 1

	opSurfaceAttach = 1
	opSurfaceFrame  = 3
	opSurfaceCommit = 6

	opRegionAdd = 1

	opSeatGetPointer  = 0
	opSeatGetKeyboard = 1

	opPointerSetCursor = 0

	opGetXdgOutput = 1

	opJayGetLogFile  = 1
	opJayQuit        = 2
	opJaySetLogLevel = 3

	opCreateSource       = 0
	opGetDevice          = 1
	opSourceOffer        = 0
	opDeviceSetSelection = 0
	opOfferReceive       = 0
)

// startEnv runs a state with the default globals installed.
func startEnv(t *testing.T) (*server.State, *Env) {
	t.Helper()
	s := server.New(server.DefaultConfig().WithLogPath("/var/log/kestrel.log"))
	var env *Env
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run() did not return")
		}
	})
	if err := s.Loop.Call(ctx, func() { env = Install(s, DefaultOptions()) }); err != nil {
		t.Fatal(err)
	}
	return s, env
}

func connect(t *testing.T, s *server.State, privileged bool) *testclient.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testclient.DefaultTimeout)
	defer cancel()
	c, err := testclient.Connect(ctx, s, privileged)
	if err != nil {
		t.Fatalf("Connect() = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.GetRegistry(); err != nil {
		t.Fatalf("GetRegistry() = %v", err)
	}
	return c
}

func bind(t *testing.T, c *testclient.Client, iface string, version uint32) protocol.ObjectID {
	t.Helper()
	id, err := c.Bind(iface, version)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func send(t *testing.T, c *testclient.Client, obj protocol.ObjectID, opcode uint16, args ...any) {
	t.Helper()
	if err := c.Send(obj, opcode, args...); err != nil {
		t.Fatalf("Send(%s, %d) = %v", obj, opcode, err)
	}
}

func roundtrip(t *testing.T, c *testclient.Client) []testclient.Event {
	t.Helper()
	events, err := c.Roundtrip()
	if err != nil {
		t.Fatalf("Roundtrip() = %v", err)
	}
	return events
}

func call(t *testing.T, c *testclient.Client, fn func()) {
	t.Helper()
	if err := c.Call(fn); err != nil {
		t.Fatalf("Call() = %v", err)
	}
}

// surface creates a wl_surface and returns its client id and server object.
func surface(t *testing.T, c *testclient.Client, compositor protocol.ObjectID) (protocol.ObjectID, *Surface) {
	t.Helper()
	id := c.NewID()
	send(t, c, compositor, opCreateSurface, id)
	roundtrip(t, c)
	var s *Surface
	call(t, c, func() {
		var err error
		s, err = server.Lookup[*Surface](c.Server, id)
		if err != nil {
			t.Errorf("Lookup(%s) = %v", id, err)
		}
	})
	return id, s
}

func opcodes(events []testclient.Event) []uint16 {
	out := make([]uint16, len(events))
	for i, ev := range events {
		out[i] = ev.Opcode
	}
	return out
}
