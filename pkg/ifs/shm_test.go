package ifs

import (
	"errors"
	"testing"

	"github.com/kestrel-wm/kestrel/internal/testclient"
	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

func TestShmFormats(t *testing.T) {
	s, _ := startEnv(t)
	c := connect(t, s, false)
	shm := bind(t, c, "wl_shm", 1)
	events := testclient.Filter(roundtrip(t, c), shm)
	if len(events) != len(shmFormats) {
		t.Fatalf("format events = %d, want %d", len(events), len(shmFormats))
	}
	for i, ev := range events {
		if f, _ := ev.Args().Uint(); f != shmFormats[i] {
			t.Errorf("format[%d] = %d, want %d", i, f, shmFormats[i])
		}
	}
}

func TestShmBufferContents(t *testing.T) {
	s, _ := startEnv(t)
	c := connect(t, s, false)
	shm := bind(t, c, "wl_shm", 1)
	pool, err := c.CreatePool(shm, 4096)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := pool.CreateBuffer(64, 4, 4, 16, testclient.FormatARGB8888)
	if err != nil {
		t.Fatal(err)
	}
	copy(pool.Bytes()[64:], "pixels")
	roundtrip(t, c)

	call(t, c, func() {
		b, err := server.Lookup[*Buffer](c.Server, buf.ID)
		if err != nil {
			t.Errorf("Lookup() = %v", err)
			return
		}
		if b.Width != 4 || b.Height != 4 || b.Stride != 16 {
			t.Errorf("buffer = %dx%d stride %d, want 4x4 stride 16", b.Width, b.Height, b.Stride)
		}
		if got := string(b.Bytes()[:6]); got != "pixels" {
			t.Errorf("Bytes() = %q, want pixels", got)
		}
	})

	// The buffer keeps the mapping alive after the pool is gone.
	if err := pool.Destroy(); err != nil {
		t.Fatal(err)
	}
	roundtrip(t, c)
	call(t, c, func() {
		b, err := server.Lookup[*Buffer](c.Server, buf.ID)
		if err != nil {
			t.Errorf("Lookup() = %v", err)
			return
		}
		if len(b.Bytes()) != 64 {
			t.Errorf("len(Bytes()) = %d after pool destroy, want 64", len(b.Bytes()))
		}
	})
	if err := buf.Destroy(); err != nil {
		t.Fatal(err)
	}
	roundtrip(t, c)
}

func TestShmPoolOutOfBounds(t *testing.T) {
	s, _ := startEnv(t)
	c := connect(t, s, false)
	shm := bind(t, c, "wl_shm", 1)
	pool, err := c.CreatePool(shm, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.CreateBuffer(512, 16, 16, 64, testclient.FormatARGB8888); !errors.Is(err, testclient.ErrOutOfBounds) {
		t.Errorf("CreateBuffer() = %v, want ErrOutOfBounds", err)
	}
	if events := roundtrip(t, c); c.Error != nil || len(events) != 0 {
		t.Errorf("local bounds check reached the server: %v", c.Error)
	}
}

func TestShmErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func(c *testclient.Client, pool *testclient.ShmPool) error
		code uint32
	}{
		{
			name: "buffer past the end",
			run: func(c *testclient.Client, pool *testclient.ShmPool) error {
				return c.Send(pool.ID, 0, c.NewID(), int32(512), int32(16), int32(16), int32(64), testclient.FormatARGB8888)
			},
			code: ShmErrorInvalidStride,
		},
		{
			name: "stride below width",
			run: func(c *testclient.Client, pool *testclient.ShmPool) error {
				_, err := pool.CreateBuffer(0, 16, 1, 32, testclient.FormatARGB8888)
				return err
			},
			code: ShmErrorInvalidStride,
		},
		{
			name: "row size overflows int32",
			run: func(c *testclient.Client, pool *testclient.ShmPool) error {
				return c.Send(pool.ID, 0, c.NewID(), int32(0), int32(0x40000000), int32(4), int32(4), testclient.FormatARGB8888)
			},
			code: ShmErrorInvalidStride,
		},
		{
			name: "unknown format",
			run: func(c *testclient.Client, pool *testclient.ShmPool) error {
				_, err := pool.CreateBuffer(0, 4, 4, 16, 0x34325258)
				return err
			},
			code: ShmErrorInvalidFormat,
		},
		{
			name: "shrink",
			run: func(c *testclient.Client, pool *testclient.ShmPool) error {
				return c.Send(pool.ID, 2, int32(512))
			},
			code: ShmErrorInvalidStride,
		},
	}
	s, _ := startEnv(t)
	for _, tt := range tests {
		c := connect(t, s, false)
		shm := bind(t, c, "wl_shm", 1)
		pool, err := c.CreatePool(shm, 1024)
		if err != nil {
			t.Fatal(err)
		}
		if err := tt.run(c, pool); err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if _, err := c.WaitClosed(); err != nil {
			t.Fatalf("%s: WaitClosed() = %v", tt.name, err)
		}
		if c.Error == nil || c.Error.Object != shm || c.Error.Code != tt.code {
			t.Errorf("%s: error = %v, want code %d on %s", tt.name, c.Error, tt.code, shm)
		}
	}
}

func TestShmPoolResize(t *testing.T) {
	s, _ := startEnv(t)
	c := connect(t, s, false)
	shm := bind(t, c, "wl_shm", 1)
	pool, err := c.CreatePool(shm, 1024)
	if err != nil {
		t.Fatal(err)
	}
	if err := pool.Resize(4096); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.CreateBuffer(2048, 16, 16, 64, testclient.FormatXRGB8888); err != nil {
		t.Fatal(err)
	}
	roundtrip(t, c)
	if c.Error != nil {
		t.Fatalf("error = %v", c.Error)
	}
	call(t, c, func() {
		sp, err := server.Lookup[*ShmPool](c.Server, pool.ID)
		if err != nil {
			t.Errorf("Lookup() = %v", err)
			return
		}
		if sp.Size() != 4096 {
			t.Errorf("Size() = %d, want 4096", sp.Size())
		}
	})
}

func TestCommitReleasesBuffer(t *testing.T) {
	s, _ := startEnv(t)
	c := connect(t, s, false)
	compositor := bind(t, c, "wl_compositor", 1)
	shm := bind(t, c, "wl_shm", 1)
	pool, err := c.CreatePool(shm, 4096)
	if err != nil {
		t.Fatal(err)
	}
	first, err := pool.CreateBuffer(0, 4, 4, 16, testclient.FormatARGB8888)
	if err != nil {
		t.Fatal(err)
	}
	second, err := pool.CreateBuffer(64, 4, 4, 16, testclient.FormatARGB8888)
	if err != nil {
		t.Fatal(err)
	}
	surfID, surf := surface(t, c, compositor)

	frame := c.NewID()
	send(t, c, surfID, opSurfaceAttach, first.ID, int32(0), int32(0))
	send(t, c, surfID, opSurfaceFrame, frame)
	send(t, c, surfID, opSurfaceCommit)
	events := roundtrip(t, c)
	if done := testclient.Filter(events, frame); len(done) != 1 {
		t.Errorf("frame events = %d, want 1", len(done))
	}
	if !c.Deleted[frame] {
		t.Errorf("frame callback was not deleted")
	}
	if rel := testclient.Filter(events, first.ID); len(rel) != 0 {
		t.Errorf("current buffer released early")
	}

	send(t, c, surfID, opSurfaceAttach, second.ID, int32(0), int32(0))
	send(t, c, surfID, opSurfaceCommit)
	events = roundtrip(t, c)
	rel := testclient.Filter(events, first.ID)
	if len(rel) != 1 || rel[0].Opcode != bufferRelease {
		t.Errorf("first buffer events = %v, want release", opcodes(rel))
	}
	call(t, c, func() {
		if surf.Commits() != 2 {
			t.Errorf("Commits() = %d, want 2", surf.Commits())
		}
		if b := surf.Buffer(); b == nil || b.ID() != second.ID {
			t.Errorf("Buffer() = %v, want %s", b, second.ID)
		}
	})
}

func TestSurfaceInputRegion(t *testing.T) {
	s, _ := startEnv(t)
	c := connect(t, s, false)
	compositor := bind(t, c, "wl_compositor", 1)
	surfID, surf := surface(t, c, compositor)

	region := c.NewID()
	send(t, c, compositor, opCreateRegion, region)
	send(t, c, region, opRegionAdd, int32(0), int32(0), int32(10), int32(10))
	send(t, c, surfID, 5, region)
	send(t, c, surfID, opSurfaceCommit)
	roundtrip(t, c)
	call(t, c, func() {
		if !surf.AcceptsInput(5, 5) || surf.AcceptsInput(20, 20) {
			t.Errorf("AcceptsInput() does not follow the input region")
		}
	})

	// null input region accepts everything, once committed
	send(t, c, surfID, 5, protocol.NullID)
	roundtrip(t, c)
	call(t, c, func() {
		if surf.AcceptsInput(20, 20) {
			t.Errorf("AcceptsInput(20, 20) = true before the reset is committed")
		}
	})
	send(t, c, surfID, opSurfaceCommit)
	roundtrip(t, c)
	call(t, c, func() {
		if !surf.AcceptsInput(20, 20) {
			t.Errorf("AcceptsInput(20, 20) = false after reset")
		}
	})
}
