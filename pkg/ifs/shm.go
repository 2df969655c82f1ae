package ifs

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// wl_shm error codes.
const (
	ShmErrorInvalidFormat uint32 = 0
	ShmErrorInvalidStride uint32 = 1
	ShmErrorInvalidFd     uint32 = 2
)

// wl_shm formats.
const (
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
)

var shmFormats = []uint32{FormatARGB8888, FormatXRGB8888}

// ShmGlobal advertises wl_shm.
type ShmGlobal struct {
	server.GlobalBase
}

func (g *ShmGlobal) Interface() string { return "wl_shm" }
func (g *ShmGlobal) Version() uint32   { return 1 }

func (g *ShmGlobal) Bind(c *server.Client, id protocol.ObjectID, version uint32) error {
	shm := &Shm{ObjectBase: server.NewObjectBase(c, id, version)}
	if err := c.AddClientObject(shm); err != nil {
		return err
	}
	for _, f := range shmFormats {
		c.Event(shmFormatEvent{self: id, format: f})
	}
	return nil
}

type shmFormatEvent struct {
	self   protocol.ObjectID
	format uint32
}

func (ev shmFormatEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, 0)
	e.Uint(ev.format)
}

// Shm is a wl_shm object.
type Shm struct {
	server.ObjectBase
}

var shmRequests = server.NewRequests("wl_shm",
	server.Request[*Shm]{Name: "create_pool", Since: 1, Handle: (*Shm).createPool},
)

func (s *Shm) Interface() string { return "wl_shm" }

func (s *Shm) NumRequests() uint32 { return shmRequests.Accepted(s.Version()) }

func (s *Shm) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return shmRequests.Dispatch(s, opcode, p)
}

func (s *Shm) createPool(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	fd, err := p.Fd()
	if err != nil {
		return err
	}
	size, err := p.Int()
	if err != nil {
		fd.Close()
		return err
	}
	if size <= 0 {
		fd.Close()
		return server.NewProtocolError(s.ID(), ShmErrorInvalidStride, "invalid pool size %d", size)
	}
	mem, err := mapPool(fd, int(size))
	if err != nil {
		fd.Close()
		return server.NewProtocolError(s.ID(), ShmErrorInvalidFd, "could not map pool: %v", err)
	}
	pool := &ShmPool{ObjectBase: server.NewObjectBase(s.Client(), id, s.Version()), shm: s.ID(), fd: fd, mem: mem}
	if err := s.Client().AddClientObject(pool); err != nil {
		pool.BreakLoops()
		return err
	}
	return nil
}

// poolMem is a mapping shared by a pool and the buffers created from it.
type poolMem struct {
	data []byte
	refs int
}

func mapPool(fd *os.File, size int) (*poolMem, error) {
	data, err := unix.Mmap(int(fd.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &poolMem{data: data, refs: 1}, nil
}

func (m *poolMem) ref() *poolMem {
	m.refs++
	return m
}

func (m *poolMem) unref() {
	m.refs--
	if m.refs == 0 {
		unix.Munmap(m.data)
		m.data = nil
	}
}

// ShmPool is a wl_shm_pool object.
type ShmPool struct {
	server.ObjectBase
	shm protocol.ObjectID
	fd  *os.File
	mem *poolMem
}

var shmPoolRequests = server.NewRequests("wl_shm_pool",
	server.Request[*ShmPool]{Name: "create_buffer", Since: 1, Handle: (*ShmPool).createBuffer},
	server.Request[*ShmPool]{Name: "destroy", Since: 1, Handle: (*ShmPool).destroy},
	server.Request[*ShmPool]{Name: "resize", Since: 1, Handle: (*ShmPool).resize},
)

func (sp *ShmPool) Interface() string { return "wl_shm_pool" }

func (sp *ShmPool) NumRequests() uint32 { return shmPoolRequests.Accepted(sp.Version()) }

func (sp *ShmPool) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return shmPoolRequests.Dispatch(sp, opcode, p)
}

// Size returns the mapped size.
func (sp *ShmPool) Size() int { return len(sp.mem.data) }

// BreakLoops releases the mapping; buffers keep their own reference.
func (sp *ShmPool) BreakLoops() {
	if sp.mem != nil {
		sp.mem.unref()
		sp.mem = nil
	}
	if sp.fd != nil {
		sp.fd.Close()
		sp.fd = nil
	}
}

func (sp *ShmPool) createBuffer(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	var v [4]int32
	for i := range v {
		if v[i], err = p.Int(); err != nil {
			return err
		}
	}
	offset, width, height, stride := v[0], v[1], v[2], v[3]
	format, err := p.Uint()
	if err != nil {
		return err
	}

	if format != FormatARGB8888 && format != FormatXRGB8888 {
		return server.NewProtocolError(sp.shm, ShmErrorInvalidFormat, "unknown format %#x", format)
	}
	if offset < 0 || width <= 0 || height <= 0 || int64(stride) < int64(width)*4 {
		return server.NewProtocolError(sp.shm, ShmErrorInvalidStride,
			"invalid geometry offset=%d width=%d height=%d stride=%d", offset, width, height, stride)
	}
	end := int64(offset) + int64(stride)*int64(height)
	if end > int64(len(sp.mem.data)) {
		return server.NewProtocolError(sp.shm, ShmErrorInvalidStride,
			"buffer [%d, %d) exceeds pool size %d", offset, end, len(sp.mem.data))
	}

	buf := &Buffer{
		ObjectBase: server.NewObjectBase(sp.Client(), id, 1),
		Width:      width,
		Height:     height,
		Stride:     stride,
		Format:     format,
		offset:     int(offset),
		size:       int(end) - int(offset),
		mem:        sp.mem.ref(),
	}
	if err := sp.Client().AddClientObject(buf); err != nil {
		buf.BreakLoops()
		return err
	}
	return nil
}

func (sp *ShmPool) destroy(p *protocol.Parser) error {
	return sp.Client().Remove(sp)
}

func (sp *ShmPool) resize(p *protocol.Parser) error {
	size, err := p.Int()
	if err != nil {
		return err
	}
	if int(size) < len(sp.mem.data) {
		return server.NewProtocolError(sp.shm, ShmErrorInvalidStride,
			"pool cannot shrink from %d to %d", len(sp.mem.data), size)
	}
	if int(size) == len(sp.mem.data) {
		return nil
	}
	mem, err := mapPool(sp.fd, int(size))
	if err != nil {
		return server.NewProtocolError(sp.shm, ShmErrorInvalidFd, "could not remap pool: %v", err)
	}
	sp.mem.unref()
	sp.mem = mem
	return nil
}

// wl_buffer events.
const bufferRelease = 0

// Buffer is a wl_buffer backed by a shm pool.
type Buffer struct {
	server.ObjectBase
	Width, Height, Stride int32
	Format                uint32

	offset    int
	size      int
	mem       *poolMem
	destroyed bool
	releases  int
}

var bufferRequests = server.NewRequests("wl_buffer",
	server.Request[*Buffer]{Name: "destroy", Since: 1, Handle: (*Buffer).destroy},
)

func (b *Buffer) Interface() string { return "wl_buffer" }

func (b *Buffer) NumRequests() uint32 { return bufferRequests.Accepted(b.Version()) }

func (b *Buffer) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return bufferRequests.Dispatch(b, opcode, p)
}

// Bytes returns the buffer contents. The slice is only valid until the
// buffer is destroyed.
func (b *Buffer) Bytes() []byte {
	if b.mem == nil {
		return nil
	}
	return b.mem.data[b.offset : b.offset+b.size]
}

// BreakLoops drops the pool mapping reference.
func (b *Buffer) BreakLoops() {
	b.destroyed = true
	if b.mem != nil {
		b.mem.unref()
		b.mem = nil
	}
}

func (b *Buffer) destroy(p *protocol.Parser) error {
	return b.Client().Remove(b)
}

// release tells the client the compositor no longer reads the buffer.
func (b *Buffer) release() {
	if b.destroyed {
		return
	}
	b.releases++
	b.Client().Event(bufferReleaseEvent{self: b.ID()})
}

type bufferReleaseEvent struct {
	self protocol.ObjectID
}

func (ev bufferReleaseEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, bufferRelease)
}
