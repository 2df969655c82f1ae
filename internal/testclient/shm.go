package testclient

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// ErrOutOfBounds is returned by CreateBuffer for a buffer that does not fit
// in the pool. The request is not sent.
var ErrOutOfBounds = errors.New("testclient: out-of-bounds buffer")

// wl_shm and wl_shm_pool request opcodes.
const (
	shmCreatePool         = 0
	shmPoolCreateBuffer   = 0
	shmPoolDestroy        = 1
	shmPoolResize         = 2
	bufferDestroy         = 0
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
)

// ShmPool is a memfd shared with the server through wl_shm.create_pool.
type ShmPool struct {
	ID protocol.ObjectID

	client    *Client
	file      *os.File
	mem       []byte
	destroyed bool
}

// ShmBuffer is a wl_buffer carved out of a pool.
type ShmBuffer struct {
	ID     protocol.ObjectID
	Offset int
	Size   int

	pool      *ShmPool
	destroyed bool
}

// CreatePool allocates size bytes of shared memory and sends create_pool on
// the bound wl_shm object shm.
func (c *Client) CreatePool(shm protocol.ObjectID, size int) (*ShmPool, error) {
	fd, err := unix.MemfdCreate("kestrel-test", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), "kestrel-test")
	mem, err := mapFile(file, size)
	if err != nil {
		file.Close()
		return nil, err
	}
	pool := &ShmPool{ID: c.NewID(), client: c, file: file, mem: mem}
	if err := c.Send(shm, shmCreatePool, pool.ID, file, int32(size)); err != nil {
		pool.release()
		return nil, err
	}
	return pool, nil
}

func mapFile(file *os.File, size int) ([]byte, error) {
	if err := unix.Ftruncate(int(file.Fd()), int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate: %w", err)
	}
	if size == 0 {
		return nil, nil
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return mem, nil
}

// Len returns the current pool size.
func (p *ShmPool) Len() int { return len(p.mem) }

// Bytes returns the client's view of the pool memory.
func (p *ShmPool) Bytes() []byte { return p.mem }

// CreateBuffer creates a buffer of height rows of stride bytes starting at
// offset.
func (p *ShmPool) CreateBuffer(offset, width, height, stride int32, format uint32) (*ShmBuffer, error) {
	size := int(height) * int(stride)
	start := int(offset)
	if start < 0 || size < 0 || start+size > len(p.mem) {
		return nil, ErrOutOfBounds
	}
	buf := &ShmBuffer{ID: p.client.NewID(), Offset: start, Size: size, pool: p}
	err := p.client.Send(p.ID, shmPoolCreateBuffer, buf.ID, offset, width, height, stride, format)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// Resize grows the memfd and tells the server about the new size.
func (p *ShmPool) Resize(size int) error {
	if size < len(p.mem) {
		return fmt.Errorf("testclient: cannot shrink pool from %d to %d", len(p.mem), size)
	}
	mem, err := mapFile(p.file, size)
	if err != nil {
		return err
	}
	if p.mem != nil {
		unix.Munmap(p.mem)
	}
	p.mem = mem
	return p.client.Send(p.ID, shmPoolResize, int32(size))
}

// Destroy sends wl_shm_pool.destroy once and releases the local mapping.
func (p *ShmPool) Destroy() error {
	if p.destroyed {
		return nil
	}
	p.destroyed = true
	p.release()
	return p.client.Send(p.ID, shmPoolDestroy)
}

func (p *ShmPool) release() {
	if p.mem != nil {
		unix.Munmap(p.mem)
		p.mem = nil
	}
	p.file.Close()
}

// Destroy sends wl_buffer.destroy once.
func (b *ShmBuffer) Destroy() error {
	if b.destroyed {
		return nil
	}
	b.destroyed = true
	return b.pool.client.Send(b.ID, bufferDestroy)
}
