package protocol

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Message is an event (or, on the client side, a request) that can write
// itself to an Encoder. Format must call Encoder.Header exactly once before
// writing its arguments.
type Message interface {
	Format(e *Encoder)
}

// Encoder appends messages to an internal buffer.
// It is designed for efficient encoding without allocations in the hot path.
type Encoder struct {
	buf   []byte
	fds   []*os.File
	start int
}

// NewEncoder creates a new encoder with a default initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{
		buf: make([]byte, 0, 4096),
	}
}

// Reset resets the encoder to empty state, reusing the underlying buffer.
// Queued files are dropped without being closed.
func (e *Encoder) Reset() {
	e.buf = e.buf[:0]
	e.fds = e.fds[:0]
}

// Bytes returns the encoded bytes. The returned slice is valid until
// the next call to Reset or any write method.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Fds returns the files queued alongside the encoded bytes.
func (e *Encoder) Fds() []*os.File {
	return e.fds
}

// Len returns the number of bytes currently encoded.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// Message encodes m and patches its header with the final size. A message
// the size field cannot describe is removed again, and the files it queued
// are returned to the caller unsent along with ErrMessageTooLarge.
func (e *Encoder) Message(m Message) ([]*os.File, error) {
	e.start = len(e.buf)
	nfds := len(e.fds)
	m.Format(e)
	size := len(e.buf) - e.start
	if size > MaxMessageSize {
		dropped := append([]*os.File(nil), e.fds[nfds:]...)
		e.buf = e.buf[:e.start]
		e.fds = e.fds[:nfds]
		return dropped, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, size, MaxMessageSize)
	}
	word := binary.NativeEndian.Uint32(e.buf[e.start+4:])
	binary.NativeEndian.PutUint32(e.buf[e.start+4:], uint32(size)<<16|word&0xffff)
	return nil, nil
}

// Header starts a message addressed to id.
func (e *Encoder) Header(id ObjectID, opcode uint16) {
	e.Uint(uint32(id))
	e.Uint(uint32(opcode))
}

// Uint appends an unsigned 32-bit integer.
func (e *Encoder) Uint(v uint32) {
	e.buf = binary.NativeEndian.AppendUint32(e.buf, v)
}

// Int appends a signed 32-bit integer.
func (e *Encoder) Int(v int32) {
	e.Uint(uint32(v))
}

// Fixed appends a fixed-point number.
func (e *Encoder) Fixed(v Fixed) {
	e.Uint(uint32(v))
}

// Object appends an object reference.
func (e *Encoder) Object(id ObjectID) {
	e.Uint(uint32(id))
}

// Global appends a global name.
func (e *Encoder) Global(n GlobalName) {
	e.Uint(uint32(n))
}

// Str appends a string with its NUL terminator and padding.
func (e *Encoder) Str(s string) {
	e.Uint(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	e.pad()
}

// Array appends a length-prefixed byte array with padding.
func (e *Encoder) Array(b []byte) {
	e.Uint(uint32(len(b)))
	e.buf = append(e.buf, b...)
	e.pad()
}

// Fd queues a file to be sent out of band. The encoder's owner closes it
// once it has been transmitted.
func (e *Encoder) Fd(f *os.File) {
	e.fds = append(e.fds, f)
}

func (e *Encoder) pad() {
	for len(e.buf)%4 != 0 {
		e.buf = append(e.buf, 0)
	}
}
