package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Framing errors.
var (
	ErrMessageTooLarge = errors.New("protocol: message too large")
	ErrMessageTooSmall = errors.New("protocol: message smaller than header")
	ErrMisaligned      = errors.New("protocol: message size not a multiple of 4")
)

// Header is the fixed part of every message.
//
// Wire format (8 bytes, host byte order):
//
//	┌───────────────────────────────┬───────────────┬───────────────┐
//	│ Object ID (4 bytes)           │ Opcode (16)   │ Size (16)     │
//	└───────────────────────────────┴───────────────┴───────────────┘
type Header struct {
	Object ObjectID
	Opcode uint16
	Size   uint16
}

// DecodeHeader decodes a header from the first 8 bytes of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrUnexpectedEOF
	}
	word := binary.NativeEndian.Uint32(b[4:])
	return Header{
		Object: ObjectID(binary.NativeEndian.Uint32(b)),
		Opcode: uint16(word),
		Size:   uint16(word >> 16),
	}, nil
}

// Validate checks the size field against the framing rules.
func (h Header) Validate(max int) error {
	switch {
	case h.Size < HeaderSize:
		return ErrMessageTooSmall
	case h.Size%4 != 0:
		return ErrMisaligned
	case int(h.Size) > max:
		return fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, h.Size, max)
	}
	return nil
}

// Request is one framed message with its payload.
type Request struct {
	Header
	Payload []byte
}

// Framer splits a byte stream into messages. Bytes may arrive in arbitrary
// chunks; incomplete trailing messages are kept until more data arrives.
type Framer struct {
	buf []byte
	max int
}

// NewFramer creates a framer that rejects messages larger than max bytes.
func NewFramer(max int) *Framer {
	if max <= 0 || max > MaxMessageSize {
		max = MaxMessageSize
	}
	return &Framer{max: max}
}

// Feed appends received bytes.
func (f *Framer) Feed(b []byte) {
	f.buf = append(f.buf, b...)
}

// Buffered returns the number of bytes not yet returned as messages.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Drain returns every complete buffered message. The payloads share one
// freshly allocated chunk, so they stay valid after later calls to Feed.
// After an error the stream position is lost and the framer must not be
// used again.
func (f *Framer) Drain() ([]Request, error) {
	n := 0
	count := 0
	for len(f.buf)-n >= HeaderSize {
		h, _ := DecodeHeader(f.buf[n:])
		if err := h.Validate(f.max); err != nil {
			return nil, err
		}
		if len(f.buf)-n < int(h.Size) {
			break
		}
		n += int(h.Size)
		count++
	}
	if count == 0 {
		return nil, nil
	}

	chunk := make([]byte, n)
	copy(chunk, f.buf[:n])
	f.buf = append(f.buf[:0], f.buf[n:]...)

	reqs := make([]Request, 0, count)
	for off := 0; off < n; {
		h, _ := DecodeHeader(chunk[off:])
		reqs = append(reqs, Request{
			Header:  h,
			Payload: chunk[off+HeaderSize : off+int(h.Size) : off+int(h.Size)],
		})
		off += int(h.Size)
	}
	return reqs, nil
}
