package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"
)

// Parse errors. Every error returned by a Parser wraps one of these.
var (
	ErrUnexpectedEOF = errors.New("protocol: unexpected end of message")
	ErrNonUTF8       = errors.New("protocol: string is not valid UTF-8")
	ErrEmptyString   = errors.New("protocol: string has length 0")
	ErrMissingFd     = errors.New("protocol: no file descriptor queued")
	ErrTrailingData  = errors.New("protocol: message has trailing data")
)

// ParseError records where in a payload decoding failed.
type ParseError struct {
	Offset int
	Err    error
}

// Error returns the error message with the payload offset.
func (e *ParseError) Error() string {
	return fmt.Sprintf("%v (offset %d)", e.Err, e.Offset)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// FdSource supplies out-of-band file descriptors in arrival order.
type FdSource interface {
	PopFd() (*os.File, bool)
}

// Parser reads typed arguments from one message payload.
// It never reads outside the payload it was created for.
type Parser struct {
	buf []byte
	pos int
	fds FdSource
}

// NewParser creates a parser over payload. fds may be nil when the transport
// cannot carry file descriptors.
func NewParser(payload []byte, fds FdSource) *Parser {
	return &Parser{buf: payload, fds: fds}
}

// Remaining returns the number of unread bytes.
func (p *Parser) Remaining() int {
	return len(p.buf) - p.pos
}

func (p *Parser) fail(err error) error {
	return &ParseError{Offset: p.pos, Err: err}
}

func (p *Parser) word() (uint32, error) {
	if len(p.buf)-p.pos < 4 {
		return 0, p.fail(ErrUnexpectedEOF)
	}
	v := binary.NativeEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v, nil
}

// Int reads a signed 32-bit integer.
func (p *Parser) Int() (int32, error) {
	v, err := p.word()
	return int32(v), err
}

// Uint reads an unsigned 32-bit integer.
func (p *Parser) Uint() (uint32, error) {
	return p.word()
}

// Fixed reads a 24.8 fixed-point number.
func (p *Parser) Fixed() (Fixed, error) {
	v, err := p.word()
	return Fixed(int32(v)), err
}

// Object reads an object reference. NullID is returned for a null reference.
func (p *Parser) Object() (ObjectID, error) {
	v, err := p.word()
	return ObjectID(v), err
}

// NewID reads the ID of an object the sender is creating.
func (p *Parser) NewID() (ObjectID, error) {
	return p.Object()
}

// Global reads a global name.
func (p *Parser) Global() (GlobalName, error) {
	v, err := p.word()
	return GlobalName(v), err
}

// padded rounds n up to the next multiple of 4.
func padded(n uint32) int {
	return int((uint64(n) + 3) &^ 3)
}

// Str reads a NUL-terminated UTF-8 string.
func (p *Parser) Str() (string, error) {
	n, err := p.word()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", p.fail(ErrEmptyString)
	}
	size := padded(n)
	if size > len(p.buf)-p.pos {
		return "", p.fail(ErrUnexpectedEOF)
	}
	b := p.buf[p.pos : p.pos+int(n)-1]
	if !utf8.Valid(b) {
		return "", p.fail(ErrNonUTF8)
	}
	p.pos += size
	return string(b), nil
}

// Array reads a length-prefixed byte array. The returned slice aliases the
// payload and must not be retained past the request handler.
func (p *Parser) Array() ([]byte, error) {
	n, err := p.word()
	if err != nil {
		return nil, err
	}
	size := padded(n)
	if size > len(p.buf)-p.pos {
		return nil, p.fail(ErrUnexpectedEOF)
	}
	b := p.buf[p.pos : p.pos+int(n)]
	p.pos += size
	return b, nil
}

// Fd takes the next queued file descriptor. The caller owns the returned file.
func (p *Parser) Fd() (*os.File, error) {
	if p.fds == nil {
		return nil, p.fail(ErrMissingFd)
	}
	f, ok := p.fds.PopFd()
	if !ok {
		return nil, p.fail(ErrMissingFd)
	}
	return f, nil
}

// EOF fails unless the whole payload has been consumed.
func (p *Parser) EOF() error {
	if p.pos != len(p.buf) {
		return p.fail(ErrTrailingData)
	}
	return nil
}

// Fds is a FIFO of received file descriptors.
type Fds struct {
	files []*os.File
}

// Push appends files in arrival order.
func (q *Fds) Push(files ...*os.File) {
	q.files = append(q.files, files...)
}

// PopFd removes and returns the oldest file.
func (q *Fds) PopFd() (*os.File, bool) {
	if len(q.files) == 0 {
		return nil, false
	}
	f := q.files[0]
	q.files[0] = nil
	q.files = q.files[1:]
	return f, true
}

// Len returns the number of queued files.
func (q *Fds) Len() int {
	return len(q.files)
}

// Close closes and drops every queued file.
func (q *Fds) Close() {
	for _, f := range q.files {
		f.Close()
	}
	q.files = nil
}
