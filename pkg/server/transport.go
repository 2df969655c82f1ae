package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// Conn is the byte stream of one client plus its out-of-band channel for
// file descriptors.
type Conn interface {
	// Read returns the next chunk of bytes and any descriptors received with
	// it. The returned slice is only valid until the next Read.
	Read() ([]byte, []*os.File, error)

	// Write sends b, attaching fds to its first byte. Ownership of fds stays
	// with the caller.
	Write(b []byte, fds []*os.File) error

	SetWriteDeadline(t time.Time) error
	Close() error
}

// UnixConn carries the protocol over a Unix stream socket with SCM_RIGHTS.
type UnixConn struct {
	conn *net.UnixConn
	buf  []byte
	oob  []byte
}

// NewUnixConn wraps a connected Unix socket.
func NewUnixConn(conn *net.UnixConn, bufSize int) *UnixConn {
	if bufSize <= 0 {
		bufSize = 4096
	}
	return &UnixConn{
		conn: conn,
		buf:  make([]byte, bufSize),
		oob:  make([]byte, unix.CmsgSpace(protocol.MaxFdsPerMessage*4)),
	}
}

// Read reads bytes and collects descriptors passed with them.
func (u *UnixConn) Read() ([]byte, []*os.File, error) {
	n, oobn, _, _, err := u.conn.ReadMsgUnix(u.buf, u.oob)
	var files []*os.File
	if oobn > 0 {
		var perr error
		files, perr = parseRights(u.oob[:oobn])
		if perr != nil && err == nil {
			err = perr
		}
	}
	if n == 0 && len(files) == 0 && err == nil {
		err = net.ErrClosed
	}
	return u.buf[:n], files, err
}

func parseRights(oob []byte) ([]*os.File, error) {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	var files []*os.File
	for i := range msgs {
		fds, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			continue
		}
		for _, fd := range fds {
			files = append(files, os.NewFile(uintptr(fd), "client-fd"))
		}
	}
	return files, nil
}

// Write sends b with fds attached to the first chunk.
func (u *UnixConn) Write(b []byte, fds []*os.File) error {
	var oob []byte
	if len(fds) > 0 {
		raw := make([]int, len(fds))
		for i, f := range fds {
			raw[i] = int(f.Fd())
		}
		oob = unix.UnixRights(raw...)
	}
	for len(b) > 0 || oob != nil {
		n, _, err := u.conn.WriteMsgUnix(b, oob, nil)
		if err != nil {
			return err
		}
		b = b[n:]
		oob = nil
	}
	return nil
}

// SetWriteDeadline sets the deadline for pending and future writes.
func (u *UnixConn) SetWriteDeadline(t time.Time) error {
	return u.conn.SetWriteDeadline(t)
}

// Close closes the socket.
func (u *UnixConn) Close() error {
	return u.conn.Close()
}

// WSConn carries the protocol over WebSocket binary messages. WebSockets
// have no out-of-band channel, so requests that need a descriptor fail with
// protocol.ErrMissingFd and events carrying one fail the write.
type WSConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewWSConn wraps an upgraded WebSocket connection.
func NewWSConn(conn *websocket.Conn, maxMessageSize int64) *WSConn {
	conn.SetReadLimit(maxMessageSize)
	return &WSConn{conn: conn}
}

// Read returns the next binary message.
func (w *WSConn) Read() ([]byte, []*os.File, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, nil, err
		}
		if mt == websocket.BinaryMessage {
			return data, nil, nil
		}
	}
}

// Write sends b as one binary message.
func (w *WSConn) Write(b []byte, fds []*os.File) error {
	if len(fds) > 0 {
		return ErrFdsUnsupported
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, b)
}

// SetWriteDeadline sets the deadline for pending and future writes.
func (w *WSConn) SetWriteDeadline(t time.Time) error {
	return w.conn.SetWriteDeadline(t)
}

// Close sends a close frame and closes the connection.
func (w *WSConn) Close() error {
	w.mu.Lock()
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	w.mu.Unlock()
	return w.conn.Close()
}

// isClosedErr reports whether err is an ordinary end of connection.
func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE)
}
