package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Listener accepts clients on a Unix socket.
type Listener struct {
	state      *State
	path       string
	privileged bool
	ln         *net.UnixListener
	lock       *os.File

	closeOnce sync.Once
}

// Listen creates the socket at path. A lock file next to the socket keeps two
// servers from claiming the same path; a stale socket left by a dead server
// is removed.
func Listen(state *State, path string, privileged bool) (*Listener, error) {
	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lock.Close()
		return nil, fmt.Errorf("socket %s is in use: %w", path, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		lock.Close()
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		lock.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}
	ln.SetUnlinkOnClose(true)
	if privileged {
		if err := os.Chmod(path, 0o700); err != nil {
			ln.Close()
			lock.Close()
			return nil, fmt.Errorf("chmod: %w", err)
		}
	}

	state.logger.Info("listening", "socket", path, "privileged", privileged)
	return &Listener{
		state:      state,
		path:       path,
		privileged: privileged,
		ln:         ln,
		lock:       lock,
	}, nil
}

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

// Serve accepts connections until ctx ends or the listener is closed.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		l.accept(conn)
	}
}

func (l *Listener) accept(conn *net.UnixConn) {
	wrapped := NewUnixConn(conn, l.state.config.ReadBufferSize)
	l.state.Loop.Submit(func() {
		if _, err := l.state.AddClient(wrapped, l.privileged); err != nil {
			l.state.logger.Warn("rejected client", "error", err)
		}
	})
}

// Close stops accepting and removes the socket and its lock file.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.ln.Close()
		os.Remove(l.path + ".lock")
		l.lock.Close()
	})
	return err
}
