package ifs

import (
	"fmt"
	"log/slog"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// Log levels accepted by jay_compositor.set_log_level.
const (
	JayLogError uint32 = iota
	JayLogWarn
	JayLogInfo
	JayLogDebug
	JayLogTrace
)

// LogLevel maps a jay_compositor log level to a slog level.
func LogLevel(level uint32) (slog.Level, error) {
	switch level {
	case JayLogError:
		return slog.LevelError, nil
	case JayLogWarn:
		return slog.LevelWarn, nil
	case JayLogInfo:
		return slog.LevelInfo, nil
	case JayLogDebug:
		return slog.LevelDebug, nil
	case JayLogTrace:
		return server.LevelTrace, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownLogLevel, level)
}

// JayCompositorGlobal advertises the privileged jay_compositor interface.
type JayCompositorGlobal struct {
	server.GlobalBase
}

func (g *JayCompositorGlobal) Interface() string { return "jay_compositor" }
func (g *JayCompositorGlobal) Version() uint32   { return 1 }
func (g *JayCompositorGlobal) Singleton() bool   { return true }
func (g *JayCompositorGlobal) Secure() bool      { return true }

func (g *JayCompositorGlobal) Bind(c *server.Client, id protocol.ObjectID, version uint32) error {
	return c.AddClientObject(&JayCompositor{ObjectBase: server.NewObjectBase(c, id, version)})
}

// JayCompositor is a jay_compositor object. It lets trusted tools control
// the running server.
type JayCompositor struct {
	server.ObjectBase
}

var jayCompositorRequests = server.NewRequests("jay_compositor",
	server.Request[*JayCompositor]{Name: "destroy", Since: 1, Handle: (*JayCompositor).destroy},
	server.Request[*JayCompositor]{Name: "get_log_file", Since: 1, Handle: (*JayCompositor).getLogFile},
	server.Request[*JayCompositor]{Name: "quit", Since: 1, Handle: (*JayCompositor).quit},
	server.Request[*JayCompositor]{Name: "set_log_level", Since: 1, Handle: (*JayCompositor).setLogLevel},
)

func (j *JayCompositor) Interface() string { return "jay_compositor" }

func (j *JayCompositor) NumRequests() uint32 { return jayCompositorRequests.Accepted(j.Version()) }

func (j *JayCompositor) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return jayCompositorRequests.Dispatch(j, opcode, p)
}

func (j *JayCompositor) destroy(p *protocol.Parser) error {
	return j.Client().Remove(j)
}

func (j *JayCompositor) getLogFile(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	c := j.Client()
	lf := &JayLogFile{ObjectBase: server.NewObjectBase(c, id, j.Version())}
	if err := c.AddClientObject(lf); err != nil {
		return err
	}
	c.Event(jayLogFilePathEvent{self: id, path: c.State().LogPath()})
	return nil
}

func (j *JayCompositor) quit(p *protocol.Parser) error {
	s := j.Client().State()
	s.Logger().Info("quit requested", "client", j.Client().ID)
	s.Loop.Stop()
	return nil
}

func (j *JayCompositor) setLogLevel(p *protocol.Parser) error {
	raw, err := p.Uint()
	if err != nil {
		return err
	}
	level, err := LogLevel(raw)
	if err != nil {
		return err
	}
	j.Client().State().SetLogLevel(level)
	return nil
}

// JayLogFile is a jay_log_file object. It reports the log file path once.
type JayLogFile struct {
	server.ObjectBase
}

var jayLogFileRequests = server.NewRequests("jay_log_file",
	server.Request[*JayLogFile]{Name: "destroy", Since: 1, Handle: (*JayLogFile).destroy},
)

func (l *JayLogFile) Interface() string { return "jay_log_file" }

func (l *JayLogFile) NumRequests() uint32 { return jayLogFileRequests.Accepted(l.Version()) }

func (l *JayLogFile) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return jayLogFileRequests.Dispatch(l, opcode, p)
}

func (l *JayLogFile) destroy(p *protocol.Parser) error {
	return l.Client().Remove(l)
}

type jayLogFilePathEvent struct {
	self protocol.ObjectID
	path string
}

func (ev jayLogFilePathEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, 0)
	e.Str(ev.path)
}
