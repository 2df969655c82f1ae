package ifs

import (
	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// Button states.
const (
	ButtonReleased uint32 = 0
	ButtonPressed  uint32 = 1
)

// Scroll axes.
const (
	VerticalScroll   uint32 = 0
	HorizontalScroll uint32 = 1
)

// Axis sources.
const (
	AxisSourceWheel      uint32 = 0
	AxisSourceFinger     uint32 = 1
	AxisSourceContinuous uint32 = 2
	AxisSourceWheelTilt  uint32 = 3
)

const (
	pointerEnter        = 0
	pointerLeave        = 1
	pointerMotion       = 2
	pointerButton       = 3
	pointerAxis         = 4
	pointerFrame        = 5
	pointerAxisSource   = 6
	pointerAxisStop     = 7
	pointerAxisDiscrete = 8

	frameSinceVersion        = 5
	axisSourceSinceVersion   = 5
	axisDiscreteSinceVersion = 5
	axisStopSinceVersion     = 5
	wheelTiltSinceVersion    = 6
)

// PendingScroll collects the scroll events of one pointer frame.
type PendingScroll struct {
	Discrete    [2]int32
	HasDiscrete [2]bool
	Axis        [2]protocol.Fixed
	HasAxis     [2]bool
	Stop        [2]bool
	Source      uint32
	HasSource   bool
}

// Take returns the accumulated values and resets ps.
func (ps *PendingScroll) Take() PendingScroll {
	v := *ps
	*ps = PendingScroll{}
	return v
}

// Empty reports whether nothing was accumulated.
func (ps PendingScroll) Empty() bool {
	return ps == PendingScroll{}
}

// Pointer is a wl_pointer object.
type Pointer struct {
	server.ObjectBase
	seat *SeatGlobal
}

var pointerRequests = server.NewRequests("wl_pointer",
	server.Request[*Pointer]{Name: "set_cursor", Since: 1, Handle: (*Pointer).setCursor},
	server.Request[*Pointer]{Name: "release", Since: 3, Handle: (*Pointer).release},
)

func (p *Pointer) Interface() string { return "wl_pointer" }

func (p *Pointer) NumRequests() uint32 { return pointerRequests.Accepted(p.Version()) }

func (p *Pointer) HandleRequest(opcode uint16, parser *protocol.Parser) error {
	return pointerRequests.Dispatch(p, opcode, parser)
}

func (p *Pointer) BreakLoops() {
	p.seat.pointers.remove(p.Client(), p.ID())
}

// setCursor installs the client cursor. Requests with an outdated serial or
// from a client without pointer focus are ignored.
func (p *Pointer) setCursor(parser *protocol.Parser) error {
	serial, err := parser.Uint()
	if err != nil {
		return err
	}
	surfaceID, err := parser.Object()
	if err != nil {
		return err
	}
	hx, err := parser.Int()
	if err != nil {
		return err
	}
	hy, err := parser.Int()
	if err != nil {
		return err
	}
	if err := parser.EOF(); err != nil {
		return err
	}

	c := p.Client()
	if !c.ValidSerial(serial) {
		c.Logger().Warn("set_cursor with an invalid serial", "serial", serial)
		return nil
	}
	surface, err := server.LookupOptional[*Surface](c, surfaceID)
	if err != nil {
		return err
	}
	focus := p.seat.pointerFocus
	if focus == nil || focus.Client() != c {
		return nil
	}
	if serial != c.LastEnterSerial() {
		return nil
	}

	var cursor *Cursor
	if surface != nil {
		cursor = surface.cursorRole(p.seat)
		cursor.HotspotX, cursor.HotspotY = hx, hy
		cursor.dx, cursor.dy = 0, 0
	}
	p.seat.SetAppCursor(cursor)
	return nil
}

func (p *Pointer) release(parser *protocol.Parser) error {
	p.seat.pointers.remove(p.Client(), p.ID())
	return p.Client().Remove(p)
}

func (p *Pointer) sendEnter(serial uint32, surface protocol.ObjectID, x, y protocol.Fixed) {
	p.Client().Event(pointerEnterEvent{self: p.ID(), serial: serial, surface: surface, x: x, y: y})
}

func (p *Pointer) sendLeave(serial uint32, surface protocol.ObjectID) {
	p.Client().Event(pointerLeaveEvent{self: p.ID(), serial: serial, surface: surface})
}

func (p *Pointer) sendMotion(time uint32, x, y protocol.Fixed) {
	p.Client().Event(pointerMotionEvent{self: p.ID(), time: time, x: x, y: y})
}

func (p *Pointer) sendButton(serial, time, button, state uint32) {
	p.Client().Event(pointerButtonEvent{self: p.ID(), serial: serial, time: time, button: button, state: state})
}

func (p *Pointer) sendFrame() {
	if p.Version() >= frameSinceVersion {
		p.Client().Event(pointerFrameEvent{self: p.ID()})
	}
}

// sendScroll emits one frame of scroll events, leaving out those the
// pointer's version does not know.
func (p *Pointer) sendScroll(time uint32, s PendingScroll) {
	c := p.Client()
	v := p.Version()
	if s.HasSource && v >= axisSourceSinceVersion {
		if s.Source != AxisSourceWheelTilt || v >= wheelTiltSinceVersion {
			c.Event(pointerAxisSourceEvent{self: p.ID(), source: s.Source})
		}
	}
	for axis := VerticalScroll; axis <= HorizontalScroll; axis++ {
		if s.HasDiscrete[axis] && v >= axisDiscreteSinceVersion {
			c.Event(pointerAxisDiscreteEvent{self: p.ID(), axis: axis, discrete: s.Discrete[axis]})
		}
		if s.HasAxis[axis] {
			c.Event(pointerAxisEvent{self: p.ID(), time: time, axis: axis, value: s.Axis[axis]})
		}
		if s.Stop[axis] && v >= axisStopSinceVersion {
			c.Event(pointerAxisStopEvent{self: p.ID(), time: time, axis: axis})
		}
	}
	p.sendFrame()
}

type pointerEnterEvent struct {
	self    protocol.ObjectID
	serial  uint32
	surface protocol.ObjectID
	x, y    protocol.Fixed
}

func (ev pointerEnterEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerEnter)
	e.Uint(ev.serial)
	e.Object(ev.surface)
	e.Fixed(ev.x)
	e.Fixed(ev.y)
}

type pointerLeaveEvent struct {
	self    protocol.ObjectID
	serial  uint32
	surface protocol.ObjectID
}

func (ev pointerLeaveEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerLeave)
	e.Uint(ev.serial)
	e.Object(ev.surface)
}

type pointerMotionEvent struct {
	self protocol.ObjectID
	time uint32
	x, y protocol.Fixed
}

func (ev pointerMotionEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerMotion)
	e.Uint(ev.time)
	e.Fixed(ev.x)
	e.Fixed(ev.y)
}

type pointerButtonEvent struct {
	self                        protocol.ObjectID
	serial, time, button, state uint32
}

func (ev pointerButtonEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerButton)
	e.Uint(ev.serial)
	e.Uint(ev.time)
	e.Uint(ev.button)
	e.Uint(ev.state)
}

type pointerAxisEvent struct {
	self  protocol.ObjectID
	time  uint32
	axis  uint32
	value protocol.Fixed
}

func (ev pointerAxisEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerAxis)
	e.Uint(ev.time)
	e.Uint(ev.axis)
	e.Fixed(ev.value)
}

type pointerFrameEvent struct {
	self protocol.ObjectID
}

func (ev pointerFrameEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerFrame)
}

type pointerAxisSourceEvent struct {
	self   protocol.ObjectID
	source uint32
}

func (ev pointerAxisSourceEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerAxisSource)
	e.Uint(ev.source)
}

type pointerAxisStopEvent struct {
	self protocol.ObjectID
	time uint32
	axis uint32
}

func (ev pointerAxisStopEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerAxisStop)
	e.Uint(ev.time)
	e.Uint(ev.axis)
}

type pointerAxisDiscreteEvent struct {
	self     protocol.ObjectID
	axis     uint32
	discrete int32
}

func (ev pointerAxisDiscreteEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, pointerAxisDiscrete)
	e.Uint(ev.axis)
	e.Int(ev.discrete)
}
