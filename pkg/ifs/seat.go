package ifs

import (
	"encoding/binary"
	"os"
	"sort"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// wl_seat capabilities.
const (
	CapabilityPointer  uint32 = 1
	CapabilityKeyboard uint32 = 2
	CapabilityTouch    uint32 = 4
)

const (
	seatCapabilities = 0
	seatName         = 1

	seatNameSinceVersion = 2
)

// objectSet holds weak references to objects, grouped by client. Owners
// remove themselves in BreakLoops.
type objectSet[T server.Object] map[server.ClientID]map[protocol.ObjectID]T

func (s objectSet[T]) add(c *server.Client, obj T) {
	m := s[c.ID]
	if m == nil {
		m = make(map[protocol.ObjectID]T)
		s[c.ID] = m
	}
	m[obj.ID()] = obj
}

func (s objectSet[T]) remove(c *server.Client, id protocol.ObjectID) {
	if m := s[c.ID]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(s, c.ID)
		}
	}
}

// each visits the objects of one client in ID order.
func (s objectSet[T]) each(id server.ClientID, fn func(T)) {
	m := s[id]
	ids := make([]protocol.ObjectID, 0, len(m))
	for oid := range m {
		ids = append(ids, oid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, oid := range ids {
		fn(m[oid])
	}
}

func (s objectSet[T]) count(id server.ClientID) int {
	return len(s[id])
}

// SeatGlobal is a wl_seat global together with the input state of the seat:
// focus, serials, the client-provided cursor and the primary selection.
type SeatGlobal struct {
	server.GlobalBase
	env      *Env
	seatName string

	seats     objectSet[*Seat]
	pointers  objectSet[*Pointer]
	keyboards objectSet[*Keyboard]
	devices   objectSet[*PrimarySelectionDevice]

	pointerFocus  *Surface
	keyboardFocus *Surface
	appCursor     *Cursor
	scroll        PendingScroll
	pressed       []uint32

	primary *PrimarySelectionSource
}

func newSeatGlobal(name protocol.GlobalName, seatName string, env *Env) *SeatGlobal {
	return &SeatGlobal{
		GlobalBase: server.NewGlobalBase(name),
		env:        env,
		seatName:   seatName,
		seats:      make(objectSet[*Seat]),
		pointers:   make(objectSet[*Pointer]),
		keyboards:  make(objectSet[*Keyboard]),
		devices:    make(objectSet[*PrimarySelectionDevice]),
	}
}

func (sg *SeatGlobal) Interface() string { return "wl_seat" }
func (sg *SeatGlobal) Version() uint32   { return 7 }

func (sg *SeatGlobal) Bind(c *server.Client, id protocol.ObjectID, version uint32) error {
	seat := &Seat{ObjectBase: server.NewObjectBase(c, id, version), global: sg}
	if err := c.AddClientObject(seat); err != nil {
		return err
	}
	sg.seats.add(c, seat)
	c.Event(seatCapabilitiesEvent{self: id, caps: CapabilityPointer | CapabilityKeyboard})
	if version >= seatNameSinceVersion {
		c.Event(seatNameEvent{self: id, name: sg.seatName})
	}
	return nil
}

// SeatName returns the human-readable seat name.
func (sg *SeatGlobal) SeatName() string { return sg.seatName }

// PointerFocus returns the surface under the pointer.
func (sg *SeatGlobal) PointerFocus() *Surface { return sg.pointerFocus }

// KeyboardFocus returns the surface receiving key events.
func (sg *SeatGlobal) KeyboardFocus() *Surface { return sg.keyboardFocus }

// AppCursor returns the cursor set by the client with pointer focus.
func (sg *SeatGlobal) AppCursor() *Cursor { return sg.appCursor }

// PendingScroll returns the scroll state accumulated since the last frame.
func (sg *SeatGlobal) PendingScroll() PendingScroll { return sg.scroll }

// SetAppCursor installs a client cursor. nil hides the cursor.
func (sg *SeatGlobal) SetAppCursor(c *Cursor) { sg.appCursor = c }

// SetPointerFocus moves pointer focus to s at surface-local position x, y.
// The client receiving focus gets a fresh enter serial.
func (sg *SeatGlobal) SetPointerFocus(s *Surface, x, y protocol.Fixed) {
	if s == sg.pointerFocus {
		return
	}
	if old := sg.pointerFocus; old != nil {
		c := old.Client()
		serial := c.NextSerial()
		sg.pointers.each(c.ID, func(p *Pointer) {
			p.sendLeave(serial, old.ID())
			p.sendFrame()
		})
	}
	sg.pointerFocus = s
	sg.appCursor = nil
	if s == nil {
		return
	}
	c := s.Client()
	serial := c.NextSerial()
	c.SetLastEnterSerial(serial)
	sg.pointers.each(c.ID, func(p *Pointer) {
		p.sendEnter(serial, s.ID(), x, y)
		p.sendFrame()
	})
}

// Motion reports pointer motion in the focused surface.
func (sg *SeatGlobal) Motion(time uint32, x, y protocol.Fixed) {
	sg.eachFocusedPointer(func(p *Pointer) {
		p.sendMotion(time, x, y)
		p.sendFrame()
	})
}

// Button reports a button press or release to the focused client.
func (sg *SeatGlobal) Button(time, button, state uint32) {
	s := sg.pointerFocus
	if s == nil {
		return
	}
	serial := s.Client().NextSerial()
	sg.eachFocusedPointer(func(p *Pointer) {
		p.sendButton(serial, time, button, state)
		p.sendFrame()
	})
}

// Axis adds a continuous scroll value to the pending frame.
func (sg *SeatGlobal) Axis(axis uint32, value protocol.Fixed) {
	if axis <= HorizontalScroll {
		sg.scroll.Axis[axis] += value
		sg.scroll.HasAxis[axis] = true
	}
}

// AxisDiscrete adds discrete scroll steps to the pending frame.
func (sg *SeatGlobal) AxisDiscrete(axis uint32, steps int32) {
	if axis <= HorizontalScroll {
		sg.scroll.Discrete[axis] += steps
		sg.scroll.HasDiscrete[axis] = true
	}
}

// AxisStop marks the end of scrolling on axis in the pending frame.
func (sg *SeatGlobal) AxisStop(axis uint32) {
	if axis <= HorizontalScroll {
		sg.scroll.Stop[axis] = true
	}
}

// AxisSource sets the source of the pending scroll.
func (sg *SeatGlobal) AxisSource(source uint32) {
	sg.scroll.Source = source
	sg.scroll.HasSource = true
}

// Frame flushes the pending scroll to the focused client.
func (sg *SeatGlobal) Frame(time uint32) {
	scroll := sg.scroll.Take()
	if scroll.Empty() {
		return
	}
	sg.eachFocusedPointer(func(p *Pointer) {
		p.sendScroll(time, scroll)
	})
}

func (sg *SeatGlobal) eachFocusedPointer(fn func(*Pointer)) {
	if s := sg.pointerFocus; s != nil {
		sg.pointers.each(s.Client().ID, fn)
	}
}

// SetKeyboardFocus moves keyboard focus to s and offers the primary
// selection to its client.
func (sg *SeatGlobal) SetKeyboardFocus(s *Surface) {
	if s == sg.keyboardFocus {
		return
	}
	if old := sg.keyboardFocus; old != nil {
		c := old.Client()
		serial := c.NextSerial()
		sg.keyboards.each(c.ID, func(k *Keyboard) {
			k.sendLeave(serial, old.ID())
		})
	}
	prev := sg.keyboardFocus
	sg.keyboardFocus = s
	if s == nil {
		return
	}
	c := s.Client()
	serial := c.NextSerial()
	sg.keyboards.each(c.ID, func(k *Keyboard) {
		k.sendEnter(serial, s.ID(), sg.pressed)
	})
	if prev == nil || prev.Client() != c {
		sg.offerPrimarySelection(c)
	}
}

// Key reports a key press or release to the focused client.
func (sg *SeatGlobal) Key(time, key, state uint32) {
	switch state {
	case KeyPressed:
		sg.pressed = append(sg.pressed, key)
	case KeyReleased:
		for i, k := range sg.pressed {
			if k == key {
				sg.pressed = append(sg.pressed[:i], sg.pressed[i+1:]...)
				break
			}
		}
	}
	s := sg.keyboardFocus
	if s == nil {
		return
	}
	serial := s.Client().NextSerial()
	sg.keyboards.each(s.Client().ID, func(k *Keyboard) {
		k.sendKey(serial, time, key, state)
	})
}

// Modifiers reports the modifier state to the focused client.
func (sg *SeatGlobal) Modifiers(depressed, latched, locked, group uint32) {
	s := sg.keyboardFocus
	if s == nil {
		return
	}
	serial := s.Client().NextSerial()
	sg.keyboards.each(s.Client().ID, func(k *Keyboard) {
		k.sendModifiers(serial, depressed, latched, locked, group)
	})
}

// surfaceGone forgets every reference to a destroyed surface.
func (sg *SeatGlobal) surfaceGone(s *Surface) {
	if sg.pointerFocus == s {
		sg.pointerFocus = nil
		sg.appCursor = nil
	}
	if sg.keyboardFocus == s {
		sg.keyboardFocus = nil
	}
	if sg.appCursor != nil && sg.appCursor.surface == s {
		sg.appCursor = nil
	}
}

type seatCapabilitiesEvent struct {
	self protocol.ObjectID
	caps uint32
}

func (ev seatCapabilitiesEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, seatCapabilities)
	e.Uint(ev.caps)
}

type seatNameEvent struct {
	self protocol.ObjectID
	name string
}

func (ev seatNameEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, seatName)
	e.Str(ev.name)
}

// Seat is a wl_seat object.
type Seat struct {
	server.ObjectBase
	global *SeatGlobal
}

var seatRequests = server.NewRequests("wl_seat",
	server.Request[*Seat]{Name: "get_pointer", Since: 1, Handle: (*Seat).getPointer},
	server.Request[*Seat]{Name: "get_keyboard", Since: 1, Handle: (*Seat).getKeyboard},
	server.Request[*Seat]{Name: "get_touch", Since: 1, Handle: (*Seat).getTouch},
	server.Request[*Seat]{Name: "release", Since: 5, Handle: (*Seat).release},
)

func (s *Seat) Interface() string { return "wl_seat" }

func (s *Seat) NumRequests() uint32 { return seatRequests.Accepted(s.Version()) }

func (s *Seat) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return seatRequests.Dispatch(s, opcode, p)
}

// Global returns the seat global the object was bound from.
func (s *Seat) Global() *SeatGlobal { return s.global }

func (s *Seat) BreakLoops() {
	s.global.seats.remove(s.Client(), s.ID())
}

func (s *Seat) getPointer(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	c := s.Client()
	ptr := &Pointer{ObjectBase: server.NewObjectBase(c, id, s.Version()), seat: s.global}
	if err := c.AddClientObject(ptr); err != nil {
		return err
	}
	s.global.pointers.add(c, ptr)
	if f := s.global.pointerFocus; f != nil && f.Client() == c {
		ptr.sendEnter(c.LastEnterSerial(), f.ID(), 0, 0)
		ptr.sendFrame()
	}
	return nil
}

func (s *Seat) getKeyboard(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	c := s.Client()
	kb := &Keyboard{ObjectBase: server.NewObjectBase(c, id, s.Version()), seat: s.global}
	if err := c.AddClientObject(kb); err != nil {
		return err
	}
	s.global.keyboards.add(c, kb)
	kb.sendKeymap()
	kb.sendRepeatInfo(25, 600)
	if f := s.global.keyboardFocus; f != nil && f.Client() == c {
		kb.sendEnter(c.NextSerial(), f.ID(), s.global.pressed)
	}
	return nil
}

func (s *Seat) getTouch(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	return s.Client().AddClientObject(&Touch{ObjectBase: server.NewObjectBase(s.Client(), id, s.Version())})
}

func (s *Seat) release(p *protocol.Parser) error {
	return s.Client().Remove(s)
}

// wl_keyboard key states and keymap formats.
const (
	KeyReleased uint32 = 0
	KeyPressed  uint32 = 1

	keymapNoKeymap uint32 = 0
)

// wl_keyboard events.
const (
	keyboardKeymap     = 0
	keyboardEnter      = 1
	keyboardLeave      = 2
	keyboardKey        = 3
	keyboardModifiers  = 4
	keyboardRepeatInfo = 5

	repeatInfoSinceVersion = 4
)

// Keyboard is a wl_keyboard object.
type Keyboard struct {
	server.ObjectBase
	seat *SeatGlobal
}

var keyboardRequests = server.NewRequests("wl_keyboard",
	server.Request[*Keyboard]{Name: "release", Since: 3, Handle: (*Keyboard).release},
)

func (k *Keyboard) Interface() string { return "wl_keyboard" }

func (k *Keyboard) NumRequests() uint32 { return keyboardRequests.Accepted(k.Version()) }

func (k *Keyboard) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return keyboardRequests.Dispatch(k, opcode, p)
}

func (k *Keyboard) BreakLoops() {
	k.seat.keyboards.remove(k.Client(), k.ID())
}

func (k *Keyboard) release(p *protocol.Parser) error {
	return k.Client().Remove(k)
}

func (k *Keyboard) sendKeymap() {
	f, err := os.Open(os.DevNull)
	if err != nil {
		k.Client().Logger().Warn("could not open keymap placeholder", "error", err)
		return
	}
	k.Client().Event(keymapEvent{self: k.ID(), format: keymapNoKeymap, fd: f, size: 0})
}

func (k *Keyboard) sendRepeatInfo(rate, delay int32) {
	if k.Version() >= repeatInfoSinceVersion {
		k.Client().Event(repeatInfoEvent{self: k.ID(), rate: rate, delay: delay})
	}
}

func (k *Keyboard) sendEnter(serial uint32, surface protocol.ObjectID, keys []uint32) {
	k.Client().Event(keyboardEnterEvent{self: k.ID(), serial: serial, surface: surface, keys: keys})
}

func (k *Keyboard) sendLeave(serial uint32, surface protocol.ObjectID) {
	k.Client().Event(keyboardLeaveEvent{self: k.ID(), serial: serial, surface: surface})
}

func (k *Keyboard) sendKey(serial, time, key, state uint32) {
	k.Client().Event(keyEvent{self: k.ID(), serial: serial, time: time, key: key, state: state})
}

func (k *Keyboard) sendModifiers(serial, depressed, latched, locked, group uint32) {
	k.Client().Event(modifiersEvent{self: k.ID(), serial: serial, mods: [4]uint32{depressed, latched, locked, group}})
}

type keymapEvent struct {
	self   protocol.ObjectID
	format uint32
	fd     *os.File
	size   uint32
}

func (ev keymapEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, keyboardKeymap)
	e.Uint(ev.format)
	e.Fd(ev.fd)
	e.Uint(ev.size)
}

type keyboardEnterEvent struct {
	self    protocol.ObjectID
	serial  uint32
	surface protocol.ObjectID
	keys    []uint32
}

func (ev keyboardEnterEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, keyboardEnter)
	e.Uint(ev.serial)
	e.Object(ev.surface)
	keys := make([]byte, 0, 4*len(ev.keys))
	for _, k := range ev.keys {
		keys = binary.NativeEndian.AppendUint32(keys, k)
	}
	e.Array(keys)
}

type keyboardLeaveEvent struct {
	self    protocol.ObjectID
	serial  uint32
	surface protocol.ObjectID
}

func (ev keyboardLeaveEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, keyboardLeave)
	e.Uint(ev.serial)
	e.Object(ev.surface)
}

type keyEvent struct {
	self                     protocol.ObjectID
	serial, time, key, state uint32
}

func (ev keyEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, keyboardKey)
	e.Uint(ev.serial)
	e.Uint(ev.time)
	e.Uint(ev.key)
	e.Uint(ev.state)
}

type modifiersEvent struct {
	self   protocol.ObjectID
	serial uint32
	mods   [4]uint32
}

func (ev modifiersEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, keyboardModifiers)
	e.Uint(ev.serial)
	for _, m := range ev.mods {
		e.Uint(m)
	}
}

type repeatInfoEvent struct {
	self        protocol.ObjectID
	rate, delay int32
}

func (ev repeatInfoEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, keyboardRepeatInfo)
	e.Int(ev.rate)
	e.Int(ev.delay)
}

// Touch is a wl_touch object. The seat has no touch capability, so it never
// receives events.
type Touch struct {
	server.ObjectBase
}

var touchRequests = server.NewRequests("wl_touch",
	server.Request[*Touch]{Name: "release", Since: 3, Handle: (*Touch).release},
)

func (t *Touch) Interface() string { return "wl_touch" }

func (t *Touch) NumRequests() uint32 { return touchRequests.Accepted(t.Version()) }

func (t *Touch) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return touchRequests.Dispatch(t, opcode, p)
}

func (t *Touch) release(p *protocol.Parser) error {
	return t.Client().Remove(t)
}
