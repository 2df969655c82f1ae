package ifs

import (
	"time"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// surfaceState is the double-buffered part of a surface.
type surfaceState struct {
	buffer   *Buffer
	attached bool
	dx, dy   int32
	damage   []Rect
	frames   []*server.Callback
	opaque   *RegionData
	input    *RegionData

	// resetInput makes the input region infinite again at commit.
	resetInput bool
}

// Surface is a wl_surface object. Without a renderer a commit makes the
// pending state current, releases the replaced buffer and completes the
// frame callbacks at once.
type Surface struct {
	server.ObjectBase
	env *Env

	pending surfaceState
	buffer  *Buffer
	opaque  RegionData
	input   *RegionData
	damage  []Rect
	commits int

	cursor *Cursor
}

var surfaceRequests = server.NewRequests("wl_surface",
	server.Request[*Surface]{Name: "destroy", Since: 1, Handle: (*Surface).destroy},
	server.Request[*Surface]{Name: "attach", Since: 1, Handle: (*Surface).attach},
	server.Request[*Surface]{Name: "damage", Since: 1, Handle: (*Surface).addDamage},
	server.Request[*Surface]{Name: "frame", Since: 1, Handle: (*Surface).frame},
	server.Request[*Surface]{Name: "set_opaque_region", Since: 1, Handle: (*Surface).setOpaqueRegion},
	server.Request[*Surface]{Name: "set_input_region", Since: 1, Handle: (*Surface).setInputRegion},
	server.Request[*Surface]{Name: "commit", Since: 1, Handle: (*Surface).commit},
)

func (s *Surface) Interface() string { return "wl_surface" }

func (s *Surface) NumRequests() uint32 { return surfaceRequests.Accepted(s.Version()) }

func (s *Surface) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return surfaceRequests.Dispatch(s, opcode, p)
}

// Buffer returns the committed buffer, if any.
func (s *Surface) Buffer() *Buffer { return s.buffer }

// Commits returns the number of commits applied.
func (s *Surface) Commits() int { return s.commits }

// Damage returns the damage of the last commit.
func (s *Surface) Damage() []Rect { return s.damage }

// AcceptsInput reports whether the point is inside the input region. A
// surface without an input region accepts input everywhere.
func (s *Surface) AcceptsInput(x, y int32) bool {
	return s.input == nil || s.input.Contains(x, y)
}

// Cursor returns the cursor role of the surface, if it has one.
func (s *Surface) Cursor() *Cursor { return s.cursor }

// cursorRole gives the surface the cursor role for seat.
func (s *Surface) cursorRole(seat *SeatGlobal) *Cursor {
	if s.cursor == nil {
		s.cursor = &Cursor{surface: s, seat: seat}
	}
	return s.cursor
}

// BreakLoops drops focus, cursor and buffer references.
func (s *Surface) BreakLoops() {
	s.env.Seat.surfaceGone(s)
	s.cursor = nil
	s.buffer = nil
	s.pending = surfaceState{}
}

func (s *Surface) destroy(p *protocol.Parser) error {
	return s.Client().Remove(s)
}

func (s *Surface) attach(p *protocol.Parser) error {
	id, err := p.Object()
	if err != nil {
		return err
	}
	dx, err := p.Int()
	if err != nil {
		return err
	}
	dy, err := p.Int()
	if err != nil {
		return err
	}
	buf, err := server.LookupOptional[*Buffer](s.Client(), id)
	if err != nil {
		return err
	}
	s.pending.buffer = buf
	s.pending.attached = true
	s.pending.dx, s.pending.dy = dx, dy
	return nil
}

func (s *Surface) addDamage(p *protocol.Parser) error {
	rect, err := parseRect(p)
	if err != nil {
		return err
	}
	s.pending.damage = append(s.pending.damage, rect)
	return nil
}

func (s *Surface) frame(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	cb := &server.Callback{ObjectBase: server.NewObjectBase(s.Client(), id, 1)}
	if err := s.Client().AddClientObject(cb); err != nil {
		return err
	}
	s.pending.frames = append(s.pending.frames, cb)
	return nil
}

func (s *Surface) region(p *protocol.Parser) (*RegionData, error) {
	id, err := p.Object()
	if err != nil {
		return nil, err
	}
	r, err := server.LookupOptional[*Region](s.Client(), id)
	if err != nil || r == nil {
		return nil, err
	}
	data := r.Data()
	return &data, nil
}

func (s *Surface) setOpaqueRegion(p *protocol.Parser) error {
	data, err := s.region(p)
	if err != nil {
		return err
	}
	if data == nil {
		data = &RegionData{}
	}
	s.pending.opaque = data
	return nil
}

func (s *Surface) setInputRegion(p *protocol.Parser) error {
	data, err := s.region(p)
	if err != nil {
		return err
	}
	s.pending.input = data
	s.pending.resetInput = data == nil
	return nil
}

func (s *Surface) commit(p *protocol.Parser) error {
	pending := s.pending
	s.pending = surfaceState{}

	if pending.attached && pending.buffer != s.buffer {
		if s.buffer != nil {
			s.buffer.release()
		}
		s.buffer = pending.buffer
	}
	if pending.opaque != nil {
		s.opaque = *pending.opaque
	}
	if pending.input != nil || pending.resetInput {
		s.input = pending.input
	}
	s.damage = pending.damage
	s.commits++

	if s.cursor != nil {
		s.cursor.dx += pending.dx
		s.cursor.dy += pending.dy
	}

	now := uint32(time.Now().UnixMilli())
	for _, cb := range pending.frames {
		cb.Done(now)
		if err := s.Client().Remove(cb); err != nil {
			return err
		}
	}
	return nil
}

// Cursor is the cursor role of a surface.
type Cursor struct {
	surface  *Surface
	seat     *SeatGlobal
	HotspotX int32
	HotspotY int32
	dx, dy   int32
}

// Surface returns the surface backing the cursor.
func (c *Cursor) Surface() *Surface { return c.surface }

// Hotspot returns the hotspot after applying attach offsets.
func (c *Cursor) Hotspot() (int32, int32) {
	return c.HotspotX - c.dx, c.HotspotY - c.dy
}
