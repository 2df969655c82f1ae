package ifs

import (
	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// Rect is an axis-aligned rectangle in surface coordinates.
type Rect struct {
	X, Y, Width, Height int32
}

// Contains reports whether the point lies inside r.
func (r Rect) Contains(x, y int32) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.Width && y < r.Y+r.Height
}

type regionOp struct {
	rect     Rect
	subtract bool
}

// RegionData is the accumulated value of a wl_region. Later operations take
// precedence over earlier ones.
type RegionData struct {
	ops []regionOp
}

// Contains reports whether the point is inside the region.
func (d RegionData) Contains(x, y int32) bool {
	for i := len(d.ops) - 1; i >= 0; i-- {
		if d.ops[i].rect.Contains(x, y) {
			return !d.ops[i].subtract
		}
	}
	return false
}

// Empty reports whether no rectangle was ever added.
func (d RegionData) Empty() bool {
	for _, op := range d.ops {
		if !op.subtract && op.rect.Width > 0 && op.rect.Height > 0 {
			return false
		}
	}
	return true
}

func (d RegionData) clone() RegionData {
	return RegionData{ops: append([]regionOp(nil), d.ops...)}
}

// Region is a wl_region object.
type Region struct {
	server.ObjectBase
	data RegionData
}

var regionRequests = server.NewRequests("wl_region",
	server.Request[*Region]{Name: "destroy", Since: 1, Handle: (*Region).destroy},
	server.Request[*Region]{Name: "add", Since: 1, Handle: (*Region).add},
	server.Request[*Region]{Name: "subtract", Since: 1, Handle: (*Region).subtract},
)

func (r *Region) Interface() string { return "wl_region" }

func (r *Region) NumRequests() uint32 { return regionRequests.Accepted(r.Version()) }

func (r *Region) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return regionRequests.Dispatch(r, opcode, p)
}

// Data returns a copy of the region value.
func (r *Region) Data() RegionData { return r.data.clone() }

func (r *Region) destroy(p *protocol.Parser) error {
	return r.Client().Remove(r)
}

func (r *Region) add(p *protocol.Parser) error {
	rect, err := parseRect(p)
	if err != nil {
		return err
	}
	r.data.ops = append(r.data.ops, regionOp{rect: rect})
	return nil
}

func (r *Region) subtract(p *protocol.Parser) error {
	rect, err := parseRect(p)
	if err != nil {
		return err
	}
	r.data.ops = append(r.data.ops, regionOp{rect: rect, subtract: true})
	return nil
}

func parseRect(p *protocol.Parser) (Rect, error) {
	var v [4]int32
	for i := range v {
		n, err := p.Int()
		if err != nil {
			return Rect{}, err
		}
		v[i] = n
	}
	return Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
