package ifs

import (
	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

const (
	outputGeometry    = 0
	outputMode        = 1
	outputDone        = 2
	outputScale       = 3
	outputName        = 4
	outputDescription = 5

	outputDoneSinceVersion = 2
	outputNameSinceVersion = 4

	outputModeCurrent   uint32 = 1
	outputModePreferred uint32 = 2
)

// OutputGlobal advertises one wl_output.
type OutputGlobal struct {
	server.GlobalBase
	Info OutputInfo
}

func (g *OutputGlobal) Interface() string { return "wl_output" }
func (g *OutputGlobal) Version() uint32   { return 4 }

func (g *OutputGlobal) Bind(c *server.Client, id protocol.ObjectID, version uint32) error {
	out := &Output{
		ObjectBase: server.NewObjectBase(c, id, version),
		global:     g,
		xdg:        make(map[protocol.ObjectID]*XdgOutput),
	}
	if err := c.AddClientObject(out); err != nil {
		return err
	}
	out.sendInfo()
	out.sendDone()
	return nil
}

// Output is a wl_output object.
type Output struct {
	server.ObjectBase
	global *OutputGlobal
	xdg    map[protocol.ObjectID]*XdgOutput
}

var outputRequests = server.NewRequests("wl_output",
	server.Request[*Output]{Name: "release", Since: 3, Handle: (*Output).release},
)

func (o *Output) Interface() string { return "wl_output" }

func (o *Output) NumRequests() uint32 { return outputRequests.Accepted(o.Version()) }

func (o *Output) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return outputRequests.Dispatch(o, opcode, p)
}

// Info returns the output description.
func (o *Output) Info() OutputInfo { return o.global.Info }

// XdgOutputs returns the number of zxdg_output_v1 objects tracking o.
func (o *Output) XdgOutputs() int { return len(o.xdg) }

func (o *Output) BreakLoops() {
	for _, x := range o.xdg {
		x.output = nil
	}
	o.xdg = nil
}

func (o *Output) release(p *protocol.Parser) error {
	return o.Client().Remove(o)
}

func (o *Output) sendInfo() {
	info := o.global.Info
	c := o.Client()
	c.Event(outputGeometryEvent{
		self:           o.ID(),
		x:              info.X,
		y:              info.Y,
		physicalWidth:  info.PhysicalWidth,
		physicalHeight: info.PhysicalHeight,
		make:           info.Make,
		model:          info.Model,
	})
	c.Event(outputModeEvent{
		self:    o.ID(),
		flags:   outputModeCurrent | outputModePreferred,
		width:   info.Width,
		height:  info.Height,
		refresh: info.RefreshMHz,
	})
	if o.Version() >= outputDoneSinceVersion {
		scale := info.Scale
		if scale <= 0 {
			scale = 1
		}
		c.Event(outputIntEvent{self: o.ID(), opcode: outputScale, value: scale})
	}
	if o.Version() >= outputNameSinceVersion {
		c.Event(outputStringEvent{self: o.ID(), opcode: outputName, value: info.Name})
		c.Event(outputStringEvent{self: o.ID(), opcode: outputDescription, value: info.Description})
	}
}

func (o *Output) sendDone() {
	if o.Version() >= outputDoneSinceVersion {
		o.Client().Event(outputDoneEvent{self: o.ID()})
	}
}

type outputGeometryEvent struct {
	self                          protocol.ObjectID
	x, y                          int32
	physicalWidth, physicalHeight int32
	make, model                   string
}

func (ev outputGeometryEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, outputGeometry)
	e.Int(ev.x)
	e.Int(ev.y)
	e.Int(ev.physicalWidth)
	e.Int(ev.physicalHeight)
	e.Int(0) // subpixel unknown
	e.Str(ev.make)
	e.Str(ev.model)
	e.Int(0) // transform normal
}

type outputModeEvent struct {
	self                   protocol.ObjectID
	flags                  uint32
	width, height, refresh int32
}

func (ev outputModeEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, outputMode)
	e.Uint(ev.flags)
	e.Int(ev.width)
	e.Int(ev.height)
	e.Int(ev.refresh)
}

type outputDoneEvent struct {
	self protocol.ObjectID
}

func (ev outputDoneEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, outputDone)
}

type outputIntEvent struct {
	self   protocol.ObjectID
	opcode uint16
	value  int32
}

func (ev outputIntEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, ev.opcode)
	e.Int(ev.value)
}

type outputStringEvent struct {
	self   protocol.ObjectID
	opcode uint16
	value  string
}

func (ev outputStringEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, ev.opcode)
	e.Str(ev.value)
}

// XdgOutputManagerGlobal advertises zxdg_output_manager_v1.
type XdgOutputManagerGlobal struct {
	server.GlobalBase
}

func (g *XdgOutputManagerGlobal) Interface() string { return "zxdg_output_manager_v1" }
func (g *XdgOutputManagerGlobal) Version() uint32   { return 3 }
func (g *XdgOutputManagerGlobal) Singleton() bool   { return true }

func (g *XdgOutputManagerGlobal) Bind(c *server.Client, id protocol.ObjectID, version uint32) error {
	return c.AddClientObject(&XdgOutputManager{ObjectBase: server.NewObjectBase(c, id, version)})
}

// XdgOutputManager is a zxdg_output_manager_v1 object.
type XdgOutputManager struct {
	server.ObjectBase
}

var xdgOutputManagerRequests = server.NewRequests("zxdg_output_manager_v1",
	server.Request[*XdgOutputManager]{Name: "destroy", Since: 1, Handle: (*XdgOutputManager).destroy},
	server.Request[*XdgOutputManager]{Name: "get_xdg_output", Since: 1, Handle: (*XdgOutputManager).getXdgOutput},
)

func (m *XdgOutputManager) Interface() string { return "zxdg_output_manager_v1" }

func (m *XdgOutputManager) NumRequests() uint32 {
	return xdgOutputManagerRequests.Accepted(m.Version())
}

func (m *XdgOutputManager) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return xdgOutputManagerRequests.Dispatch(m, opcode, p)
}

func (m *XdgOutputManager) destroy(p *protocol.Parser) error {
	return m.Client().Remove(m)
}

func (m *XdgOutputManager) getXdgOutput(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	outputID, err := p.Object()
	if err != nil {
		return err
	}
	c := m.Client()
	output, err := server.Lookup[*Output](c, outputID)
	if err != nil {
		return err
	}
	x := &XdgOutput{ObjectBase: server.NewObjectBase(c, id, m.Version()), output: output}
	if err := c.AddClientObject(x); err != nil {
		return err
	}
	x.sendUpdates()
	output.xdg[id] = x
	return nil
}

const (
	xdgOutputLogicalPosition = 0
	xdgOutputLogicalSize     = 1
	xdgOutputDone            = 2
	xdgOutputName            = 3
	xdgOutputDescription     = 4

	xdgOutputNameSinceVersion   = 2
	xdgOutputNoDoneSinceVersion = 3
)

// XdgOutput is a zxdg_output_v1 object describing the logical geometry of an
// output.
type XdgOutput struct {
	server.ObjectBase
	output *Output
}

var xdgOutputRequests = server.NewRequests("zxdg_output_v1",
	server.Request[*XdgOutput]{Name: "destroy", Since: 1, Handle: (*XdgOutput).destroy},
)

func (x *XdgOutput) Interface() string { return "zxdg_output_v1" }

func (x *XdgOutput) NumRequests() uint32 { return xdgOutputRequests.Accepted(x.Version()) }

func (x *XdgOutput) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return xdgOutputRequests.Dispatch(x, opcode, p)
}

func (x *XdgOutput) BreakLoops() {
	if x.output != nil {
		delete(x.output.xdg, x.ID())
		x.output = nil
	}
}

func (x *XdgOutput) destroy(p *protocol.Parser) error {
	return x.Client().Remove(x)
}

func (x *XdgOutput) sendUpdates() {
	info := x.output.Info()
	scale := info.Scale
	if scale <= 0 {
		scale = 1
	}
	c := x.Client()
	c.Event(xdgOutputPairEvent{self: x.ID(), opcode: xdgOutputLogicalPosition, a: info.X, b: info.Y})
	c.Event(xdgOutputPairEvent{self: x.ID(), opcode: xdgOutputLogicalSize, a: info.Width / scale, b: info.Height / scale})
	if x.Version() >= xdgOutputNameSinceVersion {
		c.Event(outputStringEvent{self: x.ID(), opcode: xdgOutputName, value: info.Name})
		c.Event(outputStringEvent{self: x.ID(), opcode: xdgOutputDescription, value: info.Description})
	}
	if x.Version() >= xdgOutputNoDoneSinceVersion {
		x.output.sendDone()
	} else {
		c.Event(xdgOutputDoneEvent{self: x.ID()})
	}
}

type xdgOutputDoneEvent struct {
	self protocol.ObjectID
}

func (ev xdgOutputDoneEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, xdgOutputDone)
}

type xdgOutputPairEvent struct {
	self   protocol.ObjectID
	opcode uint16
	a, b   int32
}

func (ev xdgOutputPairEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, ev.opcode)
	e.Int(ev.a)
	e.Int(ev.b)
}
