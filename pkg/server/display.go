package server

import (
	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// wl_display events.
const (
	displayError    = 0
	displayDeleteID = 1
)

// wl_registry events.
const (
	registryGlobal       = 0
	registryGlobalRemove = 1
)

// wl_callback events.
const callbackDone = 0

// Display is the wl_display object every client starts with at ID 1.
type Display struct {
	ObjectBase
}

var displayRequests = NewRequests("wl_display",
	Request[*Display]{Name: "sync", Since: 1, Handle: (*Display).sync},
	Request[*Display]{Name: "get_registry", Since: 1, Handle: (*Display).getRegistry},
)

func (d *Display) Interface() string { return "wl_display" }

func (d *Display) NumRequests() uint32 { return displayRequests.Accepted(d.Version()) }

func (d *Display) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return displayRequests.Dispatch(d, opcode, p)
}

func (d *Display) sync(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	cb := &Callback{ObjectBase: NewObjectBase(d.client, id, 1)}
	if err := d.client.AddClientObject(cb); err != nil {
		return err
	}
	cb.Done(d.client.NextSerial())
	return d.client.Remove(cb)
}

func (d *Display) getRegistry(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	r := &Registry{ObjectBase: NewObjectBase(d.client, id, 1)}
	if err := d.client.AddClientObject(r); err != nil {
		return err
	}
	globals := d.client.state.Globals
	globals.registries[r] = struct{}{}
	globals.advertise(r)
	return nil
}

type displayErrorEvent struct {
	self    protocol.ObjectID
	object  protocol.ObjectID
	code    uint32
	message string
}

func (ev displayErrorEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, displayError)
	e.Object(ev.object)
	e.Uint(ev.code)
	e.Str(ev.message)
}

type deleteIDEvent struct {
	self protocol.ObjectID
	id   protocol.ObjectID
}

func (ev deleteIDEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, displayDeleteID)
	e.Uint(uint32(ev.id))
}

// Registry is a wl_registry object. It receives global announcements until
// it is torn down.
type Registry struct {
	ObjectBase
}

var registryRequests = NewRequests("wl_registry",
	Request[*Registry]{Name: "bind", Since: 1, Handle: (*Registry).bind},
)

func (r *Registry) Interface() string { return "wl_registry" }

func (r *Registry) NumRequests() uint32 { return registryRequests.Accepted(r.Version()) }

func (r *Registry) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return registryRequests.Dispatch(r, opcode, p)
}

// BreakLoops stops announcements to this registry.
func (r *Registry) BreakLoops() {
	delete(r.client.state.Globals.registries, r)
}

func (r *Registry) bind(p *protocol.Parser) error {
	name, err := p.Global()
	if err != nil {
		return err
	}
	iface, err := p.Str()
	if err != nil {
		return err
	}
	version, err := p.Uint()
	if err != nil {
		return err
	}
	id, err := p.NewID()
	if err != nil {
		return err
	}
	if err := p.EOF(); err != nil {
		return err
	}
	return r.client.state.Globals.Bind(r.client, name, iface, version, id)
}

func (r *Registry) sendGlobal(g Global) {
	if !visible(g, r.client) {
		return
	}
	r.client.Event(globalEvent{self: r.id, name: g.Name(), iface: g.Interface(), version: g.Version()})
}

func (r *Registry) sendGlobalRemove(name protocol.GlobalName) {
	r.client.Event(globalRemoveEvent{self: r.id, name: name})
}

type globalEvent struct {
	self    protocol.ObjectID
	name    protocol.GlobalName
	iface   string
	version uint32
}

func (ev globalEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, registryGlobal)
	e.Global(ev.name)
	e.Str(ev.iface)
	e.Uint(ev.version)
}

type globalRemoveEvent struct {
	self protocol.ObjectID
	name protocol.GlobalName
}

func (ev globalRemoveEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, registryGlobalRemove)
	e.Global(ev.name)
}

// Callback is a wl_callback object. It has no requests and is destroyed by
// the server after done.
type Callback struct {
	ObjectBase
}

func (cb *Callback) Interface() string { return "wl_callback" }

func (cb *Callback) NumRequests() uint32 { return 0 }

func (cb *Callback) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return &RequestError{Interface: "wl_callback", Request: "unknown", Err: ErrOpcodeOutOfRange}
}

// Done sends the done event with data.
func (cb *Callback) Done(data uint32) {
	cb.client.Event(callbackDoneEvent{self: cb.id, data: data})
}

type callbackDoneEvent struct {
	self protocol.ObjectID
	data uint32
}

func (ev callbackDoneEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, callbackDone)
	e.Uint(ev.data)
}
