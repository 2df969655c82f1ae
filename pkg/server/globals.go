package server

import (
	"fmt"
	"sort"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// Global is an advertised capability that clients can bind.
type Global interface {
	// Name returns the name assigned by Globals.NewName.
	Name() protocol.GlobalName

	// Interface returns the interface of objects created by Bind.
	Interface() string

	// Version returns the highest version Bind accepts.
	Version() uint32

	// Singleton reports whether a client may hold at most one bound object.
	Singleton() bool

	// Secure reports whether only privileged clients may bind.
	Secure() bool

	// Bind creates an object with id at version and registers it with c.
	// It must not change anything but the new object and c's registry.
	Bind(c *Client, id protocol.ObjectID, version uint32) error
}

// GlobalBase carries the name of a global. Embed it and override Singleton
// or Secure when needed.
type GlobalBase struct {
	name protocol.GlobalName
}

// NewGlobalBase creates the common part of a global.
func NewGlobalBase(name protocol.GlobalName) GlobalBase {
	return GlobalBase{name: name}
}

// Name returns the global name.
func (g *GlobalBase) Name() protocol.GlobalName { return g.name }

// Singleton returns false.
func (g *GlobalBase) Singleton() bool { return false }

// Secure returns false.
func (g *GlobalBase) Secure() bool { return false }

// GlobalInfo is one entry of the capability list.
type GlobalInfo struct {
	Name      protocol.GlobalName `json:"name"`
	Interface string              `json:"interface"`
	Version   uint32              `json:"version"`
	Singleton bool                `json:"singleton,omitempty"`
	Secure    bool                `json:"secure,omitempty"`
}

// Globals is the process-wide global registry. It is owned by the Loop.
type Globals struct {
	next       protocol.GlobalName
	byName     map[protocol.GlobalName]Global
	registries map[*Registry]struct{}
}

func newGlobals() *Globals {
	return &Globals{
		next:       1,
		byName:     make(map[protocol.GlobalName]Global),
		registries: make(map[*Registry]struct{}),
	}
}

// NewName reserves a name. Names are never reused.
func (g *Globals) NewName() protocol.GlobalName {
	n := g.next
	g.next++
	return n
}

// Add advertises global to every registry that may see it.
func (g *Globals) Add(global Global) {
	if _, ok := g.byName[global.Name()]; ok {
		panic(fmt.Sprintf("server: global name %d registered twice", global.Name()))
	}
	g.byName[global.Name()] = global
	for r := range g.registries {
		r.sendGlobal(global)
	}
}

// Remove revokes a global and announces the removal.
func (g *Globals) Remove(name protocol.GlobalName) (Global, bool) {
	global, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	delete(g.byName, name)
	for r := range g.registries {
		if visible(global, r.Client()) {
			r.sendGlobalRemove(name)
		}
	}
	return global, true
}

// Get returns the global with name.
func (g *Globals) Get(name protocol.GlobalName) (Global, bool) {
	global, ok := g.byName[name]
	return global, ok
}

// Len returns the number of advertised globals.
func (g *Globals) Len() int {
	return len(g.byName)
}

// List returns the capability list ordered by name.
func (g *Globals) List() []GlobalInfo {
	out := make([]GlobalInfo, 0, len(g.byName))
	for _, global := range g.byName {
		out = append(out, infoOf(global))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func infoOf(global Global) GlobalInfo {
	return GlobalInfo{
		Name:      global.Name(),
		Interface: global.Interface(),
		Version:   global.Version(),
		Singleton: global.Singleton(),
		Secure:    global.Secure(),
	}
}

func visible(global Global, c *Client) bool {
	return !global.Secure() || c.Privileged()
}

// advertise sends every global visible to r's client.
func (g *Globals) advertise(r *Registry) {
	for _, info := range g.List() {
		global := g.byName[info.Name]
		r.sendGlobal(global)
	}
}

// Bind checks the binding rules and runs the global's factory. Nothing is
// registered when a check fails.
func (g *Globals) Bind(c *Client, name protocol.GlobalName, iface string, version uint32, id protocol.ObjectID) error {
	fail := func(err error) error {
		return &ClientError{Op: "bind", Object: id, Err: err}
	}

	global, ok := g.byName[name]
	if !ok || !visible(global, c) {
		// Secure globals are not advertised to unprivileged clients, but a
		// client guessing the name must still be refused.
		if ok {
			return fail(fmt.Errorf("%w: %s", ErrNotPrivileged, global.Interface()))
		}
		return fail(fmt.Errorf("%w: %d", ErrUnknownGlobal, name))
	}
	if global.Interface() != iface {
		return fail(fmt.Errorf("%w: %d is %s, not %s", ErrInterfaceMismatch, name, global.Interface(), iface))
	}
	if version == 0 || version > global.Version() {
		return fail(fmt.Errorf("%w: %s version %d not in 1..%d", ErrVersionTooHigh, iface, version, global.Version()))
	}
	if global.Singleton() {
		if _, bound := c.singletons[name]; bound {
			return fail(fmt.Errorf("%w: %s", ErrSingletonBound, iface))
		}
	}

	if err := global.Bind(c, id, version); err != nil {
		return err
	}
	if global.Singleton() {
		c.singletons[name] = id
	}
	return nil
}
