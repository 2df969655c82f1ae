package ifs

import (
	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// CompositorGlobal advertises wl_compositor.
type CompositorGlobal struct {
	server.GlobalBase
	env *Env
}

func (g *CompositorGlobal) Interface() string { return "wl_compositor" }
func (g *CompositorGlobal) Version() uint32   { return 1 }

func (g *CompositorGlobal) Bind(c *server.Client, id protocol.ObjectID, version uint32) error {
	return c.AddClientObject(&Compositor{ObjectBase: server.NewObjectBase(c, id, version), env: g.env})
}

// Compositor is a wl_compositor object, the factory of surfaces and regions.
type Compositor struct {
	server.ObjectBase
	env *Env
}

var compositorRequests = server.NewRequests("wl_compositor",
	server.Request[*Compositor]{Name: "create_surface", Since: 1, Handle: (*Compositor).createSurface},
	server.Request[*Compositor]{Name: "create_region", Since: 1, Handle: (*Compositor).createRegion},
)

func (co *Compositor) Interface() string { return "wl_compositor" }

func (co *Compositor) NumRequests() uint32 { return compositorRequests.Accepted(co.Version()) }

func (co *Compositor) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return compositorRequests.Dispatch(co, opcode, p)
}

func (co *Compositor) createSurface(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	s := &Surface{ObjectBase: server.NewObjectBase(co.Client(), id, co.Version()), env: co.env}
	return co.Client().AddClientObject(s)
}

func (co *Compositor) createRegion(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	return co.Client().AddClientObject(&Region{ObjectBase: server.NewObjectBase(co.Client(), id, 1)})
}
