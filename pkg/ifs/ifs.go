// Package ifs implements the protocol objects a client can reach through the
// registry: compositor, surfaces and regions, shared memory buffers, the
// seat with its pointer, keyboard and touch devices, outputs and their xdg
// extension, the privileged jay_compositor and the primary selection.
//
// Every object follows the same contract. It embeds server.ObjectBase, owns
// a request table built with server.NewRequests, emits events through
// Client.Event and clears its references to other objects in BreakLoops.
// Objects refer to each other only through plain pointers that the owner's
// BreakLoops removes, so tearing down a client never leaves another object
// pointing at a dead one.
package ifs

import (
	"errors"

	"github.com/kestrel-wm/kestrel/pkg/server"
)

// ErrUnknownLogLevel is returned by jay_compositor.set_log_level for a level
// outside the known range.
var ErrUnknownLogLevel = errors.New("ifs: unknown log level")

// OutputInfo describes one output advertised as wl_output.
type OutputInfo struct {
	Name           string
	Description    string
	Make           string
	Model          string
	X, Y           int32
	Width, Height  int32
	PhysicalWidth  int32
	PhysicalHeight int32
	RefreshMHz     int32
	Scale          int32
}

// Options selects the globals Install registers.
type Options struct {
	SeatName string
	Outputs  []OutputInfo
}

// DefaultOptions returns one seat and one 1920x1080 output.
func DefaultOptions() Options {
	return Options{
		SeatName: "seat0",
		Outputs: []OutputInfo{{
			Name:           "HEADLESS-1",
			Description:    "Headless output",
			Make:           "kestrel",
			Model:          "headless",
			Width:          1920,
			Height:         1080,
			PhysicalWidth:  530,
			PhysicalHeight: 300,
			RefreshMHz:     60000,
			Scale:          1,
		}},
	}
}

// Env is the set of globals installed into a server.State. It is owned by
// the state's loop.
type Env struct {
	State            *server.State
	Compositor       *CompositorGlobal
	Shm              *ShmGlobal
	Seat             *SeatGlobal
	Outputs          []*OutputGlobal
	XdgOutputManager *XdgOutputManagerGlobal
	Jay              *JayCompositorGlobal
	PrimarySelection *PrimarySelectionManagerGlobal
}

// Install registers the globals. Call it before the loop runs or from a
// loop task.
func Install(s *server.State, opts Options) *Env {
	env := &Env{State: s}
	g := s.Globals

	env.Compositor = &CompositorGlobal{GlobalBase: server.NewGlobalBase(g.NewName()), env: env}
	g.Add(env.Compositor)

	env.Shm = &ShmGlobal{GlobalBase: server.NewGlobalBase(g.NewName())}
	g.Add(env.Shm)

	env.Seat = newSeatGlobal(g.NewName(), opts.SeatName, env)
	g.Add(env.Seat)

	for _, info := range opts.Outputs {
		out := &OutputGlobal{GlobalBase: server.NewGlobalBase(g.NewName()), Info: info}
		env.Outputs = append(env.Outputs, out)
		g.Add(out)
	}

	env.XdgOutputManager = &XdgOutputManagerGlobal{GlobalBase: server.NewGlobalBase(g.NewName())}
	g.Add(env.XdgOutputManager)

	env.Jay = &JayCompositorGlobal{GlobalBase: server.NewGlobalBase(g.NewName())}
	g.Add(env.Jay)

	env.PrimarySelection = &PrimarySelectionManagerGlobal{GlobalBase: server.NewGlobalBase(g.NewName()), env: env}
	g.Add(env.PrimarySelection)

	return env
}

// RemoveOutput revokes an output global. Bound wl_output objects stay alive
// until their clients release them.
func (env *Env) RemoveOutput(out *OutputGlobal) bool {
	for i, o := range env.Outputs {
		if o == out {
			env.Outputs = append(env.Outputs[:i], env.Outputs[i+1:]...)
			env.State.Globals.Remove(out.Name())
			return true
		}
	}
	return false
}
