package ifs

import (
	"context"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/queue"
)

// InputEvent is an occurrence reported by an input backend. Events are
// applied to the seat on the event loop in the order they were pushed.
type InputEvent interface {
	apply(sg *SeatGlobal)
}

// MotionEvent moves the pointer within the focused surface.
type MotionEvent struct {
	Time uint32
	X, Y protocol.Fixed
}

func (ev MotionEvent) apply(sg *SeatGlobal) { sg.Motion(ev.Time, ev.X, ev.Y) }

// ButtonEvent presses or releases a pointer button.
type ButtonEvent struct {
	Time, Button, State uint32
}

func (ev ButtonEvent) apply(sg *SeatGlobal) { sg.Button(ev.Time, ev.Button, ev.State) }

// AxisEvent scrolls continuously along one axis.
type AxisEvent struct {
	Axis  uint32
	Value protocol.Fixed
}

func (ev AxisEvent) apply(sg *SeatGlobal) { sg.Axis(ev.Axis, ev.Value) }

// AxisDiscreteEvent scrolls by whole steps along one axis.
type AxisDiscreteEvent struct {
	Axis  uint32
	Steps int32
}

func (ev AxisDiscreteEvent) apply(sg *SeatGlobal) { sg.AxisDiscrete(ev.Axis, ev.Steps) }

// AxisStopEvent ends scrolling along one axis.
type AxisStopEvent struct {
	Axis uint32
}

func (ev AxisStopEvent) apply(sg *SeatGlobal) { sg.AxisStop(ev.Axis) }

// AxisSourceEvent names the device kind producing the scroll.
type AxisSourceEvent struct {
	Source uint32
}

func (ev AxisSourceEvent) apply(sg *SeatGlobal) { sg.AxisSource(ev.Source) }

// FrameEvent closes a group of pointer events.
type FrameEvent struct {
	Time uint32
}

func (ev FrameEvent) apply(sg *SeatGlobal) { sg.Frame(ev.Time) }

// KeyEvent presses or releases a key.
type KeyEvent struct {
	Time, Key, State uint32
}

func (ev KeyEvent) apply(sg *SeatGlobal) { sg.Key(ev.Time, ev.Key, ev.State) }

// ModifiersEvent reports the modifier state.
type ModifiersEvent struct {
	Depressed, Latched, Locked, Group uint32
}

func (ev ModifiersEvent) apply(sg *SeatGlobal) {
	sg.Modifiers(ev.Depressed, ev.Latched, ev.Locked, ev.Group)
}

// HandleBackend moves events from q onto the event loop until ctx ends.
// Backends push from their own goroutines.
func (env *Env) HandleBackend(ctx context.Context, q *queue.Queue[InputEvent]) error {
	loop := env.State.Loop
	for {
		ev, err := q.Pop(ctx)
		if err != nil {
			return err
		}
		if loop.Stopped() {
			return nil
		}
		loop.Submit(func() { ev.apply(env.Seat) })
	}
}
