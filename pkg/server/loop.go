package server

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/kestrel-wm/kestrel/pkg/queue"
)

// ErrLoopStopped is returned by Run after Stop and by Call on a stopped loop.
var ErrLoopStopped = errors.New("server: event loop stopped")

// Loop runs submitted tasks one at a time on a single goroutine. Every
// protocol object is touched only from tasks, so handlers never race.
type Loop struct {
	tasks   *queue.Queue[func()]
	logger  *slog.Logger
	stopped atomic.Bool

	// halted is closed once Run has returned.
	halted   chan struct{}
	haltOnce sync.Once
}

// NewLoop creates an idle loop.
func NewLoop(logger *slog.Logger) *Loop {
	return &Loop{
		tasks:  queue.New[func()](),
		logger: logger,
		halted: make(chan struct{}),
	}
}

// Submit queues fn. Tasks run in submission order.
func (l *Loop) Submit(fn func()) {
	if fn == nil {
		return
	}
	l.tasks.Push(fn)
}

// Call runs fn on the loop and waits for it to finish. It fails with
// ErrLoopStopped when the loop stops or has stopped before fn ran.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if l.stopped.Load() {
		return ErrLoopStopped
	}
	done := make(chan struct{})
	l.Submit(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-l.halted:
		select {
		case <-done:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop makes Run return after the current task.
func (l *Loop) Stop() {
	if l.stopped.Swap(true) {
		return
	}
	// nil is the stop marker; Submit never queues it.
	l.tasks.Push(nil)
}

// Stopped reports whether Stop was called.
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}

// Run executes tasks until ctx ends or Stop is called. Pending tasks are
// dropped when it returns.
func (l *Loop) Run(ctx context.Context) error {
	defer l.haltOnce.Do(func() { close(l.halted) })
	defer l.tasks.Clear()
	for {
		fn, err := l.tasks.Pop(ctx)
		if err != nil {
			return err
		}
		if fn == nil {
			return ErrLoopStopped
		}
		l.run(fn)
	}
}

// run executes one task with panic recovery.
func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}
