package queue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQueue_FIFOWithoutSuspension(t *testing.T) {
	q := New[string]()
	q.Push("A")
	q.Push("B")

	// A cancelled context proves Pop never suspends when data is queued.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, want := range []string{"A", "B"} {
		got, err := q.Pop(ctx)
		if err != nil {
			t.Fatalf("Pop() error = %v", err)
		}
		if got != want {
			t.Errorf("Pop() = %q, want %q", got, want)
		}
	}
	if _, err := q.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Pop() on empty queue error = %v, want context.Canceled", err)
	}
}

func TestQueue_TryPop(t *testing.T) {
	var q Queue[int]
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop() on empty queue returned a value")
	}
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}
	for i := 0; i < 5; i++ {
		v, ok := q.TryPop()
		if !ok || v != i {
			t.Errorf("TryPop() = %d, %v; want %d, true", v, ok, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := New[int]()
	got := make(chan int, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			got <- v
		}
	}()

	waitFor(t, q.waiting)
	q.Push(7)

	select {
	case v := <-got:
		if v != 7 {
			t.Errorf("Pop() = %d, want 7", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pop() not woken by Push")
	}
	if q.waiting() {
		t.Error("waiter still registered after wake")
	}
}

func TestQueue_CancelDropsWaiter(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()

	waitFor(t, q.waiting)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Pop() error = %v, want context.Canceled", err)
	}
	if q.waiting() {
		t.Error("cancelled Pop left a waiter registered")
	}

	// The element pushed afterwards stays queued.
	q.Push(1)
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

func TestQueue_ClearDoesNotWake(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", q.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		done <- err
	}()
	waitFor(t, q.waiting)
	q.Clear()

	select {
	case err := <-done:
		t.Fatalf("Pop() returned %v after Clear, want it to stay suspended", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Pop() error = %v, want context.Canceled", err)
	}
}

func TestQueue_SecondWaiterReplacesFirst(t *testing.T) {
	q := New[int]()
	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()

	first := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx1)
		first <- err
	}()
	waitFor(t, q.waiting)

	var w1 chan struct{}
	q.mu.Lock()
	w1 = q.waiter
	q.mu.Unlock()

	second := make(chan int, 1)
	go func() {
		v, err := q.Pop(context.Background())
		if err == nil {
			second <- v
		}
	}()
	waitFor(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.waiter != nil && q.waiter != w1
	})

	q.Push(5)
	select {
	case v := <-second:
		if v != 5 {
			t.Errorf("second Pop() = %d, want 5", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second waiter not woken")
	}

	select {
	case err := <-first:
		t.Fatalf("replaced waiter returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	cancel1()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("first Pop() error = %v, want context.Canceled", err)
	}
}
