package server

import (
	"reflect"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// Observer reacts to object lifecycle without owning objects. Callbacks run
// on the Loop and must not retain obj after ObjectDestroyed.
type Observer interface {
	ObjectCreated(c *Client, obj Object)
	ObjectDestroyed(c *Client, obj Object)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnCreate  func(c *Client, obj Object)
	OnDestroy func(c *Client, obj Object)
}

// ObjectCreated implements Observer.
func (f ObserverFuncs) ObjectCreated(c *Client, obj Object) {
	if f.OnCreate != nil {
		f.OnCreate(c, obj)
	}
}

// ObjectDestroyed implements Observer.
func (f ObserverFuncs) ObjectDestroyed(c *Client, obj Object) {
	if f.OnDestroy != nil {
		f.OnDestroy(c, obj)
	}
}

// Leak is an object that is still reachable after its client disconnected.
type Leak struct {
	Client    ClientID          `json:"client_id"`
	Interface string            `json:"interface"`
	Object    protocol.ObjectID `json:"object_id"`
	Age       time.Duration     `json:"age"`
}

type leakEntry struct {
	client  ClientID
	iface   string
	id      protocol.ObjectID
	created time.Time
}

// LeakTracker records every object until the garbage collector frees it.
// Objects of disconnected clients that survive a collection are kept alive
// by a reference some BreakLoops hook failed to clear.
type LeakTracker struct {
	mu   sync.Mutex
	next uint64
	live map[uint64]leakEntry
	gone map[ClientID]struct{}
}

// NewLeakTracker creates an empty tracker.
func NewLeakTracker() *LeakTracker {
	return &LeakTracker{
		live: make(map[uint64]leakEntry),
		gone: make(map[ClientID]struct{}),
	}
}

// ObjectCreated implements Observer.
func (t *LeakTracker) ObjectCreated(c *Client, obj Object) {
	if reflect.ValueOf(obj).Kind() != reflect.Pointer {
		return
	}
	t.mu.Lock()
	key := t.next
	t.next++
	t.live[key] = leakEntry{client: c.ID, iface: obj.Interface(), id: obj.ID(), created: time.Now()}
	t.mu.Unlock()

	runtime.SetFinalizer(obj, func(any) {
		t.mu.Lock()
		delete(t.live, key)
		t.mu.Unlock()
	})
}

// ObjectDestroyed implements Observer. Destroyed objects stay tracked until
// they are collected.
func (t *LeakTracker) ObjectDestroyed(c *Client, obj Object) {}

func (t *LeakTracker) clientGone(id ClientID) {
	t.mu.Lock()
	t.gone[id] = struct{}{}
	t.mu.Unlock()
}

// Live returns the number of tracked objects that have not been collected.
func (t *LeakTracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Leaks returns tracked objects whose client is gone. Run a garbage
// collection first for an accurate answer.
func (t *LeakTracker) Leaks() []Leak {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	var out []Leak
	holding := make(map[ClientID]bool)
	for _, e := range t.live {
		if _, ok := t.gone[e.client]; !ok {
			continue
		}
		holding[e.client] = true
		out = append(out, Leak{Client: e.client, Interface: e.iface, Object: e.id, Age: now.Sub(e.created)})
	}
	for id := range t.gone {
		if !holding[id] {
			delete(t.gone, id)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Client != out[j].Client {
			return out[i].Client < out[j].Client
		}
		return out[i].Object < out[j].Object
	})
	return out
}
