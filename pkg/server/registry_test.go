package server

import (
	"errors"
	"testing"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

func TestObjectsDuplicateKeepsOriginal(t *testing.T) {
	s := newTestState(t)
	c := newTestClient(t, s, false)

	first := &widget{ObjectBase: NewObjectBase(c, 5, 1)}
	second := &widget{ObjectBase: NewObjectBase(c, 5, 1)}
	if err := c.AddClientObject(first); err != nil {
		t.Fatalf("AddClientObject() = %v", err)
	}
	before := c.ObjectCount()

	err := c.AddClientObject(second)
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("AddClientObject(duplicate) = %v, want ErrDuplicateID", err)
	}
	if got := c.ObjectCount(); got != before {
		t.Errorf("ObjectCount() = %d, want %d", got, before)
	}
	got, err := Lookup[*widget](c, 5)
	if err != nil || got != first {
		t.Errorf("Lookup(5) = %p, %v, want original %p", got, err, first)
	}
}

func TestAddClientObjectRejectsReservedIDs(t *testing.T) {
	s := newTestState(t)
	c := newTestClient(t, s, false)

	tests := []struct {
		name string
		id   protocol.ObjectID
		want error
	}{
		{"null", protocol.NullID, ErrNullID},
		{"server range", protocol.ServerIDStart, ErrServerID},
		{"server range top", protocol.MaxID, ErrServerID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.AddClientObject(&widget{ObjectBase: NewObjectBase(c, tt.id, 1)})
			if !errors.Is(err, tt.want) {
				t.Errorf("AddClientObject(%s) = %v, want %v", tt.id, err, tt.want)
			}
		})
	}
}

func TestServerIDsAreReused(t *testing.T) {
	s := newTestState(t)
	c := newTestClient(t, s, false)

	a, _ := c.NewServerID()
	b, _ := c.NewServerID()
	if a != protocol.ServerIDStart || b != protocol.ServerIDStart+1 {
		t.Fatalf("NewServerID() = %s, %s, want %s, %s", a, b, protocol.ServerIDStart, protocol.ServerIDStart+1)
	}

	obj := &widget{ObjectBase: NewObjectBase(c, a, 1)}
	if err := c.AddServerObject(obj); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(obj); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.NewServerID(); got != a {
		t.Errorf("NewServerID() after remove = %s, want %s", got, a)
	}
	// No delete_id for server ids.
	for _, ev := range queuedEvents(t, c) {
		if ev.Object == protocol.DisplayID && ev.Opcode == displayDeleteID {
			t.Errorf("unexpected delete_id for server id")
		}
	}
}

func TestRemoveSendsDeleteIDAndBreaksLoops(t *testing.T) {
	s := newTestState(t)
	c := newTestClient(t, s, false)

	obj := &widget{ObjectBase: NewObjectBase(c, 3, 1)}
	if err := c.AddClientObject(obj); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(obj); err != nil {
		t.Fatalf("Remove() = %v", err)
	}
	if !obj.broken {
		t.Error("BreakLoops was not called")
	}
	if err := c.Remove(obj); !errors.Is(err, ErrUnknownID) {
		t.Errorf("second Remove() = %v, want ErrUnknownID", err)
	}

	events := queuedEvents(t, c)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	p := protocol.NewParser(events[0].Payload, nil)
	if id, _ := p.Uint(); events[0].Opcode != displayDeleteID || id != 3 {
		t.Errorf("event = opcode %d id %d, want delete_id 3", events[0].Opcode, id)
	}
}

func TestLookup(t *testing.T) {
	s := newTestState(t)
	c := newTestClient(t, s, false)
	obj := &widget{ObjectBase: NewObjectBase(c, 2, 1)}
	if err := c.AddClientObject(obj); err != nil {
		t.Fatal(err)
	}

	if _, err := Lookup[*widget](c, 9); !errors.Is(err, ErrUnknownID) {
		t.Errorf("Lookup(unknown) = %v, want ErrUnknownID", err)
	}
	if _, err := Lookup[*Registry](c, 2); !errors.Is(err, ErrWrongInterface) {
		t.Errorf("Lookup(wrong type) = %v, want ErrWrongInterface", err)
	}
	if got, err := LookupOptional[*widget](c, protocol.NullID); err != nil || got != nil {
		t.Errorf("LookupOptional(null) = %v, %v, want nil, nil", got, err)
	}
}

func TestTeardownOrder(t *testing.T) {
	s := newTestState(t)
	c := newTestClient(t, s, false)

	var order []protocol.ObjectID
	s.AddObserver(ObserverFuncs{OnDestroy: func(_ *Client, obj Object) {
		order = append(order, obj.ID())
	}})
	for _, id := range []protocol.ObjectID{4, 2, 9} {
		if err := c.AddClientObject(&widget{ObjectBase: NewObjectBase(c, id, 1)}); err != nil {
			t.Fatal(err)
		}
	}
	s.disconnect(c, nil)

	want := []protocol.ObjectID{9, 4, 2, protocol.DisplayID}
	if len(order) != len(want) {
		t.Fatalf("destroyed %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("destroyed %v, want %v", order, want)
			break
		}
	}
	if c.ObjectCount() != 0 {
		t.Errorf("ObjectCount() = %d after teardown", c.ObjectCount())
	}
	if _, ok := s.Client(c.ID); ok {
		t.Error("client still registered after disconnect")
	}
}
