package server

import (
	"fmt"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// Object is a live protocol object owned by one client.
type Object interface {
	// ID returns the object's ID within its client.
	ID() protocol.ObjectID

	// Interface returns the protocol interface name, e.g. "wl_pointer".
	Interface() string

	// Version returns the version negotiated when the object was created.
	Version() uint32

	// NumRequests returns how many opcodes are valid at Version.
	NumRequests() uint32

	// HandleRequest decodes and runs one request. opcode is always below
	// NumRequests when called by the dispatcher.
	HandleRequest(opcode uint16, p *protocol.Parser) error

	// BreakLoops releases references to other objects. It is called exactly
	// once when the object leaves its client's registry.
	BreakLoops()
}

// ObjectBase carries the fields every object has. Embed it and implement
// Interface, NumRequests and HandleRequest.
type ObjectBase struct {
	id      protocol.ObjectID
	version uint32
	client  *Client
}

// NewObjectBase creates the common part of an object.
func NewObjectBase(c *Client, id protocol.ObjectID, version uint32) ObjectBase {
	return ObjectBase{id: id, version: version, client: c}
}

// ID returns the object ID.
func (b *ObjectBase) ID() protocol.ObjectID { return b.id }

// Version returns the negotiated version.
func (b *ObjectBase) Version() uint32 { return b.version }

// Client returns the owning client.
func (b *ObjectBase) Client() *Client { return b.client }

// BreakLoops does nothing by default.
func (b *ObjectBase) BreakLoops() {}

// Request describes one opcode of an interface.
type Request[T any] struct {
	Name   string
	Since  uint32
	Handle func(T, *protocol.Parser) error
}

// Requests is the request table of an interface, indexed by opcode.
type Requests[T any] struct {
	iface string
	reqs  []Request[T]
}

// NewRequests builds a request table. Opcodes must be numbered in the order
// their requests were introduced, so the requests valid at any version form a
// prefix of the table; NewRequests panics otherwise.
func NewRequests[T any](iface string, reqs ...Request[T]) Requests[T] {
	var last uint32 = 1
	for i, r := range reqs {
		if r.Since < last {
			panic(fmt.Sprintf("server: %s opcode %d (%s) introduced in version %d after version %d",
				iface, i, r.Name, r.Since, last))
		}
		if r.Handle == nil {
			panic(fmt.Sprintf("server: %s opcode %d (%s) has no handler", iface, i, r.Name))
		}
		last = r.Since
	}
	return Requests[T]{iface: iface, reqs: reqs}
}

// Accepted returns the number of opcodes valid for an object of version.
func (r Requests[T]) Accepted(version uint32) uint32 {
	n := 0
	for n < len(r.reqs) && r.reqs[n].Since <= version {
		n++
	}
	return uint32(n)
}

// Name returns the request name for opcode.
func (r Requests[T]) Name(opcode uint16) string {
	if int(opcode) < len(r.reqs) {
		return r.reqs[opcode].Name
	}
	return fmt.Sprintf("#%d", opcode)
}

// Dispatch runs the handler for opcode and wraps its error.
func (r Requests[T]) Dispatch(obj T, opcode uint16, p *protocol.Parser) error {
	if int(opcode) >= len(r.reqs) {
		return &RequestError{Interface: r.iface, Request: r.Name(opcode), Err: ErrOpcodeOutOfRange}
	}
	req := r.reqs[opcode]
	if err := req.Handle(obj, p); err != nil {
		return &RequestError{Interface: r.iface, Request: req.Name, Err: err}
	}
	return nil
}

// Lookup returns the object with id if it has type T.
func Lookup[T Object](c *Client, id protocol.ObjectID) (T, error) {
	var zero T
	obj, ok := c.objects.get(id)
	if !ok {
		return zero, &ClientError{Op: "lookup", Object: id, Err: ErrUnknownID}
	}
	t, ok := obj.(T)
	if !ok {
		return zero, &ClientError{
			Op:     "lookup",
			Object: id,
			Err:    fmt.Errorf("%w: %s", ErrWrongInterface, obj.Interface()),
		}
	}
	return t, nil
}

// LookupOptional is Lookup that maps the null ID to the zero value.
func LookupOptional[T Object](c *Client, id protocol.ObjectID) (T, error) {
	if id.IsNull() {
		var zero T
		return zero, nil
	}
	return Lookup[T](c, id)
}
