package server

import (
	"sort"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
)

// objects is a client's object registry. It is the only owner of the
// objects it holds; everything else refers to them by ID or weakly.
type objects struct {
	byID map[protocol.ObjectID]Object

	nextServer protocol.ObjectID
	freeServer []protocol.ObjectID
}

func newObjects() objects {
	return objects{
		byID:       make(map[protocol.ObjectID]Object),
		nextServer: protocol.ServerIDStart,
	}
}

// add inserts obj. It never replaces a live object.
func (r *objects) add(obj Object) error {
	if _, ok := r.byID[obj.ID()]; ok {
		return &ClientError{Op: "add", Object: obj.ID(), Err: ErrDuplicateID}
	}
	r.byID[obj.ID()] = obj
	return nil
}

func (r *objects) get(id protocol.ObjectID) (Object, bool) {
	obj, ok := r.byID[id]
	return obj, ok
}

func (r *objects) remove(id protocol.ObjectID) (Object, bool) {
	obj, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	if id.IsServer() {
		r.freeServer = append(r.freeServer, id)
	}
	return obj, true
}

// newServerID allocates an ID in the server range, reusing released IDs.
func (r *objects) newServerID() (protocol.ObjectID, error) {
	if n := len(r.freeServer); n > 0 {
		id := r.freeServer[n-1]
		r.freeServer = r.freeServer[:n-1]
		return id, nil
	}
	if r.nextServer == protocol.MaxID {
		return 0, ErrNoMemory
	}
	id := r.nextServer
	r.nextServer++
	return id, nil
}

func (r *objects) len() int {
	return len(r.byID)
}

// sorted returns the live objects in descending ID order, so objects created
// later are torn down first.
func (r *objects) sorted() []Object {
	out := make([]Object, 0, len(r.byID))
	for _, obj := range r.byID {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() > out[j].ID() })
	return out
}
