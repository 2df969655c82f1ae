package ifs

import (
	"io"
	"os"
	"testing"

	"github.com/kestrel-wm/kestrel/internal/testclient"
	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

const selectionManager = "zwp_primary_selection_device_manager_v1"

func TestOfferWithoutDevice(t *testing.T) {
	s, env := startEnv(t)
	c := connect(t, s, false)
	manager := bind(t, c, selectionManager, 1)
	srcID := c.NewID()
	send(t, c, manager, opCreateSource, srcID)
	roundtrip(t, c)

	call(t, c, func() {
		src, err := server.Lookup[*PrimarySelectionSource](c.Server, srcID)
		if err != nil {
			t.Errorf("Lookup() = %v", err)
			return
		}
		before := c.Server.ObjectCount()
		if o := newPrimarySelectionOffer(c.Server, src, env.Seat); o != nil {
			t.Errorf("newPrimarySelectionOffer() = %v, want nil", o)
		}
		if after := c.Server.ObjectCount(); after != before {
			t.Errorf("ObjectCount() = %d, want %d", after, before)
		}
		if src.Offers() != 0 {
			t.Errorf("Offers() = %d, want 0", src.Offers())
		}
	})
	if events := roundtrip(t, c); len(events) != 0 {
		t.Errorf("failed offer produced %d events", len(events))
	}
}

// selectionOwner holds a source advertising text/plain.
type selectionOwner struct {
	c       *testclient.Client
	manager protocol.ObjectID
	device  protocol.ObjectID
	source  protocol.ObjectID
}

func newSelectionOwner(t *testing.T, s *server.State) *selectionOwner {
	t.Helper()
	o := &selectionOwner{c: connect(t, s, false)}
	o.manager = bind(t, o.c, selectionManager, 1)
	seat := bind(t, o.c, "wl_seat", 7)
	o.device = o.c.NewID()
	send(t, o.c, o.manager, opGetDevice, o.device, seat)
	o.source = o.newSource(t, "text/plain")
	return o
}

func (o *selectionOwner) newSource(t *testing.T, mime string) protocol.ObjectID {
	t.Helper()
	id := o.c.NewID()
	send(t, o.c, o.manager, opCreateSource, id)
	send(t, o.c, id, opSourceOffer, mime)
	roundtrip(t, o.c)
	return id
}

func (o *selectionOwner) setSelection(t *testing.T, src protocol.ObjectID) []testclient.Event {
	t.Helper()
	var serial uint32
	call(t, o.c, func() { serial = o.c.Server.NextSerial() })
	send(t, o.c, o.device, opDeviceSetSelection, src, serial)
	return roundtrip(t, o.c)
}

func TestPrimarySelection(t *testing.T) {
	s, env := startEnv(t)
	owner := newSelectionOwner(t, s)
	owner.setSelection(t, owner.source)

	c := connect(t, s, false)
	compositor := bind(t, c, "wl_compositor", 1)
	seat := bind(t, c, "wl_seat", 7)
	manager := bind(t, c, selectionManager, 1)
	device := c.NewID()
	send(t, c, manager, opGetDevice, device, seat)
	_, surf := surface(t, c, compositor)

	call(t, c, func() { env.Seat.SetKeyboardFocus(surf) })
	events := roundtrip(t, c)
	dev := testclient.Filter(events, device)
	if len(dev) != 2 || dev[0].Opcode != deviceDataOffer || dev[1].Opcode != deviceSelection {
		t.Fatalf("device events = %v, want data_offer, selection", opcodes(dev))
	}
	offer, _ := dev[0].Args().Object()
	if !offer.IsServer() {
		t.Errorf("offer id %s is not a server id", offer)
	}
	if sel, _ := dev[1].Args().Object(); sel != offer {
		t.Errorf("selection(%s), want %s", sel, offer)
	}
	mimes := testclient.Filter(events, offer)
	if len(mimes) != 1 {
		t.Fatalf("offer events = %d, want 1", len(mimes))
	}
	if mime, _ := mimes[0].Args().Str(); mime != "text/plain" {
		t.Errorf("offer(%q), want text/plain", mime)
	}

	// receive is forwarded to the owner as send with the same pipe
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	send(t, c, offer, opOfferReceive, "text/plain", w)
	w.Close()
	roundtrip(t, c)

	sent := testclient.Filter(roundtrip(t, owner.c), owner.source)
	if len(sent) != 1 || sent[0].Opcode != sourceSend {
		t.Fatalf("source events = %v, want send", opcodes(sent))
	}
	args := sent[0].Args()
	if mime, _ := args.Str(); mime != "text/plain" {
		t.Errorf("send(%q), want text/plain", mime)
	}
	fd, err := args.Fd()
	if err != nil {
		t.Fatalf("send without fd: %v", err)
	}
	fd.WriteString("hello")
	fd.Close()
	data, err := io.ReadAll(r)
	if err != nil || string(data) != "hello" {
		t.Errorf("pipe = %q, %v, want hello", data, err)
	}

	// a new selection cancels the old source and detaches its offer
	second := owner.newSource(t, "text/html")
	cancelled := testclient.Filter(owner.setSelection(t, second), owner.source)
	if len(cancelled) != 1 || cancelled[0].Opcode != sourceCancelled {
		t.Errorf("old source events = %v, want cancelled", opcodes(cancelled))
	}
	call(t, c, func() {
		o, err := server.Lookup[*PrimarySelectionOffer](c.Server, offer)
		if err != nil {
			t.Errorf("Lookup(%s) = %v", offer, err)
			return
		}
		if o.Source() != nil {
			t.Errorf("old offer still points at its source")
		}
	})

	// destroying the selection source clears the selection
	send(t, owner.c, second, 1)
	roundtrip(t, owner.c)
	call(t, c, func() {
		if env.Seat.PrimarySelection() != nil {
			t.Errorf("PrimarySelection() survived source destruction")
		}
	})
	dev = testclient.Filter(roundtrip(t, c), device)
	if len(dev) == 0 {
		t.Fatal("no device events after the selection was cleared")
	}
	last := dev[len(dev)-1]
	if id, _ := last.Args().Object(); last.Opcode != deviceSelection || id != protocol.NullID {
		t.Errorf("last device event = %d(%s), want selection(null)", last.Opcode, id)
	}
}

func TestOfferDisconnectIdempotent(t *testing.T) {
	s, env := startEnv(t)
	owner := newSelectionOwner(t, s)
	owner.setSelection(t, owner.source)

	c := owner.c
	compositor := bind(t, c, "wl_compositor", 1)
	_, surf := surface(t, c, compositor)
	call(t, c, func() {
		env.Seat.SetKeyboardFocus(surf)
		src := env.Seat.PrimarySelection()
		if src == nil || src.Offers() != 1 {
			t.Errorf("selection offers = %v, want 1", src)
			return
		}
		var offer *PrimarySelectionOffer
		for o := range src.offers {
			offer = o
		}
		offer.disconnect()
		offer.disconnect()
		if src.Offers() != 0 || offer.Source() != nil {
			t.Errorf("disconnect() left offers=%d source=%v", src.Offers(), offer.Source())
		}
	})
}
