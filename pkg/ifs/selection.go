package ifs

import (
	"os"

	"github.com/kestrel-wm/kestrel/pkg/protocol"
	"github.com/kestrel-wm/kestrel/pkg/server"
)

// PrimarySelectionManagerGlobal advertises
// zwp_primary_selection_device_manager_v1.
type PrimarySelectionManagerGlobal struct {
	server.GlobalBase
	env *Env
}

func (g *PrimarySelectionManagerGlobal) Interface() string {
	return "zwp_primary_selection_device_manager_v1"
}

func (g *PrimarySelectionManagerGlobal) Version() uint32 { return 1 }

func (g *PrimarySelectionManagerGlobal) Bind(c *server.Client, id protocol.ObjectID, version uint32) error {
	return c.AddClientObject(&PrimarySelectionManager{ObjectBase: server.NewObjectBase(c, id, version), env: g.env})
}

// PrimarySelectionManager creates selection sources and per-seat devices.
type PrimarySelectionManager struct {
	server.ObjectBase
	env *Env
}

var primarySelectionManagerRequests = server.NewRequests("zwp_primary_selection_device_manager_v1",
	server.Request[*PrimarySelectionManager]{Name: "create_source", Since: 1, Handle: (*PrimarySelectionManager).createSource},
	server.Request[*PrimarySelectionManager]{Name: "get_device", Since: 1, Handle: (*PrimarySelectionManager).getDevice},
	server.Request[*PrimarySelectionManager]{Name: "destroy", Since: 1, Handle: (*PrimarySelectionManager).destroy},
)

func (m *PrimarySelectionManager) Interface() string {
	return "zwp_primary_selection_device_manager_v1"
}

func (m *PrimarySelectionManager) NumRequests() uint32 {
	return primarySelectionManagerRequests.Accepted(m.Version())
}

func (m *PrimarySelectionManager) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return primarySelectionManagerRequests.Dispatch(m, opcode, p)
}

func (m *PrimarySelectionManager) createSource(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	src := &PrimarySelectionSource{
		ObjectBase: server.NewObjectBase(m.Client(), id, m.Version()),
		offers:     make(map[*PrimarySelectionOffer]struct{}),
	}
	return m.Client().AddClientObject(src)
}

func (m *PrimarySelectionManager) getDevice(p *protocol.Parser) error {
	id, err := p.NewID()
	if err != nil {
		return err
	}
	seatID, err := p.Object()
	if err != nil {
		return err
	}
	c := m.Client()
	seat, err := server.Lookup[*Seat](c, seatID)
	if err != nil {
		return err
	}
	dev := &PrimarySelectionDevice{ObjectBase: server.NewObjectBase(c, id, m.Version()), seat: seat.Global()}
	if err := c.AddClientObject(dev); err != nil {
		return err
	}
	sg := seat.Global()
	sg.devices.add(c, dev)
	if f := sg.keyboardFocus; f != nil && f.Client() == c {
		sg.offerPrimarySelection(c)
	}
	return nil
}

func (m *PrimarySelectionManager) destroy(p *protocol.Parser) error {
	return m.Client().Remove(m)
}

const (
	sourceSend      = 0
	sourceCancelled = 1
)

// PrimarySelectionSource is data a client offers as the primary selection.
type PrimarySelectionSource struct {
	server.ObjectBase
	mimeTypes []string
	seat      *SeatGlobal
	offers    map[*PrimarySelectionOffer]struct{}
}

var primarySelectionSourceRequests = server.NewRequests("zwp_primary_selection_source_v1",
	server.Request[*PrimarySelectionSource]{Name: "offer", Since: 1, Handle: (*PrimarySelectionSource).offer},
	server.Request[*PrimarySelectionSource]{Name: "destroy", Since: 1, Handle: (*PrimarySelectionSource).destroy},
)

func (s *PrimarySelectionSource) Interface() string { return "zwp_primary_selection_source_v1" }

func (s *PrimarySelectionSource) NumRequests() uint32 {
	return primarySelectionSourceRequests.Accepted(s.Version())
}

func (s *PrimarySelectionSource) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return primarySelectionSourceRequests.Dispatch(s, opcode, p)
}

// MimeTypes returns the offered mime types in the order they were added.
func (s *PrimarySelectionSource) MimeTypes() []string { return s.mimeTypes }

// Offers returns the number of live offers made from the source.
func (s *PrimarySelectionSource) Offers() int { return len(s.offers) }

// BreakLoops unsets the selection if s is it and detaches its offers.
func (s *PrimarySelectionSource) BreakLoops() {
	if sg := s.seat; sg != nil && sg.primary == s {
		sg.setPrimary(nil, false)
	}
	s.seat = nil
	s.detachOffers()
}

func (s *PrimarySelectionSource) offer(p *protocol.Parser) error {
	mime, err := p.Str()
	if err != nil {
		return err
	}
	s.mimeTypes = append(s.mimeTypes, mime)
	return nil
}

func (s *PrimarySelectionSource) destroy(p *protocol.Parser) error {
	return s.Client().Remove(s)
}

func (s *PrimarySelectionSource) detachOffers() {
	for o := range s.offers {
		o.source = nil
	}
	clear(s.offers)
}

func (s *PrimarySelectionSource) clearOffer(o *PrimarySelectionOffer) {
	delete(s.offers, o)
}

// cancel tells the owner the source is no longer the selection.
func (s *PrimarySelectionSource) cancel() {
	s.seat = nil
	s.detachOffers()
	s.Client().Event(sourceCancelledEvent{self: s.ID()})
}

// sendSend asks the owner to write the data as mime into fd.
func (s *PrimarySelectionSource) sendSend(mime string, fd *os.File) {
	s.Client().Event(sourceSendEvent{self: s.ID(), mime: mime, fd: fd})
}

type sourceSendEvent struct {
	self protocol.ObjectID
	mime string
	fd   *os.File
}

func (ev sourceSendEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, sourceSend)
	e.Str(ev.mime)
	e.Fd(ev.fd)
}

type sourceCancelledEvent struct {
	self protocol.ObjectID
}

func (ev sourceCancelledEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, sourceCancelled)
}

const (
	deviceDataOffer = 0
	deviceSelection = 1
)

// PrimarySelectionDevice receives the primary selection of one seat.
type PrimarySelectionDevice struct {
	server.ObjectBase
	seat *SeatGlobal
}

var primarySelectionDeviceRequests = server.NewRequests("zwp_primary_selection_device_v1",
	server.Request[*PrimarySelectionDevice]{Name: "set_selection", Since: 1, Handle: (*PrimarySelectionDevice).setSelection},
	server.Request[*PrimarySelectionDevice]{Name: "destroy", Since: 1, Handle: (*PrimarySelectionDevice).destroy},
)

func (d *PrimarySelectionDevice) Interface() string { return "zwp_primary_selection_device_v1" }

func (d *PrimarySelectionDevice) NumRequests() uint32 {
	return primarySelectionDeviceRequests.Accepted(d.Version())
}

func (d *PrimarySelectionDevice) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return primarySelectionDeviceRequests.Dispatch(d, opcode, p)
}

func (d *PrimarySelectionDevice) BreakLoops() {
	d.seat.devices.remove(d.Client(), d.ID())
}

func (d *PrimarySelectionDevice) setSelection(p *protocol.Parser) error {
	srcID, err := p.Object()
	if err != nil {
		return err
	}
	serial, err := p.Uint()
	if err != nil {
		return err
	}
	c := d.Client()
	src, err := server.LookupOptional[*PrimarySelectionSource](c, srcID)
	if err != nil {
		return err
	}
	if !c.ValidSerial(serial) {
		c.Logger().Warn("set_selection with an invalid serial", "serial", serial)
		return nil
	}
	d.seat.SetPrimarySelection(src)
	return nil
}

func (d *PrimarySelectionDevice) destroy(p *protocol.Parser) error {
	return d.Client().Remove(d)
}

func (d *PrimarySelectionDevice) sendDataOffer(id protocol.ObjectID) {
	d.Client().Event(deviceObjectEvent{self: d.ID(), opcode: deviceDataOffer, id: id})
}

func (d *PrimarySelectionDevice) sendSelection(id protocol.ObjectID) {
	d.Client().Event(deviceObjectEvent{self: d.ID(), opcode: deviceSelection, id: id})
}

type deviceObjectEvent struct {
	self   protocol.ObjectID
	opcode uint16
	id     protocol.ObjectID
}

func (ev deviceObjectEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, ev.opcode)
	e.Object(ev.id)
}

const offerOffer = 0

// PrimarySelectionOffer is the receiving side of a selection, created by the
// server for one client.
type PrimarySelectionOffer struct {
	server.ObjectBase
	source *PrimarySelectionSource
}

var primarySelectionOfferRequests = server.NewRequests("zwp_primary_selection_offer_v1",
	server.Request[*PrimarySelectionOffer]{Name: "receive", Since: 1, Handle: (*PrimarySelectionOffer).receive},
	server.Request[*PrimarySelectionOffer]{Name: "destroy", Since: 1, Handle: (*PrimarySelectionOffer).destroy},
)

// newPrimarySelectionOffer announces src to every selection device c has on
// sg. When c has no device the offer is dropped again and nil is returned.
func newPrimarySelectionOffer(c *server.Client, src *PrimarySelectionSource, sg *SeatGlobal) *PrimarySelectionOffer {
	id, err := c.NewServerID()
	if err != nil {
		c.Error(err)
		return nil
	}
	o := &PrimarySelectionOffer{ObjectBase: server.NewObjectBase(c, id, 1), source: src}
	if err := c.AddServerObject(o); err != nil {
		c.Error(err)
		return nil
	}
	sent := false
	sg.devices.each(c.ID, func(d *PrimarySelectionDevice) {
		if !sent {
			sent = true
			d.sendDataOffer(id)
			for _, mime := range src.mimeTypes {
				c.Event(offerOfferEvent{self: id, mime: mime})
			}
		}
		d.sendSelection(id)
	})
	if !sent {
		c.Remove(o)
		return nil
	}
	src.offers[o] = struct{}{}
	return o
}

func (o *PrimarySelectionOffer) Interface() string { return "zwp_primary_selection_offer_v1" }

func (o *PrimarySelectionOffer) NumRequests() uint32 {
	return primarySelectionOfferRequests.Accepted(o.Version())
}

func (o *PrimarySelectionOffer) HandleRequest(opcode uint16, p *protocol.Parser) error {
	return primarySelectionOfferRequests.Dispatch(o, opcode, p)
}

// Source returns the source behind the offer, or nil once it is gone.
func (o *PrimarySelectionOffer) Source() *PrimarySelectionSource { return o.source }

func (o *PrimarySelectionOffer) BreakLoops() { o.disconnect() }

func (o *PrimarySelectionOffer) disconnect() {
	if src := o.source; src != nil {
		o.source = nil
		src.clearOffer(o)
	}
}

func (o *PrimarySelectionOffer) receive(p *protocol.Parser) error {
	mime, err := p.Str()
	if err != nil {
		return err
	}
	fd, err := p.Fd()
	if err != nil {
		return err
	}
	if o.source == nil {
		fd.Close()
		return nil
	}
	o.source.sendSend(mime, fd)
	return nil
}

func (o *PrimarySelectionOffer) destroy(p *protocol.Parser) error {
	o.disconnect()
	return o.Client().Remove(o)
}

type offerOfferEvent struct {
	self protocol.ObjectID
	mime string
}

func (ev offerOfferEvent) Format(e *protocol.Encoder) {
	e.Header(ev.self, offerOffer)
	e.Str(ev.mime)
}

// PrimarySelection returns the current primary selection source.
func (sg *SeatGlobal) PrimarySelection() *PrimarySelectionSource { return sg.primary }

// SetPrimarySelection makes src the primary selection and cancels the
// previous one. nil clears the selection.
func (sg *SeatGlobal) SetPrimarySelection(src *PrimarySelectionSource) {
	sg.setPrimary(src, true)
}

func (sg *SeatGlobal) setPrimary(src *PrimarySelectionSource, cancelOld bool) {
	if src == sg.primary {
		return
	}
	if old := sg.primary; old != nil && cancelOld {
		old.cancel()
	}
	if src != nil {
		if src.seat != nil && src.seat != sg {
			src.seat.setPrimary(nil, false)
		}
		src.seat = sg
	}
	sg.primary = src
	if f := sg.keyboardFocus; f != nil {
		sg.offerPrimarySelection(f.Client())
	}
}

// offerPrimarySelection sends the current selection to every device of c.
func (sg *SeatGlobal) offerPrimarySelection(c *server.Client) {
	if sg.primary == nil {
		sg.devices.each(c.ID, func(d *PrimarySelectionDevice) {
			d.sendSelection(protocol.NullID)
		})
		return
	}
	newPrimarySelectionOffer(c, sg.primary, sg)
}
