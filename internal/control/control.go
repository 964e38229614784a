// Package control is the /control-side orchestrator (the non-crypto half
// of C11 plus the parts of the original's process_control_form that don't
// belong in the closed-form Dispatcher): it special-cases DISCOVER_PEER
// (needs the transport client to ping an unknown URL) and the ticket
// management forms (need both the ticket engine and the router), and
// delegates everything else straight to dispatch.Dispatcher. Grounded on
// original_source/stembot/controller/mpi.py's process_control_form and
// create_form_ticket.
package control

import (
	"fmt"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/dispatch"
	"github.com/phnomcobra/stembot/internal/peer"
	"github.com/phnomcobra/stembot/internal/router"
	"github.com/phnomcobra/stembot/internal/ticket"
	"github.com/phnomcobra/stembot/internal/transport"
	"github.com/phnomcobra/stembot/internal/types"
)

// Orchestrator wires the Form Dispatcher, Ticket Engine, Router, Peer
// Table, and outbound Transport together behind the single
// HandleControlForm/HandleNetworkMessage surface the HTTP front calls.
type Orchestrator struct {
	Self      string
	Dispatch  *dispatch.Dispatcher
	Tickets   *ticket.Engine
	Router    *router.Router
	Peers     *peer.Table
	Transport *transport.Client
	Clock     clock.Clock
}

// HandleControlForm is the /control endpoint's business logic.
func (o *Orchestrator) HandleControlForm(form types.Form) types.Form {
	switch form.Type {
	case types.DiscoverPeerForm:
		return o.discoverPeer(form)
	case types.CreateTicketForm:
		return o.createTicket(form)
	case types.ReadTicketForm:
		return o.readTicket(form)
	case types.CloseTicketForm:
		return o.closeTicket(form)
	default:
		return o.Dispatch.Handle(form)
	}
}

// HandleNetworkMessage is the /mpi endpoint's business logic: a thin pass
// through to the router.
func (o *Orchestrator) HandleNetworkMessage(msg types.NetworkMessage) (types.NetworkMessage, error) {
	return o.Router.Route(msg)
}

// discoverPeer pings a URL with no known agtuuid, learns the peer's
// agtuuid from the PING's ACKNOWLEDGEMENT, then registers it — grounded
// on original_source/stembot/controller/mpi.py's DISCOVER_PEER branch
// (SPEC_FULL.md's supplemented-features section: the distilled spec.md
// lists DiscoverPeer in the Form sum but doesn't narrate its handler).
func (o *Orchestrator) discoverPeer(form types.Form) types.Form {
	if form.URL == nil {
		form.Error = "discover_peer: url is required"
		return form
	}
	ping := types.NetworkMessage{Type: types.Ping, Src: o.Self, Timestamp: o.Clock.Now()}
	ack, err := o.Transport.SendMessage(*form.URL, ping, o.Self)
	if err != nil {
		form.Error = fmt.Sprintf("discover_peer: pinging %s: %v", *form.URL, err)
		return form
	}
	if ack.Src == "" {
		form.Error = fmt.Sprintf("discover_peer: %s did not identify itself", *form.URL)
		return form
	}
	form.Agtuuid = ack.Src

	var ttl *float64
	if form.TTL != nil {
		f := float64(*form.TTL)
		ttl = &f
	}
	if _, err := o.Peers.Create(ack.Src, form.URL, ttl, form.Polling); err != nil {
		form.Error = err.Error()
	}
	return form
}

// createTicket stores a new ControlFormTicket, constructs the
// corresponding NetworkTicket, and routes it toward dst
// (original_source's create_form_ticket).
func (o *Orchestrator) createTicket(form types.Form) types.Form {
	if form.Inner == nil {
		form.Error = "create_ticket: inner form is required"
		return form
	}
	cft, err := o.Tickets.Create(o.Self, form.Dst, *form.Inner, form.Tracing)
	if err != nil {
		form.Error = err.Error()
		return form
	}

	dest := form.Dst
	netTicket := types.NetworkMessage{
		Type: types.TicketRequest, Src: o.Self, Dest: &dest, Timestamp: o.Clock.Now(),
		Ticket: &types.NetworkTicket{
			Tckuuid: cft.Tckuuid, Form: *form.Inner, CreateTime: cft.CreateTime,
			Tracing: form.Tracing, Type: types.TicketRequest,
		},
	}
	if _, err := o.Router.Route(netTicket); err != nil {
		form.Error = err.Error()
		return form
	}

	form.Tckuuid = cft.Tckuuid
	form.Ticket = &cft
	return form
}

func (o *Orchestrator) readTicket(form types.Form) types.Form {
	cft, ok, err := o.Tickets.Read(form.Tckuuid)
	if err != nil {
		form.Error = err.Error()
		return form
	}
	if !ok {
		form.Error = "read_ticket: no such ticket (absent or expired)"
		return form
	}
	form.Ticket = &cft
	return form
}

func (o *Orchestrator) closeTicket(form types.Form) types.Form {
	if err := o.Tickets.Close(form.Tckuuid); err != nil {
		form.Error = err.Error()
	}
	return form
}
