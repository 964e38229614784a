// Package dispatch implements the Form Dispatcher (spec.md §4.9, C10):
// one handler per closed Form variant, each total — on failure it sets
// form.Error and returns rather than propagating, per spec.md §9's "bare
// except swallowing" redesign note (every former bare except is now an
// explicit HandlerError site, spec.md §7).
package dispatch

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/logging"
	"github.com/phnomcobra/stembot/internal/peer"
	"github.com/phnomcobra/stembot/internal/route"
	"github.com/phnomcobra/stembot/internal/types"
)

// Dispatcher holds everything the concrete handlers need: the peer and
// route tables (for the peer-management and introspection forms) and a
// clock/logger pair (for TTL math and diagnostics). It does not reference
// the router or ticket engine — CREATE_TICKET/READ_TICKET/CLOSE_TICKET are
// orchestrated one level up (internal/control) to avoid a dispatch<->
// router import cycle, mirroring how the original's process_control_form
// special-cases CREATE_TICKET outside the generic form-type switch.
type Dispatcher struct {
	Peers  *peer.Table
	Routes *route.Table
	Clock  clock.Clock
	Log    *logging.Logger
}

// New builds a Dispatcher.
func New(peers *peer.Table, routes *route.Table, c clock.Clock, log *logging.Logger) *Dispatcher {
	return &Dispatcher{Peers: peers, Routes: routes, Clock: c, Log: log}
}

// Handle routes form to its concrete handler by Type. Every branch is
// total: on error, form.Error is set and the (otherwise unmodified) form
// is returned.
func (d *Dispatcher) Handle(form types.Form) types.Form {
	switch form.Type {
	case types.CreatePeerForm:
		return d.createPeer(form)
	case types.DeletePeersForm:
		return d.deletePeers(form)
	case types.GetPeersForm:
		return d.getPeers(form)
	case types.GetRoutesForm:
		return d.getRoutes(form)
	case types.SyncProcessForm:
		return d.syncProcess(form)
	case types.LoadFileForm:
		return d.loadFile(form)
	case types.WriteFileForm:
		return d.writeFile(form)
	default:
		form.Error = fmt.Sprintf("dispatch: form type %s has no local handler (ticket forms route through control, DISCOVER_PEER through the transport-aware caller)", form.Type)
		return form
	}
}

func (d *Dispatcher) createPeer(form types.Form) types.Form {
	var ttl *float64
	if form.TTL != nil {
		f := float64(*form.TTL)
		ttl = &f
	}
	if _, err := d.Peers.Create(form.Agtuuid, form.URL, ttl, form.Polling); err != nil {
		form.Error = err.Error()
	}
	return form
}

func (d *Dispatcher) deletePeers(form types.Form) types.Form {
	if len(form.Agtuuids) == 0 {
		if err := d.Peers.DeleteAll(); err != nil {
			form.Error = err.Error()
		}
		return form
	}
	for _, id := range form.Agtuuids {
		if err := d.Peers.Delete(id); err != nil {
			form.Error = err.Error()
			return form
		}
	}
	return form
}

func (d *Dispatcher) getPeers(form types.Form) types.Form {
	peers, err := d.Peers.List()
	if err != nil {
		form.Error = err.Error()
		return form
	}
	form.Peers = peers
	return form
}

func (d *Dispatcher) getRoutes(form types.Form) types.Form {
	routes, err := d.Routes.List()
	if err != nil {
		form.Error = err.Error()
		return form
	}
	form.Routes = routes
	return form
}

// logByteSize is a small example of the go-humanize enrichment SPEC_FULL.md
// calls for: human-readable sizes in diagnostic logging, not user-facing
// output.
func (d *Dispatcher) logByteSize(path string, n int) {
	if d.Log != nil {
		d.Log.Debug("%s: %s", path, humanize.Bytes(uint64(n)))
	}
}
