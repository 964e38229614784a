// Package ticket implements the Ticket Engine (spec.md §4.8, C9): the
// ControlFormTicket state machine, trace/hop collection, and expiry,
// grounded on original_source/stembot/executor/ticket.py's
// service_ticket/worker (the trace/hop mechanics themselves are narrated
// only in spec.md §4.8, since the retrieved original snapshot predates
// them).
package ticket

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/store"
	"github.com/phnomcobra/stembot/internal/types"
)

func newTckuuid() string { return uuid.New().String() }

func float64ToStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// Engine holds the local tickets collection and the process-wide traces
// de-dup collection, both in-memory (spec.md §6).
type Engine struct {
	tickets *store.Collection[types.ControlFormTicket]
	traces  *store.Collection[traceRecord]
	clock   clock.Clock
	timeout float64 // ASYNC_TICKET_TIMEOUT
}

// traceRecord is the de-dup record keyed on (tckuuid, src, network_ticket_type)
// per spec.md §4.8/invariant 9: "at most one TICKET_TRACE_RESPONSE leaves
// each hop" — the de-dup guards against a single hop re-emitting the same
// trace, not against two distinct hops both reporting a hop of the same
// type (scenario 6's A->B->C with tracing=true legitimately produces one
// TICKET_REQUEST trace from B and one from C, both of which must land as
// separate hops at the originator).
type traceRecord struct {
	Tckuuid string                   `json:"tckuuid"`
	Src     string                   `json:"src"`
	Type    types.NetworkMessageType `json:"network_ticket_type"`
	HopTime float64                  `json:"hop_time"`
}

// Open opens a fresh pair of in-memory tickets/traces collections (one
// per call, so concurrently-running agent processes — or tests — never
// share rows).
func Open(c clock.Clock, timeoutSeconds float64) (*Engine, error) {
	instance := newTckuuid()
	tickets, err := store.Open[types.ControlFormTicket](store.MemoryConnStr("tickets-"+instance), "tickets", nil)
	if err != nil {
		return nil, err
	}
	if err := tickets.CreateAttribute("tckuuid", "/tckuuid"); err != nil {
		return nil, err
	}
	if err := tickets.CreateAttribute("create_time", "/create_time"); err != nil {
		return nil, err
	}

	traces, err := store.Open[traceRecord](store.MemoryConnStr("traces-"+instance), "traces", nil)
	if err != nil {
		return nil, err
	}
	if err := traces.CreateAttribute("tckuuid", "/tckuuid"); err != nil {
		return nil, err
	}
	if err := traces.CreateAttribute("src", "/src"); err != nil {
		return nil, err
	}
	if err := traces.CreateAttribute("type", "/network_ticket_type"); err != nil {
		return nil, err
	}
	if err := traces.CreateAttribute("hop_time", "/hop_time"); err != nil {
		return nil, err
	}

	return &Engine{tickets: tickets, traces: traces, clock: c, timeout: timeoutSeconds}, nil
}

// Create stores a new OPEN ticket (spec.md §4.8's CREATE_TICKET
// transition). The caller is responsible for constructing and routing
// the corresponding NetworkTicket.
func (e *Engine) Create(src, dst string, form types.Form, tracing bool) (types.ControlFormTicket, error) {
	t := types.ControlFormTicket{
		Tckuuid:    newTckuuid(),
		Src:        src,
		Dst:        dst,
		Form:       form,
		CreateTime: e.clock.Now(),
		Tracing:    tracing,
		Hops:       []types.Hop{},
	}
	if _, err := e.tickets.NewObject(t); err != nil {
		return types.ControlFormTicket{}, err
	}
	return t, nil
}

// Read returns the current ticket state, or ok=false if absent/expired
// (spec.md §4.8's READ_TICKET: "returns current state, no transition").
func (e *Engine) Read(tckuuid string) (types.ControlFormTicket, bool, error) {
	rows, err := e.tickets.Find(store.Eq("tckuuid", tckuuid))
	if err != nil {
		return types.ControlFormTicket{}, false, err
	}
	if len(rows) == 0 {
		return types.ControlFormTicket{}, false, nil
	}
	return rows[0].Value, true, nil
}

// Close removes the ticket (spec.md §4.8 CLOSE_TICKET).
func (e *Engine) Close(tckuuid string) error {
	rows, err := e.tickets.Find(store.Eq("tckuuid", tckuuid))
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := row.Destroy(); err != nil {
			return err
		}
	}
	return nil
}

// Service applies a TICKET_RESPONSE: copies the response's form in,
// stamps service_time, and persists. Drops silently if the ticket is
// absent (spec.md §4.8's service_ticket: "If absent, drop"). Multiple
// responses for the same tckuuid overwrite, last writer wins.
func (e *Engine) Service(netTicket types.NetworkTicket) error {
	rows, err := e.tickets.Find(store.Eq("tckuuid", netTicket.Tckuuid))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	row := rows[0]
	now := e.clock.Now()
	row.Value.Form = netTicket.Form
	row.Value.ServiceTime = &now
	return row.Set()
}

// Trace appends a hop from a TICKET_TRACE_RESPONSE, de-duplicating on
// (tckuuid, src, network_ticket_type): a second arrival from the same hop
// for the same ticket and type updates the recorded hop_time but does not
// append a second Hop entry. This guards against a single hop re-emitting
// its own trace (spec.md §4.8, invariant 9: "at most one TICKET_TRACE_RESPONSE
// leaves each hop") — it must not suppress hops reported by distinct
// agents, since a traced multi-hop path (e.g. A->B->C) legitimately
// produces one trace of the same network_ticket_type per hop.
func (e *Engine) Trace(trace types.TicketTraceResponse) error {
	existing, err := e.traces.Find(store.Query{
		{Attribute: "tckuuid", Op: store.OpEq, Value: trace.Tckuuid},
		{Attribute: "src", Op: store.OpEq, Value: trace.Src},
		{Attribute: "type", Op: store.OpEq, Value: string(trace.NetworkTicketType)},
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		existing[0].Value.HopTime = trace.HopTime
		return existing[0].Set()
	}
	if _, err := e.traces.NewObject(traceRecord{
		Tckuuid: trace.Tckuuid,
		Src:     trace.Src,
		Type:    trace.NetworkTicketType,
		HopTime: trace.HopTime,
	}); err != nil {
		return err
	}

	tickets, err := e.tickets.Find(store.Eq("tckuuid", trace.Tckuuid))
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}
	row := tickets[0]
	row.Value.Hops = append(row.Value.Hops, types.Hop{
		Agtuuid: trace.Src,
		HopTime: trace.HopTime,
		TypeStr: string(trace.NetworkTicketType),
	})
	return row.Set()
}

// ExpireTickets destroys tickets whose create_time predates the timeout
// (spec.md §4.8's worker, run every second by the scheduler).
func (e *Engine) ExpireTickets() (expired int, err error) {
	cutoff := e.clock.Now() - e.timeout
	rows, err := e.tickets.Find(store.Query{{Attribute: "create_time", Op: store.OpLt, Value: float64ToStr(cutoff)}})
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := row.Destroy(); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// ExpireTraces destroys trace de-dup records older than the same timeout.
func (e *Engine) ExpireTraces() (expired int, err error) {
	cutoff := e.clock.Now() - e.timeout
	rows, err := e.traces.Find(store.Query{{Attribute: "hop_time", Op: store.OpLt, Value: float64ToStr(cutoff)}})
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := row.Destroy(); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}
