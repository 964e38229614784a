// Package router implements the Router (spec.md §4.7, C8): classifies
// each inbound message as local-terminate, forward-to-known-peer,
// forward-via-best-gateway, or enqueue-for-later-pull, grounded on
// original_source/stembot/controller/mpi.py's route_network_message/
// process_network_message/forward.
//
// Per spec.md §9's redesign note, forwarding uses a bounded worker pool
// with backpressure instead of the original's one-OS-thread-per-message
// fire-and-forget.
package router

import (
	"fmt"
	"sync/atomic"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/dispatch"
	"github.com/phnomcobra/stembot/internal/logging"
	"github.com/phnomcobra/stembot/internal/peer"
	"github.com/phnomcobra/stembot/internal/queue"
	"github.com/phnomcobra/stembot/internal/route"
	"github.com/phnomcobra/stembot/internal/ticket"
	"github.com/phnomcobra/stembot/internal/transport"
	"github.com/phnomcobra/stembot/internal/types"
)

// Router is the C8 entry point. One Router per agent process, built and
// held by cmd/agentd's main (spec.md §9: no package-level singletons).
type Router struct {
	Self      string
	Peers     *peer.Table
	Routes    *route.Table
	Queue     *queue.Queue
	Tickets   *ticket.Engine
	Dispatch  *dispatch.Dispatcher
	Transport *transport.Client
	Clock     clock.Clock
	Log       *logging.Logger

	forwardCh chan types.NetworkMessage
	dropped   atomic.Int64
	forwarded atomic.Int64
}

// New builds a Router and starts its bounded forward worker pool.
// queueDepth bounds the backlog; workers is the number of concurrent
// forward goroutines. A full queue drops the incoming forward request
// (counted via Dropped()) rather than blocking the caller — the
// backpressure policy spec.md §9 calls for.
func New(self string, peers *peer.Table, routes *route.Table, q *queue.Queue, tickets *ticket.Engine, d *dispatch.Dispatcher, tr *transport.Client, c clock.Clock, log *logging.Logger, queueDepth, workers int) *Router {
	r := &Router{
		Self: self, Peers: peers, Routes: routes, Queue: q, Tickets: tickets,
		Dispatch: d, Transport: tr, Clock: c, Log: log,
		forwardCh: make(chan types.NetworkMessage, queueDepth),
	}
	for i := 0; i < workers; i++ {
		go r.forwardWorker()
	}
	return r
}

// Dropped reports how many forward requests were discarded due to a
// saturated queue.
func (r *Router) Dropped() int64 { return r.dropped.Load() }

// Forwarded reports how many messages the worker pool has forwarded.
func (r *Router) Forwarded() int64 { return r.forwarded.Load() }

func (r *Router) forwardWorker() {
	for msg := range r.forwardCh {
		if err := r.forward(msg); err != nil {
			if r.Log != nil {
				r.Log.Error("forward %s -> %s failed: %v", msg.Type, destOf(msg), err)
			}
		} else {
			r.forwarded.Add(1)
		}
	}
}

func destOf(m types.NetworkMessage) string {
	if m.Dest == nil {
		return ""
	}
	return *m.Dest
}

// Route is the C8 entry point (spec.md §4.7).
func (r *Router) Route(msg types.NetworkMessage) (types.NetworkMessage, error) {
	if msg.Isrc != "" {
		if err := r.Peers.Touch(msg.Isrc); err != nil {
			return types.NetworkMessage{}, err
		}
	}
	if msg.Dest == nil {
		self := r.Self
		msg.Dest = &self
	}

	if (msg.Type == types.TicketRequest || msg.Type == types.TicketResponse) && msg.Ticket != nil && msg.Ticket.Tracing {
		r.emitTrace(msg)
	}

	if *msg.Dest == r.Self {
		result, err := r.process(msg)
		if err != nil {
			return types.NetworkMessage{
				Type: types.Acknowledgement, Src: r.Self, Timestamp: r.Clock.Now(),
				AckType: msg.Type, Error: err.Error(),
			}, nil
		}
		if result != nil {
			return *result, nil
		}
		return types.NetworkMessage{
			Type: types.Acknowledgement, Src: r.Self, Timestamp: r.Clock.Now(), AckType: msg.Type,
		}, nil
	}

	r.enqueueForward(msg)
	return types.NetworkMessage{
		Type: types.Acknowledgement, Src: r.Self, Timestamp: r.Clock.Now(), AckType: msg.Type,
	}, nil
}

// emitTrace synthesises a TICKET_TRACE_RESPONSE addressed back to the
// ticket's originator (src for requests, dest for responses) and routes
// it, recursing into Route directly if we are the originator or enqueuing
// a forward otherwise (spec.md §4.7 step 3). Route calls this at most once
// per inbound ticket message, so each hop emits at most one trace per
// type; the ticket Engine's de-dup (keyed on tckuuid+src+type) is what
// collapses a retransmitted arrival from the SAME hop, not what collapses
// distinct hops.
func (r *Router) emitTrace(msg types.NetworkMessage) {
	originator := msg.Src
	if msg.Type == types.TicketResponse && msg.Dest != nil {
		originator = *msg.Dest
	}
	trace := types.NetworkMessage{
		Type: types.TicketTraceResp, Src: r.Self, Timestamp: r.Clock.Now(),
		Dest: &originator,
		Trace: &types.TicketTraceResponse{
			Tckuuid: msg.Ticket.Tckuuid, Src: r.Self, HopTime: r.Clock.Now(),
			NetworkTicketType: msg.Type,
		},
	}
	if originator == r.Self {
		if _, err := r.Route(trace); err != nil && r.Log != nil {
			r.Log.Error("local trace emit failed: %v", err)
		}
		return
	}
	r.enqueueForward(trace)
}

// enqueueForward hands msg to the bounded worker pool, dropping (and
// counting) if the queue is saturated.
func (r *Router) enqueueForward(msg types.NetworkMessage) {
	select {
	case r.forwardCh <- msg:
	default:
		r.dropped.Add(1)
		if r.Log != nil {
			r.Log.Error("forward queue saturated, dropping %s -> %s", msg.Type, destOf(msg))
		}
	}
}

// process executes a locally-terminating message by type (spec.md §4.7).
func (r *Router) process(msg types.NetworkMessage) (*types.NetworkMessage, error) {
	switch msg.Type {
	case types.Ping:
		return nil, nil

	case types.Advertisement:
		peers, err := r.Peers.List()
		if err != nil {
			return nil, err
		}
		if err := r.Routes.ProcessAdvertisement(msg, r.Self, agtuuids(peers)); err != nil {
			return nil, err
		}
		live, err := r.Peers.Prune()
		if err != nil {
			return nil, err
		}
		if err := r.Routes.Prune(live, agtuuids(peers), r.Self); err != nil {
			return nil, err
		}
		return nil, nil

	case types.TicketRequest:
		return r.processTicketRequest(msg)

	case types.TicketResponse:
		if msg.Ticket != nil {
			if err := r.Tickets.Service(*msg.Ticket); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case types.TicketTraceResp:
		if msg.Trace != nil {
			if err := r.Tickets.Trace(*msg.Trace); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case types.MessagesRequest:
		messages, err := r.Queue.PullForPeer(msg.Isrc, r.bestGateway)
		if err != nil {
			return nil, err
		}
		return &types.NetworkMessage{
			Type: types.MessagesResponse, Src: r.Self, Timestamp: r.Clock.Now(), Messages: messages,
		}, nil

	default:
		return nil, fmt.Errorf("no local handler for message type %s", msg.Type)
	}
}

// processTicketRequest runs the embedded form through the dispatcher,
// rewrites the message into a TICKET_RESPONSE (swap src/dest, copy the
// updated form including any error), and routes the response (spec.md
// §4.7).
func (r *Router) processTicketRequest(msg types.NetworkMessage) (*types.NetworkMessage, error) {
	if msg.Ticket == nil {
		return nil, fmt.Errorf("TICKET_REQUEST with no embedded ticket")
	}
	result := r.Dispatch.Handle(msg.Ticket.Form)

	responseTicket := *msg.Ticket
	responseTicket.Form = result
	responseTicket.Type = types.TicketResponse
	now := r.Clock.Now()
	responseTicket.ServiceTime = &now

	dest := msg.Src
	response := types.NetworkMessage{
		Type: types.TicketResponse, Src: r.Self, Dest: &dest, Timestamp: r.Clock.Now(),
		Ticket: &responseTicket,
	}
	if _, err := r.Route(response); err != nil {
		return nil, err
	}
	return nil, nil
}

func (r *Router) bestGateway(dest string) (string, bool) {
	gw, _, ok := r.Routes.BestGateway(dest)
	return gw, ok
}

func agtuuids(peers []types.Peer) []string {
	out := make([]string, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Agtuuid)
	}
	return out
}
