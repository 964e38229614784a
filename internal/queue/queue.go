// Package queue implements the store-and-forward Message Queue (spec.md
// §4.6, C7), grounded on original_source/stembot/model/messages.py's
// push_message/pop_messages/worker family.
package queue

import (
	"github.com/google/uuid"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/store"
	"github.com/phnomcobra/stembot/internal/types"
)

// Queue holds the in-memory messages collection, indexed by dest, type,
// and timestamp (spec.md §4.6).
type Queue struct {
	coll  *store.Collection[types.NetworkMessage]
	clock clock.Clock
	ttl   float64
}

// Open opens a fresh in-memory "messages" collection (one per call, so
// concurrently-running agent processes — or tests — never share rows).
func Open(c clock.Clock, ttlSeconds float64) (*Queue, error) {
	coll, err := store.Open[types.NetworkMessage](store.MemoryConnStr("messages-"+uuid.New().String()), "messages", nil)
	if err != nil {
		return nil, err
	}
	for _, attr := range []string{"dest", "type", "timestamp"} {
		if err := coll.CreateAttribute(attr, "/"+attr); err != nil {
			return nil, err
		}
	}
	return &Queue{coll: coll, clock: c, ttl: ttlSeconds}, nil
}

// Push upserts msg, stamping Timestamp if unset (spec.md §4.6).
func (q *Queue) Push(msg types.NetworkMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = q.clock.Now()
	}
	_, err := q.coll.NewObject(msg)
	return err
}

// PopByDest atomically returns and removes every queued message addressed
// directly to dest.
func (q *Queue) PopByDest(dest string) ([]types.NetworkMessage, error) {
	rows, err := q.coll.Find(store.Eq("dest", dest))
	if err != nil {
		return nil, err
	}
	out := make([]types.NetworkMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Value)
		if err := row.Destroy(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// destOf safely reads a NetworkMessage's Dest as a comparable string.
func destOf(m types.NetworkMessage) string {
	if m.Dest == nil {
		return ""
	}
	return *m.Dest
}

// PullForPeer pops every queued message whose dest is either forPeer
// itself or any destination whose current best gateway is forPeer — this
// is how a pull-only peer receives traffic addressed to agents behind it
// (spec.md §4.6). bestGateway(dest) is supplied by the caller (route
// table), avoiding an import cycle between queue and route.
func (q *Queue) PullForPeer(forPeer string, bestGateway func(dest string) (gateway string, ok bool)) ([]types.NetworkMessage, error) {
	rows, err := q.coll.List()
	if err != nil {
		return nil, err
	}
	var out []types.NetworkMessage
	for _, row := range rows {
		dest := destOf(row.Value)
		match := dest == forPeer
		if !match {
			if gw, ok := bestGateway(dest); ok && gw == forPeer {
				match = true
			}
		}
		if match {
			out = append(out, row.Value)
			if err := row.Destroy(); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Expire destroys every message older than the configured TTL (spec.md
// §4.6: "Expiry worker runs every 60 s, destroys messages older than
// 60 s").
func (q *Queue) Expire() (expired int, err error) {
	now := q.clock.Now()
	rows, err := q.coll.List()
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if now-row.Value.Timestamp > q.ttl {
			if err := row.Destroy(); err != nil {
				return expired, err
			}
			expired++
		}
	}
	return expired, nil
}
