// Package peer implements the Peer Table (spec.md §4.4, C5): directly
// known neighbours, held in both a persistent and an in-memory
// collection, grounded on original_source/stembot/model/peer.py's
// touch_peer/create_peer/delete_peer/prune family.
package peer

import (
	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/store"
	"github.com/phnomcobra/stembot/internal/types"
)

// Table holds the two peer collections: Persistent (operator-configured,
// survives restart) and Memory (the working table the router/route code
// actually reads, seeded from Persistent at startup by LoadPersistent).
type Table struct {
	Persistent *store.Collection[types.Peer]
	Memory     *store.Collection[types.Peer]
	clock      clock.Clock

	peerTimeout float64
	peerRefresh float64
}

// Open opens (or creates) the persistent peers table at dataDir/peers.db
// and an in-memory peers table scoped to dataDir (so two Tables opened
// against different data directories — e.g. two agent processes, or two
// tests — never share rows), declaring the agtuuid/polling/url indices
// on both, matching peer.py's module-level create_attribute calls.
func Open(dataDir string, c clock.Clock, peerTimeout, peerRefresh float64) (*Table, error) {
	persistConn := dataDir + "/peers.db"
	persistent, err := store.Open[types.Peer](persistConn, "peers", nil)
	if err != nil {
		return nil, err
	}
	memory, err := store.Open[types.Peer](store.MemoryConnStr("peers-"+dataDir), "peers", nil)
	if err != nil {
		return nil, err
	}
	for _, coll := range []*store.Collection[types.Peer]{persistent, memory} {
		if err := coll.CreateAttribute("agtuuid", "/agtuuid"); err != nil {
			return nil, err
		}
		if err := coll.CreateAttribute("polling", "/polling"); err != nil {
			return nil, err
		}
		if err := coll.CreateAttribute("url", "/url"); err != nil {
			return nil, err
		}
	}
	return &Table{
		Persistent:  persistent,
		Memory:      memory,
		clock:       c,
		peerTimeout: peerTimeout,
		peerRefresh: peerRefresh,
	}, nil
}

// LoadPersistent seeds the in-memory table from the persistent one at
// startup (original_source's init_peers, a supplemented feature per
// SPEC_FULL.md: required for the persistent/in-memory split to survive a
// restart at all).
func (t *Table) LoadPersistent() error {
	rows, err := t.Persistent.List()
	if err != nil {
		return err
	}
	for _, row := range rows {
		existing, err := t.Memory.FindObjuuids(store.Eq("agtuuid", row.Value.Agtuuid))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		if _, err := t.Memory.NewObject(row.Value); err != nil {
			return err
		}
	}
	return nil
}

// Touch re-learns reachability of a pull-only peer from its incoming
// traffic (spec.md §4.4): create it with the default TTL if unknown;
// if known, has no URL, and its refresh window elapsed, extend the TTL.
func (t *Table) Touch(agtuuid string) error {
	rows, err := t.Memory.Find(store.Eq("agtuuid", agtuuid))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		_, err := t.Create(agtuuid, nil, ptr(t.peerTimeout), false)
		return err
	}
	p := rows[0].Value
	if p.URL == nil && p.RefreshTime != nil && *p.RefreshTime < t.clock.Now() {
		_, err := t.Create(agtuuid, nil, ptr(t.peerTimeout), false)
		return err
	}
	return nil
}

// Create upserts agtuuid into both tables. ttl == nil means permanent
// (destroy_time/refresh_time cleared); ttl != nil sets destroy_time =
// now+ttl, refresh_time = now+PEER_REFRESH (spec.md §4.4).
func (t *Table) Create(agtuuid string, url *string, ttl *float64, polling bool) (types.Peer, error) {
	result := types.Peer{Agtuuid: agtuuid, URL: url, Polling: polling}
	if ttl != nil {
		destroy := t.clock.Now() + *ttl
		refresh := t.clock.Now() + t.peerRefresh
		result.DestroyTime = &destroy
		result.RefreshTime = &refresh
	}

	for _, coll := range []*store.Collection[types.Peer]{t.Persistent, t.Memory} {
		existing, err := coll.Find(store.Eq("agtuuid", agtuuid))
		if err != nil {
			return types.Peer{}, err
		}
		if len(existing) == 1 {
			existing[0].Value = result
			if err := existing[0].Set(); err != nil {
				return types.Peer{}, err
			}
		} else {
			if _, err := coll.NewObject(result); err != nil {
				return types.Peer{}, err
			}
		}
	}
	return result, nil
}

// Delete removes agtuuid from both tables.
func (t *Table) Delete(agtuuid string) error {
	for _, coll := range []*store.Collection[types.Peer]{t.Persistent, t.Memory} {
		rows, err := coll.Find(store.Eq("agtuuid", agtuuid))
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := row.Destroy(); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteAll clears both tables entirely.
func (t *Table) DeleteAll() error {
	for _, coll := range []*store.Collection[types.Peer]{t.Persistent, t.Memory} {
		rows, err := coll.List()
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := row.Destroy(); err != nil {
				return err
			}
		}
	}
	return nil
}

// List returns the in-memory working set, which is what the router and
// advertisement code actually consult.
func (t *Table) List() ([]types.Peer, error) {
	rows, err := t.Memory.List()
	if err != nil {
		return nil, err
	}
	out := make([]types.Peer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Value)
	}
	return out, nil
}

// Prune destroys every peer (both tables) whose destroy_time has passed,
// and returns the agtuuids still alive so the route table can prune
// orphans against it (spec.md §4.4's prune(), split across the C5/C6
// boundary).
func (t *Table) Prune() (live []string, err error) {
	now := t.clock.Now()
	for _, coll := range []*store.Collection[types.Peer]{t.Persistent, t.Memory} {
		rows, err := coll.List()
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if row.Value.DestroyTime != nil && *row.Value.DestroyTime < now {
				if err := row.Destroy(); err != nil {
					return nil, err
				}
				continue
			}
			if coll == t.Memory {
				live = append(live, row.Value.Agtuuid)
			}
		}
	}
	return live, nil
}

func ptr[T any](v T) *T { return &v }
