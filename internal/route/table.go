// Package route implements the Route Table (spec.md §4.5, C6): learned
// (dest, gateway, weight) tuples, aged monotonically, with a
// distance-vector-like advertisement protocol, grounded on
// original_source/stembot/model/peer.py's create_route/age_routes/
// process_route_advertisement/create_route_advertisement family.
package route

import (
	"github.com/google/uuid"

	"github.com/phnomcobra/stembot/internal/store"
	"github.com/phnomcobra/stembot/internal/types"
)

// Table holds the in-memory routes collection (routes are never
// persistent, per spec.md §6).
type Table struct {
	coll      *store.Collection[types.Route]
	maxWeight int
}

// Open opens a fresh in-memory "routes" collection (one per call, so
// concurrently-running agent processes — or tests — never share rows),
// declaring the agtuuid/gtwuuid/weight indices.
func Open(maxWeight int) (*Table, error) {
	coll, err := store.Open[types.Route](store.MemoryConnStr("routes-"+uuid.New().String()), "routes", nil)
	if err != nil {
		return nil, err
	}
	for _, attr := range []string{"agtuuid", "gtwuuid", "weight"} {
		if err := coll.CreateAttribute(attr, "/"+attr); err != nil {
			return nil, err
		}
	}
	return &Table{coll: coll, maxWeight: maxWeight}, nil
}

// Create inserts or updates a (dest, gateway) route. If more than one row
// already matches (shouldn't happen, but the original defensively
// handles it) all matches are replaced by a single fresh row. If exactly
// one match exists, its weight is lowered to min(old, new) but never
// raised (spec.md §4.5, invariant 5). If none exists, insert.
func (t *Table) Create(dest, gateway string, weight int) error {
	matches, err := t.coll.Find(store.Query{
		{Attribute: "agtuuid", Op: store.OpEq, Value: dest},
		{Attribute: "gtwuuid", Op: store.OpEq, Value: gateway},
	})
	if err != nil {
		return err
	}

	switch len(matches) {
	case 0:
		_, err := t.coll.NewObject(types.Route{Agtuuid: dest, Gtwuuid: gateway, Weight: weight})
		return err
	case 1:
		if matches[0].Value.Weight > weight {
			matches[0].Value.Weight = weight
			return matches[0].Set()
		}
		return nil
	default:
		for _, m := range matches {
			if err := m.Destroy(); err != nil {
				return err
			}
		}
		_, err := t.coll.NewObject(types.Route{Agtuuid: dest, Gtwuuid: gateway, Weight: weight})
		return err
	}
}

// Delete removes the (dest, gateway) route, if present.
func (t *Table) Delete(dest, gateway string) error {
	matches, err := t.coll.Find(store.Query{
		{Attribute: "agtuuid", Op: store.OpEq, Value: dest},
		{Attribute: "gtwuuid", Op: store.OpEq, Value: gateway},
	})
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := m.Destroy(); err != nil {
			return err
		}
	}
	return nil
}

// Age adds delta to every route's weight, destroying any that exceed
// maxWeight (spec.md §4.5: "This is the only place weights grow, so a
// route unheard-of for an hour disappears").
func (t *Table) Age(delta int) error {
	rows, err := t.coll.List()
	if err != nil {
		return err
	}
	for _, row := range rows {
		row.Value.Weight += delta
		if row.Value.Weight > t.maxWeight {
			if err := row.Destroy(); err != nil {
				return err
			}
			continue
		}
		if err := row.Set(); err != nil {
			return err
		}
	}
	return nil
}

// List returns every route.
func (t *Table) List() ([]types.Route, error) {
	rows, err := t.coll.List()
	if err != nil {
		return nil, err
	}
	out := make([]types.Route, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Value)
	}
	return out, nil
}

// BestGateway scans routes with matching dest and returns the one with
// minimum weight; ties broken by first encountered (spec.md §4.5).
func (t *Table) BestGateway(dest string) (gateway string, weight int, ok bool) {
	rows, err := t.coll.Find(store.Eq("agtuuid", dest))
	if err != nil || len(rows) == 0 {
		return "", 0, false
	}
	best := rows[0].Value
	for _, r := range rows[1:] {
		if r.Value.Weight < best.Weight {
			best = r.Value
		}
	}
	return best.Gtwuuid, best.Weight, true
}

// Prune destroys any route whose gateway is not in livePeers, whose
// destination is self, or whose destination is itself a live direct peer
// (spec.md §4.4's prune(), route half).
func (t *Table) Prune(livePeers []string, directPeers []string, self string) error {
	live := map[string]bool{}
	for _, p := range livePeers {
		live[p] = true
	}
	direct := map[string]bool{}
	for _, p := range directPeers {
		direct[p] = true
	}

	rows, err := t.coll.List()
	if err != nil {
		return err
	}
	for _, row := range rows {
		if !live[row.Value.Gtwuuid] || direct[row.Value.Agtuuid] || row.Value.Agtuuid == self {
			if err := row.Destroy(); err != nil {
				return err
			}
		}
	}
	return nil
}

// CreateAdvertisement synthesises an ADVERTISEMENT: one {dest, weight,
// gateway=self} entry per learned route, plus one {dest=peer, weight=0,
// gateway=self} entry per direct peer (spec.md §4.5). Callers are
// expected to have pruned immediately before calling this, matching
// create_route_advertisement()'s "prune() first" behavior.
func (t *Table) CreateAdvertisement(self string, directPeers []string) (types.NetworkMessage, error) {
	routes, err := t.List()
	if err != nil {
		return types.NetworkMessage{}, err
	}
	entries := make([]types.Route, 0, len(routes)+len(directPeers))
	for _, r := range routes {
		entries = append(entries, types.Route{Agtuuid: r.Agtuuid, Gtwuuid: self, Weight: r.Weight})
	}
	for _, p := range directPeers {
		entries = append(entries, types.Route{Agtuuid: p, Gtwuuid: self, Weight: 0})
	}
	return types.NetworkMessage{
		Type:    types.Advertisement,
		Src:     self,
		Agtuuid: self,
		Routes:  entries,
	}, nil
}

// ProcessAdvertisement applies an inbound ADVERTISEMENT: for every entry
// whose dest is neither self nor a current direct peer, learn
// (dest, ad.Agtuuid, weight+1) — the "+1" guaranteeing advertised paths
// are worse than direct ones (spec.md §4.5).
func (t *Table) ProcessAdvertisement(ad types.NetworkMessage, self string, directPeers []string) error {
	ignored := map[string]bool{self: true}
	for _, p := range directPeers {
		ignored[p] = true
	}
	for _, r := range ad.Routes {
		if ignored[r.Agtuuid] {
			continue
		}
		if err := t.Create(r.Agtuuid, ad.Agtuuid, r.Weight+1); err != nil {
			return err
		}
	}
	return nil
}
