package router

import (
	"github.com/phnomcobra/stembot/internal/store"
	"github.com/phnomcobra/stembot/internal/types"
)

// forward attempts, in order, until one succeeds (spec.md §4.7 step 5):
//
//	a. a direct peer with matching agtuuid and url!=nil -> HTTP push
//	b. a direct peer with matching agtuuid and url==nil -> enqueue
//	c. the best-weight route's gateway, then (a)/(b) against that gateway
//	d. none applicable -> enqueue anonymously
//
// Any push failure falls through to enqueue so the message is never
// silently lost (spec.md §4.7, §7 ForwardError).
func (r *Router) forward(msg types.NetworkMessage) error {
	dest := destOf(msg)
	if dest == "" {
		return r.Queue.Push(msg)
	}

	if ok, err := r.pushOrEnqueueToDirectPeer(dest, msg); err != nil {
		return err
	} else if ok {
		return nil
	}

	if gateway, _, ok := r.Routes.BestGateway(dest); ok {
		if ok, err := r.pushOrEnqueueToDirectPeer(gateway, msg); err != nil {
			return err
		} else if ok {
			return nil
		}
	}

	return r.Queue.Push(msg)
}

// pushOrEnqueueToDirectPeer looks up agtuuid among direct peers. If found
// with a URL, it pushes via HTTP (falling back to enqueue on failure); if
// found with no URL, it enqueues directly. Returns ok=false if agtuuid is
// not a direct peer at all, so the caller can try the next step.
func (r *Router) pushOrEnqueueToDirectPeer(agtuuid string, msg types.NetworkMessage) (ok bool, err error) {
	rows, err := r.Peers.Memory.Find(store.Eq("agtuuid", agtuuid))
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	p := rows[0].Value

	if p.URL == nil {
		return true, r.Queue.Push(msg)
	}

	if _, err := r.Transport.SendMessage(*p.URL, msg, r.Self); err != nil {
		if r.Log != nil {
			r.Log.Error("push to %s (%s) failed, enqueueing: %v", agtuuid, *p.URL, err)
		}
		return true, r.Queue.Push(msg)
	}
	return true, nil
}
