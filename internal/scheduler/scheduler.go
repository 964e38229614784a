// Package scheduler implements named, cancellable one-shot timers with a
// process-wide shutdown flag (spec.md §4.3), grounded on
// original_source/stembot/executor/timers.py's register_timer/
// shutdown_timers, generalized to replace-by-name (an explicit invariant
// of spec.md §4.3 the original snippet didn't actually enforce) and to an
// injectable clock (spec.md §9 Runtime/virtual-clock redesign note).
package scheduler

import (
	"sync"
	"time"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/logging"
)

// Scheduler holds every live named timer and the shutdown flag. One
// Scheduler instance is created by cmd/agentd's main; there is no package-level
// singleton (spec.md §9's "global singletons" redesign note).
type Scheduler struct {
	mu       sync.Mutex
	clock    clock.Clock
	log      *logging.Logger
	timers   map[string]*timer
	shutdown bool
}

type timer struct {
	t      *time.Timer
	cancel chan struct{}
}

// New creates a Scheduler driven by c, logging via log.
func New(c clock.Clock, log *logging.Logger) *Scheduler {
	return &Scheduler{clock: c, log: log, timers: map[string]*timer{}}
}

// Register arms fn to run after delay, under the given name. Registering
// under a name that already has a live timer cancels the old one first
// (spec.md §4.3: "replaces any existing timer by the same name"). Returns
// false (and does not arm anything) if Shutdown has already been called.
//
// fn runs on its own goroutine; periodic workers re-register themselves
// at the tail of fn to form a self-re-arming loop.
func (s *Scheduler) Register(name string, delay time.Duration, fn func()) bool {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return false
	}
	if old, ok := s.timers[name]; ok {
		old.t.Stop()
		close(old.cancel)
	}
	cancel := make(chan struct{})
	real, isReal := s.clock.(clock.Real)
	_ = real
	var t *timer
	if isReal {
		tt := time.AfterFunc(delay, func() {
			s.clearIfCurrent(name, cancel)
			fn()
		})
		t = &timer{t: tt, cancel: cancel}
	} else {
		// Virtual clock: drive via the clock's After channel on a helper
		// goroutine so tests can Advance() deterministically.
		ch := s.clock.After(delay)
		tt := time.NewTimer(time.Hour * 24 * 365) // never fires on its own
		tt.Stop()
		t = &timer{t: tt, cancel: cancel}
		go func() {
			select {
			case <-ch:
				s.clearIfCurrent(name, cancel)
				fn()
			case <-cancel:
			}
		}()
	}
	s.timers[name] = t
	s.mu.Unlock()
	return true
}

func (s *Scheduler) clearIfCurrent(name string, cancel chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.timers[name]; ok && cur.cancel == cancel {
		delete(s.timers, name)
	}
}

// Cancel stops the named timer, if any.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.t.Stop()
		close(t.cancel)
		delete(s.timers, name)
	}
}

// Shutdown sets the stop flag; subsequent Register calls are no-ops, and
// every currently-live timer is cancelled. In-flight fn invocations
// complete on their own (spec.md §5 "Shutdown" cancellation policy).
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return
	}
	s.shutdown = true
	for name, t := range s.timers {
		t.t.Stop()
		close(t.cancel)
		delete(s.timers, name)
	}
	if s.log != nil {
		s.log.Info("scheduler shut down, all timers cancelled")
	}
}
