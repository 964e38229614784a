package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/scheduler"
)

func TestRegisterFiresAfterVirtualAdvance(t *testing.T) {
	v := clock.NewVirtual(0)
	s := scheduler.New(v, nil)

	var fired atomic.Bool
	ok := s.Register("job", 10*time.Second, func() { fired.Store(true) })
	require.True(t, ok)

	v.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.False(t, fired.Load())

	v.Advance(5 * time.Second)
	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestRegisterSameNameReplacesPrevious(t *testing.T) {
	v := clock.NewVirtual(0)
	s := scheduler.New(v, nil)

	var firstFired, secondFired atomic.Bool
	s.Register("job", 10*time.Second, func() { firstFired.Store(true) })
	s.Register("job", 10*time.Second, func() { secondFired.Store(true) })

	v.Advance(10 * time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.False(t, firstFired.Load(), "replaced timer must not fire")
	assert.True(t, secondFired.Load(), "replacement timer must fire")
}

func TestCancelPreventsFiring(t *testing.T) {
	v := clock.NewVirtual(0)
	s := scheduler.New(v, nil)

	var fired atomic.Bool
	s.Register("job", 5*time.Second, func() { fired.Store(true) })
	s.Cancel("job")

	v.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestShutdownRejectsFurtherRegistrations(t *testing.T) {
	v := clock.NewVirtual(0)
	s := scheduler.New(v, nil)
	s.Shutdown()

	ok := s.Register("job", time.Second, func() {})
	assert.False(t, ok)
}

func TestShutdownCancelsLiveTimers(t *testing.T) {
	v := clock.NewVirtual(0)
	s := scheduler.New(v, nil)

	var fired atomic.Bool
	s.Register("job", 5*time.Second, func() { fired.Store(true) })
	s.Shutdown()

	v.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}
