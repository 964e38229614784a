package ticket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phnomcobra/stembot/internal/clock"
	"github.com/phnomcobra/stembot/internal/ticket"
	"github.com/phnomcobra/stembot/internal/types"
)

func TestCreateThenReadReturnsOpenTicket(t *testing.T) {
	v := clock.NewVirtual(1000)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	form := types.Form{Type: types.GetPeersForm}
	cft, err := eng.Create("src-agent", "dst-agent", form, false)
	require.NoError(t, err)
	assert.NotEmpty(t, cft.Tckuuid)
	assert.Equal(t, float64(1000), cft.CreateTime)

	read, ok, err := eng.Read(cft.Tckuuid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cft.Tckuuid, read.Tckuuid)
	assert.Nil(t, read.ServiceTime)
}

func TestReadUnknownTicketReturnsNotOk(t *testing.T) {
	v := clock.NewVirtual(0)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	_, ok, err := eng.Read("no-such-ticket")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCloseRemovesTicket(t *testing.T) {
	v := clock.NewVirtual(0)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	cft, err := eng.Create("a", "b", types.Form{}, false)
	require.NoError(t, err)
	require.NoError(t, eng.Close(cft.Tckuuid))

	_, ok, err := eng.Read(cft.Tckuuid)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceAppliesResponseFormAndStampsServiceTime(t *testing.T) {
	v := clock.NewVirtual(1000)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	cft, err := eng.Create("a", "b", types.Form{Type: types.GetPeersForm}, false)
	require.NoError(t, err)

	v.Advance(5 * time.Second)
	responded := types.Form{Type: types.GetPeersForm, Error: "boom"}
	require.NoError(t, eng.Service(types.NetworkTicket{Tckuuid: cft.Tckuuid, Form: responded}))

	read, ok, err := eng.Read(cft.Tckuuid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "boom", read.Form.Error)
	require.NotNil(t, read.ServiceTime)
	assert.Equal(t, float64(1005), *read.ServiceTime)
}

func TestServiceDropsSilentlyWhenTicketAbsent(t *testing.T) {
	v := clock.NewVirtual(0)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	err = eng.Service(types.NetworkTicket{Tckuuid: "ghost"})
	assert.NoError(t, err)
}

func TestTraceAppendsHopAndDeduplicatesSameHopSameType(t *testing.T) {
	v := clock.NewVirtual(1000)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	cft, err := eng.Create("a", "b", types.Form{}, true)
	require.NoError(t, err)

	trace := types.TicketTraceResponse{Tckuuid: cft.Tckuuid, Src: "hop-1", HopTime: 1001, NetworkTicketType: types.TicketRequest}
	require.NoError(t, eng.Trace(trace))

	// A second trace from the SAME hop for the same (tckuuid, type)
	// updates hop_time but does not append a second Hop entry — this is
	// the "at most one TICKET_TRACE_RESPONSE leaves each hop" guard
	// (spec.md §4.8, invariant 9), not a suppression of other hops.
	trace.HopTime = 1002
	require.NoError(t, eng.Trace(trace))

	read, ok, err := eng.Read(cft.Tckuuid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, read.Hops, 1)
	assert.Equal(t, float64(1002), read.Hops[0].HopTime)
}

func TestTraceFromDistinctHopsOfSameTypeBothAppend(t *testing.T) {
	// Scenario 6 (spec.md §8.6): A->B->C with tracing=true. Both B and C
	// emit a TICKET_REQUEST trace toward the originator A. These must
	// land as two distinct hops, not collide on (tckuuid, type) alone —
	// the de-dup key includes the emitting agent (src).
	v := clock.NewVirtual(1000)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	cft, err := eng.Create("a", "c", types.Form{}, true)
	require.NoError(t, err)

	require.NoError(t, eng.Trace(types.TicketTraceResponse{Tckuuid: cft.Tckuuid, Src: "agent-b", HopTime: 1001, NetworkTicketType: types.TicketRequest}))
	require.NoError(t, eng.Trace(types.TicketTraceResponse{Tckuuid: cft.Tckuuid, Src: "agent-c", HopTime: 1002, NetworkTicketType: types.TicketRequest}))

	read, ok, err := eng.Read(cft.Tckuuid)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, read.Hops, 2)
	assert.ElementsMatch(t, []string{"agent-b", "agent-c"}, []string{read.Hops[0].Agtuuid, read.Hops[1].Agtuuid})
}

func TestTraceOfDifferentTypeAppendsSecondHop(t *testing.T) {
	v := clock.NewVirtual(1000)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	cft, err := eng.Create("a", "b", types.Form{}, true)
	require.NoError(t, err)

	require.NoError(t, eng.Trace(types.TicketTraceResponse{Tckuuid: cft.Tckuuid, Src: "hop-1", HopTime: 1001, NetworkTicketType: types.TicketRequest}))
	require.NoError(t, eng.Trace(types.TicketTraceResponse{Tckuuid: cft.Tckuuid, Src: "hop-1", HopTime: 1002, NetworkTicketType: types.TicketResponse}))

	read, ok, err := eng.Read(cft.Tckuuid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, read.Hops, 2)
}

func TestExpireTicketsDestroysOnlyStaleOnes(t *testing.T) {
	v := clock.NewVirtual(0)
	eng, err := ticket.Open(v, 60)
	require.NoError(t, err)

	stale, err := eng.Create("a", "b", types.Form{}, false)
	require.NoError(t, err)
	v.Advance(61 * time.Second)
	fresh, err := eng.Create("a", "b", types.Form{}, false)
	require.NoError(t, err)

	n, err := eng.ExpireTickets()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := eng.Read(stale.Tckuuid)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = eng.Read(fresh.Tckuuid)
	require.NoError(t, err)
	assert.True(t, ok)
}
