package route_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phnomcobra/stembot/internal/route"
	"github.com/phnomcobra/stembot/internal/types"
)

func TestCreateInsertsNewRoute(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)

	require.NoError(t, tbl.Create("agent-c", "agent-b", 2))

	gw, weight, ok := tbl.BestGateway("agent-c")
	require.True(t, ok)
	assert.Equal(t, "agent-b", gw)
	assert.Equal(t, 2, weight)
}

func TestCreateNeverRaisesExistingWeight(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)

	require.NoError(t, tbl.Create("agent-c", "agent-b", 2))
	require.NoError(t, tbl.Create("agent-c", "agent-b", 9))

	_, weight, ok := tbl.BestGateway("agent-c")
	require.True(t, ok)
	assert.Equal(t, 2, weight, "a higher re-learned weight must not overwrite a lower existing one")
}

func TestCreateLowersExistingWeight(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)

	require.NoError(t, tbl.Create("agent-c", "agent-b", 9))
	require.NoError(t, tbl.Create("agent-c", "agent-b", 2))

	_, weight, ok := tbl.BestGateway("agent-c")
	require.True(t, ok)
	assert.Equal(t, 2, weight)
}

func TestBestGatewayPicksMinimumWeight(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)

	require.NoError(t, tbl.Create("agent-d", "agent-b", 5))
	require.NoError(t, tbl.Create("agent-d", "agent-c", 2))

	gw, weight, ok := tbl.BestGateway("agent-d")
	require.True(t, ok)
	assert.Equal(t, "agent-c", gw)
	assert.Equal(t, 2, weight)
}

func TestAgeDestroysRoutesOverMaxWeight(t *testing.T) {
	tbl, err := route.Open(5)
	require.NoError(t, err)

	require.NoError(t, tbl.Create("agent-c", "agent-b", 4))
	require.NoError(t, tbl.Age(1)) // 5, still alive

	_, _, ok := tbl.BestGateway("agent-c")
	require.True(t, ok)

	require.NoError(t, tbl.Age(1)) // 6, now over maxWeight
	_, _, ok = tbl.BestGateway("agent-c")
	assert.False(t, ok)
}

func TestDeleteRemovesRoute(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)

	require.NoError(t, tbl.Create("agent-c", "agent-b", 2))
	require.NoError(t, tbl.Delete("agent-c", "agent-b"))

	_, _, ok := tbl.BestGateway("agent-c")
	assert.False(t, ok)
}

func TestPruneDropsOrphanedRoutes(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)

	require.NoError(t, tbl.Create("agent-c", "agent-b", 2)) // gateway agent-b live
	require.NoError(t, tbl.Create("agent-e", "agent-x", 2)) // gateway agent-x not live
	require.NoError(t, tbl.Create("self", "agent-b", 2))    // dest is self
	require.NoError(t, tbl.Create("agent-b", "agent-b", 2)) // dest is a direct peer

	require.NoError(t, tbl.Prune([]string{"agent-b"}, []string{"agent-b"}, "self"))

	routes, err := tbl.List()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "agent-c", routes[0].Agtuuid)
}

func TestCreateAdvertisementIncludesRoutesAndDirectPeers(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)
	require.NoError(t, tbl.Create("agent-c", "agent-b", 2))

	ad, err := tbl.CreateAdvertisement("self", []string{"agent-b"})
	require.NoError(t, err)

	var sawRoute, sawDirect bool
	for _, r := range ad.Routes {
		if r.Agtuuid == "agent-c" && r.Weight == 2 && r.Gtwuuid == "self" {
			sawRoute = true
		}
		if r.Agtuuid == "agent-b" && r.Weight == 0 && r.Gtwuuid == "self" {
			sawDirect = true
		}
	}
	assert.True(t, sawRoute)
	assert.True(t, sawDirect)
}

func TestProcessAdvertisementLearnsRoutesPlusOneHop(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)

	ad, err := tbl.CreateAdvertisement("agent-b", []string{"agent-f"})
	require.NoError(t, err)
	ad.Routes = append(ad.Routes, types.Route{Agtuuid: "agent-g", Gtwuuid: "agent-b", Weight: 3})

	require.NoError(t, tbl.ProcessAdvertisement(ad, "self", []string{"agent-b"}))

	_, weight, ok := tbl.BestGateway("agent-f")
	require.True(t, ok)
	assert.Equal(t, 1, weight) // direct peer advertised at weight 0 -> learned at 0+1

	_, weight, ok = tbl.BestGateway("agent-g")
	require.True(t, ok)
	assert.Equal(t, 4, weight) // advertised at 3 -> learned at 3+1
}

func TestProcessAdvertisementIgnoresSelfAndDirectPeers(t *testing.T) {
	tbl, err := route.Open(3600)
	require.NoError(t, err)

	ad, err := tbl.CreateAdvertisement("agent-b", nil)
	require.NoError(t, err)
	ad.Routes = append(ad.Routes,
		types.Route{Agtuuid: "self", Gtwuuid: "agent-b", Weight: 1},
		types.Route{Agtuuid: "direct-peer", Gtwuuid: "agent-b", Weight: 1},
	)

	require.NoError(t, tbl.ProcessAdvertisement(ad, "self", []string{"direct-peer"}))

	routes, err := tbl.List()
	require.NoError(t, err)
	assert.Empty(t, routes)
}
