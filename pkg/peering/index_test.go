package peering

import (
	"encoding/json"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

func observation(local, peer models.ASN, rel models.Relationship, region models.Region, prefix string) *models.Observation {
	route := &models.Route{
		Prefix:      netip.MustParsePrefix(prefix),
		NextHop:     netip.MustParseAddr("198.51.100.1"),
		Peer:        models.CollectorPeer{BGPID: netip.MustParseAddr("198.51.100.1"), IP: netip.MustParseAddr("198.51.100.1"), ASN: local},
		ASPath:      []models.ASN{local, peer, 65000},
		Communities: []models.Community{{ASN: local, Value: 1}},
		Filename:    "rrc00.bview.20260114.0000.gz",
	}
	return models.NewObservation(route, route.ASPath, local, peer, rel, region)
}

func TestIndex_InsertIsIdempotent(t *testing.T) {
	ix := NewIndex()
	first := observation(174, 701, models.Customer, models.NorthAmerica, "192.0.2.0/24")
	second := observation(174, 701, models.Customer, models.NorthAmerica, "198.51.100.0/24")

	assert.True(t, ix.Insert(first))
	assert.False(t, ix.Insert(first))
	assert.False(t, ix.Insert(second), "same key from a different route must not replace the exemplar")
	assert.Equal(t, 1, ix.Len())

	got, ok := ix.Get(KeyOf(first))
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestIndex_DistinctKeys(t *testing.T) {
	ix := NewIndex()
	ix.Insert(observation(174, 701, models.Customer, models.NorthAmerica, "192.0.2.0/24"))
	ix.Insert(observation(174, 701, models.Customer, models.NorthAmerica, "2001:db8::/32"))
	ix.Insert(observation(174, 701, models.Peer, models.NorthAmerica, "192.0.2.0/24"))
	ix.Insert(observation(174, 701, models.Customer, models.Europe, "192.0.2.0/24"))
	ix.Insert(observation(701, 174, models.Customer, models.NorthAmerica, "192.0.2.0/24"))

	assert.Equal(t, 5, ix.Len())
	assert.True(t, ix.Has(Key{Local: 174, Peer: 701, Region: models.NorthAmerica, Relationship: models.Customer, Family: models.IPv6}))
	assert.False(t, ix.Has(Key{Local: 174, Peer: 701, Region: models.AsiaPac, Relationship: models.Customer, Family: models.IPv4}))
}

func TestIndex_ConcurrentInsert(t *testing.T) {
	ix := NewIndex()
	const workers = 32

	var wg sync.WaitGroup
	stored := make(chan *models.Observation, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			obs := observation(3356, 1299, models.Peer, models.Europe, "192.0.2.0/24")
			if ix.Insert(obs) {
				stored <- obs
			}
		}()
	}
	wg.Wait()
	close(stored)

	var winners []*models.Observation
	for obs := range stored {
		winners = append(winners, obs)
	}
	require.Len(t, winners, 1)
	assert.Equal(t, 1, ix.Len())

	got, ok := ix.Get(Key{Local: 3356, Peer: 1299, Region: models.Europe, Relationship: models.Peer, Family: models.IPv4})
	require.True(t, ok)
	assert.Same(t, winners[0], got)
}

func TestIndex_JSONShape(t *testing.T) {
	ix := NewIndex()
	ix.Insert(observation(174, 701, models.Customer, models.NorthAmerica, "192.0.2.0/24"))

	data, err := json.Marshal(ix)
	require.NoError(t, err)

	var generic map[string]map[string]map[string]map[string]map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &generic))
	obs, ok := generic["174"]["701"]["NorthAmerica"]["Customer"]["Ipv4"]
	require.True(t, ok, "unexpected shape: %s", data)
	assert.Equal(t, float64(174), obs["local_as"])
	assert.Equal(t, "192.0.2.0/24", obs["prefix"])
	assert.Equal(t, []interface{}{[]interface{}{float64(174), float64(1)}}, obs["communities"])
}

func TestIndex_RoundTrip(t *testing.T) {
	ix := NewIndex()
	ix.Insert(observation(174, 701, models.Customer, models.NorthAmerica, "192.0.2.0/24"))
	ix.Insert(observation(174, 701, models.Customer, models.NorthAmerica, "2001:db8::/32"))
	ix.Insert(observation(6939, 3356, models.Peer, models.Europe, "203.0.113.0/24"))

	path := filepath.Join(t.TempDir(), "results", "peering_data.json")
	require.NoError(t, WriteFile(path, ix))

	back, err := ReadIndexFile(path)
	require.NoError(t, err)
	assert.Equal(t, ix.Len(), back.Len())

	want, got := ix.Entries(), back.Entries()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Key, got[i].Key)
		if diff := cmp.Diff(want[i].Observation, got[i].Observation, cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
			cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })); diff != "" {
			t.Errorf("observation mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestIndex_Mirror(t *testing.T) {
	ix := NewIndex()
	customer := observation(174, 701, models.Customer, models.NorthAmerica, "192.0.2.0/24")
	peer := observation(3356, 1299, models.Peer, models.Europe, "192.0.2.0/24")
	// Already known from both sides
	both := observation(2914, 6453, models.Upstream, models.AsiaPac, "192.0.2.0/24")
	bothReverse := observation(6453, 2914, models.Peer, models.AsiaPac, "192.0.2.0/24")
	ix.Insert(customer)
	ix.Insert(peer)
	ix.Insert(both)
	ix.Insert(bothReverse)

	mirrored := ix.Mirror()
	assert.Equal(t, 4, ix.Len(), "mirroring must not modify the source index")

	got, ok := mirrored.Get(Key{Local: 701, Peer: 174, Region: models.NorthAmerica, Relationship: models.Upstream, Family: models.IPv4})
	require.True(t, ok)
	assert.Same(t, customer, got)

	_, ok = mirrored.Get(Key{Local: 1299, Peer: 3356, Region: models.Europe, Relationship: models.Peer, Family: models.IPv4})
	assert.True(t, ok)

	// 6453 -> 2914 gains Customer next to the Peer entry it already had
	_, ok = mirrored.Get(Key{Local: 6453, Peer: 2914, Region: models.AsiaPac, Relationship: models.Customer, Family: models.IPv4})
	assert.True(t, ok)
	got, ok = mirrored.Get(Key{Local: 6453, Peer: 2914, Region: models.AsiaPac, Relationship: models.Peer, Family: models.IPv4})
	require.True(t, ok)
	assert.Same(t, bothReverse, got)

	assert.Equal(t, 8, mirrored.Len())
}

func TestTripleIndex(t *testing.T) {
	ix := NewTripleIndex()
	obs := observation(701, 3356, models.Customer, models.NorthAmerica, "192.0.2.0/24")

	abc := models.Triple{174, 701, 3356}
	cba := models.Triple{3356, 701, 174}

	assert.True(t, ix.Insert(abc, obs))
	assert.False(t, ix.Insert(abc, obs))
	assert.True(t, ix.Insert(cba, obs), "order matters")
	assert.Equal(t, 2, ix.Len())
	assert.True(t, ix.Has(cba))

	entries := ix.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, abc, entries[0].Triple)
}

func TestTripleIndex_ConcurrentInsert(t *testing.T) {
	ix := NewTripleIndex()
	triple := models.Triple{174, 701, 3356}

	var wg sync.WaitGroup
	var mu sync.Mutex
	stored := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ix.Insert(triple, observation(701, 3356, models.Customer, models.NorthAmerica, "192.0.2.0/24")) {
				mu.Lock()
				stored++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, stored)
	assert.Equal(t, 1, ix.Len())
}

func TestTripleIndex_JSON(t *testing.T) {
	ix := NewTripleIndex()
	ix.Insert(models.Triple{174, 701, 3356}, observation(701, 3356, models.Customer, models.NorthAmerica, "192.0.2.0/24"))

	data, err := json.Marshal(ix)
	require.NoError(t, err)

	var generic map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &generic))
	require.Contains(t, generic, "174,701,3356")
	assert.Equal(t, float64(701), generic["174,701,3356"]["local_as"])

	path := filepath.Join(t.TempDir(), "triple_t1_paths.json")
	require.NoError(t, WriteFile(path, ix))
	back, err := ReadTripleFile(path)
	require.NoError(t, err)
	assert.True(t, back.Has(models.Triple{174, 701, 3356}))
}
