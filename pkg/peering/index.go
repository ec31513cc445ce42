// Package peering provides the deduplicating, concurrency-safe indices of
// Tier-1 peering observations and their JSON form.
package peering

import (
	"sort"
	"sync"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// Key identifies one distinct peering: who, with whom, where, how, and over
// which address family.
type Key struct {
	Local        models.ASN
	Peer         models.ASN
	Region       models.Region
	Relationship models.Relationship
	Family       models.AddressFamily
}

// KeyOf returns the index key of an observation.
func KeyOf(obs *models.Observation) Key {
	return Key{
		Local:        obs.LocalASN,
		Peer:         obs.PeerASN,
		Region:       obs.Region,
		Relationship: obs.Relationship,
		Family:       obs.Family,
	}
}

func (k Key) less(o Key) bool {
	switch {
	case k.Local != o.Local:
		return k.Local < o.Local
	case k.Peer != o.Peer:
		return k.Peer < o.Peer
	case k.Region != o.Region:
		return k.Region < o.Region
	case k.Relationship != o.Relationship:
		return k.Relationship < o.Relationship
	}
	return k.Family < o.Family
}

// Entry is one stored peering.
type Entry struct {
	Key         Key
	Observation *models.Observation
}

// Index keeps one exemplar observation per Key. The first insert for a key
// wins; later inserts for the same key are no-ops.
type Index struct {
	mu      sync.RWMutex
	entries map[Key]*models.Observation
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[Key]*models.Observation)}
}

// Has reports whether a peering is stored for the key.
func (ix *Index) Has(k Key) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.entries[k]
	return ok
}

// Get returns the exemplar stored for the key.
func (ix *Index) Get(k Key) (*models.Observation, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	obs, ok := ix.entries[k]
	return obs, ok
}

// Insert stores obs unless its key is already present, and reports whether it
// was stored. The existence check runs under the read lock so the common
// duplicate case never blocks other readers; the write lock re-checks.
func (ix *Index) Insert(obs *models.Observation) bool {
	k := KeyOf(obs)
	if ix.Has(k) {
		return false
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.entries[k]; ok {
		return false
	}
	ix.entries[k] = obs
	return true
}

// Len returns the number of stored peerings.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Entries returns a sorted snapshot of all stored peerings.
func (ix *Index) Entries() []Entry {
	ix.mu.RLock()
	entries := make([]Entry, 0, len(ix.entries))
	for k, obs := range ix.entries {
		entries = append(entries, Entry{Key: k, Observation: obs})
	}
	ix.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.less(entries[j].Key)
	})
	return entries
}

// Mirror returns a new index holding every peering of ix plus, for each
// peering seen from one side only, the reverse direction: local and peer are
// swapped and Customer/Upstream exchanged. Peerings already present in the
// reverse direction are kept as found.
func (ix *Index) Mirror() *Index {
	entries := ix.Entries()
	mirrored := NewIndex()
	for _, e := range entries {
		mirrored.entries[e.Key] = e.Observation
	}
	for _, e := range entries {
		reverse := Key{
			Local:        e.Key.Peer,
			Peer:         e.Key.Local,
			Region:       e.Key.Region,
			Relationship: e.Key.Relationship.Reverse(),
			Family:       e.Key.Family,
		}
		if _, ok := mirrored.entries[reverse]; !ok {
			mirrored.entries[reverse] = e.Observation
		}
	}
	return mirrored
}
