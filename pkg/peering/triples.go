package peering

import (
	"sort"
	"sync"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// TripleEntry is one stored Tier-1 chain.
type TripleEntry struct {
	Triple      models.Triple
	Observation *models.Observation
}

// TripleIndex keeps one exemplar observation per ordered chain of three
// Tier-1 operators. (A,B,C) and (C,B,A) are different chains.
type TripleIndex struct {
	mu      sync.RWMutex
	entries map[models.Triple]*models.Observation
}

// NewTripleIndex creates an empty index.
func NewTripleIndex() *TripleIndex {
	return &TripleIndex{entries: make(map[models.Triple]*models.Observation)}
}

// Has reports whether the chain is stored.
func (ix *TripleIndex) Has(t models.Triple) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.entries[t]
	return ok
}

// Get returns the exemplar stored for the chain.
func (ix *TripleIndex) Get(t models.Triple) (*models.Observation, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	obs, ok := ix.entries[t]
	return obs, ok
}

// Insert stores obs for the chain unless it is already present, and reports
// whether it was stored.
func (ix *TripleIndex) Insert(t models.Triple, obs *models.Observation) bool {
	if ix.Has(t) {
		return false
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.entries[t]; ok {
		return false
	}
	ix.entries[t] = obs
	return true
}

// Len returns the number of stored chains.
func (ix *TripleIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Entries returns a sorted snapshot of all stored chains.
func (ix *TripleIndex) Entries() []TripleEntry {
	ix.mu.RLock()
	entries := make([]TripleEntry, 0, len(ix.entries))
	for t, obs := range ix.entries {
		entries = append(entries, TripleEntry{Triple: t, Observation: obs})
	}
	ix.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Triple, entries[j].Triple
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return entries
}
