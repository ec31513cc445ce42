package detector

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// PeeringSink stores peering observations. Insert must be idempotent and
// safe for concurrent use; it reports whether obs was stored.
type PeeringSink interface {
	Insert(obs *models.Observation) bool
}

// TripleSink stores three-hop Tier-1 chains, with the same contract as
// PeeringSink.
type TripleSink interface {
	Insert(triple models.Triple, obs *models.Observation) bool
}

// Scanner walks AS paths looking for adjacent Tier-1 operators.
// A Scanner is safe for concurrent use once built.
type Scanner struct {
	registry   *Registry
	classifier *Classifier
	peerings   PeeringSink
	triples    TripleSink
	log        *zap.SugaredLogger

	// Stats
	routesScanned    uint64
	pathsSkipped     uint64
	classifyMisses   uint64
	peeringsStored   uint64
	peeringsDup      uint64
	triplesStored    uint64
	triplesDup       uint64
	tier1Adjacencies uint64
}

// NewScanner creates a scanner feeding the given sinks.
func NewScanner(registry *Registry, classifier *Classifier, peerings PeeringSink, triples TripleSink, log *zap.SugaredLogger) *Scanner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Scanner{
		registry:   registry,
		classifier: classifier,
		peerings:   peerings,
		triples:    triples,
		log:        log,
	}
}

// pairState caches the classification of the adjacency starting at a hop, so
// overlapping windows never classify or insert the same pair twice.
type pairState struct {
	done bool
	obs  *models.Observation
}

// Scan checks one route for Tier-1 adjacencies and records every adjacency
// whose relationship and region both resolve.
//
// Up to three Tier-1s can appear in a row, e.g. AS3 AS2 AS1 AS65535 where AS3
// peers with AS2 and AS1 buys transit from AS2 despite being a Tier-1. Both
// adjacencies are recorded, and the chain is recorded in the triple sink with
// the second adjacency as its exemplar.
func (s *Scanner) Scan(route *models.Route) {
	atomic.AddUint64(&s.routesScanned, 1)

	path := models.CollapsePath(route.ASPath)
	if len(path) == 0 {
		// iBGP or self-originated, nothing to see
		return
	}

	if s.registry.IsSkipEntry(path[0], route.Filename) {
		atomic.AddUint64(&s.pathsSkipped, 1)
		s.log.Debugf("Skipping path %v from AS%d in %s", path, path[0], route.Filename)
		return
	}

	var pairs []pairState
	for i := 0; i+1 < len(path); i++ {
		if !s.registry.IsTier1(path[i]) || !s.registry.IsTier1(path[i+1]) {
			continue
		}
		if pairs == nil {
			pairs = make([]pairState, len(path)-1)
		}
		s.pair(route, path, i, pairs)

		if i+2 >= len(path) || !s.registry.IsTier1(path[i+2]) {
			continue
		}
		second := s.pair(route, path, i+1, pairs)
		if second == nil {
			continue
		}
		triple := models.Triple{path[i], path[i+1], path[i+2]}
		if s.triples.Insert(triple, second) {
			atomic.AddUint64(&s.triplesStored, 1)
			s.log.Debugf("New triple path %s from %s", triple, route.Filename)
		} else {
			atomic.AddUint64(&s.triplesDup, 1)
		}
	}
}

// pair classifies the adjacency path[i] -> path[i+1] once per scan and
// inserts the resulting observation. It returns nil when either the
// relationship or the region did not resolve.
func (s *Scanner) pair(route *models.Route, path []models.ASN, i int, pairs []pairState) *models.Observation {
	if pairs[i].done {
		return pairs[i].obs
	}
	pairs[i].done = true
	atomic.AddUint64(&s.tier1Adjacencies, 1)

	local, peer := path[i], path[i+1]
	rel, relOK := s.classifier.Relationship(local, route.Communities)
	region, regionOK := s.classifier.Region(local, route.Communities)
	if !relOK || !regionOK {
		atomic.AddUint64(&s.classifyMisses, 1)
		s.log.Debugf("No classification for AS%d -> AS%d (relationship=%v, region=%v) communities=%v",
			local, peer, relOK, regionOK, route.Communities)
		return nil
	}

	obs := models.NewObservation(route, path, local, peer, rel, region)
	if s.peerings.Insert(obs) {
		atomic.AddUint64(&s.peeringsStored, 1)
		s.log.Debugf("New peering AS%d -> AS%d %s %s %s", local, peer, region, rel, obs.Family)
	} else {
		atomic.AddUint64(&s.peeringsDup, 1)
	}
	pairs[i].obs = obs
	return obs
}

// Stats returns current statistics.
func (s *Scanner) Stats() map[string]uint64 {
	return map[string]uint64{
		"routes_scanned":    atomic.LoadUint64(&s.routesScanned),
		"paths_skipped":     atomic.LoadUint64(&s.pathsSkipped),
		"tier1_adjacencies": atomic.LoadUint64(&s.tier1Adjacencies),
		"classify_misses":   atomic.LoadUint64(&s.classifyMisses),
		"peerings_stored":   atomic.LoadUint64(&s.peeringsStored),
		"peerings_dup":      atomic.LoadUint64(&s.peeringsDup),
		"triples_stored":    atomic.LoadUint64(&s.triplesStored),
		"triples_dup":       atomic.LoadUint64(&s.triplesDup),
	}
}
