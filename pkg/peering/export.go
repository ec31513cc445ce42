package peering

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// nestedPeerings is the exported shape of an Index:
// local -> peer -> region -> relationship -> address family -> observation.
type nestedPeerings map[models.ASN]map[models.ASN]map[models.Region]map[models.Relationship]map[models.AddressFamily]*models.Observation

// MarshalJSON encodes the index in its nested form. Keys are sorted, so the
// output is stable for a given set of peerings.
func (ix *Index) MarshalJSON() ([]byte, error) {
	nested := make(nestedPeerings)
	for _, e := range ix.Entries() {
		k := e.Key
		peers, ok := nested[k.Local]
		if !ok {
			peers = make(map[models.ASN]map[models.Region]map[models.Relationship]map[models.AddressFamily]*models.Observation)
			nested[k.Local] = peers
		}
		regions, ok := peers[k.Peer]
		if !ok {
			regions = make(map[models.Region]map[models.Relationship]map[models.AddressFamily]*models.Observation)
			peers[k.Peer] = regions
		}
		rels, ok := regions[k.Region]
		if !ok {
			rels = make(map[models.Relationship]map[models.AddressFamily]*models.Observation)
			regions[k.Region] = rels
		}
		families, ok := rels[k.Relationship]
		if !ok {
			families = make(map[models.AddressFamily]*models.Observation)
			rels[k.Relationship] = families
		}
		families[k.Family] = e.Observation
	}
	return json.Marshal(nested)
}

// UnmarshalJSON loads peerings from their nested form. The position in the
// nesting is the key; the observation is stored as found. Existing entries
// win over loaded ones.
func (ix *Index) UnmarshalJSON(data []byte) error {
	var nested nestedPeerings
	if err := json.Unmarshal(data, &nested); err != nil {
		return errors.Wrap(err, "decoding peerings")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.entries == nil {
		ix.entries = make(map[Key]*models.Observation)
	}
	for local, peers := range nested {
		for peer, regions := range peers {
			for region, rels := range regions {
				for rel, families := range rels {
					for family, obs := range families {
						if obs == nil {
							continue
						}
						k := Key{Local: local, Peer: peer, Region: region, Relationship: rel, Family: family}
						if _, ok := ix.entries[k]; !ok {
							ix.entries[k] = obs
						}
					}
				}
			}
		}
	}
	return nil
}

// MarshalJSON encodes the chains as {"asn1,asn2,asn3": observation}.
func (ix *TripleIndex) MarshalJSON() ([]byte, error) {
	flat := make(map[models.Triple]*models.Observation)
	for _, e := range ix.Entries() {
		flat[e.Triple] = e.Observation
	}
	return json.Marshal(flat)
}

// UnmarshalJSON loads chains from {"asn1,asn2,asn3": observation}.
func (ix *TripleIndex) UnmarshalJSON(data []byte) error {
	var flat map[models.Triple]*models.Observation
	if err := json.Unmarshal(data, &flat); err != nil {
		return errors.Wrap(err, "decoding triple paths")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.entries == nil {
		ix.entries = make(map[models.Triple]*models.Observation)
	}
	for t, obs := range flat {
		if obs == nil {
			continue
		}
		if _, ok := ix.entries[t]; !ok {
			ix.entries[t] = obs
		}
	}
	return nil
}

// WriteFile writes v as indented JSON to filename, creating the parent
// directory if needed.
func WriteFile(filename string, v json.Marshaler) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "creating %s", filename)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "encoding %s", filename)
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "writing %s", filename)
	}
	return file.Close()
}

// ReadIndexFile loads a peering index previously written by WriteFile.
func ReadIndexFile(filename string) (*Index, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", filename)
	}
	ix := NewIndex()
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", filename)
	}
	return ix, nil
}

// ReadTripleFile loads a triple index previously written by WriteFile.
func ReadTripleFile(filename string) (*TripleIndex, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", filename)
	}
	ix := NewTripleIndex()
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", filename)
	}
	return ix, nil
}
