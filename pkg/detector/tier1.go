// Package detector finds Tier-1 adjacencies in AS paths and classifies them
// from BGP communities.
package detector

import (
	"path/filepath"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// Tier1ASNs contains the ASNs of the Tier-1 operators tracked for peerings.
var Tier1ASNs = map[models.ASN]string{
	174:   "Cogent",
	701:   "Verizon",
	1273:  "Vodafone",
	1299:  "Arelion",
	2914:  "NTT",
	3257:  "GTT",
	3320:  "DTAG",
	3356:  "Lumen",
	3491:  "PCCW",
	5511:  "Orange",
	6453:  "TATA",
	6461:  "Zayo",
	6762:  "TI Sparkle",
	6830:  "Liberty Global",
	6939:  "Hurricane Electric",
	7018:  "AT&T",
	12956: "Telxius",
}

// SkipEntry names a collector file whose paths starting at ASN are known to
// be corrupt.
type SkipEntry struct {
	ASN      models.ASN
	Filename string // basename only
}

// DefaultSkipList is the built-in deny-list. It is empty until a collector
// is found to emit bad paths; entries are usually supplied with LoadSkipList.
var DefaultSkipList []SkipEntry

// Registry answers Tier-1 membership and deny-list queries. It is built once
// and only read afterwards, so it needs no locking.
type Registry struct {
	tier1 map[models.ASN]string
	skip  map[SkipEntry]struct{}
}

// NewRegistry builds a registry from a Tier-1 table and a deny-list.
func NewRegistry(tier1 map[models.ASN]string, skip []SkipEntry) *Registry {
	r := &Registry{
		tier1: make(map[models.ASN]string, len(tier1)),
		skip:  make(map[SkipEntry]struct{}, len(skip)),
	}
	for asn, name := range tier1 {
		r.tier1[asn] = name
	}
	for _, e := range skip {
		e.Filename = filepath.Base(e.Filename)
		r.skip[e] = struct{}{}
	}
	return r
}

// DefaultRegistry returns the registry for the built-in tables.
func DefaultRegistry() *Registry {
	return NewRegistry(Tier1ASNs, DefaultSkipList)
}

// IsTier1 checks if an ASN is a known Tier-1 operator.
func (r *Registry) IsTier1(asn models.ASN) bool {
	_, ok := r.tier1[asn]
	return ok
}

// Name returns the operator name of a Tier-1 ASN, or "" if unknown.
func (r *Registry) Name(asn models.ASN) string {
	return r.tier1[asn]
}

// IsSkipEntry reports whether paths starting at asn must be ignored for the
// given file. Only the basename of filename is compared.
func (r *Registry) IsSkipEntry(asn models.ASN, filename string) bool {
	if len(r.skip) == 0 {
		return false
	}
	_, ok := r.skip[SkipEntry{ASN: asn, Filename: filepath.Base(filename)}]
	return ok
}

// SkipEntries returns the number of deny-list entries.
func (r *Registry) SkipEntries() int {
	return len(r.skip)
}

// IsTier1 checks if an ASN is in the built-in Tier-1 table.
func IsTier1(asn models.ASN) bool {
	_, ok := Tier1ASNs[asn]
	return ok
}
