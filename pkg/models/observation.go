package models

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Observation is the exemplar route proving a Tier-1 adjacency was seen with
// a given relationship, region and address family. It is built once by the
// scanner and never modified afterwards.
type Observation struct {
	LocalASN         ASN              `json:"local_as"`
	PeerASN          ASN              `json:"peer_as"`
	Relationship     Relationship     `json:"peer_type"`
	Region           Region           `json:"peer_location"`
	ASPath           []ASN            `json:"as_path"`
	Filename         string           `json:"filename"`
	NextHop          netip.Addr       `json:"next_hop"`
	Peer             CollectorPeer    `json:"peer"`
	Prefix           netip.Prefix     `json:"prefix"`
	Family           AddressFamily    `json:"ip_version"`
	Communities      []Community      `json:"communities"`
	LargeCommunities []LargeCommunity `json:"large_communities"`
}

// NewObservation builds the observation for the adjacency local -> peer
// found in route.
func NewObservation(route *Route, path []ASN, local, peer ASN, rel Relationship, region Region) *Observation {
	return &Observation{
		LocalASN:         local,
		PeerASN:          peer,
		Relationship:     rel,
		Region:           region,
		ASPath:           path,
		Filename:         route.Filename,
		NextHop:          route.NextHop,
		Peer:             route.Peer,
		Prefix:           route.Prefix,
		Family:           route.Family(),
		Communities:      route.Communities,
		LargeCommunities: route.LargeCommunities,
	}
}

// Triple is an ordered chain of three adjacent Tier-1 operators.
type Triple [3]ASN

func (t Triple) String() string {
	return fmt.Sprintf("%d,%d,%d", t[0], t[1], t[2])
}

func (t Triple) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Triple) UnmarshalText(text []byte) error {
	parts := strings.Split(string(text), ",")
	if len(parts) != 3 {
		return errors.Errorf("triple %q: want 3 ASNs, got %d", text, len(parts))
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 32)
		if err != nil {
			return errors.Wrapf(err, "triple %q", text)
		}
		t[i] = ASN(v)
	}
	return nil
}
