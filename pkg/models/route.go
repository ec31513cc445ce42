// Package models defines data structures for decoded RIB routes and the
// Tier-1 peering observations derived from them.
package models

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strconv"

	"github.com/pkg/errors"
)

// ASN is a 32-bit autonomous system number.
type ASN uint32

func (a ASN) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// Community is a standard BGP community. ASN is the namespace owner.
type Community struct {
	ASN   ASN
	Value uint16
}

// NewCommunity splits a raw 32-bit community into owner and value.
func NewCommunity(raw uint32) Community {
	return Community{ASN: ASN(raw >> 16), Value: uint16(raw)}
}

func (c Community) String() string {
	return fmt.Sprintf("%d:%d", c.ASN, c.Value)
}

// MarshalJSON encodes the community as [asn, value].
func (c Community) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint32{uint32(c.ASN), uint32(c.Value)})
}

func (c *Community) UnmarshalJSON(data []byte) error {
	var pair [2]uint32
	if err := json.Unmarshal(data, &pair); err != nil {
		return errors.Wrap(err, "community")
	}
	if pair[1] > 0xffff {
		return errors.Errorf("community value %d out of range", pair[1])
	}
	c.ASN, c.Value = ASN(pair[0]), uint16(pair[1])
	return nil
}

// LargeCommunity is an RFC 8092 large community.
type LargeCommunity struct {
	Global uint32
	Local1 uint32
	Local2 uint32
}

func (c LargeCommunity) String() string {
	return fmt.Sprintf("%d:%d:%d", c.Global, c.Local1, c.Local2)
}

// MarshalJSON encodes the large community as [global, local1, local2].
func (c LargeCommunity) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]uint32{c.Global, c.Local1, c.Local2})
}

func (c *LargeCommunity) UnmarshalJSON(data []byte) error {
	var triple [3]uint32
	if err := json.Unmarshal(data, &triple); err != nil {
		return errors.Wrap(err, "large community")
	}
	c.Global, c.Local1, c.Local2 = triple[0], triple[1], triple[2]
	return nil
}

// CollectorPeer describes the collector peer a RIB entry was learned from.
type CollectorPeer struct {
	BGPID netip.Addr `json:"peer_bgp_id"`
	IP    netip.Addr `json:"peer_ip"`
	ASN   ASN        `json:"peer_asn"`
}

// Route is one decoded RIB entry: a prefix as announced by one collector peer.
type Route struct {
	Prefix           netip.Prefix
	NextHop          netip.Addr
	Peer             CollectorPeer
	ASPath           []ASN
	Communities      []Community
	LargeCommunities []LargeCommunity
	Filename         string // source file or collector name
}

// Family returns the address family of the route's prefix.
func (r *Route) Family() AddressFamily {
	return FamilyOf(r.Prefix.String())
}

// CollapsePath removes consecutive duplicate hops (prepending).
func CollapsePath(path []ASN) []ASN {
	if len(path) == 0 {
		return nil
	}
	out := make([]ASN, 0, len(path))
	for i, asn := range path {
		if i > 0 && asn == path[i-1] {
			continue
		}
		out = append(out, asn)
	}
	return out
}
