package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Relationship is the business relationship of a peering, as seen from the
// local operator.
type Relationship uint8

// Relationship kinds
const (
	Customer Relationship = iota
	Peer
	PaidPeer
	Upstream
)

var relationshipNames = [...]string{
	Customer: "Customer",
	Peer:     "Peer",
	PaidPeer: "PaidPeer",
	Upstream: "Upstream",
}

// Relationships lists every relationship kind.
var Relationships = []Relationship{Customer, Peer, PaidPeer, Upstream}

func (r Relationship) String() string {
	if int(r) < len(relationshipNames) {
		return relationshipNames[r]
	}
	return fmt.Sprintf("Relationship(%d)", uint8(r))
}

// Reverse returns the relationship seen from the other side of the peering.
// Customer and Upstream swap; the others are symmetric.
func (r Relationship) Reverse() Relationship {
	switch r {
	case Customer:
		return Upstream
	case Upstream:
		return Customer
	}
	return r
}

func (r Relationship) MarshalText() ([]byte, error) {
	if int(r) >= len(relationshipNames) {
		return nil, errors.Errorf("invalid relationship %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Relationship) UnmarshalText(text []byte) error {
	for i, name := range relationshipNames {
		if name == string(text) {
			*r = Relationship(i)
			return nil
		}
	}
	return errors.Errorf("unknown relationship %q", text)
}

// Region is the geographic region a peering was learned in.
type Region uint8

// Regions
const (
	Africa Region = iota
	AsiaPac
	Europe
	MiddleEast
	NorthAmerica
	SouthAmerica
)

var regionNames = [...]string{
	Africa:       "Africa",
	AsiaPac:      "AsiaPac",
	Europe:       "Europe",
	MiddleEast:   "MiddleEast",
	NorthAmerica: "NorthAmerica",
	SouthAmerica: "SouthAmerica",
}

// Regions lists every region.
var Regions = []Region{Africa, AsiaPac, Europe, MiddleEast, NorthAmerica, SouthAmerica}

func (r Region) String() string {
	if int(r) < len(regionNames) {
		return regionNames[r]
	}
	return fmt.Sprintf("Region(%d)", uint8(r))
}

func (r Region) MarshalText() ([]byte, error) {
	if int(r) >= len(regionNames) {
		return nil, errors.Errorf("invalid region %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *Region) UnmarshalText(text []byte) error {
	for i, name := range regionNames {
		if name == string(text) {
			*r = Region(i)
			return nil
		}
	}
	return errors.Errorf("unknown region %q", text)
}

// AddressFamily is the IP version of a prefix.
type AddressFamily uint8

// Address families
const (
	IPv4 AddressFamily = iota
	IPv6
)

func (f AddressFamily) String() string {
	switch f {
	case IPv4:
		return "Ipv4"
	case IPv6:
		return "Ipv6"
	}
	return fmt.Sprintf("AddressFamily(%d)", uint8(f))
}

func (f AddressFamily) MarshalText() ([]byte, error) {
	if f > IPv6 {
		return nil, errors.Errorf("invalid address family %d", uint8(f))
	}
	return []byte(f.String()), nil
}

func (f *AddressFamily) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Ipv4":
		*f = IPv4
	case "Ipv6":
		*f = IPv6
	default:
		return errors.Errorf("unknown address family %q", text)
	}
	return nil
}

// FamilyOf returns the address family of a prefix in its printed form.
// Anything with a dot in it is IPv4.
func FamilyOf(prefix string) AddressFamily {
	if strings.Contains(prefix, ".") {
		return IPv4
	}
	return IPv6
}
