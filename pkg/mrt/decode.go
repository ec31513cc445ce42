package mrt

import (
	"net"
	"net/netip"

	"github.com/osrg/gobgp/v3/pkg/packet/bgp"
	gobgpmrt "github.com/osrg/gobgp/v3/pkg/packet/mrt"
	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// Reasons a single RIB entry is dropped. None of them fail the dump.
var (
	ErrMissingASPath  = errors.New("entry has no AS_PATH attribute")
	ErrMissingNextHop = errors.New("entry has no next hop")
	ErrUnknownPeer    = errors.New("entry references an unknown peer index")
	// ErrMalformedRecord marks a RIB record whose body could not be decoded.
	// Only that record is lost.
	ErrMalformedRecord = errors.New("malformed RIB record")
)

var (
	defaultV4 = netip.MustParsePrefix("0.0.0.0/0")
	defaultV6 = netip.MustParsePrefix("::/0")
)

// Decoder turns RIB records of one dump into routes. It only reads its peer
// table, so one Decoder can be shared by many goroutines.
type Decoder struct {
	peers    []models.CollectorPeer
	filename string
}

// NewDecoder creates a decoder for a dump with the given peer table.
func NewDecoder(peers []models.CollectorPeer, filename string) *Decoder {
	return &Decoder{peers: peers, filename: filename}
}

// Skipped describes a RIB entry that was dropped while decoding a record.
type Skipped struct {
	Prefix    string
	PeerIndex uint16
	Err       error
}

// Decode returns one route per entry of a RIB record. Entries missing an
// AS_PATH or next hop are reported in skipped and decoding carries on.
// Default routes yield no routes at all. Any record that is not a unicast
// RIB record returns ErrUnexpectedRecord; a RIB record whose body does not
// decode returns ErrMalformedRecord.
func (d *Decoder) Decode(rec *Record) (routes []models.Route, skipped []Skipped, err error) {
	if rec.Header.Type != gobgpmrt.TABLE_DUMPv2 {
		return nil, nil, errors.Wrapf(ErrUnexpectedRecord, "type %d in %s", rec.Header.Type, d.filename)
	}
	switch gobgpmrt.MRTSubTypeTableDumpv2(rec.Header.SubType) {
	case gobgpmrt.RIB_IPV4_UNICAST, gobgpmrt.RIB_IPV6_UNICAST,
		gobgpmrt.RIB_IPV4_UNICAST_ADDPATH, gobgpmrt.RIB_IPV6_UNICAST_ADDPATH:
	default:
		return nil, nil, errors.Wrapf(ErrUnexpectedRecord, "TABLE_DUMP_V2 subtype %d in %s", rec.Header.SubType, d.filename)
	}

	msg, err := gobgpmrt.ParseMRTBody(&rec.Header, rec.Body)
	if err != nil {
		return nil, nil, errors.Wrapf(ErrMalformedRecord, "%s: %v", d.filename, err)
	}
	rib, ok := msg.Body.(*gobgpmrt.Rib)
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnexpectedRecord, "RIB record decoded as %T in %s", msg.Body, d.filename)
	}

	prefix, err := netip.ParsePrefix(rib.Prefix.String())
	if err != nil {
		return nil, nil, errors.Wrapf(err, "RIB prefix in %s", d.filename)
	}
	if prefix == defaultV4 || prefix == defaultV6 {
		return nil, nil, nil
	}

	routes = make([]models.Route, 0, len(rib.Entries))
	for _, entry := range rib.Entries {
		route, err := d.route(prefix, entry)
		if err != nil {
			skipped = append(skipped, Skipped{Prefix: prefix.String(), PeerIndex: entry.PeerIndex, Err: err})
			continue
		}
		routes = append(routes, route)
	}
	return routes, skipped, nil
}

func (d *Decoder) route(prefix netip.Prefix, entry *gobgpmrt.RibEntry) (models.Route, error) {
	if int(entry.PeerIndex) >= len(d.peers) {
		return models.Route{}, errors.Wrapf(ErrUnknownPeer, "index %d of %d", entry.PeerIndex, len(d.peers))
	}

	route := models.Route{
		Prefix:   prefix,
		Peer:     d.peers[entry.PeerIndex],
		Filename: d.filename,
	}

	var (
		hasPath   bool
		mpNextHop netip.Addr
		v4NextHop netip.Addr
	)
	for _, attr := range entry.PathAttributes {
		switch a := attr.(type) {
		case *bgp.PathAttributeAsPath:
			hasPath = true
			route.ASPath = firstSequence(a)
		case *bgp.PathAttributeNextHop:
			v4NextHop = addrFromIP(a.Value)
		case *bgp.PathAttributeMpReachNLRI:
			mpNextHop = addrFromIP(a.Nexthop)
		case *bgp.PathAttributeCommunities:
			route.Communities = make([]models.Community, 0, len(a.Value))
			for _, c := range a.Value {
				route.Communities = append(route.Communities, models.NewCommunity(c))
			}
		case *bgp.PathAttributeLargeCommunities:
			route.LargeCommunities = make([]models.LargeCommunity, 0, len(a.Values))
			for _, c := range a.Values {
				route.LargeCommunities = append(route.LargeCommunities, models.LargeCommunity{
					Global: c.ASN,
					Local1: c.LocalData1,
					Local2: c.LocalData2,
				})
			}
		}
	}

	if !hasPath {
		return models.Route{}, ErrMissingASPath
	}
	// MP_REACH carries the IPv6 next hop, global address first.
	switch {
	case mpNextHop.IsValid():
		route.NextHop = mpNextHop
	case v4NextHop.IsValid():
		route.NextHop = v4NextHop
	default:
		return models.Route{}, ErrMissingNextHop
	}
	return route, nil
}

// firstSequence returns the hops of the first AS_SEQUENCE segment. AS_SETs
// say nothing about adjacency and are ignored.
func firstSequence(attr *bgp.PathAttributeAsPath) []models.ASN {
	for _, param := range attr.Value {
		switch p := param.(type) {
		case *bgp.As4PathParam:
			if p.Type != bgp.BGP_ASPATH_ATTR_TYPE_SEQ {
				continue
			}
			path := make([]models.ASN, len(p.AS))
			for i, asn := range p.AS {
				path[i] = models.ASN(asn)
			}
			return path
		case *bgp.AsPathParam:
			if p.Type != bgp.BGP_ASPATH_ATTR_TYPE_SEQ {
				continue
			}
			path := make([]models.ASN, len(p.AS))
			for i, asn := range p.AS {
				path[i] = models.ASN(asn)
			}
			return path
		}
	}
	return nil
}

func addrFromIP(ip net.IP) netip.Addr {
	if ip == nil {
		return netip.Addr{}
	}
	if v4 := ip.To4(); v4 != nil {
		addr, _ := netip.AddrFromSlice(v4)
		return addr
	}
	addr, _ := netip.AddrFromSlice(ip)
	return addr
}
