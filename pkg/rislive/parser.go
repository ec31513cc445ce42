package rislive

import (
	"encoding/json"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// RISMessage is the top-level message from RIS Live.
type RISMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RISUpdateData is the BGP update data from RIS Live.
type RISUpdateData struct {
	Timestamp     float64           `json:"timestamp"`
	Peer          string            `json:"peer"`
	PeerASN       json.RawMessage   `json:"peer_asn"` // Can be string or number
	Path          json.RawMessage   `json:"path"`
	Announcements []RISAnnouncement `json:"announcements"`
	Withdrawals   []string          `json:"withdrawals"`
	Community     []json.RawMessage `json:"community"`
}

// RISAnnouncement is a group of prefixes announced with one next hop.
type RISAnnouncement struct {
	NextHop  string   `json:"next_hop"`
	Prefixes []string `json:"prefixes"`
}

// ParseMessage parses a RIS Live WebSocket message into routes, one per
// announced prefix. Withdrawals and non-update messages (errors, rrc_list)
// yield no routes. Prefixes that do not parse, or whose announcement has no
// usable next hop, are dropped.
//
// The collector name stands in for the dump filename, so skip-list entries
// keyed by collector apply to live routes too.
func ParseMessage(data []byte, collector string) ([]models.Route, error) {
	var msg RISMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "unmarshal message")
	}

	// Only process ris_message type
	if msg.Type != "ris_message" {
		return nil, nil
	}

	var update RISUpdateData
	if err := json.Unmarshal(msg.Data, &update); err != nil {
		return nil, errors.Wrap(err, "unmarshal update data")
	}
	if len(update.Announcements) == 0 {
		return nil, nil
	}

	asPath, err := parseASPath(update.Path)
	if err != nil {
		return nil, errors.Wrap(err, "parse AS path")
	}

	peerIP, _ := netip.ParseAddr(update.Peer)
	peer := models.CollectorPeer{BGPID: peerIP, IP: peerIP, ASN: parseASN(update.PeerASN)}
	communities := parseCommunities(update.Community)

	var routes []models.Route
	for _, ann := range update.Announcements {
		nextHop, err := parseNextHop(ann.NextHop)
		if err != nil {
			continue
		}
		for _, p := range ann.Prefixes {
			prefix, err := netip.ParsePrefix(p)
			if err != nil {
				continue
			}
			routes = append(routes, models.Route{
				Prefix:      prefix,
				NextHop:     nextHop,
				Peer:        peer,
				ASPath:      asPath,
				Communities: communities,
				Filename:    collector,
			})
		}
	}
	return routes, nil
}

// parseNextHop returns the first address of a next_hop field. IPv6
// announcements list the global address first, then the link-local one.
func parseNextHop(s string) (netip.Addr, error) {
	first, _, _ := strings.Cut(s, ",")
	addr, err := netip.ParseAddr(strings.TrimSpace(first))
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "next hop %q", s)
	}
	return addr, nil
}

// parseASN parses an ASN that can be either a string or number.
func parseASN(data json.RawMessage) models.ASN {
	if len(data) == 0 {
		return 0
	}

	// Try as number first
	var num uint32
	if err := json.Unmarshal(data, &num); err == nil {
		return models.ASN(num)
	}

	// Try as string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		val, _ := strconv.ParseUint(str, 10, 32)
		return models.ASN(val)
	}

	return 0
}

// parseASPath returns the leading AS_SEQUENCE of a path. An AS_SET shows up
// as a nested array and ends the sequence, since hops after it are not
// known to be adjacent.
// Input can be: [174, 3356, 65001] or [174, 3356, [65001, 65002]]
func parseASPath(data json.RawMessage) ([]models.ASN, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, errors.Wrap(err, "cannot parse path")
	}

	result := make([]models.ASN, 0, len(elems))
	for _, elem := range elems {
		var num uint32
		if err := json.Unmarshal(elem, &num); err != nil {
			break
		}
		result = append(result, models.ASN(num))
	}
	return result, nil
}

// parseCommunities converts community data to typed communities, keeping
// their order. Entries that do not fit a standard community are dropped.
// Input can be: [[65535, 666], [3356, 9999]] or ["65535:666"]
func parseCommunities(data []json.RawMessage) []models.Community {
	if data == nil {
		return nil
	}

	result := make([]models.Community, 0, len(data))
	for _, elem := range data {
		// Try as [ASN, value] tuple
		var tuple []uint32
		if err := json.Unmarshal(elem, &tuple); err == nil {
			if len(tuple) == 2 && tuple[0] <= 0xffff && tuple[1] <= 0xffff {
				result = append(result, models.Community{ASN: models.ASN(tuple[0]), Value: uint16(tuple[1])})
			}
			continue
		}

		// Try as string
		var str string
		if err := json.Unmarshal(elem, &str); err == nil {
			if c, ok := parseCommunityString(str); ok {
				result = append(result, c)
			}
		}
	}

	return result
}

func parseCommunityString(s string) (models.Community, bool) {
	asn, value, ok := strings.Cut(s, ":")
	if !ok {
		return models.Community{}, false
	}
	a, err := strconv.ParseUint(asn, 10, 16)
	if err != nil {
		return models.Community{}, false
	}
	v, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return models.Community{}, false
	}
	return models.Community{ASN: models.ASN(a), Value: uint16(v)}, true
}
