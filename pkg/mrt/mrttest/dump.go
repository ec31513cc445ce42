// Package mrttest builds small TABLE_DUMP_V2 dumps for tests.
package mrttest

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	gobgpmrt "github.com/osrg/gobgp/v3/pkg/packet/mrt"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

// Timestamp is stamped on every record header.
const Timestamp = 1768348800

// Dump accumulates MRT records.
type Dump struct {
	buf bytes.Buffer
}

// Entry is one RIB entry: a peer index and its encoded path attributes.
// PathID is only written by the ADDPATH builders.
type Entry struct {
	Peer   uint16
	PathID uint32
	Attrs  []byte
}

// Record appends a TABLE_DUMP_V2 record with the given subtype and body.
func (d *Dump) Record(subtype gobgpmrt.MRTSubTypeTableDumpv2, body []byte) *Dump {
	var hdr [gobgpmrt.MRT_COMMON_HEADER_LEN]byte
	binary.BigEndian.PutUint32(hdr[0:], Timestamp)
	binary.BigEndian.PutUint16(hdr[4:], uint16(gobgpmrt.TABLE_DUMPv2))
	binary.BigEndian.PutUint16(hdr[6:], uint16(subtype))
	binary.BigEndian.PutUint32(hdr[8:], uint32(len(body)))
	d.buf.Write(hdr[:])
	d.buf.Write(body)
	return d
}

// PeerTable appends a peer index table of IPv4 peers with 4-byte ASNs.
func (d *Dump) PeerTable(peers ...models.CollectorPeer) *Dump {
	var b bytes.Buffer
	b.Write([]byte{192, 0, 2, 255})
	binary.Write(&b, binary.BigEndian, uint16(0))
	binary.Write(&b, binary.BigEndian, uint16(len(peers)))
	for _, p := range peers {
		b.WriteByte(0x02)
		id, ip := p.BGPID.As4(), p.IP.As4()
		b.Write(id[:])
		b.Write(ip[:])
		binary.Write(&b, binary.BigEndian, uint32(p.ASN))
	}
	return d.Record(gobgpmrt.PEER_INDEX_TABLE, b.Bytes())
}

// RIBv4 appends a RIB_IPV4_UNICAST record.
func (d *Dump) RIBv4(prefix netip.Prefix, entries ...Entry) *Dump {
	return d.rib(gobgpmrt.RIB_IPV4_UNICAST, prefix, entries)
}

// RIBv6 appends a RIB_IPV6_UNICAST record.
func (d *Dump) RIBv6(prefix netip.Prefix, entries ...Entry) *Dump {
	return d.rib(gobgpmrt.RIB_IPV6_UNICAST, prefix, entries)
}

// RIBv4AddPath appends a RIB_IPV4_UNICAST_ADDPATH record.
func (d *Dump) RIBv4AddPath(prefix netip.Prefix, entries ...Entry) *Dump {
	return d.rib(gobgpmrt.RIB_IPV4_UNICAST_ADDPATH, prefix, entries)
}

// RIBv6AddPath appends a RIB_IPV6_UNICAST_ADDPATH record.
func (d *Dump) RIBv6AddPath(prefix netip.Prefix, entries ...Entry) *Dump {
	return d.rib(gobgpmrt.RIB_IPV6_UNICAST_ADDPATH, prefix, entries)
}

func (d *Dump) rib(subtype gobgpmrt.MRTSubTypeTableDumpv2, prefix netip.Prefix, entries []Entry) *Dump {
	addPath := subtype == gobgpmrt.RIB_IPV4_UNICAST_ADDPATH || subtype == gobgpmrt.RIB_IPV6_UNICAST_ADDPATH

	var b bytes.Buffer
	binary.Write(&b, binary.BigEndian, uint32(0))
	b.WriteByte(byte(prefix.Bits()))
	addr := prefix.Addr().AsSlice()
	b.Write(addr[:(prefix.Bits()+7)/8])
	binary.Write(&b, binary.BigEndian, uint16(len(entries)))
	for _, e := range entries {
		binary.Write(&b, binary.BigEndian, e.Peer)
		binary.Write(&b, binary.BigEndian, uint32(Timestamp-3600))
		if addPath {
			binary.Write(&b, binary.BigEndian, e.PathID)
		}
		binary.Write(&b, binary.BigEndian, uint16(len(e.Attrs)))
		b.Write(e.Attrs)
	}
	return d.Record(subtype, b.Bytes())
}

// Bytes returns the encoded dump.
func (d *Dump) Bytes() []byte {
	return d.buf.Bytes()
}

// WriteFile writes the dump to path, gzip-compressed if path ends in .gz.
func (d *Dump) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if !strings.HasSuffix(path, ".gz") {
		return os.WriteFile(path, d.Bytes(), 0o644)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(file)
	if _, err := gz.Write(d.Bytes()); err != nil {
		file.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Attrs concatenates encoded attributes.
func Attrs(attrs ...[]byte) []byte {
	return bytes.Join(attrs, nil)
}

func attr(flags, code byte, value []byte) []byte {
	return append([]byte{flags, code, byte(len(value))}, value...)
}

// ASPath encodes an AS_PATH with a single AS_SEQUENCE of 4-byte ASNs.
func ASPath(asns ...models.ASN) []byte {
	value := []byte{2, byte(len(asns))}
	for _, asn := range asns {
		value = binary.BigEndian.AppendUint32(value, uint32(asn))
	}
	return attr(0x40, 2, value)
}

// NextHop encodes an IPv4 NEXT_HOP.
func NextHop(addr string) []byte {
	a := netip.MustParseAddr(addr).As4()
	return attr(0x40, 3, a[:])
}

// MPReachNextHop encodes the abbreviated MP_REACH_NLRI of a TABLE_DUMP_V2
// entry: the next hop length and the next hop only, the link-local address
// following the global one when given.
func MPReachNextHop(global, linkLocal string) []byte {
	g := netip.MustParseAddr(global).As16()
	value := append([]byte{16}, g[:]...)
	if linkLocal != "" {
		ll := netip.MustParseAddr(linkLocal).As16()
		value[0] = 32
		value = append(value, ll[:]...)
	}
	return attr(0x80, 14, value)
}

// Communities encodes a COMMUNITIES attribute.
func Communities(cs ...models.Community) []byte {
	var value []byte
	for _, c := range cs {
		value = binary.BigEndian.AppendUint16(value, uint16(c.ASN))
		value = binary.BigEndian.AppendUint16(value, c.Value)
	}
	return attr(0xc0, 8, value)
}

// LargeCommunities encodes a LARGE_COMMUNITY attribute.
func LargeCommunities(cs ...models.LargeCommunity) []byte {
	var value []byte
	for _, c := range cs {
		value = binary.BigEndian.AppendUint32(value, c.Global)
		value = binary.BigEndian.AppendUint32(value, c.Local1)
		value = binary.BigEndian.AppendUint32(value, c.Local2)
	}
	return attr(0xc0, 32, value)
}
