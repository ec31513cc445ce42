// Package mrt reads TABLE_DUMP_V2 RIB snapshots and turns their entries into
// routes for the scanner.
package mrt

import (
	"bufio"
	"compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	gobgpmrt "github.com/osrg/gobgp/v3/pkg/packet/mrt"
	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
)

const maxRecordSize = 16 << 20

var (
	// ErrNoPeerTable is returned when a dump does not start with a
	// PEER_INDEX_TABLE record.
	ErrNoPeerTable = errors.New("first record is not a peer index table")
	// ErrUnexpectedRecord is returned for records that are not unicast RIB
	// entries of a TABLE_DUMP_V2 dump.
	ErrUnexpectedRecord = errors.New("unexpected MRT record")
)

// Record is one raw MRT record as read from a dump.
type Record struct {
	Header gobgpmrt.MRTHeader
	Body   []byte
}

// Reader reads the records of one RIB dump sequentially. It is not safe for
// concurrent use; hand records to a Decoder to fan out work.
type Reader struct {
	filename string
	closers  []io.Closer
	scanner  *bufio.Scanner
	peers    []models.CollectorPeer
	records  uint64
}

// Open opens a dump, decompressing .gz and .bz2 files on the fly, and reads
// its peer index table.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	closers := []io.Closer{file}
	var r io.Reader = bufio.NewReaderSize(file, 1<<20)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			file.Close()
			return nil, errors.Wrapf(err, "opening gzip stream of %s", path)
		}
		closers = append([]io.Closer{gz}, closers...)
		r = gz
	case ".bz2":
		r = bzip2.NewReader(r)
	}

	reader, err := NewReader(r, path)
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	reader.closers = closers
	return reader, nil
}

// NewReader reads the peer index table from r. filename is carried into
// every decoded route.
func NewReader(r io.Reader, filename string) (*Reader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	scanner.Split(gobgpmrt.SplitMrt)

	reader := &Reader{filename: filename, scanner: scanner}
	rec, err := reader.Next()
	if err == io.EOF {
		return nil, errors.Wrapf(ErrNoPeerTable, "%s is empty", filename)
	}
	if err != nil {
		return nil, err
	}
	if rec.Header.Type != gobgpmrt.TABLE_DUMPv2 ||
		gobgpmrt.MRTSubTypeTableDumpv2(rec.Header.SubType) != gobgpmrt.PEER_INDEX_TABLE {
		return nil, errors.Wrapf(ErrNoPeerTable, "%s: type %d subtype %d", filename, rec.Header.Type, rec.Header.SubType)
	}

	msg, err := gobgpmrt.ParseMRTBody(&rec.Header, rec.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding peer index table of %s", filename)
	}
	table, ok := msg.Body.(*gobgpmrt.PeerIndexTable)
	if !ok {
		return nil, errors.Wrapf(ErrNoPeerTable, "%s: decoded as %T", filename, msg.Body)
	}
	reader.peers = peersFromTable(table)
	return reader, nil
}

// Next returns the next raw record, or io.EOF at the end of the dump.
func (r *Reader) Next() (*Record, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, errors.Wrapf(err, "reading %s after %d records", r.filename, r.records)
		}
		return nil, io.EOF
	}

	data := r.scanner.Bytes()
	rec := &Record{}
	if err := rec.Header.DecodeFromBytes(data[:gobgpmrt.MRT_COMMON_HEADER_LEN]); err != nil {
		return nil, errors.Wrapf(err, "decoding record header %d of %s", r.records, r.filename)
	}
	// The scanner reuses its buffer.
	rec.Body = append([]byte(nil), data[gobgpmrt.MRT_COMMON_HEADER_LEN:]...)
	r.records++
	return rec, nil
}

// Peers returns the peer index table of the dump.
func (r *Reader) Peers() []models.CollectorPeer {
	return r.peers
}

// Filename returns the path the dump was opened from.
func (r *Reader) Filename() string {
	return r.filename
}

// Records returns the number of records read so far, the peer table included.
func (r *Reader) Records() uint64 {
	return r.records
}

// Decoder returns a decoder bound to this dump's peer table.
func (r *Reader) Decoder() *Decoder {
	return NewDecoder(r.peers, r.filename)
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

func peersFromTable(table *gobgpmrt.PeerIndexTable) []models.CollectorPeer {
	peers := make([]models.CollectorPeer, 0, len(table.Peers))
	for _, p := range table.Peers {
		peers = append(peers, models.CollectorPeer{
			BGPID: addrFromIP(p.BgpId),
			IP:    addrFromIP(p.IpAddress),
			ASN:   models.ASN(p.AS),
		})
	}
	return peers
}
