package driver

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/detector"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/mrt/mrttest"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/peering"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var peers = []models.CollectorPeer{
	{BGPID: netip.MustParseAddr("198.51.100.1"), IP: netip.MustParseAddr("198.51.100.1"), ASN: 174},
	{BGPID: netip.MustParseAddr("198.51.100.2"), IP: netip.MustParseAddr("198.51.100.2"), ASN: 3356},
}

// writeDump writes a dump with n prefixes, each carrying a Cogent customer
// route, plus one Lumen/Arelion/Cogent chain and one entry without AS_PATH.
func writeDump(t *testing.T, path string, n int) {
	t.Helper()
	d := new(mrttest.Dump).PeerTable(peers...)
	for i := 0; i < n; i++ {
		prefix := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i >> 8), byte(i), 0}), 24)
		d.RIBv4(prefix, mrttest.Entry{Peer: 0, Attrs: mrttest.Attrs(
			mrttest.ASPath(174, 174, 701, 65000),
			mrttest.NextHop("198.51.100.1"),
			mrttest.Communities(models.Community{ASN: 174, Value: 21001}),
		)})
	}
	d.RIBv4(netip.MustParsePrefix("192.0.2.0/24"),
		mrttest.Entry{Peer: 1, Attrs: mrttest.Attrs(
			mrttest.ASPath(3356, 1299, 174, 65001),
			mrttest.NextHop("198.51.100.2"),
			mrttest.Communities(
				models.Community{ASN: 3356, Value: 666},
				models.Community{ASN: 3356, Value: 2},
				models.Community{ASN: 1299, Value: 30000},
			),
		)},
		mrttest.Entry{Peer: 1, Attrs: mrttest.NextHop("198.51.100.2")},
	)
	require.NoError(t, d.WriteFile(path))
}

type harness struct {
	peerings *peering.Index
	triples  *peering.TripleIndex
	scanner  *detector.Scanner
	metrics  *Metrics
	driver   *Driver
}

func newHarness(workers int) *harness {
	h := &harness{peerings: peering.NewIndex(), triples: peering.NewTripleIndex()}
	h.scanner = detector.NewScanner(detector.DefaultRegistry(), detector.NewClassifier(detector.DefaultRules()),
		h.peerings, h.triples, nil)
	h.metrics = NewMetrics(h.peerings.Len, h.triples.Len)
	h.driver = New(h.scanner, Options{Workers: workers, Metrics: h.metrics, Peerings: h.peerings, Triples: h.triples})
	return h
}

func (h *harness) assertResults(t *testing.T) {
	t.Helper()
	assert.Equal(t, 3, h.peerings.Len())
	assert.True(t, h.peerings.Has(peering.Key{Local: 174, Peer: 701, Region: models.NorthAmerica, Relationship: models.Customer, Family: models.IPv4}))
	assert.True(t, h.peerings.Has(peering.Key{Local: 3356, Peer: 1299, Region: models.Europe, Relationship: models.Peer, Family: models.IPv4}))
	assert.True(t, h.peerings.Has(peering.Key{Local: 1299, Peer: 174, Region: models.Europe, Relationship: models.Customer, Family: models.IPv4}))
	assert.Equal(t, 1, h.triples.Len())
	assert.True(t, h.triples.Has(models.Triple{3356, 1299, 174}))
}

func TestParseFiles(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		filepath.Join(dir, "rrc00.bview.20260114.0000.gz"),
		filepath.Join(dir, "rrc01.bview.20260114.0000.gz"),
		filepath.Join(dir, "route-views.sg.rib.20260114.0000"),
	}
	for _, f := range files {
		writeDump(t, f, 50)
	}

	h := newHarness(2)
	report := h.driver.ParseFiles(context.Background(), files)
	require.True(t, report.OK(), "failed: %v", report.Failed)
	assert.Equal(t, 3, report.Files)
	h.assertResults(t)

	stats := h.driver.Stats()
	assert.Equal(t, uint64(3), stats["files_ok"])
	assert.Equal(t, uint64(3*51), stats["records"])
	assert.Equal(t, uint64(3*51), stats["routes"])
	assert.Equal(t, uint64(3), stats["entries_skipped"])

	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.Files.WithLabelValues("ok")))
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.SkippedEntries.WithLabelValues("missing_as_path")))
	assert.Equal(t, float64(3), testutil.ToFloat64(h.metrics.Peerings))
}

func TestParseFiles_FailedFileIsIsolated(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "rrc00.bview.20260114.0000.gz")
	writeDump(t, good, 10)
	garbage := filepath.Join(dir, "rrc01.bview.20260114.0000")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not MRT data, but long enough"), 0o644))
	missing := filepath.Join(dir, "rrc02.bview.20260114.0000.gz")

	h := newHarness(4)
	report := h.driver.ParseFiles(context.Background(), []string{good, garbage, missing})

	require.Len(t, report.Failed, 2)
	assert.Equal(t, garbage, report.Failed[0].File)
	assert.Equal(t, missing, report.Failed[1].File)
	assert.Contains(t, report.Failed[0].Error(), garbage)
	h.assertResults(t)
	assert.Equal(t, uint64(2), h.driver.Stats()["files_failed"])
}

// panicScanner blows up on routes from one file.
type panicScanner struct {
	next RouteScanner
	file string
}

func (s panicScanner) Scan(route *models.Route) {
	if strings.HasSuffix(route.Filename, s.file) {
		panic("corrupt route")
	}
	s.next.Scan(route)
}

func TestParseFiles_PanicIsIsolated(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "rrc00.bview.20260114.0000.gz")
	good := filepath.Join(dir, "rrc01.bview.20260114.0000.gz")
	writeDump(t, bad, 5)
	writeDump(t, good, 5)

	h := newHarness(2)
	d := New(panicScanner{next: h.scanner, file: "rrc00.bview.20260114.0000.gz"}, Options{Workers: 2})
	report := d.ParseFiles(context.Background(), []string{bad, good})

	require.Len(t, report.Failed, 1)
	assert.Equal(t, bad, report.Failed[0].File)
	assert.Contains(t, report.Failed[0].Err.Error(), "corrupt route")
	h.assertResults(t)
}

func TestParseFileThreaded(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rrc00.bview.20260114.0000.gz")
	writeDump(t, file, 500)

	sequential := newHarness(1)
	require.NoError(t, sequential.driver.ParseFile(context.Background(), file))

	threaded := newHarness(8)
	report := threaded.driver.ParseFiles(context.Background(), []string{file})
	require.True(t, report.OK(), "failed: %v", report.Failed)

	threaded.assertResults(t)
	assert.Equal(t, sequential.peerings.Len(), threaded.peerings.Len())
	assert.Equal(t, sequential.triples.Len(), threaded.triples.Len())
	assert.Equal(t, sequential.driver.Stats()["routes"], threaded.driver.Stats()["routes"])
	assert.Equal(t, uint64(501), threaded.driver.Stats()["records"])
}

func TestParseFileThreaded_Panic(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rrc00.bview.20260114.0000.gz")
	writeDump(t, file, 500)

	h := newHarness(4)
	d := New(panicScanner{next: h.scanner, file: "rrc00.bview.20260114.0000.gz"}, Options{Workers: 4})
	err := d.ParseFileThreaded(context.Background(), file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt route")
}

func TestParseFiles_Cancelled(t *testing.T) {
	dir := t.TempDir()
	files := []string{filepath.Join(dir, "a.gz"), filepath.Join(dir, "b.gz")}
	for _, f := range files {
		writeDump(t, f, 5)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(2)
	report := h.driver.ParseFiles(ctx, files)
	assert.Len(t, report.Failed, 2)
	assert.Equal(t, 0, h.peerings.Len())
}

func TestScanStream(t *testing.T) {
	h := newHarness(4)
	routes := make(chan models.Route)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.driver.ScanStream(routes)
	}()

	for i := 0; i < 100; i++ {
		routes <- models.Route{
			Prefix:      netip.MustParsePrefix("192.0.2.0/24"),
			NextHop:     netip.MustParseAddr("198.51.100.1"),
			ASPath:      []models.ASN{174, 701},
			Communities: []models.Community{{ASN: 174, Value: 21001}},
			Filename:    "rrc00",
		}
	}
	close(routes)
	wg.Wait()

	assert.Equal(t, 1, h.peerings.Len())
	assert.Equal(t, uint64(100), h.driver.Stats()["routes"])
}

func TestMetrics_WriteTextfile(t *testing.T) {
	h := newHarness(1)
	require.NoError(t, h.metrics.Register(NewStatsCollector("scanner", h.scanner.Stats)))
	h.scanner.Scan(&models.Route{
		Prefix:      netip.MustParsePrefix("192.0.2.0/24"),
		ASPath:      []models.ASN{174, 701},
		Communities: []models.Community{{ASN: 174, Value: 21001}},
	})

	path := filepath.Join(t.TempDir(), "t1_peerings.prom")
	require.NoError(t, h.metrics.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "t1_peerings_peerings 1")
	assert.Contains(t, string(data), "t1_peerings_scanner_peerings_stored_total 1")
}
