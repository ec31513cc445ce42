package driver

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "t1_peerings"

// Metrics are the run counters, kept on a private registry so a batch run can
// dump them to a node_exporter textfile when it finishes.
type Metrics struct {
	registry *prometheus.Registry

	Files           *prometheus.CounterVec
	Records         prometheus.Counter
	Routes          prometheus.Counter
	SkippedEntries  *prometheus.CounterVec
	MalformedRecord prometheus.Counter
	Peerings        prometheus.GaugeFunc
	Triples         prometheus.GaugeFunc
}

// NewMetrics registers the driver metrics. peerings and triples report the
// current index sizes at collection time.
func NewMetrics(peerings, triples func() int) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "RIB files processed, by result.",
		}, []string{"result"}),
		Records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "RIB records decoded.",
		}),
		Routes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Routes handed to the path scanner.",
		}),
		SkippedEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_entries_total",
			Help:      "RIB entries dropped while decoding, by reason.",
		}, []string{"reason"}),
		MalformedRecord: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_records_total",
			Help:      "RIB records whose body could not be decoded.",
		}),
		Peerings: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "peerings",
			Help:      "Distinct Tier-1 peerings in the index.",
		}, func() float64 { return float64(peerings()) }),
		Triples: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "triple_paths",
			Help:      "Distinct Tier-1 triple paths in the index.",
		}, func() float64 { return float64(triples()) }),
	}
	m.registry.MustRegister(m.Files, m.Records, m.Routes, m.SkippedEntries,
		m.MalformedRecord, m.Peerings, m.Triples)
	return m
}

// Register adds extra collectors, such as the scanner stats, to the registry.
func (m *Metrics) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := m.registry.Register(c); err != nil {
			return errors.Wrap(err, "registering collector")
		}
	}
	return nil
}

// Gatherer exposes the registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes all metrics in the textfile collector format.
func (m *Metrics) WriteTextfile(filename string) error {
	if err := prometheus.WriteToTextfile(filename, m.registry); err != nil {
		return errors.Wrapf(err, "writing metrics to %s", filename)
	}
	return nil
}

// statsCollector exports a Stats() map as counters.
type statsCollector struct {
	desc  map[string]*prometheus.Desc
	stats func() map[string]uint64
}

// NewStatsCollector exposes every key of stats() as a
// t1_peerings_<subsystem>_<key>_total counter.
func NewStatsCollector(subsystem string, stats func() map[string]uint64) prometheus.Collector {
	c := &statsCollector{desc: make(map[string]*prometheus.Desc), stats: stats}
	for name := range stats() {
		c.desc[name] = prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, name+"_total"),
			"Counter "+name+" of the "+subsystem+".", nil, nil)
	}
	return c
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.desc {
		ch <- d
	}
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.stats() {
		if d, ok := c.desc[name]; ok {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
		}
	}
}
