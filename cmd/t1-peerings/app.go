package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/config"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/database"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/detector"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/driver"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/logging"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/peering"
)

// app holds the components shared by the commands of one run.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	metrics  *driver.Metrics
	peerings *peering.Index
	triples  *peering.TripleIndex
	scanner  *detector.Scanner
	driver   *driver.Driver
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(viper.New(), cmd.Flags())
	if err != nil {
		return nil, err
	}

	entries := logging.NewEntriesCounter()
	log := logging.New(cfg.Debug, logging.WithEntriesCounter(entries))
	log.Infof("t1-peerings %s starting...", cmd.Name())

	skip := append([]detector.SkipEntry(nil), detector.DefaultSkipList...)
	if cfg.SkipList != "" {
		extra, err := detector.LoadSkipList(cfg.SkipList)
		if err != nil {
			return nil, err
		}
		skip = append(skip, extra...)
		log.Infof("Loaded %d skip list entries from %s", len(extra), cfg.SkipList)
	}
	registry := detector.NewRegistry(detector.Tier1ASNs, skip)

	a := &app{
		cfg:      cfg,
		log:      log,
		peerings: peering.NewIndex(),
		triples:  peering.NewTripleIndex(),
	}
	a.scanner = detector.NewScanner(registry, detector.NewClassifier(detector.DefaultRules()),
		a.peerings, a.triples, log)
	a.metrics = driver.NewMetrics(a.peerings.Len, a.triples.Len)
	if err := a.metrics.Register(entries, driver.NewStatsCollector("scanner", a.scanner.Stats)); err != nil {
		return nil, err
	}
	a.driver = driver.New(a.scanner, driver.Options{
		Workers:  cfg.Threads,
		Metrics:  a.metrics,
		Peerings: a.peerings,
		Triples:  a.triples,
		Logger:   log,
	})
	return a, nil
}

// run executes work with periodic stats logging, then writes the results.
func (a *app) run(ctx context.Context, work func(context.Context) error) error {
	start := time.Now()
	if a.cfg.StatsInterval > 0 {
		statsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go a.driver.LogStats(statsCtx, a.cfg.StatsInterval)
	}

	if err := work(ctx); err != nil {
		return err
	}

	ds, ss := a.driver.Stats(), a.scanner.Stats()
	a.log.Infof("Final stats: files=%d ok/%d failed, routes=%d, adjacencies=%d, misses=%d, peerings=%d, triples=%d, took %v",
		ds["files_ok"], ds["files_failed"], ds["routes"], ss["tier1_adjacencies"], ss["classify_misses"],
		a.peerings.Len(), a.triples.Len(), time.Since(start).Round(time.Millisecond))

	// Exports still run after an interrupted live session.
	return a.finish(context.WithoutCancel(ctx))
}

// finish writes the JSON files, the optional sinks and the metrics file.
func (a *app) finish(ctx context.Context) error {
	if err := peering.WriteFile(a.cfg.PeeringOutput, a.peerings); err != nil {
		return err
	}
	a.log.Infof("Wrote %d peerings to %s", a.peerings.Len(), a.cfg.PeeringOutput)

	if err := peering.WriteFile(a.cfg.TripleOutput, a.triples); err != nil {
		return err
	}
	a.log.Infof("Wrote %d triple paths to %s", a.triples.Len(), a.cfg.TripleOutput)

	if a.cfg.MirroredOutput != "" {
		mirrored := a.peerings.Mirror()
		if err := peering.WriteFile(a.cfg.MirroredOutput, mirrored); err != nil {
			return err
		}
		a.log.Infof("Wrote %d mirrored peerings to %s", mirrored.Len(), a.cfg.MirroredOutput)
	}

	if a.cfg.Database != "" {
		a.exportDatabase(ctx)
	}
	if a.cfg.Redis != "" {
		a.exportRedis(ctx)
	}

	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			return err
		}
	}
	return nil
}

// exportDatabase copies the indices to PostgreSQL. The JSON files are the
// primary output, so a failing database only logs a warning.
func (a *app) exportDatabase(ctx context.Context) {
	w, err := database.NewPeeringWriter(ctx, a.cfg.Database, a.log)
	if err != nil {
		a.log.Warnf("Warning: Database connection failed: %v", err)
		return
	}
	w.Start()
	if err := w.Export(a.peerings, a.triples); err != nil {
		a.log.Warnf("Warning: Database export failed: %v", err)
	}
	w.Stop()
	if err := a.metrics.Register(driver.NewStatsCollector("database", w.Stats)); err != nil {
		a.log.Warnf("Warning: %v", err)
	}
}

// exportRedis publishes the indices to Redis, with the same warning-only
// failure policy as exportDatabase.
func (a *app) exportRedis(ctx context.Context) {
	p, err := database.NewRedisPublisher(ctx, a.cfg.Redis, a.cfg.RedisTTL, a.log)
	if err != nil {
		a.log.Warnf("Warning: %v", err)
		return
	}
	defer p.Close()
	if _, err := p.Publish(ctx, a.peerings, a.triples); err != nil {
		a.log.Warnf("Warning: Redis export failed: %v", err)
	}
}

func (a *app) close() {
	_ = a.log.Sync()
}
