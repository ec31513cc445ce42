// Package driver fans RIB parsing out over a bounded pool of workers, feeding
// every decoded route into one shared path scanner.
package driver

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/mrt"
)

// recordQueue is the number of raw records buffered per worker when a single
// file is parsed with record-level parallelism.
const recordQueue = 64

// RouteScanner consumes decoded routes. It must be safe for concurrent use.
type RouteScanner interface {
	Scan(route *models.Route)
}

// Sizer reports the number of stored entries of an index.
type Sizer interface {
	Len() int
}

// Options configure a Driver.
type Options struct {
	// Workers bounds the number of files, or records of a single file,
	// processed at once. Values below 1 mean 1.
	Workers int
	// Metrics is optional.
	Metrics *Metrics
	// Peerings and Triples are only used for progress logging and may be nil.
	Peerings Sizer
	Triples  Sizer
	Logger   *zap.SugaredLogger
}

// Driver parses RIB dumps and scans their routes.
type Driver struct {
	scanner  RouteScanner
	workers  int
	metrics  *Metrics
	peerings Sizer
	triples  Sizer
	log      *zap.SugaredLogger

	// Stats
	filesOK          uint64
	filesFailed      uint64
	records          uint64
	routes           uint64
	entriesSkipped   uint64
	recordsMalformed uint64
}

// New creates a driver feeding scanner.
func New(scanner RouteScanner, opts Options) *Driver {
	d := &Driver{
		scanner:  scanner,
		workers:  opts.Workers,
		metrics:  opts.Metrics,
		peerings: opts.Peerings,
		triples:  opts.Triples,
		log:      opts.Logger,
	}
	if d.workers < 1 {
		d.workers = 1
	}
	if d.log == nil {
		d.log = zap.NewNop().Sugar()
	}
	return d
}

// FileError names a file whose processing failed.
type FileError struct {
	File string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Report summarises a run over one or more files.
type Report struct {
	Files  int
	Failed []FileError
}

// OK reports whether every file was parsed.
func (r *Report) OK() bool {
	return len(r.Failed) == 0
}

// ParseFiles parses every file and scans its routes. Files are parsed in
// parallel, one worker per file; a single file is instead split at record
// level. A file that fails, even by panicking, is recorded in the report and
// never stops the other files.
func (d *Driver) ParseFiles(ctx context.Context, files []string) *Report {
	report := &Report{Files: len(files)}
	d.log.Infof("Going to parse %d RIB files with %d workers", len(files), d.workers)
	d.log.Debugf("RIB files: %v", files)

	if len(files) == 1 {
		if err := d.ParseFileThreaded(ctx, files[0]); err != nil {
			report.Failed = append(report.Failed, FileError{File: files[0], Err: err})
		}
		return report
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(d.workers)
	for _, file := range files {
		file := file
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				err = d.ParseFile(ctx, file)
			} else {
				d.fileDone(file, err)
			}
			if err != nil {
				mu.Lock()
				report.Failed = append(report.Failed, FileError{File: file, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].File < report.Failed[j].File
	})
	return report
}

// ParseFile parses one file sequentially.
func (d *Driver) ParseFile(ctx context.Context, file string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while parsing: %v", r)
		}
		d.fileDone(file, err)
	}()

	d.log.Infof("Parsing %s", file)
	reader, err := mrt.Open(file)
	if err != nil {
		return err
	}
	defer reader.Close()
	d.log.Debugw("Peer table", "file", file, "peers", len(reader.Peers()))

	dec := reader.Decoder()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := d.handle(dec, rec); err != nil {
			return err
		}
	}
}

// ParseFileThreaded parses one file with a sequential reader feeding a pool
// of decoding workers.
func (d *Driver) ParseFileThreaded(ctx context.Context, file string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while parsing: %v", r)
		}
		d.fileDone(file, err)
	}()

	d.log.Infof("Parsing %s with %d workers", file, d.workers)
	reader, err := mrt.Open(file)
	if err != nil {
		return err
	}
	defer reader.Close()
	d.log.Debugw("Peer table", "file", file, "peers", len(reader.Peers()))

	dec := reader.Decoder()
	records := make(chan *mrt.Record, d.workers*recordQueue)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		defer close(records)
		defer recoverInto(&err)
		for {
			rec, err := reader.Next()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case records <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	for i := 0; i < d.workers; i++ {
		g.Go(func() (err error) {
			defer recoverInto(&err)
			for rec := range records {
				if gctx.Err() != nil {
					// Drain so the reader is never left blocked.
					continue
				}
				if err := d.handle(dec, rec); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ScanStream scans routes from a live feed until it is closed. It uses the
// same worker count as file parsing.
func (d *Driver) ScanStream(routes <-chan models.Route) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for route := range routes {
				route := route
				atomic.AddUint64(&d.routes, 1)
				if d.metrics != nil {
					d.metrics.Routes.Inc()
				}
				d.scanner.Scan(&route)
			}
		}()
	}
	wg.Wait()
}

// handle decodes one record and scans its routes. Only errors that make the
// rest of the file untrustworthy are returned.
func (d *Driver) handle(dec *mrt.Decoder, rec *mrt.Record) error {
	routes, skipped, err := dec.Decode(rec)
	if errors.Is(err, mrt.ErrMalformedRecord) {
		atomic.AddUint64(&d.recordsMalformed, 1)
		if d.metrics != nil {
			d.metrics.MalformedRecord.Inc()
		}
		d.log.Debugf("Skipping record: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	atomic.AddUint64(&d.records, 1)
	if d.metrics != nil {
		d.metrics.Records.Inc()
	}

	for _, s := range skipped {
		atomic.AddUint64(&d.entriesSkipped, 1)
		if d.metrics != nil {
			d.metrics.SkippedEntries.WithLabelValues(skipReason(s.Err)).Inc()
		}
		d.log.Debugf("Skipping entry for %s from peer %d: %v", s.Prefix, s.PeerIndex, s.Err)
	}

	for i := range routes {
		d.scanner.Scan(&routes[i])
	}
	atomic.AddUint64(&d.routes, uint64(len(routes)))
	if d.metrics != nil {
		d.metrics.Routes.Add(float64(len(routes)))
	}
	return nil
}

func (d *Driver) fileDone(file string, err error) {
	if err != nil {
		atomic.AddUint64(&d.filesFailed, 1)
		if d.metrics != nil {
			d.metrics.Files.WithLabelValues("failed").Inc()
		}
		d.log.Errorw("Failed to parse RIB file", "file", file, "err", err)
		return
	}
	atomic.AddUint64(&d.filesOK, 1)
	if d.metrics != nil {
		d.metrics.Files.WithLabelValues("ok").Inc()
	}
	d.log.Infof("Finished %s", file)
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = errors.Errorf("panic while parsing: %v", r)
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, mrt.ErrMissingASPath):
		return "missing_as_path"
	case errors.Is(err, mrt.ErrMissingNextHop):
		return "missing_next_hop"
	case errors.Is(err, mrt.ErrUnknownPeer):
		return "unknown_peer"
	default:
		return "other"
	}
}

// Stats returns current statistics.
func (d *Driver) Stats() map[string]uint64 {
	return map[string]uint64{
		"files_ok":          atomic.LoadUint64(&d.filesOK),
		"files_failed":      atomic.LoadUint64(&d.filesFailed),
		"records":           atomic.LoadUint64(&d.records),
		"routes":            atomic.LoadUint64(&d.routes),
		"entries_skipped":   atomic.LoadUint64(&d.entriesSkipped),
		"records_malformed": atomic.LoadUint64(&d.recordsMalformed),
	}
}

// LogStats logs progress every interval until ctx is done.
func (d *Driver) LogStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastRoutes := uint64(0)
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		currentRoutes := atomic.LoadUint64(&d.routes)
		elapsed := time.Since(lastTime).Seconds()
		rate := float64(currentRoutes-lastRoutes) / elapsed

		d.log.Infof("STATS: files=%d/%d failed, records=%d, routes=%d (%.0f/s), peerings=%d, triples=%d",
			atomic.LoadUint64(&d.filesOK), atomic.LoadUint64(&d.filesFailed),
			atomic.LoadUint64(&d.records), currentRoutes, rate,
			size(d.peerings), size(d.triples))

		lastRoutes = currentRoutes
		lastTime = time.Now()
	}
}

func size(s Sizer) int {
	if s == nil {
		return 0
	}
	return s.Len()
}
