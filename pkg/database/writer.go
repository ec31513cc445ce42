// Package database exports the peering and triple indices to PostgreSQL and
// Redis.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/models"
	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/peering"
)

const (
	batchSize     = 500
	batchInterval = 2 * time.Second
	queueSize     = 10000
)

// Schema creates the export tables. Both are keyed like their index, so
// re-exporting a day only adds what is new.
const Schema = `
CREATE TABLE IF NOT EXISTS tier1_peerings (
	local_asn     BIGINT      NOT NULL,
	peer_asn      BIGINT      NOT NULL,
	region        TEXT        NOT NULL,
	relationship  TEXT        NOT NULL,
	ip_version    TEXT        NOT NULL,
	prefix        TEXT        NOT NULL,
	as_path       BIGINT[]    NOT NULL,
	filename      TEXT        NOT NULL,
	observation   JSONB       NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (local_asn, peer_asn, region, relationship, ip_version)
);
CREATE TABLE IF NOT EXISTS tier1_triple_paths (
	asn1          BIGINT      NOT NULL,
	asn2          BIGINT      NOT NULL,
	asn3          BIGINT      NOT NULL,
	prefix        TEXT        NOT NULL,
	as_path       BIGINT[]    NOT NULL,
	filename      TEXT        NOT NULL,
	observation   JSONB       NOT NULL,
	first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (asn1, asn2, asn3)
);`

const (
	insertPeering = `
		INSERT INTO tier1_peerings (
			local_asn, peer_asn, region, relationship, ip_version,
			prefix, as_path, filename, observation
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`

	insertTriple = `
		INSERT INTO tier1_triple_paths (
			asn1, asn2, asn3, prefix, as_path, filename, observation
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`
)

// row is one pending insert.
type row struct {
	query string
	args  []interface{}
}

// PeeringWriter batches index entries into PostgreSQL. Rows that already
// exist are left untouched, so the first exported exemplar wins.
type PeeringWriter struct {
	db      *sql.DB
	queue   chan row
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
	log     *zap.SugaredLogger

	// Stats, owned by the writer goroutine until Stop returns.
	rowsWritten    uint64
	rowsExisting   uint64
	batchesWritten uint64
	batchesFailed  uint64
}

// NewPeeringWriter connects to databaseURL and creates the export tables.
func NewPeeringWriter(ctx context.Context, databaseURL string, log *zap.SugaredLogger) (*PeeringWriter, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating tables")
	}

	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Info("Connected to PostgreSQL database")

	return &PeeringWriter{
		db:    db,
		queue: make(chan row, queueSize),
		done:  make(chan struct{}),
		log:   log,
	}, nil
}

// Start begins the background writer goroutine.
func (w *PeeringWriter) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writerLoop()
	w.log.Debug("Database writer started")
}

// Stop flushes queued rows, waits for them to be written and closes the
// database.
func (w *PeeringWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.db.Close()
	w.log.Infof("Database writer stopped (written=%d, existing=%d, batches=%d, failed batches=%d)",
		w.rowsWritten, w.rowsExisting, w.batchesWritten, w.batchesFailed)
}

// WritePeering queues a peering for export. It blocks while the queue is full.
func (w *PeeringWriter) WritePeering(e peering.Entry) error {
	r, err := peeringRow(e)
	if err != nil {
		return err
	}
	w.queue <- r
	return nil
}

// WriteTriple queues a triple path for export. It blocks while the queue is
// full.
func (w *PeeringWriter) WriteTriple(e peering.TripleEntry) error {
	r, err := tripleRow(e)
	if err != nil {
		return err
	}
	w.queue <- r
	return nil
}

// Export queues every entry of both indices.
func (w *PeeringWriter) Export(peerings *peering.Index, triples *peering.TripleIndex) error {
	for _, e := range peerings.Entries() {
		if err := w.WritePeering(e); err != nil {
			return err
		}
	}
	for _, e := range triples.Entries() {
		if err := w.WriteTriple(e); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns writer statistics. Only stable after Stop.
func (w *PeeringWriter) Stats() map[string]uint64 {
	return map[string]uint64{
		"rows_written":    w.rowsWritten,
		"rows_existing":   w.rowsExisting,
		"batches_written": w.batchesWritten,
		"batches_failed":  w.batchesFailed,
		"queue_len":       uint64(len(w.queue)),
	}
}

func (w *PeeringWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]row, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			// Flush remaining rows
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
					if len(batch) >= batchSize {
						w.writeBatch(batch)
						batch = batch[:0]
					}
				default:
					w.writeBatch(batch)
					return
				}
			}
		}
	}
}

func (w *PeeringWriter) writeBatch(batch []row) {
	if len(batch) == 0 {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		w.batchesFailed++
		w.log.Errorf("Failed to begin transaction: %v", err)
		return
	}
	defer tx.Rollback()

	var written, existing uint64
	for _, r := range batch {
		res, err := tx.Exec(r.query, r.args...)
		if err != nil {
			w.batchesFailed++
			w.log.Errorf("Failed to insert row: %v", err)
			return
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		} else {
			existing++
		}
	}

	if err := tx.Commit(); err != nil {
		w.batchesFailed++
		w.log.Errorf("Failed to commit batch: %v", err)
		return
	}

	w.rowsWritten += written
	w.rowsExisting += existing
	w.batchesWritten++
}

func peeringRow(e peering.Entry) (row, error) {
	obs, err := json.Marshal(e.Observation)
	if err != nil {
		return row{}, errors.Wrapf(err, "encoding peering AS%d -> AS%d", e.Key.Local, e.Key.Peer)
	}
	return row{
		query: insertPeering,
		args: []interface{}{
			int64(e.Key.Local),
			int64(e.Key.Peer),
			e.Key.Region.String(),
			e.Key.Relationship.String(),
			e.Key.Family.String(),
			e.Observation.Prefix.String(),
			pq.Array(pathArray(e.Observation.ASPath)),
			e.Observation.Filename,
			obs,
		},
	}, nil
}

func tripleRow(e peering.TripleEntry) (row, error) {
	obs, err := json.Marshal(e.Observation)
	if err != nil {
		return row{}, errors.Wrapf(err, "encoding triple %s", e.Triple)
	}
	return row{
		query: insertTriple,
		args: []interface{}{
			int64(e.Triple[0]),
			int64(e.Triple[1]),
			int64(e.Triple[2]),
			e.Observation.Prefix.String(),
			pq.Array(pathArray(e.Observation.ASPath)),
			e.Observation.Filename,
			obs,
		},
	}, nil
}

func pathArray(path []models.ASN) []int64 {
	out := make([]int64, len(path))
	for i, asn := range path {
		out[i] = int64(asn)
	}
	return out
}
