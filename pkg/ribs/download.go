package ribs

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Downloader fetches dumps in parallel.
type Downloader struct {
	client  *http.Client
	workers int
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewDownloader creates a downloader running at most workers transfers at
// once and starting at most perSecond transfers per second. perSecond <= 0
// disables pacing.
func NewDownloader(client *http.Client, workers int, perSecond float64, log *zap.SugaredLogger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	if workers < 1 {
		workers = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Downloader{
		client:  client,
		workers: workers,
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// DownloadError names a dump that could not be fetched.
type DownloadError struct {
	File File
	Err  error
}

func (e DownloadError) Error() string {
	return e.File.URL + ": " + e.Err.Error()
}

// Download fetches every file not already on disk. It returns the local
// names of all files available afterwards, sorted, and the failed downloads.
func (d *Downloader) Download(ctx context.Context, files []File) ([]string, []DownloadError) {
	var (
		mu        sync.Mutex
		available []string
		failed    []DownloadError
		g         errgroup.Group
	)
	g.SetLimit(d.workers)

	for _, f := range files {
		f := f
		g.Go(func() error {
			err := d.fetch(ctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.log.Errorw("Download failed", "url", f.URL, "err", err)
				failed = append(failed, DownloadError{File: f, Err: err})
				return nil
			}
			available = append(available, f.Filename)
			return nil
		})
	}
	g.Wait()

	sort.Strings(available)
	return available, failed
}

func (d *Downloader) fetch(ctx context.Context, f File) error {
	if _, err := os.Stat(f.Filename); err == nil {
		d.log.Debugf("Not GETting URL %s, output file already exists %s", f.URL, f.Filename)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.Filename), 0o755); err != nil {
		return errors.Wrap(err, "creating download dir")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	d.log.Debugf("GET'ing URL %s", f.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	res, err := d.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "GET")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return errors.Errorf("GET returned %s", res.Status)
	}

	// A partial dump must never sit under the final name.
	tmp, err := os.CreateTemp(filepath.Dir(f.Filename), filepath.Base(f.Filename)+".part-*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, res.Body)
	if err != nil {
		tmp.Close()
		return errors.Wrap(err, "reading body")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmp.Name(), f.Filename); err != nil {
		return errors.Wrap(err, "renaming temp file")
	}
	d.log.Infof("Wrote %d bytes to file %s", n, f.Filename)
	return nil
}
