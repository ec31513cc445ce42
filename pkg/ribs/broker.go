// Package ribs finds and downloads the daily RIB dumps of the public route
// collectors.
package ribs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultBrokerURL is the BGPKIT broker search endpoint.
const DefaultBrokerURL = "https://api.bgpkit.com/v3/broker/search"

const pageSize = 1000

// Item is one dump listed by the broker.
type Item struct {
	TsStart     string `json:"ts_start"`
	TsEnd       string `json:"ts_end"`
	CollectorID string `json:"collector_id"`
	DataType    string `json:"data_type"`
	URL         string `json:"url"`
	RoughSize   int64  `json:"rough_size"`
	ExactSize   int64  `json:"exact_size"`
}

type searchResponse struct {
	Count    int     `json:"count"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Error    *string `json:"error"`
	Data     []Item  `json:"data"`
}

// File is a dump to fetch and where to store it.
type File struct {
	URL         string
	CollectorID string
	Filename    string
}

// Broker queries the BGPKIT broker.
type Broker struct {
	url    string
	client *http.Client
	log    *zap.SugaredLogger
}

// NewBroker creates a broker client. An empty url means DefaultBrokerURL.
func NewBroker(brokerURL string, client *http.Client, log *zap.SugaredLogger) *Broker {
	if brokerURL == "" {
		brokerURL = DefaultBrokerURL
	}
	if client == nil {
		client = &http.Client{Timeout: time.Minute}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Broker{url: brokerURL, client: client, log: log}
}

// DailyRIBs lists the RIB dumps taken at midnight on date (YYYY-MM-DD).
func (b *Broker) DailyRIBs(ctx context.Context, date string) ([]Item, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, errors.Wrapf(err, "invalid date %q", date)
	}

	var items []Item
	for page := 1; ; page++ {
		resp, err := b.search(ctx, date, page)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Data {
			if midnight(item.TsStart) {
				items = append(items, item)
			}
		}
		if len(resp.Data) < pageSize {
			break
		}
	}
	b.log.Debugf("Found %d RIB files for %s", len(items), date)
	return items, nil
}

func (b *Broker) search(ctx context.Context, date string, page int) (*searchResponse, error) {
	query := url.Values{}
	query.Set("ts_start", date)
	query.Set("ts_end", date)
	query.Set("data_type", "rib")
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url+"?"+query.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building broker request")
	}
	res, err := b.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "querying broker")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, errors.Errorf("broker returned %s", res.Status)
	}

	var resp searchResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, errors.Wrap(err, "decoding broker response")
	}
	if resp.Error != nil && *resp.Error != "" {
		return nil, errors.Errorf("broker error: %s", *resp.Error)
	}
	return &resp, nil
}

// midnight reports whether a broker timestamp is at 00:00.
func midnight(ts string) bool {
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Hour() == 0 && t.Minute() == 0
		}
	}
	return false
}

// Files maps broker items to local file names under dir.
func Files(items []Item, dir string) []File {
	files := make([]File, 0, len(items))
	for _, item := range items {
		files = append(files, File{
			URL:         item.URL,
			CollectorID: item.CollectorID,
			Filename:    LocalName(dir, item.CollectorID, item.URL),
		})
	}
	return files
}

// LocalName returns where a dump is stored. The collector project is
// prepended unless the collector id already starts with it, so dumps with
// the same basename from different collectors never collide:
// rrc00 -> ris.rrc00.bview..., route-views2 -> route-views2.rib...,
// amsix -> route-views.amsix.rib...
func LocalName(dir, collectorID, rawURL string) string {
	basename := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		basename = u.Path
	}
	basename = path.Base(basename)

	source := "route-views"
	if strings.HasPrefix(collectorID, "rrc") {
		source = "ris"
	}
	if strings.HasPrefix(collectorID, source) {
		return filepath.Join(dir, collectorID+"."+basename)
	}
	return filepath.Join(dir, source+"."+collectorID+"."+basename)
}
