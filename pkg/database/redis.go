package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hervehildenbrand/bgp-t1-peerings/pkg/peering"
)

const (
	// DefaultTTL is how long exported entries live in Redis.
	DefaultTTL = 48 * time.Hour

	peeringKeyPrefix = "t1:peering:"
	triplesKey       = "t1:triples"
	pipelineSize     = 1000
)

// RedisPublisher exports the indices to Redis hashes. Each field is set only
// if absent, so the first exemplar published for a key wins.
//
// Layout:
//
//	t1:peering:<local>:<peer>  field <region>|<relationship>|<family>  -> observation JSON
//	t1:triples                 field <asn1>,<asn2>,<asn3>              -> observation JSON
type RedisPublisher struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
}

// NewRedisPublisher connects to redisURL (redis://host:port/db).
func NewRedisPublisher(ctx context.Context, redisURL string, ttl time.Duration, log *zap.SugaredLogger) (*RedisPublisher, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid Redis URL")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "Redis connection failed")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Infof("Connected to Redis: %s", opt.Addr)
	return &RedisPublisher{client: client, ttl: ttl, log: log}, nil
}

// PeeringField returns the hash key and field of a peering.
func PeeringField(k peering.Key) (key, field string) {
	return fmt.Sprintf("%s%d:%d", peeringKeyPrefix, k.Local, k.Peer),
		fmt.Sprintf("%s|%s|%s", k.Region, k.Relationship, k.Family)
}

// TripleField returns the hash key and field of a triple path.
func TripleField(e peering.TripleEntry) (key, field string) {
	return triplesKey, e.Triple.String()
}

// Publish writes both indices and returns how many fields were new.
func (p *RedisPublisher) Publish(ctx context.Context, peerings *peering.Index, triples *peering.TripleIndex) (int, error) {
	type field struct {
		key, name string
		value     []byte
	}

	var fields []field
	for _, e := range peerings.Entries() {
		value, err := json.Marshal(e.Observation)
		if err != nil {
			return 0, errors.Wrapf(err, "encoding peering AS%d -> AS%d", e.Key.Local, e.Key.Peer)
		}
		key, name := PeeringField(e.Key)
		fields = append(fields, field{key: key, name: name, value: value})
	}
	for _, e := range triples.Entries() {
		value, err := json.Marshal(e.Observation)
		if err != nil {
			return 0, errors.Wrapf(err, "encoding triple %s", e.Triple)
		}
		key, name := TripleField(e)
		fields = append(fields, field{key: key, name: name, value: value})
	}

	stored := 0
	for start := 0; start < len(fields); start += pipelineSize {
		end := start + pipelineSize
		if end > len(fields) {
			end = len(fields)
		}

		pipe := p.client.Pipeline()
		cmds := make([]*redis.BoolCmd, 0, end-start)
		keys := make(map[string]struct{})
		for _, f := range fields[start:end] {
			cmds = append(cmds, pipe.HSetNX(ctx, f.key, f.name, f.value))
			keys[f.key] = struct{}{}
		}
		for key := range keys {
			pipe.Expire(ctx, key, p.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return stored, errors.Wrap(err, "publishing to Redis")
		}
		for _, cmd := range cmds {
			if cmd.Val() {
				stored++
			}
		}
	}

	p.log.Infof("Published %d new of %d entries to Redis", stored, len(fields))
	return stored, nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
