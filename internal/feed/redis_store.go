package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caesar-terminal/swapdesk/internal/pricing"
)

// DefaultRedisKey is the hash holding the latest observation per asset.
const DefaultRedisKey = "swapdesk:prices"

// RedisClient is the subset of *redis.Client the store uses.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisStore caches the latest observation of every asset so a restarted
// desk can serve prices before its first successful fetch. Schema:
//
//	Key:    {key}
//	Fields: {asset} -> {"currency","price","date"} record JSON
//	        _ts     -> unix millis of the last save
//
// Unchanged observations are not rewritten.
type RedisStore struct {
	client RedisClient
	key    string

	mu   sync.Mutex
	last map[string]string
}

// NewRedisStore wraps client. An empty key uses DefaultRedisKey.
func NewRedisStore(client RedisClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, last: make(map[string]string)}
}

// Save writes every observation whose encoding differs from the last save.
func (s *RedisStore) Save(ctx context.Context, obs []pricing.Observation, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values := make([]any, 0, 2*len(obs)+2)
	pending := make(map[string]string, len(obs))
	for _, o := range pricing.Latest(obs) {
		raw, err := json.Marshal(pricing.RecordOf(o))
		if err != nil {
			return fmt.Errorf("feed: redis encode %s: %w", o.Asset, err)
		}
		if s.last[o.Asset] == string(raw) {
			continue
		}
		pending[o.Asset] = string(raw)
		values = append(values, o.Asset, string(raw))
	}
	if len(values) == 0 {
		return nil
	}
	values = append(values, "_ts", strconv.FormatInt(at.UnixMilli(), 10))

	if err := s.client.HSet(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("feed: redis hset %s: %w", s.key, err)
	}
	for asset, raw := range pending {
		s.last[asset] = raw
	}
	return nil
}

// Load reads the cached observations sorted by asset. Undecodable fields
// are skipped.
func (s *RedisStore) Load(ctx context.Context) ([]pricing.Observation, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("feed: redis hgetall %s: %w", s.key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]pricing.Record, 0, len(fields))
	for field, raw := range fields {
		if field == "_ts" {
			continue
		}
		var rec pricing.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		s.last[field] = raw
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Currency < records[j].Currency })
	return pricing.Observations(records), nil
}
