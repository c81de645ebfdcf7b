package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "mailroom:status"

// RedisStore keeps each record as a JSON string, a sorted set ordered by
// creation time, and one set per status as the secondary index.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL (redis:// or rediss://) and pings it.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisStore{client: client, prefix: redisKeyPrefix}, nil
}

func (s *RedisStore) recordKey(id string) string {
	return fmt.Sprintf("%s:record:%s", s.prefix, id)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":by_created"
}

func (s *RedisStore) statusKey(state State) string {
	return fmt.Sprintf("%s:by_status:%s", s.prefix, state)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Upsert(ctx context.Context, record Record) error {
	if err := record.validate(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode status record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(record.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(record.CreatedAt.UnixMicro()), Member: record.ID})
		for _, state := range States() {
			if state == record.Status {
				pipe.SAdd(ctx, s.statusKey(state), record.ID)
				continue
			}
			pipe.SRem(ctx, s.statusKey(state), record.ID)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, fmt.Errorf("decode status record %q: %w", id, err)
	}
	return record, nil
}

// List orders by created_at descending, then id ascending, like the SQL
// backends. Index scores only carry microseconds, so the final order is taken
// from the decoded records.
func (s *RedisStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	if filter.Status != "" {
		members, err := s.client.SMembers(ctx, s.statusKey(filter.Status)).Result()
		if err != nil {
			return nil, err
		}
		wanted := make(map[string]struct{}, len(members))
		for _, id := range members {
			wanted[id] = struct{}{}
		}
		filtered := entries[:0]
		for _, entry := range entries {
			if _, ok := wanted[entry.Member.(string)]; ok {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}
	if filter.Limit > 0 && len(entries) > filter.Limit {
		// Keep everything tied with the last entry so the tie-break can pick.
		cut := filter.Limit
		for cut < len(entries) && entries[cut].Score == entries[filter.Limit-1].Score {
			cut++
		}
		entries = entries[:cut]
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]string, len(entries))
	keys := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.Member.(string)
		keys[i] = s.recordKey(ids[i])
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(values))
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("decode status record %q: %w", ids[i], err)
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(ids)+len(States())+1)
	for _, id := range ids {
		keys = append(keys, s.recordKey(id))
	}
	keys = append(keys, s.indexKey())
	for _, state := range States() {
		keys = append(keys, s.statusKey(state))
	}

	return s.client.Del(ctx, keys...).Err()
}
