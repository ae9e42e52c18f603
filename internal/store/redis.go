package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phitk/render/internal/model"
)

const redisIndexKey = "jobs"

// RedisStore keeps each job as JSON under job:<id> with a TTL and indexes
// ids in a sorted set.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: client, ttl: ttl}
}

func jobKey(id uint32) string {
	return fmt.Sprintf("job:%d", id)
}

func (s *RedisStore) Save(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, s.ttl)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(job.ID), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id uint32) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns the indexed jobs; ids whose snapshot expired are dropped
// from the index.
func (s *RedisStore) List(ctx context.Context) ([]*model.Job, error) {
	ids, err := s.redis.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "job:" + id
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var out []*model.Job
	var expired []interface{}
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var job model.Job
		if err := json.Unmarshal([]byte(str), &job); err != nil {
			return nil, fmt.Errorf("job %s: %w", ids[i], err)
		}
		out = append(out, &job)
	}
	if len(expired) > 0 {
		_ = s.redis.ZRem(ctx, redisIndexKey, expired...).Err()
	}
	sortByID(out)
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id uint32) error {
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.ZRem(ctx, redisIndexKey, strconv.FormatUint(uint64(id), 10))
	_, err := pipe.Exec(ctx)
	return err
}

// Close leaves the shared client open.
func (s *RedisStore) Close() error { return nil }
