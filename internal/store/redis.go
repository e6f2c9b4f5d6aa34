package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	herrors "github.com/copyleftdev/hypertune/internal/errors"
	"github.com/copyleftdev/hypertune/internal/optimization"
)

const (
	runIndexKey = "hypertune:runs"
	defaultTTL  = 7 * 24 * time.Hour
)

func runKey(id string) string         { return fmt.Sprintf("hypertune:run:%s", id) }
func observationsKey(id string) string { return fmt.Sprintf("hypertune:run:%s:observations", id) }

// RedisStore implements Store on Redis so several service instances can share runs.
//
// Layout:
//   - hypertune:run:{id}               JSON-encoded Run
//   - hypertune:run:{id}:observations  list of JSON-encoded observations
//   - hypertune:runs                   sorted set of run IDs scored by creation time
//
// Run and observation keys expire after the configured TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore connects to Redis and returns a store. A zero ttl uses seven days.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, herrors.Wrapf(err, "failed to connect to redis at %s", addr).
			WithComponent("store").WithOperation("NewRedisStore")
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) CreateRun(ctx context.Context, run *Run) error {
	if err := validateID(run.ID); err != nil {
		return err
	}
	data, err := json.Marshal(run)
	if err != nil {
		return herrors.Wrap(err, "failed to marshal run").WithComponent("store").WithOperation("CreateRun")
	}

	ok, err := r.client.SetNX(ctx, runKey(run.ID), data, r.ttl).Result()
	if err != nil {
		return herrors.Wrap(err, "failed to store run in redis").WithComponent("store").WithOperation("CreateRun")
	}
	if !ok {
		return ErrExists
	}

	err = r.client.ZAdd(ctx, runIndexKey, redis.Z{
		Score:  float64(run.CreatedAt.UnixNano()),
		Member: run.ID,
	}).Err()
	if err != nil {
		return herrors.Wrap(err, "failed to index run").WithComponent("store").WithOperation("CreateRun")
	}
	return nil
}

func (r *RedisStore) UpdateRun(ctx context.Context, run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return herrors.Wrap(err, "failed to marshal run").WithComponent("store").WithOperation("UpdateRun")
	}

	err = r.client.SetArgs(ctx, runKey(run.ID), data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &NotFoundError{ID: run.ID}
		}
		return herrors.Wrap(err, "failed to update run in redis").WithComponent("store").WithOperation("UpdateRun")
	}
	return nil
}

func (r *RedisStore) GetRun(ctx context.Context, id string) (*Run, error) {
	data, err := r.client.Get(ctx, runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &NotFoundError{ID: id}
		}
		return nil, herrors.Wrap(err, "failed to get run from redis").WithComponent("store").WithOperation("GetRun")
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, herrors.Wrap(err, "failed to unmarshal run").WithComponent("store").WithOperation("GetRun")
	}
	return &run, nil
}

func (r *RedisStore) ListRuns(ctx context.Context) ([]*Run, error) {
	ids, err := r.client.ZRange(ctx, runIndexKey, 0, -1).Result()
	if err != nil {
		return nil, herrors.Wrap(err, "failed to list runs").WithComponent("store").WithOperation("ListRuns")
	}
	if len(ids) == 0 {
		return []*Run{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = runKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, herrors.Wrap(err, "failed to load runs").WithComponent("store").WithOperation("ListRuns")
	}

	runs := make([]*Run, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		var run Run
		if err := json.Unmarshal([]byte(s), &run); err != nil {
			return nil, herrors.Wrap(err, "failed to unmarshal run").WithComponent("store").WithOperation("ListRuns")
		}
		runs = append(runs, &run)
	}

	if len(expired) > 0 {
		_ = r.client.ZRem(ctx, runIndexKey, expired...).Err()
	}
	sortRuns(runs)
	return runs, nil
}

func (r *RedisStore) AppendObservation(ctx context.Context, id string, obs optimization.Observation) error {
	data, err := json.Marshal(obs)
	if err != nil {
		return herrors.Wrap(err, "failed to marshal observation").WithComponent("store").WithOperation("AppendObservation")
	}

	n, err := r.client.Exists(ctx, runKey(id)).Result()
	if err != nil {
		return herrors.Wrap(err, "failed to check run").WithComponent("store").WithOperation("AppendObservation")
	}
	if n == 0 {
		return &NotFoundError{ID: id}
	}

	key := observationsKey(id)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return herrors.Wrap(err, "failed to append observation").WithComponent("store").WithOperation("AppendObservation")
	}
	return nil
}

func (r *RedisStore) Observations(ctx context.Context, id string) ([]optimization.Observation, error) {
	items, err := r.client.LRange(ctx, observationsKey(id), 0, -1).Result()
	if err != nil {
		return nil, herrors.Wrap(err, "failed to read observations").WithComponent("store").WithOperation("Observations")
	}

	if len(items) == 0 {
		if _, err := r.GetRun(ctx, id); err != nil {
			return nil, err
		}
	}

	out := make([]optimization.Observation, len(items))
	for i, item := range items {
		if err := json.Unmarshal([]byte(item), &out[i]); err != nil {
			return nil, herrors.Wrap(err, "failed to unmarshal observation").WithComponent("store").WithOperation("Observations")
		}
	}
	return out, nil
}

// Close closes the Redis client connection. It is idempotent.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return redis.ErrClosed
	}
	return r.client.Ping(ctx).Err()
}
