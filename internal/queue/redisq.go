package queue

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/SirClappington/tagq/internal/domain"
)

// RedisQ keeps each job queue in a Redis list: LPUSH at the head, RPOP at the tail.
type RedisQ[T domain.Step] struct{ rdb r.UniversalClient }

func NewRedis[T domain.Step](rdb r.UniversalClient) *RedisQ[T] { return &RedisQ[T]{rdb} }

// EnsureExists is a no-op: Redis creates lists on first push.
func (q *RedisQ[T]) EnsureExists(ctx context.Context, jobID string) error { return nil }

func (q *RedisQ[T]) Length(ctx context.Context, jobID string) (int64, error) {
	n, err := q.rdb.LLen(ctx, Key[T](jobID)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "llen %s", Key[T](jobID))
	}
	return n, nil
}

func (q *RedisQ[T]) Purge(ctx context.Context, jobID string) error {
	return errors.Wrapf(q.rdb.Del(ctx, Key[T](jobID)).Err(), "purge %s", Key[T](jobID))
}

func (q *RedisQ[T]) Enqueue(ctx context.Context, item T, jobID string) error {
	return q.EnqueueBatch(ctx, []T{item}, jobID)
}

func (q *RedisQ[T]) EnqueueBatch(ctx context.Context, items []T, jobID string) error {
	if len(items) == 0 {
		return nil
	}
	vals := make([]interface{}, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return errors.Wrapf(err, "encode %s", it.StepType())
		}
		vals = append(vals, b)
	}
	return errors.Wrapf(q.rdb.LPush(ctx, Key[T](jobID), vals...).Err(), "lpush %s", Key[T](jobID))
}

func (q *RedisQ[T]) Dequeue(ctx context.Context, jobID string) (*T, error) {
	raw, err := q.rdb.RPop(ctx, Key[T](jobID)).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "rpop %s", Key[T](jobID))
	}
	var it T
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, errors.Wrapf(err, "decode item from %s", Key[T](jobID))
	}
	return &it, nil
}

// DequeueBatch pipelines up to maxBatchSize independent pops. Pops that find the list
// drained by a concurrent consumer are dropped.
func (q *RedisQ[T]) DequeueBatch(ctx context.Context, maxBatchSize int, jobID string) ([]T, error) {
	if err := validateBatchSize(maxBatchSize); err != nil {
		return nil, err
	}
	key := Key[T](jobID)
	n, err := q.rdb.LLen(ctx, key).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "llen %s", key)
	}
	if n == 0 {
		return nil, nil
	}
	if n > int64(maxBatchSize) {
		n = int64(maxBatchSize)
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*r.StringCmd, n)
	for i := range cmds {
		cmds[i] = pipe.RPop(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, r.Nil) {
		return nil, errors.Wrapf(err, "rpop batch %s", key)
	}

	out := make([]T, 0, n)
	for _, cmd := range cmds {
		raw, err := cmd.Bytes()
		if errors.Is(err, r.Nil) {
			continue
		}
		if err != nil {
			return out, errors.Wrapf(err, "rpop %s", key)
		}
		var it T
		if err := json.Unmarshal(raw, &it); err != nil {
			return out, errors.Wrapf(err, "decode item from %s", key)
		}
		out = append(out, it)
	}
	return out, nil
}
