package cleanup

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultFailuresKey = "cleanup:failures"
	DefaultMaxFailures = 1000
)

// RedisRecorder keeps the most recent cleanup failures in a capped Redis
// list, newest first.
type RedisRecorder struct {
	client *redis.Client
	key    string
	max    int64
}

// NewRedisRecorder creates a recorder. Key may be empty; max <= 0 uses
// DefaultMaxFailures.
func NewRedisRecorder(client *redis.Client, key string, max int) *RedisRecorder {
	if key == "" {
		key = DefaultFailuresKey
	}
	if max <= 0 {
		max = DefaultMaxFailures
	}
	return &RedisRecorder{client: client, key: key, max: int64(max)}
}

func (r *RedisRecorder) Record(ctx context.Context, f Failure) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, b)
	pipe.LTrim(ctx, r.key, 0, r.max-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n recorded failures, newest first.
func (r *RedisRecorder) Recent(ctx context.Context, n int64) ([]Failure, error) {
	if n <= 0 {
		return []Failure{}, nil
	}
	vals, err := r.client.LRange(ctx, r.key, 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Failure, 0, len(vals))
	for _, v := range vals {
		var f Failure
		if err := json.Unmarshal([]byte(v), &f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
