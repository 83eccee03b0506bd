package pairstate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding one field per pair.
const DefaultRedisKey = "pairtrader:pairs"

// RedisMirror stores settled pair records in a redis hash keyed by pair key.
type RedisMirror struct {
	rdb redis.Cmdable
	key string
}

func NewRedisMirror(rdb redis.Cmdable, key string) *RedisMirror {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisMirror{rdb: rdb, key: key}
}

func (r *RedisMirror) Save(ctx context.Context, ps PairState) error {
	payload, err := json.Marshal(ps)
	if err != nil {
		return fmt.Errorf("encode pair %s: %w", ps.Key(), err)
	}
	return r.rdb.HSet(ctx, r.key, ps.Key(), payload).Err()
}

func (r *RedisMirror) Delete(ctx context.Context, key string) error {
	return r.rdb.HDel(ctx, r.key, key).Err()
}

// Load returns every mirrored record and the fields that could not be decoded.
func (r *RedisMirror) Load(ctx context.Context) ([]PairState, []string, error) {
	raw, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	out := make([]PairState, 0, len(raw))
	var corrupt []string
	for field, v := range raw {
		var ps PairState
		if err := json.Unmarshal([]byte(v), &ps); err != nil {
			corrupt = append(corrupt, field)
			continue
		}
		out = append(out, ps)
	}
	return out, corrupt, nil
}
