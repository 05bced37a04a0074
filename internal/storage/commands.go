package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatchSize is the COUNT hint for SCAN when expanding key patterns.
const scanBatchSize = 100

// Get returns the string value at key. A missing key surfaces as a
// not-found error; use qerrors.IsNotFound to detect it.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var out string
	err := s.execute(ctx, "get", func(ctx context.Context) error {
		var err error
		out, err = s.client.Get(ctx, key).Result()
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Set stores a string value. A zero ttl means no expiry.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.execute(ctx, "set", func(ctx context.Context) error {
		return s.client.Set(ctx, key, value, ttl).Err()
	})
}

// SetNX stores the value only if the key does not exist. Reports whether
// the write happened. Used for lock acquisition.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.execute(ctx, "setnx", func(ctx context.Context) error {
		var err error
		ok, err = s.client.SetNX(ctx, key, value, ttl).Result()
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Incr increments the integer at key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var out int64
	err := s.execute(ctx, "incr", func(ctx context.Context) error {
		var err error
		out, err = s.client.Incr(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// Del removes keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var out int64
	err := s.execute(ctx, "del", func(ctx context.Context) error {
		var err error
		out, err = s.client.Del(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.execute(ctx, "exists", func(ctx context.Context) error {
		var err error
		n, err = s.client.Exists(ctx, key).Result()
		return err
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Expire sets a ttl in seconds resolution. Reports whether the key existed.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.execute(ctx, "expire", func(ctx context.Context) error {
		var err error
		ok, err = s.client.Expire(ctx, key, ttl).Result()
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// PExpire sets a ttl in millisecond resolution. Reports whether the key
// existed.
func (s *Store) PExpire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.execute(ctx, "pexpire", func(ctx context.Context) error {
		var err error
		ok, err = s.client.PExpire(ctx, key, ttl).Result()
		return err
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// TTL returns the remaining lifetime of a key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	var out time.Duration
	err := s.execute(ctx, "ttl", func(ctx context.Context) error {
		var err error
		out, err = s.client.TTL(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// PTTL returns the remaining lifetime of a key in millisecond resolution.
func (s *Store) PTTL(ctx context.Context, key string) (time.Duration, error) {
	var out time.Duration
	err := s.execute(ctx, "pttl", func(ctx context.Context) error {
		var err error
		out, err = s.client.PTTL(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// ScanKeys expands a key pattern using SCAN so large keyspaces are not
// blocked the way KEYS would.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.execute(ctx, "scan", func(ctx context.Context) error {
		iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// HSet writes hash fields. Values must already be serialized to strings.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.execute(ctx, "hset", func(ctx context.Context) error {
		return s.client.HSet(ctx, key, fields).Err()
	})
}

// HGet returns a single hash field. A missing field surfaces as not found.
func (s *Store) HGet(ctx context.Context, key, field string) (string, error) {
	var out string
	err := s.execute(ctx, "hget", func(ctx context.Context) error {
		var err error
		out, err = s.client.HGet(ctx, key, field).Result()
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// HGetAll returns every field of a hash. A missing key yields an empty map.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var out map[string]string
	err := s.execute(ctx, "hgetall", func(ctx context.Context) error {
		var err error
		out, err = s.client.HGetAll(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HDel removes hash fields.
func (s *Store) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.execute(ctx, "hdel", func(ctx context.Context) error {
		return s.client.HDel(ctx, key, fields...).Err()
	})
}

// HIncrBy adds incr to an integer hash field and returns the new value.
func (s *Store) HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	var out int64
	err := s.execute(ctx, "hincrby", func(ctx context.Context) error {
		var err error
		out, err = s.client.HIncrBy(ctx, key, field, incr).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// LPush prepends values to a list and returns the new length.
func (s *Store) LPush(ctx context.Context, key string, values ...interface{}) (int64, error) {
	var out int64
	err := s.execute(ctx, "lpush", func(ctx context.Context) error {
		var err error
		out, err = s.client.LPush(ctx, key, values...).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// RPush appends values to a list and returns the new length.
func (s *Store) RPush(ctx context.Context, key string, values ...interface{}) (int64, error) {
	var out int64
	err := s.execute(ctx, "rpush", func(ctx context.Context) error {
		var err error
		out, err = s.client.RPush(ctx, key, values...).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// LPop removes and returns the head of a list. Empty lists surface as not
// found.
func (s *Store) LPop(ctx context.Context, key string) (string, error) {
	var out string
	err := s.execute(ctx, "lpop", func(ctx context.Context) error {
		var err error
		out, err = s.client.LPop(ctx, key).Result()
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// RPop removes and returns the tail of a list. Empty lists surface as not
// found.
func (s *Store) RPop(ctx context.Context, key string) (string, error) {
	var out string
	err := s.execute(ctx, "rpop", func(ctx context.Context) error {
		var err error
		out, err = s.client.RPop(ctx, key).Result()
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// LRange returns list entries between start and stop inclusive.
func (s *Store) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.execute(ctx, "lrange", func(ctx context.Context) error {
		var err error
		out, err = s.client.LRange(ctx, key, start, stop).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LLen returns the list length.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	var out int64
	err := s.execute(ctx, "llen", func(ctx context.Context) error {
		var err error
		out, err = s.client.LLen(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// LRem removes count occurrences of value from a list and returns how many
// were removed.
func (s *Store) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	var out int64
	err := s.execute(ctx, "lrem", func(ctx context.Context) error {
		var err error
		out, err = s.client.LRem(ctx, key, count, value).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// LSet overwrites the list entry at index.
func (s *Store) LSet(ctx context.Context, key string, index int64, value string) error {
	return s.execute(ctx, "lset", func(ctx context.Context) error {
		return s.client.LSet(ctx, key, index, value).Err()
	})
}

// LTrim keeps only the list entries between start and stop inclusive.
func (s *Store) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.execute(ctx, "ltrim", func(ctx context.Context) error {
		return s.client.LTrim(ctx, key, start, stop).Err()
	})
}

// ZAdd inserts members into a sorted set.
func (s *Store) ZAdd(ctx context.Context, key string, members ...redis.Z) error {
	if len(members) == 0 {
		return nil
	}
	return s.execute(ctx, "zadd", func(ctx context.Context) error {
		return s.client.ZAdd(ctx, key, members...).Err()
	})
}

// ZRem removes members from a sorted set.
func (s *Store) ZRem(ctx context.Context, key string, members ...interface{}) error {
	if len(members) == 0 {
		return nil
	}
	return s.execute(ctx, "zrem", func(ctx context.Context) error {
		return s.client.ZRem(ctx, key, members...).Err()
	})
}

// ZScore returns a member's score. Missing members surface as not found.
func (s *Store) ZScore(ctx context.Context, key, member string) (float64, error) {
	var out float64
	err := s.execute(ctx, "zscore", func(ctx context.Context) error {
		var err error
		out, err = s.client.ZScore(ctx, key, member).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// ZCard returns the sorted-set cardinality.
func (s *Store) ZCard(ctx context.Context, key string) (int64, error) {
	var out int64
	err := s.execute(ctx, "zcard", func(ctx context.Context) error {
		var err error
		out, err = s.client.ZCard(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// ZRange returns members between rank start and stop, lowest score first.
func (s *Store) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.execute(ctx, "zrange", func(ctx context.Context) error {
		var err error
		out, err = s.client.ZRange(ctx, key, start, stop).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ZRevRange returns members between rank start and stop, highest score
// first.
func (s *Store) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	var out []string
	err := s.execute(ctx, "zrevrange", func(ctx context.Context) error {
		var err error
		out, err = s.client.ZRevRange(ctx, key, start, stop).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ZRangeByScore returns members whose score falls in [min, max], bounded
// by offset and count. Count zero means no limit.
func (s *Store) ZRangeByScore(ctx context.Context, key, min, max string, offset, count int64) ([]string, error) {
	var out []string
	err := s.execute(ctx, "zrangebyscore", func(ctx context.Context) error {
		var err error
		out, err = s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min:    min,
			Max:    max,
			Offset: offset,
			Count:  count,
		}).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ZRangeByScoreWithScores is ZRangeByScore returning members with their
// scores.
func (s *Store) ZRangeByScoreWithScores(ctx context.Context, key, min, max string, offset, count int64) ([]redis.Z, error) {
	var out []redis.Z
	err := s.execute(ctx, "zrangebyscore", func(ctx context.Context) error {
		var err error
		out, err = s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
			Min:    min,
			Max:    max,
			Offset: offset,
			Count:  count,
		}).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ZRemRangeByScore removes members whose score falls in [min, max] and
// returns how many were removed.
func (s *Store) ZRemRangeByScore(ctx context.Context, key, min, max string) (int64, error) {
	var out int64
	err := s.execute(ctx, "zremrangebyscore", func(ctx context.Context) error {
		var err error
		out, err = s.client.ZRemRangeByScore(ctx, key, min, max).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// SAdd inserts members into a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...interface{}) error {
	if len(members) == 0 {
		return nil
	}
	return s.execute(ctx, "sadd", func(ctx context.Context) error {
		return s.client.SAdd(ctx, key, members...).Err()
	})
}

// SRem removes members from a set.
func (s *Store) SRem(ctx context.Context, key string, members ...interface{}) error {
	if len(members) == 0 {
		return nil
	}
	return s.execute(ctx, "srem", func(ctx context.Context) error {
		return s.client.SRem(ctx, key, members...).Err()
	})
}

// SMembers returns every member of a set.
func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var out []string
	err := s.execute(ctx, "smembers", func(ctx context.Context) error {
		var err error
		out, err = s.client.SMembers(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SIsMember reports set membership.
func (s *Store) SIsMember(ctx context.Context, key string, member interface{}) (bool, error) {
	var out bool
	err := s.execute(ctx, "sismember", func(ctx context.Context) error {
		var err error
		out, err = s.client.SIsMember(ctx, key, member).Result()
		return err
	})
	if err != nil {
		return false, err
	}
	return out, nil
}

// SCard returns the set cardinality.
func (s *Store) SCard(ctx context.Context, key string) (int64, error) {
	var out int64
	err := s.execute(ctx, "scard", func(ctx context.Context) error {
		var err error
		out, err = s.client.SCard(ctx, key).Result()
		return err
	})
	if err != nil {
		return 0, err
	}
	return out, nil
}

// Eval runs a Lua script. The op names the calling operation for error
// context.
func (s *Store) Eval(ctx context.Context, op, script string, keys []string, args ...interface{}) (interface{}, error) {
	var out interface{}
	err := s.execute(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = s.client.Eval(ctx, script, keys, args...).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Publish sends a message to a pub/sub channel.
func (s *Store) Publish(ctx context.Context, channel string, message interface{}) error {
	return s.execute(ctx, "publish", func(ctx context.Context) error {
		return s.client.Publish(ctx, channel, message).Err()
	})
}

// Subscribe opens a pub/sub subscription. The subscription is long-lived
// and bypasses the command funnel; the caller owns it and must close it.
func (s *Store) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return s.client.Subscribe(ctx, channels...)
}
