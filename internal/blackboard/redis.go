package blackboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"background-agents/internal/core"
)

const notifPrefix = "blackboard:update:"

// RedisStore keeps each key as a hash of {value, version}. Every write is
// announced on notifPrefix+key.
type RedisStore struct {
	mu      sync.Mutex
	client  *redis.Client
	options *redis.Options
	logger  *log.Logger
}

// NewRedisStore returns a new RedisStore with given options.
func NewRedisStore(opts *redis.Options, logger *log.Logger) *RedisStore {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisStore{
		client:  redis.NewClient(opts),
		options: opts,
		logger:  logger,
	}
}

// conn pings Redis, reconnecting if needed, and returns the live client.
func (s *RedisStore) conn(ctx context.Context) *redis.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Println("blackboard reconnecting to Redis", err)
		s.client = redis.NewClient(s.options)
	}
	return s.client
}

// Put stores a value with optional TTL and returns the new version.
func (s *RedisStore) Put(ctx context.Context, key string, value interface{}, ttl time.Duration) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("blackboard: encode %s: %w", key, err)
	}
	client := s.conn(ctx)

	var ver int64
	err = client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, "version").Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		ver = cur + 1
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, "value", data, "version", ver)
			if ttl > 0 {
				pipe.Expire(ctx, key, ttl)
			}
			return nil
		})
		return err
	}, key)
	if err != nil {
		return 0, err
	}
	s.notify(ctx, client, core.StateUpdate{Key: key, Value: value, Version: ver})
	return ver, nil
}

func (s *RedisStore) notify(ctx context.Context, client *redis.Client, upd core.StateUpdate) {
	payload, err := json.Marshal(upd)
	if err != nil {
		return
	}
	if err := client.Publish(ctx, notifPrefix+upd.Key, payload).Err(); err != nil {
		s.logger.Println("blackboard notify error", upd.Key, err)
	}
}

func (s *RedisStore) raw(ctx context.Context, key string) (string, int64, bool, error) {
	res, err := s.conn(ctx).HGetAll(ctx, key).Result()
	if err != nil {
		return "", 0, false, err
	}
	if len(res) == 0 {
		return "", 0, false, nil
	}
	ver, err := parseInt(res["version"])
	if err != nil {
		return "", 0, false, fmt.Errorf("blackboard: version of %s: %w", key, err)
	}
	return res["value"], ver, true, nil
}

// Get retrieves a value and its version. A missing key returns (nil, 0, nil).
func (s *RedisStore) Get(ctx context.Context, key string) (interface{}, int64, error) {
	data, ver, ok, err := s.raw(ctx, key)
	if err != nil || !ok {
		return nil, 0, err
	}
	var v interface{}
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, 0, err
	}
	return v, ver, nil
}

// GetInto decodes the value at key into dst.
func (s *RedisStore) GetInto(ctx context.Context, key string, dst interface{}) (int64, error) {
	data, ver, ok, err := s.raw(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	if err := json.Unmarshal([]byte(data), dst); err != nil {
		return 0, fmt.Errorf("blackboard: decode %s: %w", key, err)
	}
	return ver, nil
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

// Txn performs multiple puts atomically.
func (s *RedisStore) Txn(ctx context.Context, values map[string]interface{}, ttl time.Duration) error {
	client := s.conn(ctx)
	pipe := client.TxPipeline()
	versions := make(map[string]*redis.IntCmd, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("blackboard: encode %s: %w", k, err)
		}
		versions[k] = pipe.HIncrBy(ctx, k, "version", 1)
		pipe.HSet(ctx, k, "value", data)
		if ttl > 0 {
			pipe.Expire(ctx, k, ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	for k, v := range values {
		s.notify(ctx, client, core.StateUpdate{Key: k, Value: v, Version: versions[k].Val()})
	}
	return nil
}

// Watch subscribes to updates on keys matching pattern.
func (s *RedisStore) Watch(ctx context.Context, pattern string) (<-chan core.StateUpdate, error) {
	pubsub := s.conn(ctx).PSubscribe(ctx, notifPrefix+pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	ch := make(chan core.StateUpdate)
	go func() {
		defer close(ch)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Println("blackboard watch error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			var upd core.StateUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				continue
			}
			select {
			case ch <- upd:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Delete removes a key from the store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	client := s.conn(ctx)
	if err := client.Del(ctx, key).Err(); err != nil {
		return err
	}
	s.notify(ctx, client, core.StateUpdate{Key: key})
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
