package offline0

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the connection settings for RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key this store writes.
	Prefix string
}

// RedisStore keeps a set of partition names and one hash per partition,
// which lets several edge processes share the same cache.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore connects and pings the server before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return newRedisStore(rdb, cfg.Prefix, logger), nil
}

func newRedisStore(client *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "RedisStore").Logger(),
	}
}

func (s *RedisStore) namesKey() string { return s.prefix + "partitions" }

func (s *RedisStore) hashKey(name string) string { return s.prefix + "p:" + name }

func (s *RedisStore) Open(ctx context.Context, name string) (Partition, error) {
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("register partition %s: %w", name, err)
	}
	return &redisPartition{store: s, name: name}, nil
}

func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *RedisStore) DeleteFunc(ctx context.Context, pred func(string) bool) ([]string, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, n := range names {
		if pred(n) {
			deleted = append(deleted, n)
		}
	}
	if len(deleted) == 0 {
		return nil, nil
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, n := range deleted {
			pipe.Del(ctx, s.hashKey(n))
			pipe.SRem(ctx, s.namesKey(), n)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("delete partitions: %w", err)
	}
	s.logger.Debug().Strs("partitions", deleted).Msg("partitions deleted")
	return deleted, nil
}

func (s *RedisStore) Close() error {
	s.logger.Info().Msg("Closing Redis client connection...")
	return s.client.Close()
}

type redisPartition struct {
	store *RedisStore
	name  string
}

func (p *redisPartition) Name() string { return p.name }

func (p *redisPartition) Match(ctx context.Context, key string) (Response, bool, error) {
	b, err := p.store.client.HGet(ctx, p.store.hashKey(p.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, err
	}
	var resp Response
	if err := json.Unmarshal(b, &resp); err != nil {
		return Response{}, false, fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return resp, true, nil
}

func (p *redisPartition) Put(ctx context.Context, key string, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := p.store.client.HSet(ctx, p.store.hashKey(p.name), key, b).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

func (p *redisPartition) Keys(ctx context.Context) ([]string, error) {
	keys, err := p.store.client.HKeys(ctx, p.store.hashKey(p.name)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
