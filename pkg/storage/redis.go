package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection parameters for the redis fill store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisStore keeps fills as decimal strings under fill:<hash>.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Close() error { return s.rdb.Close() }

func (s *RedisStore) Fill(ctx context.Context, key common.Hash) (*big.Int, error) {
	val, err := s.rdb.Get(ctx, string(fillKey(key))).Result()
	if errors.Is(err, redis.Nil) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get fill: %w", err)
	}
	v, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, fmt.Errorf("redis: fill %s: %w", key.Hex(), ErrInvalidFill)
	}
	return v, nil
}

// CommitFills writes all fills inside MULTI/EXEC.
func (s *RedisStore) CommitFills(ctx context.Context, fills map[common.Hash]*big.Int) error {
	if err := validateFills(fills); err != nil {
		return err
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range fills {
			pipe.Set(ctx, string(fillKey(k)), v.String(), 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: commit fills: %w", err)
	}
	return nil
}

var _ FillStore = (*RedisStore)(nil)
