package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"nelculobot/pkg/logx"
)

type redisBackend struct {
	rdb *redis.Client
	key string
	log logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (*redisBackend, error) {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	key := strings.TrimSpace(cfg.Redis.Key)
	if key == "" {
		key = "nelculobot:subscribers"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	// An unreachable server is not fatal: Load degrades to an empty set and
	// mutations fail until it comes back.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis ping failed", logx.String("addr", addr), logx.Err(err))
	}
	return &redisBackend{rdb: rdb, key: key, log: log}, nil
}

func (b *redisBackend) load(ctx context.Context) (Set, error) {
	ids, err := b.rdb.SMembers(ctx, b.key).Result()
	if err != nil {
		return nil, err
	}
	return NewSet(ids...), nil
}

// save replaces the key atomically (MULTI DEL + SADD).
func (b *redisBackend) save(ctx context.Context, s Set) error {
	members := make([]any, 0, len(s))
	for id := range s {
		members = append(members, id)
	}
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, b.key)
		if len(members) > 0 {
			p.SAdd(ctx, b.key, members...)
		}
		return nil
	})
	return err
}

func (b *redisBackend) close() error { return b.rdb.Close() }
