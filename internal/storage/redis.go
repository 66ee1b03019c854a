package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	logx "remindd/pkg/logx"
)

const defaultRedisKey = "remindd:jobs"

type redisStore struct {
	client *redis.Client
	key    string
	log    logx.Logger
}

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	key := strings.TrimSpace(cfg.RedisKey)
	if key == "" {
		key = defaultRedisKey
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", addr)
	}
	return &redisStore{client: client, key: key, log: log}, nil
}

func (s *redisStore) Describe() string { return "redis:" + s.key }

func (s *redisStore) Close() error { return s.client.Close() }

func (s *redisStore) ReadDocument(ctx context.Context) ([]byte, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return b, nil
}

// WriteDocument replaces the key in one SET, which redis applies atomically.
func (s *redisStore) WriteDocument(ctx context.Context, doc []byte) error {
	if err := s.client.Set(ctx, s.key, doc, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// PreserveDocument copies doc to "<key>:corrupt:<unix nanos>".
func (s *redisStore) PreserveDocument(ctx context.Context, doc []byte) (string, error) {
	side := s.key + ":corrupt:" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := s.client.Set(ctx, side, doc, 0).Err(); err != nil {
		return "", errors.Wrap(err, "redis set")
	}
	return side, nil
}
