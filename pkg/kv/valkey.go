package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ValkeyStore implements Store on Valkey/Redis so several processes can share
// one token cache.
type ValkeyStore struct {
	client *redis.Client
	prefix string
}

// ValkeyConfig holds configuration for connecting to Valkey.
type ValkeyConfig struct {
	// URL takes precedence over Addr/Password/DB, e.g. redis://:pw@host:6379/0.
	URL      string
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "apsflow:".
	Prefix string
}

// NewValkeyStore connects and pings the server.
func NewValkeyStore(ctx context.Context, cfg ValkeyConfig) (*ValkeyStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging %s: %w", opts.Addr, err)
	}

	return &ValkeyStore{client: client, prefix: cfg.Prefix}, nil
}

func (s *ValkeyStore) key(k string) string { return s.prefix + k }

func (s *ValkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (s *ValkeyStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *ValkeyStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.key(key), value, ttl).Result()
}

func (s *ValkeyStore) Close() error {
	return s.client.Close()
}

var _ Store = (*ValkeyStore)(nil)
