package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires idle preferences; zero keeps them forever.
	TTL time.Duration
}

// RedisStore keeps settings in Redis so replicas share them.
type RedisStore struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb, opts.KeyPrefix, opts.TTL), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *goredis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "docent:settings:"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(visitorID string) string { return s.prefix + visitorID }

// Load fetches settings by visitor ID.
func (s *RedisStore) Load(ctx context.Context, visitorID string) (Settings, error) {
	if s == nil || s.rdb == nil {
		return Settings{}, fmt.Errorf("redis settings store not initialized")
	}
	visitorID = strings.TrimSpace(visitorID)
	if visitorID == "" {
		return Settings{}, ErrInvalidVisitor
	}
	raw, err := s.rdb.Get(ctx, s.key(visitorID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Settings{}, fmt.Errorf("%w: visitor %q", ErrNotFound, visitorID)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("redis get: %w", err)
	}
	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return Settings{}, fmt.Errorf("unmarshal settings: %w", err)
	}
	return settings, nil
}

// Save persists settings for a visitor.
func (s *RedisStore) Save(ctx context.Context, visitorID string, settings Settings) error {
	if s == nil || s.rdb == nil {
		return fmt.Errorf("redis settings store not initialized")
	}
	id, settings, err := Prepare(visitorID, settings)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(id), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}
