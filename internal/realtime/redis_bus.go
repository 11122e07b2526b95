package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rheeghang/docent/internal/logging"
	"github.com/rheeghang/docent/internal/session"
)

// RedisBusOptions configures a RedisBus.
type RedisBusOptions struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisBus fans session events out across replicas with Redis pub/sub.
type RedisBus struct {
	log     logging.Logger
	rdb     *goredis.Client
	channel string
}

// NewRedisBus connects and pings the server.
func NewRedisBus(ctx context.Context, opts RedisBusOptions, log logging.Logger) (*RedisBus, error) {
	if log == nil {
		log = logging.Noop()
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	ch := strings.TrimSpace(opts.Channel)
	if ch == "" {
		ch = "docent:events"
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

	return &RedisBus{
		log:     log.With(logging.String("component", "redis_bus")),
		rdb:     rdb,
		channel: ch,
	}, nil
}

// Publish sends ev to the channel as JSON.
func (b *RedisBus) Publish(ctx context.Context, ev session.Event) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and calls onMsg for every event
// until ctx is done.
func (b *RedisBus) StartForwarder(ctx context.Context, onMsg func(ev session.Event)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev session.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn(ctx, "bad redis event payload", logging.Err(err))
					continue
				}
				onMsg(ev)
			}
		}
	}()
	return nil
}

// Close closes the client.
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
