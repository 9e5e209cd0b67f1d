package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings for the queues in
// internal/queue: pool sizing here directly bounds how many dequeue
// loops (internal/queue.Queue.StartDequeuerLoop) can issue blocking pops
// concurrently without starving each other for a connection.
type Config struct {
	URL      string
	Password string
	DB       int

	// PoolSize caps concurrent connections; 0 means go-redis's own
	// default (10 per CPU). Size this to at least
	// ACTIONS_MAX_CONCURRENT+INPUTS_MAX_CONCURRENT so every dequeuer
	// goroutine can hold a connection during a blocking pop.
	PoolSize int

	// DialTimeout bounds the initial connection attempt; 0 means
	// go-redis's default.
	DialTimeout time.Duration
}

// NewClient parses cfg.URL, applies the pool/timeout overrides, and pings
// once so connection failures surface at startup rather than on the
// first queue operation.
func NewClient(ctx context.Context, cfg *Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.Password != "" {
		opt.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opt.DB = cfg.DB
	}
	if cfg.PoolSize != 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout != 0 {
		opt.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
