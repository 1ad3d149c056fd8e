package events

import (
	"github.com/redis/go-redis/v9"

	"github.com/desipipe/desipipe/internal/config"
)

// NewFromConfig dials Redis per cfg and wraps the client in a
// RedisPubSub, mirroring the teacher's queue.NewRedisQueue client
// construction (internal/queue/redis_streams.go). Callers should treat
// an empty cfg.Addr as "no bus configured" and use NoopPublisher
// instead of calling this.
func NewFromConfig(cfg config.RedisConfig) *RedisPubSub {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return NewRedisPubSub(client)
}
