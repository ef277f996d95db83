package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int

	// KeyPrefix namespaces entries so several deployments can share a server.
	KeyPrefix string
}

// Redis is a Cache backed by a Redis server, for deployments where several
// chartdesk processes should share one response cache. TTL handling is
// delegated to Redis key expiry.
type Redis struct {
	client *goredis.Client
	prefix string
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client, prefix: cfg.KeyPrefix}, nil
}

func (r *Redis) Get(ctx context.Context, key string, out interface{}) bool {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (r *Redis) Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key, data, ttl).Err()
}

// Client exposes the underlying connection for health probes.
func (r *Redis) Client() *goredis.Client { return r.client }

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
