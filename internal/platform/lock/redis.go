package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Deletes the key only while it still holds our token, so an expired lock
// taken over by another process is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type RedisOptions struct {
	TTL        time.Duration
	RetryEvery time.Duration
	Prefix     string
}

// Redis is a lease lock built on SET NX PX with an owner token.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
	logger zerolog.Logger
}

func NewRedis(client *redis.Client, opts RedisOptions, logger zerolog.Logger) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.RetryEvery <= 0 {
		opts.RetryEvery = 50 * time.Millisecond
	}
	return &Redis{client: client, opts: opts, logger: logger}
}

// NewRedisFromURL parses a redis:// URL and pings the server.
func NewRedisFromURL(ctx context.Context, url string, opts RedisOptions, logger zerolog.Logger) (*Redis, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(client, opts, logger), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// TryLock makes a single attempt and returns ErrNotAcquired when the key is
// held elsewhere.
func (r *Redis) TryLock(ctx context.Context, key string) (func(), error) {
	key = r.opts.Prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, r.opts.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return r.unlocker(key, token), nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(r.opts.RetryEvery)
	defer ticker.Stop()
	for {
		unlock, err := r.TryLock(ctx, key)
		if err == nil {
			return unlock, nil
		}
		if err != ErrNotAcquired {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) unlocker(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, r.client, []string{key}, token).Int()
		if err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("lock release failed")
			return
		}
		if n == 0 {
			r.logger.Warn().Str("key", key).Msg("lock expired before release")
		}
	}
}
