package credential

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/desurestar/RSOD-project/internal/domain"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewRedisClient creates a new Redis client and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// Redis stores the pair under <prefix>:access_token and <prefix>:refresh_token.
// Both keys share the refresh token's lifetime so they expire together; the
// access expiry is kept in <prefix>:access_expires_at.
type Redis struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedis returns a store using client and key prefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "blogsync"
	}
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) accessKey() string  { return r.prefix + ":access_token" }
func (r *Redis) refreshKey() string { return r.prefix + ":refresh_token" }
func (r *Redis) expiryKey() string  { return r.prefix + ":access_expires_at" }

func (r *Redis) Load(ctx context.Context) (domain.Tokens, error) {
	vals, err := r.client.MGet(ctx, r.accessKey(), r.refreshKey(), r.expiryKey()).Result()
	if err != nil {
		return domain.Tokens{}, fmt.Errorf("redis mget tokens: %w", err)
	}

	access, _ := vals[0].(string)
	refresh, _ := vals[1].(string)
	if access == "" && refresh == "" {
		return domain.Tokens{}, nil
	}
	if access == "" || refresh == "" {
		// Half a pair is no session.
		return domain.Tokens{}, r.Clear(ctx)
	}

	tokens := domain.Tokens{Access: access, Refresh: refresh}
	if raw, ok := vals[2].(string); ok {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			tokens.AccessExpiresAt = time.Unix(unix, 0).UTC()
		}
	}
	return tokens, nil
}

func (r *Redis) Save(ctx context.Context, tokens domain.Tokens) error {
	if err := validate(tokens); err != nil {
		return err
	}
	now := r.now()
	tokens = withExpiry(tokens, now)

	// 0 keeps the keys until Clear.
	var ttl time.Duration
	if exp, ok := Expiry(tokens.Refresh); ok {
		ttl = exp.Sub(now)
		if ttl <= 0 {
			return r.Clear(ctx)
		}
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.accessKey(), tokens.Access, ttl)
	pipe.Set(ctx, r.refreshKey(), tokens.Refresh, ttl)
	pipe.Set(ctx, r.expiryKey(), strconv.FormatInt(tokens.AccessExpiresAt.Unix(), 10), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set tokens: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.accessKey(), r.refreshKey(), r.expiryKey()).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del tokens: %w", err)
	}
	return nil
}

// Check pings the server.
func (r *Redis) Check(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
