package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns local defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Hash fields of a cached entry.
const (
	fieldValue       = "value"
	fieldCreatedAt   = "created_at"
	fieldExpiresAt   = "expires_at"
	fieldAccessCount = "access_count"
)

// redisGrace keeps entries in Redis a little past their logical expiry so
// that expiry is decided by the Store clock, not by Redis.
const redisGrace = time.Minute

// touchScript increments the access count only when the hash still exists,
// so a touch racing a delete does not resurrect a bare counter.
var touchScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
end
return -1
`)

// RedisRepository stores each entry as a hash under Prefix+key.
type RedisRepository struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisRepository returns a repository using the "cache:" key prefix.
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{Client: client, Prefix: "cache:"}
}

func (r *RedisRepository) key(k string) string { return r.Prefix + k }

// Upsert replaces the hash under e.Key and resets its access count. Entries
// with a positive validity also get a Redis TTL of validity plus a grace
// period.
func (r *RedisRepository) Upsert(ctx context.Context, e domain.CacheEntry) error {
	k := r.key(e.Key)
	pipe := r.Client.TxPipeline()
	pipe.Del(ctx, k)
	pipe.HSet(ctx, k,
		fieldValue, e.Value,
		fieldCreatedAt, strconv.FormatInt(e.CreatedAt.UnixNano(), 10),
		fieldExpiresAt, strconv.FormatInt(e.ExpiresAt.UnixNano(), 10),
		fieldAccessCount, strconv.FormatInt(e.AccessCount, 10),
	)
	if ttl := e.ExpiresAt.Sub(e.CreatedAt); ttl > 0 {
		pipe.Expire(ctx, k, ttl+redisGrace)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get reads the hash under key.
func (r *RedisRepository) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	m, err := r.Client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return decodeEntry(key, m)
}

// Touch atomically increments the access count.
func (r *RedisRepository) Touch(ctx context.Context, key string) (int64, error) {
	n, err := touchScript.Run(ctx, r.Client, []string{r.key(key)}, fieldAccessCount).Int64()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

// Delete removes key. Missing keys are not an error.
func (r *RedisRepository) Delete(ctx context.Context, key string) error {
	return r.Client.Del(ctx, r.key(key)).Err()
}

// Clear removes every key under the prefix.
func (r *RedisRepository) Clear(ctx context.Context) (int64, error) {
	var removed int64
	err := r.scan(ctx, func(keys []string) error {
		n, err := r.Client.Del(ctx, keys...).Result()
		removed += n
		return err
	})
	return removed, err
}

// DeleteExpired scans the prefix and removes entries expired by now.
func (r *RedisRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	err := r.scan(ctx, func(keys []string) error {
		for _, k := range keys {
			raw, err := r.Client.HGet(ctx, k, fieldExpiresAt).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return err
			}
			ns, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || !now.Before(time.Unix(0, ns)) {
				n, err := r.Client.Del(ctx, k).Result()
				if err != nil {
					return err
				}
				removed += n
			}
		}
		return nil
	})
	return removed, err
}

// Count returns the number of keys under the prefix.
func (r *RedisRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.scan(ctx, func(keys []string) error {
		n += int64(len(keys))
		return nil
	})
	return n, err
}

func (r *RedisRepository) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := r.Client.Scan(ctx, cursor, r.Prefix+"*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func decodeEntry(key string, m map[string]string) (*domain.CacheEntry, error) {
	created, err := strconv.ParseInt(m[fieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldCreatedAt, err)
	}
	expires, err := strconv.ParseInt(m[fieldExpiresAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", fieldExpiresAt, err)
	}
	count, _ := strconv.ParseInt(m[fieldAccessCount], 10, 64)
	return &domain.CacheEntry{
		Key:         key,
		Value:       m[fieldValue],
		CreatedAt:   time.Unix(0, created),
		ExpiresAt:   time.Unix(0, expires),
		AccessCount: count,
	}, nil
}
