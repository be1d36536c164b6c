package devotp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const defaultKeyPrefix = "devotp"

// RedisStore keeps dev codes in Redis so every process of a local stack sees them.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a RedisStore using client. An empty prefix uses "devotp".
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, now: func() time.Time { return time.Now().UTC() }}
}

// NewRedisStoreFromURL parses a redis:// URL, checks the connection and returns a store.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, oops.Code("DEVOTP_REDIS_URL").Wrapf(err, "parse dev otp redis url")
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.Code("DEVOTP_REDIS_PING").Wrapf(err, "redis ping failed")
	}
	return NewRedisStore(client, ""), nil
}

func (s *RedisStore) key(address string) string {
	return s.prefix + ":" + address
}

// Put stores code with a TTL matching expiresAt. Already expired codes are not stored.
func (s *RedisStore) Put(ctx context.Context, address, code string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(address), code, ttl).Err(); err != nil {
		return oops.Code("DEVOTP_PUT_FAILED").Wrapf(err, "store dev otp")
	}
	return nil
}

// Get returns the code for address; Redis expiry handles stale entries.
func (s *RedisStore) Get(ctx context.Context, address string) (string, bool, error) {
	code, err := s.client.Get(ctx, s.key(address)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, oops.Code("DEVOTP_GET_FAILED").Wrapf(err, "load dev otp")
	}
	return code, true, nil
}

// Close releases the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
