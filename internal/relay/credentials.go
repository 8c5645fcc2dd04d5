package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultCredentialTTL     = 10 * time.Minute
	redisCredentialKeyPrefix = "msgrelay:credential:"
)

// CredentialSource yields the latest credential for a provider and tag, or
// (nil, nil) when none exists.
type CredentialSource interface {
	LatestCredential(ctx context.Context, provider, tag string) (*CredentialRecord, error)
}

type CredentialCacheBackend interface {
	Get(ctx context.Context, key string) (*CredentialRecord, bool, error)
	Set(ctx context.Context, key string, rec CredentialRecord) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type CredentialCacheOptions struct {
	Backend CredentialCacheBackend
	Logger  zerolog.Logger
	// OnLookup observes each lookup with whether it was served from cache.
	OnLookup func(provider string, hit bool)
}

// CredentialCache is a read-through cache in front of a CredentialSource.
// Missing credentials are not cached so a newly inserted row is seen on the
// next lookup.
type CredentialCache struct {
	source   CredentialSource
	backend  CredentialCacheBackend
	logger   zerolog.Logger
	onLookup func(provider string, hit bool)
}

func NewCredentialCache(source CredentialSource, opts CredentialCacheOptions) *CredentialCache {
	if opts.Backend == nil {
		opts.Backend = NewMemoryCredentialBackend(DefaultCredentialTTL)
	}
	return &CredentialCache{
		source:   source,
		backend:  opts.Backend,
		logger:   opts.Logger,
		onLookup: opts.OnLookup,
	}
}

func (c *CredentialCache) LatestCredential(ctx context.Context, provider, tag string) (*CredentialRecord, error) {
	key := credentialCacheKey(provider, tag)
	cached, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("provider", provider).Msg("credential cache read failed")
	} else if ok {
		c.observe(provider, true)
		return cached, nil
	}
	c.observe(provider, false)
	rec, err := c.source.LatestCredential(ctx, provider, tag)
	if err != nil || rec == nil {
		return rec, err
	}
	if err := c.backend.Set(ctx, key, *rec); err != nil {
		c.logger.Warn().Err(err).Str("provider", provider).Msg("credential cache write failed")
	}
	return rec, nil
}

func (c *CredentialCache) Invalidate(ctx context.Context, provider, tag string) error {
	return c.backend.Delete(ctx, credentialCacheKey(provider, tag))
}

func (c *CredentialCache) InvalidateAll(ctx context.Context) error {
	return c.backend.Clear(ctx)
}

func (c *CredentialCache) observe(provider string, hit bool) {
	if c.onLookup != nil {
		c.onLookup(provider, hit)
	}
}

func credentialCacheKey(provider, tag string) string {
	provider = strings.ToLower(strings.TrimSpace(provider))
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return provider
	}
	return provider + "/" + tag
}

type memoryCredentialEntry struct {
	rec       CredentialRecord
	expiresAt time.Time
}

type MemoryCredentialBackend struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryCredentialEntry
	now     func() time.Time
}

// NewMemoryCredentialBackend keeps entries for ttl; ttl <= 0 keeps them
// until invalidated.
func NewMemoryCredentialBackend(ttl time.Duration) *MemoryCredentialBackend {
	return &MemoryCredentialBackend{
		ttl:     ttl,
		entries: map[string]memoryCredentialEntry{},
		now:     time.Now,
	}
}

func (b *MemoryCredentialBackend) Get(ctx context.Context, key string) (*CredentialRecord, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !b.now().Before(entry.expiresAt) {
		delete(b.entries, key)
		return nil, false, nil
	}
	rec := entry.rec
	return &rec, true, nil
}

func (b *MemoryCredentialBackend) Set(ctx context.Context, key string, rec CredentialRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := memoryCredentialEntry{rec: rec}
	if b.ttl > 0 {
		entry.expiresAt = b.now().Add(b.ttl)
	}
	b.entries[key] = entry
	return nil
}

func (b *MemoryCredentialBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *MemoryCredentialBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = map[string]memoryCredentialEntry{}
	return nil
}

// RedisCredentialBackend shares cached credentials between relay processes.
type RedisCredentialBackend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCredentialBackend(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCredentialBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisCredentialBackendWithClient(client, ttl), nil
}

func newRedisCredentialBackendWithClient(client *redis.Client, ttl time.Duration) *RedisCredentialBackend {
	return &RedisCredentialBackend{client: client, ttl: ttl, prefix: redisCredentialKeyPrefix}
}

func (b *RedisCredentialBackend) Get(ctx context.Context, key string) (*CredentialRecord, bool, error) {
	data, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec CredentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (b *RedisCredentialBackend) Set(ctx context.Context, key string, rec CredentialRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, b.prefix+key, data, b.ttl).Err()
}

func (b *RedisCredentialBackend) Delete(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.prefix+key).Err()
}

func (b *RedisCredentialBackend) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (b *RedisCredentialBackend) Close() error {
	return b.client.Close()
}

// BuildCredentialBackendFromDSN picks the cache backend: empty or memory://
// for process-local, redis:// or rediss:// for a shared cache.
func BuildCredentialBackendFromDSN(ctx context.Context, dsn string, ttl time.Duration) (CredentialCacheBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return NewMemoryCredentialBackend(ttl), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "memory", "mem", "inmem":
		return NewMemoryCredentialBackend(ttl), nil
	case "redis", "rediss":
		return NewRedisCredentialBackend(ctx, dsn, ttl)
	default:
		return nil, fmt.Errorf("unsupported credential cache scheme: %s", parsed.Scheme)
	}
}
