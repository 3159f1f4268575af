// Package cache provides the process-wide key/value store handed to every
// service: a small async contract with get, set-with-TTL and delete,
// backed by an in-memory store or an external redis selected through the
// CACHE_PROVIDER configuration.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"imp/logger"
)

// Client is the cache contract services consume.
type Client interface {
	// Get fetches a value. The boolean reports presence; expired and
	// missing keys read the same way.
	Get(ctx context.Context, key string) (any, bool, error)
	// Set stores a value. A zero ttl applies the provider default.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	// Del removes a key. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error
}

// Options selects and parameterises a provider.
type Options struct {
	// Provider is "memory" or "redis".
	Provider string
	// Prefix namespaces every key.
	Prefix string
	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration
	// RedisURL configures the redis provider.
	RedisURL string
}

// New builds a cache client for the selected provider. Unknown provider
// names fall back to memory with a warning, the cache must not be the
// reason a boot dies.
func New(opts Options, log logger.Logger) (Client, error) {
	switch strings.ToLower(opts.Provider) {
	case "", "memory":
		return newMemory(opts), nil
	case "redis":
		return newRedis(opts)
	default:
		log.Warn(logger.Fields{"provider": opts.Provider}, "unknown cache provider, using memory")
		return newMemory(opts), nil
	}
}

// memoryClient wraps an in-process expiring store.
type memoryClient struct {
	store      *gocache.Cache
	prefix     string
	defaultTTL time.Duration
}

func newMemory(opts Options) *memoryClient {
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &memoryClient{
		store:      gocache.New(ttl, 10*time.Minute),
		prefix:     opts.Prefix,
		defaultTTL: ttl,
	}
}

func (c *memoryClient) Get(_ context.Context, key string) (any, bool, error) {
	value, ok := c.store.Get(c.prefix + key)
	return value, ok, nil
}

func (c *memoryClient) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.store.Set(c.prefix+key, value, ttl)
	return nil
}

func (c *memoryClient) Del(_ context.Context, key string) error {
	c.store.Delete(c.prefix + key)
	return nil
}

// Deferred is a cache handle that can be wired before its backing provider
// exists. Services receive it during wiring; the kernel swaps the real
// provider in once configuration has resolved. Until then it behaves as an
// unbounded memory cache.
type Deferred struct {
	inner atomic.Pointer[Client]
}

// NewDeferred creates a deferred handle with a memory fallback.
func NewDeferred() *Deferred {
	d := &Deferred{}
	var fallback Client = newMemory(Options{})
	d.inner.Store(&fallback)
	return d
}

// Configure swaps in the resolved provider. Values written before the swap
// stay in the fallback, where nothing reads them any more.
func (d *Deferred) Configure(client Client) {
	d.inner.Store(&client)
}

// Get implements Client.
func (d *Deferred) Get(ctx context.Context, key string) (any, bool, error) {
	return (*d.inner.Load()).Get(ctx, key)
}

// Set implements Client.
func (d *Deferred) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return (*d.inner.Load()).Set(ctx, key, value, ttl)
}

// Del implements Client.
func (d *Deferred) Del(ctx context.Context, key string) error {
	return (*d.inner.Load()).Del(ctx, key)
}

// TTLFromSeconds converts a numeric config value into a duration.
func TTLFromSeconds(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

var _ fmt.Stringer = Options{}

// String renders the options for debug logs without leaking credentials
// embedded in the redis URL.
func (o Options) String() string {
	return fmt.Sprintf("provider=%s prefix=%s ttl=%s", o.Provider, o.Prefix, o.DefaultTTL)
}
