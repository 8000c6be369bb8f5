package terminology

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/gofhir/kindling"
)

// DefaultTTL is the lifetime of a cached lookup.
const DefaultTTL = 10 * time.Minute

// Cached wraps a Resolver with a TTL cache. Resolutions and NotFound
// answers are cached; other errors (timeouts, cancellation, backend
// failures) are not.
//
// Hits and misses are counted on the resolver and, when ctx carries
// kindling.Metrics, in those metrics too.
type Cached struct {
	inner  Resolver
	cache  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached creates a cached resolver. A non-positive ttl means DefaultTTL.
func NewCached(inner Resolver, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

type cachedAnswer struct {
	res      *Resolution
	notFound string
}

// ResolveBinding implements Resolver.
func (c *Cached) ResolveBinding(ctx context.Context, system, code string) (*Resolution, error) {
	key := system + "|" + code
	if v, ok := c.cache.Get(key); ok {
		if answer, ok := v.(cachedAnswer); ok {
			c.hit(ctx)
			if answer.res == nil {
				return nil, fmt.Errorf("%s: %w", answer.notFound, ErrNotFound)
			}
			r := *answer.res
			return &r, nil
		}
	}
	c.miss(ctx)

	res, err := c.inner.ResolveBinding(ctx, system, code)
	switch {
	case err == nil:
		r := *res
		c.cache.SetDefault(key, cachedAnswer{res: &r})
	case errors.Is(err, ErrNotFound):
		c.cache.SetDefault(key, cachedAnswer{notFound: fmt.Sprintf("code %q in %s", code, system)})
	}
	return res, err
}

func (c *Cached) hit(ctx context.Context) {
	c.hits.Add(1)
	if m := kindling.MetricsFromContext(ctx); m != nil {
		m.RecordCacheHit()
	}
}

func (c *Cached) miss(ctx context.Context) {
	c.misses.Add(1)
	if m := kindling.MetricsFromContext(ctx); m != nil {
		m.RecordCacheMiss()
	}
}

// Stats returns the number of cache hits and misses.
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Flush empties the cache.
func (c *Cached) Flush() {
	c.cache.Flush()
}

var _ Resolver = (*Cached)(nil)
