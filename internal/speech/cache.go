package speech

import (
	"container/list"
	"context"
	"sync"

	"github.com/lexiqai/reader-voice/internal/observability"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes synthesized audio URLs by normalized request key, with LRU eviction
// once maxEntries is reached. maxEntries <= 0 means unbounded.
type Cache struct {
	synth      Synthesizer
	maxEntries int
	logger     zerolog.Logger

	// LRU implementation
	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	inflight singleflight.Group

	stats CacheStats
}

type cacheEntry struct {
	key      string
	audioURL string
}

// CacheStats holds cache counters
type CacheStats struct {
	Entries   int
	Capacity  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// NewCache wraps synth with a cache holding at most maxEntries URLs
func NewCache(synth Synthesizer, maxEntries int, logger zerolog.Logger) *Cache {
	return &Cache{
		synth:      synth,
		maxEntries: maxEntries,
		logger:     logger,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stats:      CacheStats{Capacity: maxEntries},
	}
}

// Synthesize returns the cached URL for req, or synthesizes and caches it. Cache hits
// carry no duration. Concurrent misses for the same key share one upstream call, which
// runs to completion even if every waiting caller gives up. Failures are returned
// unchanged and never cached.
func (c *Cache) Synthesize(ctx context.Context, req Request) (Result, error) {
	key := req.Key()

	if url, ok := c.lookup(key); ok {
		observability.RecordCacheLookup(true)
		c.logger.Debug().Str("cache_key", key).Msg("Using cached audio")
		return Result{AudioURL: url, Text: req.Text, Cached: true}, nil
	}

	// Detached from the caller so one reader leaving does not fail the others
	upstreamCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(key, func() (interface{}, error) {
		// A call that finished between lookup and DoChan may have filled the slot
		if url, ok := c.peek(key); ok {
			return Result{AudioURL: url, Text: req.Text, Cached: true}, nil
		}
		c.recordMiss()
		res, err := c.synth.Synthesize(upstreamCtx, req)
		if err != nil {
			return nil, err
		}
		c.store(key, res.AudioURL)
		return res, nil
	})

	select {
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// lookup returns the URL for key and marks it recently used
func (c *Cache) lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	c.eviction.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*cacheEntry).audioURL, true
}

// recordMiss counts a lookup that goes upstream
func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	observability.RecordCacheLookup(false)
}

// peek returns the URL for key without touching counters
func (c *Cache) peek(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	return elem.Value.(*cacheEntry).audioURL, true
}

func (c *Cache) store(key, audioURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		elem.Value.(*cacheEntry).audioURL = audioURL
		return
	}

	for c.maxEntries > 0 && c.eviction.Len() >= c.maxEntries {
		c.evictOldest()
	}

	c.items[key] = c.eviction.PushFront(&cacheEntry{key: key, audioURL: audioURL})
	observability.SetCacheEntries(len(c.items))
}

// evictOldest removes the least recently used entry. Caller holds mu.
func (c *Cache) evictOldest() {
	elem := c.eviction.Back()
	if elem == nil {
		return
	}
	entry := c.eviction.Remove(elem).(*cacheEntry)
	delete(c.items, entry.key)
	c.stats.Evictions++
	observability.RecordCacheEviction()
	c.logger.Debug().Str("cache_key", entry.key).Msg("Evicted cached audio")
}

// Clear drops all entries. Requests already in flight are not affected and will store
// their result when they finish.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.mu.Unlock()

	observability.SetCacheEntries(0)
	c.logger.Info().Msg("Audio cache cleared")
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	return stats
}

// Prefetch synthesizes reqs in the background of a reading session, at most
// concurrency at a time. Every request is attempted; the first error is returned.
func (c *Cache) Prefetch(ctx context.Context, reqs []Request, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, req := range reqs {
		req := req
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, err := c.Synthesize(ctx, req)
			return err
		})
	}

	err := g.Wait()
	if err != nil {
		c.logger.Warn().Err(err).Int("requests", len(reqs)).Msg("Prefetch incomplete")
	}
	return err
}
