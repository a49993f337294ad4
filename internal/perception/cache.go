package perception

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/singleflight"

	"taskchat/internal/logging"
)

// CachingClient wraps a Client with a bounded least-recently-used reply
// cache keyed by prompt and model parameters. Concurrent identical
// prompts are collapsed into one upstream call via singleflight.
//
// Errors are never cached: a failed call leaves the cache untouched so
// the next request retries upstream.
type CachingClient struct {
	inner   Client
	maxSize int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	group singleflight.Group
}

type cacheItem struct {
	key   string
	value string
}

// NewCachingClient wraps inner with an LRU cache of maxSize entries.
// A maxSize of zero or less disables caching and returns inner as-is.
func NewCachingClient(inner Client, maxSize int) Client {
	if maxSize <= 0 {
		return inner
	}
	return &CachingClient{
		inner:   inner,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Complete returns the cached reply for the prompt if present, otherwise
// calls the wrapped client and caches the result.
func (c *CachingClient) Complete(ctx context.Context, prompt string) (string, error) {
	key := cacheKey(prompt)

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		value := el.Value.(*cacheItem).value
		c.mu.Unlock()
		logging.APIDebug("reply cache hit: key=%s", key[:12])
		return value, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another flight may have populated the cache between
		// the miss and this call.
		c.mu.Lock()
		if el, ok := c.entries[key]; ok {
			c.order.MoveToFront(el)
			value := el.Value.(*cacheItem).value
			c.mu.Unlock()
			return value, nil
		}
		c.mu.Unlock()

		reply, err := c.inner.Complete(ctx, prompt)
		if err != nil {
			return "", err
		}
		c.put(key, reply)
		return reply, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *CachingClient) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		el.Value.(*cacheItem).value = value
		return
	}

	el := c.order.PushFront(&cacheItem{key: key, value: value})
	c.entries[key] = el

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheItem).key)
	}
}

// Len returns the number of cached replies.
func (c *CachingClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
