// Package cache implements the generic single-flight cache backing lyrics
// and artifact resolution. Values are kept in a bounded in-memory LRU and
// persisted to disk before a fetch returns; concurrent callers for the same
// key share one fetch.
//
// Cancellation policy: when every waiter cancels before the fetcher
// completes, the fetch runs to completion in the background and its result
// is still written. Callers get ctx.Err(); the next caller finds the value
// on disk.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Get when the key has no fresh entry.
var ErrMiss = errors.New("cache: miss")

// Codec converts values to and from bytes for disk storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// JSONCodec stores values as JSON. The zero value is ready to use.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

// Fetcher computes the value for a key on a miss. It is passed per call so
// the closure can carry whatever request state the fetch needs; the first
// caller's fetcher serves everyone sharing the flight.
type Fetcher[V any] func(ctx context.Context, key string) (V, error)

// Options tune one Cache instance.
type Options[V any] struct {
	// Dir is the on-disk content root for this cache.
	Dir string
	// TTL is the default entry lifetime; zero means entries never expire.
	TTL time.Duration
	// TTLFor overrides TTL per value. Used to cache explicit not-found
	// variants with a short lifetime. Zero return means use TTL.
	TTLFor func(V) time.Duration
	// MaxEntries bounds the in-memory LRU. Zero means 512.
	MaxEntries int
}

type entry[V any] struct {
	Value     json.RawMessage `json:"value"`
	FetchedAt time.Time       `json:"fetchedAt"`
	ExpiresAt time.Time       `json:"expiresAt,omitempty"`
}

type memEntry[V any] struct {
	key     string
	value   V
	expires time.Time
	elem    *list.Element
}

// Cache is a keyed single-flight cache. K is a stable string; the on-disk
// path is a filename-safe hash of it.
type Cache[V any] struct {
	codec Codec[V]
	opts  Options[V]

	group singleflight.Group

	mu  sync.Mutex
	lru *list.List
	mem map[string]*memEntry[V]
}

// New builds a cache. The directory is created if missing.
func New[V any](codec Codec[V], opts Options[V]) (*Cache[V], error) {
	if opts.MaxEntries == 0 {
		opts.MaxEntries = 512
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache[V]{
		codec: codec,
		opts:  opts,
		lru:   list.New(),
		mem:   make(map[string]*memEntry[V]),
	}, nil
}

// Path returns the deterministic on-disk location for a key.
func (c *Cache[V]) Path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.opts.Dir, hex.EncodeToString(sum[:])+".json")
}

// Get returns the cached value if present and not expired. The fetcher is
// never invoked.
func (c *Cache[V]) Get(key string) (V, error) {
	now := time.Now()

	c.mu.Lock()
	if me, ok := c.mem[key]; ok {
		if me.expires.IsZero() || now.Before(me.expires) {
			v := me.value
			c.lru.MoveToFront(me.elem)
			c.mu.Unlock()
			return v, nil
		}
		c.removeLocked(me)
	}
	c.mu.Unlock()

	v, expires, err := c.readDisk(key, now)
	if err != nil {
		var zero V
		return zero, err
	}
	c.remember(key, v, expires)
	return v, nil
}

// GetOrFetch returns a fresh cached value, or invokes fetch exactly once
// per key across all concurrent callers. Late callers share the in-flight
// result. Cache writes are durable before return.
func (c *Cache[V]) GetOrFetch(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	if v, err := c.Get(key); err == nil {
		return v, nil
	}

	// DoChan so a caller cancelling does not cancel the shared fetch; the
	// closure keeps fetch alive for the detached flight, and the result is
	// still written for the next caller.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetchAndStore(context.WithoutCancel(ctx), key, fetch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Put stores a value directly, bypassing the fetcher. Used when a resolver
// has already paid for side results it wants to keep.
func (c *Cache[V]) Put(key string, v V) error {
	_, err := c.store(key, v)
	return err
}

// Forget drops a key from memory and disk.
func (c *Cache[V]) Forget(key string) {
	c.mu.Lock()
	if me, ok := c.mem[key]; ok {
		c.removeLocked(me)
	}
	c.mu.Unlock()
	os.Remove(c.Path(key))
}

func (c *Cache[V]) fetchAndStore(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	// A concurrent caller may have written the entry between our miss and
	// the single-flight slot opening up.
	if v, err := c.Get(key); err == nil {
		return v, nil
	}

	v, err := fetch(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if _, err := c.store(key, v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}

func (c *Cache[V]) store(key string, v V) (time.Time, error) {
	raw, err := c.codec.Encode(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("encoding cache value: %w", err)
	}

	now := time.Now()
	ttl := c.opts.TTL
	if c.opts.TTLFor != nil {
		if override := c.opts.TTLFor(v); override > 0 {
			ttl = override
		}
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}

	env := entry[V]{Value: raw, FetchedAt: now, ExpiresAt: expires}
	blob, err := json.Marshal(env)
	if err != nil {
		return time.Time{}, fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := renameio.WriteFile(c.Path(key), blob, 0o644); err != nil {
		return time.Time{}, fmt.Errorf("writing cache entry: %w", err)
	}

	c.remember(key, v, expires)
	return expires, nil
}

func (c *Cache[V]) readDisk(key string, now time.Time) (V, time.Time, error) {
	var zero V
	blob, err := os.ReadFile(c.Path(key))
	if err != nil {
		return zero, time.Time{}, ErrMiss
	}

	var env entry[V]
	if err := json.Unmarshal(blob, &env); err != nil {
		// Corrupt entries are quarantined, never served.
		os.Rename(c.Path(key), c.Path(key)+".corrupt")
		return zero, time.Time{}, ErrMiss
	}
	if !env.ExpiresAt.IsZero() && now.After(env.ExpiresAt) {
		return zero, time.Time{}, ErrMiss
	}

	v, err := c.codec.Decode(env.Value)
	if err != nil {
		os.Rename(c.Path(key), c.Path(key)+".corrupt")
		return zero, time.Time{}, ErrMiss
	}
	return v, env.ExpiresAt, nil
}

func (c *Cache[V]) remember(key string, v V, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if me, ok := c.mem[key]; ok {
		me.value = v
		me.expires = expires
		c.lru.MoveToFront(me.elem)
		return
	}

	me := &memEntry[V]{key: key, value: v, expires: expires}
	me.elem = c.lru.PushFront(me)
	c.mem[key] = me

	for c.lru.Len() > c.opts.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*memEntry[V]))
	}
}

func (c *Cache[V]) removeLocked(me *memEntry[V]) {
	c.lru.Remove(me.elem)
	delete(c.mem, me.key)
}
