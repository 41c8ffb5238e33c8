// Package cache keeps the local copy of every attribute a process has seen
// and the backlog of writes the remote store has not confirmed.
//
// Writes land in the local cache first and are then sent to the store. When
// the store is unreachable the write is queued instead of failing, and
// DrainOnce replays the queue later, oldest first. Reads go to the store and
// fall back to the local copy while it is unreachable. Queue contents only
// live in memory; callers that want them to survive a restart persist
// Pending and hand them back through Restore.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tailored-agentic-units/sharedmem/codec"
	"github.com/tailored-agentic-units/sharedmem/observability"
	"github.com/tailored-agentic-units/sharedmem/store"
)

// ErrKeyNotFound is returned when neither the store nor the local cache
// holds a key. It matches store.ErrKeyNotFound under errors.Is.
var ErrKeyNotFound = store.ErrKeyNotFound

// Origin tells where a Get result came from.
type Origin int

const (
	OriginRemote Origin = iota
	OriginCache
)

func (o Origin) String() string {
	if o == OriginCache {
		return "CACHE"
	}
	return "REMOTE"
}

// Entry is the local copy of one key. Value holds the stored payload and
// LastModified the writer's timestamp carried inside it. Good is true once
// the remote store has confirmed this exact payload.
type Entry struct {
	Key          string
	Value        []byte
	LastModified int64
	Good         bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithObserver routes cache events to obs.
func WithObserver(obs observability.Observer) Option {
	return func(c *Cache) { c.observer = obs }
}

// WithClock overrides the clock used to stamp queued writes.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// Cache is the local cache plus pending queue in front of a Store. All
// methods are safe for concurrent use. The mutex guarding entries and queue
// is never held across a store call; a per-key lock serializes the store
// round trips for one key so that an older payload can never land after a
// newer one.
type Cache struct {
	store    store.Store
	observer observability.Observer
	now      func() time.Time
	locks    *keyLocks

	mu      sync.Mutex
	entries map[string]Entry
	queue   *Queue
	seq     uint64
}

// New creates a Cache in front of s.
func New(s store.Store, opts ...Option) *Cache {
	c := &Cache{
		store:    s,
		observer: observability.NoOpObserver{},
		now:      time.Now,
		locks:    newKeyLocks(),
		entries:  make(map[string]Entry),
		queue:    NewQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get reads key from the store and refreshes the local copy. While the
// store is unreachable the local copy is returned with OriginCache. A key
// with a queued write is answered locally too, unless the store holds a
// payload stamped later than the queued one; that payload wins and the
// queued write is dropped.
func (c *Cache) Get(ctx context.Context, key string) (Entry, Origin, error) {
	unlock := c.locks.Lock(key)
	defer unlock()

	data, err := c.store.Get(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	pending, hasPending := c.queue.Lookup(key)

	switch {
	case err == nil:
		remote := Entry{Key: key, Value: data, LastModified: codec.LastModified(data), Good: true}
		if hasPending {
			if pending.LastModified >= remote.LastModified {
				return c.localLocked(key)
			}
			c.queue.Remove(key)
			c.emit(ctx, EventSkipped, observability.LevelInfo, "cache.Get", pending, nil)
		}
		c.entries[key] = remote
		return cloneEntry(remote), OriginRemote, nil

	case errors.Is(err, store.ErrKeyNotFound):
		if hasPending {
			return c.localLocked(key)
		}
		delete(c.entries, key)
		return Entry{}, OriginRemote, fmt.Errorf("%w: %s", ErrKeyNotFound, key)

	case store.IsUnavailable(err):
		observability.Emit(ctx, c.observer, EventFallback, observability.LevelWarning, "cache.Get",
			map[string]any{"key": key, "error": err.Error()})
		return c.localLocked(key)

	default:
		return Entry{}, OriginRemote, err
	}
}

// Set stores value under key. The local copy is updated before the store
// is contacted; if the store is unreachable the write is queued and Set
// still succeeds. Other store errors roll the local copy back and are
// returned.
func (c *Cache) Set(ctx context.Context, key string, value []byte, lastModified int64) error {
	unlock := c.locks.Lock(key)
	defer unlock()

	value = slices.Clone(value)

	c.mu.Lock()
	prev, existed := c.entries[key]
	seq := c.nextLocked()
	c.entries[key] = Entry{Key: key, Value: value, LastModified: lastModified}
	c.mu.Unlock()

	err := c.store.Set(ctx, key, value)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err == nil:
		c.entries[key] = Entry{Key: key, Value: value, LastModified: lastModified, Good: true}
		c.queue.Remove(key)
		return nil

	case store.IsUnavailable(err):
		c.enqueueLocked(ctx, "cache.Set", PendingWrite{
			Key:          key,
			Value:        value,
			Kind:         KindSet,
			LastModified: lastModified,
			Enqueued:     c.now(),
			Seq:          seq,
		}, err)
		return nil

	default:
		c.restoreLocked(key, prev, existed)
		return err
	}
}

// Delete removes key locally and from the store, queueing the removal when
// the store is unreachable. It returns ErrKeyNotFound only when the key is
// unknown locally and the store reports it missing.
func (c *Cache) Delete(ctx context.Context, key string, lastModified int64) error {
	unlock := c.locks.Lock(key)
	defer unlock()

	c.mu.Lock()
	prev, existed := c.entries[key]
	seq := c.nextLocked()
	delete(c.entries, key)
	c.mu.Unlock()

	err := c.store.Delete(ctx, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err == nil:
		c.queue.Remove(key)
		return nil

	case errors.Is(err, store.ErrKeyNotFound):
		// A queued SET for key never reached the store; nothing to replay.
		c.queue.Remove(key)
		if !existed {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return nil

	case store.IsUnavailable(err):
		c.enqueueLocked(ctx, "cache.Delete", PendingWrite{
			Key:          key,
			Kind:         KindDelete,
			LastModified: lastModified,
			Enqueued:     c.now(),
			Seq:          seq,
		}, err)
		return nil

	default:
		c.restoreLocked(key, prev, existed)
		return err
	}
}

// Peek returns the local copy of key without contacting the store.
func (c *Cache) Peek(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return cloneEntry(e), true
}

// Keys lists the locally known keys starting with prefix, sorted.
func (c *Cache) Keys(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Pending returns the queued writes, oldest first.
func (c *Cache) Pending() []PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Writes()
}

// Len returns the number of queued writes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// Restore queues writes recovered from an earlier process, oldest first,
// and applies them to the local copies. Call it before the cache is used.
func (c *Cache) Restore(writes []PendingWrite) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, w := range writes {
		w.Seq = c.nextLocked()
		w.Value = slices.Clone(w.Value)
		c.queue.Push(w)
		if w.Kind == KindDelete {
			delete(c.entries, w.Key)
			continue
		}
		c.entries[w.Key] = Entry{Key: w.Key, Value: w.Value, LastModified: w.LastModified}
	}
}

// Discard empties the queue and returns what it held.
func (c *Cache) Discard() []PendingWrite {
	c.mu.Lock()
	defer c.mu.Unlock()

	writes := c.queue.Writes()
	c.queue.Clear()
	return writes
}

func (c *Cache) localLocked(key string) (Entry, Origin, error) {
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, OriginCache, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return cloneEntry(e), OriginCache, nil
}

func (c *Cache) restoreLocked(key string, prev Entry, existed bool) {
	if existed {
		c.entries[key] = prev
		return
	}
	delete(c.entries, key)
}

func (c *Cache) enqueueLocked(ctx context.Context, source string, w PendingWrite, cause error) {
	replaced := c.queue.Push(w)
	c.emit(ctx, EventQueued, observability.LevelWarning, source, w, map[string]any{
		"replaced": replaced,
		"pending":  c.queue.Len(),
		"error":    cause.Error(),
	})
}

func (c *Cache) nextLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *Cache) emit(ctx context.Context, typ observability.EventType, level observability.Level, source string, w PendingWrite, extra map[string]any) {
	data := map[string]any{
		"key":  w.Key,
		"kind": w.Kind.String(),
	}
	for k, v := range extra {
		data[k] = v
	}
	observability.Emit(ctx, c.observer, typ, level, source, data)
}

func cloneEntry(e Entry) Entry {
	e.Value = slices.Clone(e.Value)
	return e
}
