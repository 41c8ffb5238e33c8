package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/tailored-agentic-units/sharedmem/codec"
	"github.com/tailored-agentic-units/sharedmem/observability"
	"github.com/tailored-agentic-units/sharedmem/store"
)

// DrainOnce replays queued writes oldest first until the queue is empty,
// the store becomes unreachable, or ctx is done. A write whose key holds a
// later payload in the store is dropped and counted as succeeded. Writes the
// store rejects outright are dropped as well and their errors returned
// joined; connectivity failures only stop the pass.
//
// Cancellation is checked between writes. A store call that has started
// runs to completion under the client timeout.
func (c *Cache) DrainOnce(ctx context.Context) (succeeded, remaining int, err error) {
	var errs []error

	for ctx.Err() == nil {
		c.mu.Lock()
		w, ok := c.queue.Peek()
		c.mu.Unlock()
		if !ok {
			break
		}

		done, rerr := c.replay(ctx, w)
		if rerr != nil {
			if store.IsUnavailable(rerr) {
				break
			}
			errs = append(errs, rerr)
			continue
		}
		if done {
			succeeded++
		}
	}

	remaining = c.Len()
	if succeeded > 0 || remaining > 0 {
		observability.Emit(ctx, c.observer, EventDrain, observability.LevelVerbose, "cache.DrainOnce",
			map[string]any{"succeeded": succeeded, "remaining": remaining})
	}
	return succeeded, remaining, errors.Join(errs...)
}

// replay sends one queued write. It reports false with a nil error when w
// was superseded before the key lock was acquired; the caller peeks again.
func (c *Cache) replay(ctx context.Context, w PendingWrite) (bool, error) {
	unlock := c.locks.Lock(w.Key)
	defer unlock()

	if !c.current(w) {
		return false, nil
	}

	netCtx := context.WithoutCancel(ctx)

	data, err := c.store.Get(netCtx, w.Key)
	switch {
	case err == nil:
		if lm := codec.LastModified(data); lm > w.LastModified {
			c.mu.Lock()
			if c.currentLocked(w) {
				c.queue.Remove(w.Key)
				c.entries[w.Key] = Entry{Key: w.Key, Value: data, LastModified: lm, Good: true}
			}
			c.mu.Unlock()
			c.emit(ctx, EventSkipped, observability.LevelInfo, "cache.DrainOnce", w,
				map[string]any{"remote_last_modified": lm})
			return true, nil
		}
	case errors.Is(err, store.ErrKeyNotFound):
	case store.IsUnavailable(err):
		return false, err
	default:
		c.drop(ctx, w, err)
		return false, fmt.Errorf("replay %s %s: %w", w.Kind, w.Key, err)
	}

	if w.Kind == KindDelete {
		err = c.store.Delete(netCtx, w.Key)
		if errors.Is(err, store.ErrKeyNotFound) {
			err = nil
		}
	} else {
		err = c.store.Set(netCtx, w.Key, w.Value)
	}

	if err != nil {
		if store.IsUnavailable(err) {
			return false, err
		}
		c.drop(ctx, w, err)
		return false, fmt.Errorf("replay %s %s: %w", w.Kind, w.Key, err)
	}

	c.mu.Lock()
	if c.currentLocked(w) {
		c.queue.Remove(w.Key)
		if w.Kind == KindSet {
			c.entries[w.Key] = Entry{Key: w.Key, Value: w.Value, LastModified: w.LastModified, Good: true}
		}
	}
	c.mu.Unlock()

	c.emit(ctx, EventFlushed, observability.LevelInfo, "cache.DrainOnce", w, nil)
	return true, nil
}

func (c *Cache) drop(ctx context.Context, w PendingWrite, cause error) {
	c.mu.Lock()
	if c.currentLocked(w) {
		c.queue.Remove(w.Key)
	}
	c.mu.Unlock()
	c.emit(ctx, EventSkipped, observability.LevelError, "cache.DrainOnce", w,
		map[string]any{"error": cause.Error()})
}

func (c *Cache) current(w PendingWrite) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked(w)
}

func (c *Cache) currentLocked(w PendingWrite) bool {
	cur, ok := c.queue.Lookup(w.Key)
	return ok && cur.Seq == w.Seq
}

// Sync reconciles key between the local cache and the store using the
// last_modified stamps. The newer side wins: a newer local copy is pushed
// (and queued if the store is unreachable), a newer remote copy replaces the
// local one. It returns the resulting entry, or ErrKeyNotFound when the key
// exists on neither side.
func (c *Cache) Sync(ctx context.Context, key string) (Entry, error) {
	unlock := c.locks.Lock(key)
	defer unlock()

	c.mu.Lock()
	local, hasLocal := c.entries[key]
	pending, hasPending := c.queue.Lookup(key)
	c.mu.Unlock()

	data, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrKeyNotFound):
		if !hasLocal {
			c.mu.Lock()
			c.queue.Remove(key)
			c.mu.Unlock()
			return Entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return c.push(ctx, local)
	case store.IsUnavailable(err):
		if !hasLocal {
			return Entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		if !local.Good && !hasPending {
			c.mu.Lock()
			c.enqueueLocked(ctx, "cache.Sync", PendingWrite{
				Key:          key,
				Value:        local.Value,
				Kind:         KindSet,
				LastModified: local.LastModified,
				Enqueued:     c.now(),
				Seq:          c.nextLocked(),
			}, err)
			c.mu.Unlock()
		}
		return cloneEntry(local), nil
	default:
		return Entry{}, err
	}

	remote := Entry{Key: key, Value: data, LastModified: codec.LastModified(data), Good: true}

	if hasLocal && local.LastModified > remote.LastModified {
		return c.push(ctx, local)
	}

	if !hasLocal && hasPending && pending.Kind == KindDelete && pending.LastModified > remote.LastModified {
		if err := c.store.Delete(ctx, key); err != nil && !errors.Is(err, store.ErrKeyNotFound) {
			if store.IsUnavailable(err) {
				return Entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
			}
			return Entry{}, err
		}
		c.mu.Lock()
		c.queue.Remove(key)
		c.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	c.mu.Lock()
	if hasPending {
		c.queue.Remove(key)
		c.emit(ctx, EventSkipped, observability.LevelInfo, "cache.Sync", pending,
			map[string]any{"remote_last_modified": remote.LastModified})
	}
	c.entries[key] = remote
	c.mu.Unlock()

	return cloneEntry(remote), nil
}

// push writes local to the store on behalf of Sync. The caller holds the
// key lock.
func (c *Cache) push(ctx context.Context, local Entry) (Entry, error) {
	err := c.store.Set(ctx, local.Key, local.Value)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err == nil:
		local.Good = true
		c.entries[local.Key] = local
		c.queue.Remove(local.Key)
		return cloneEntry(local), nil
	case store.IsUnavailable(err):
		c.enqueueLocked(ctx, "cache.Sync", PendingWrite{
			Key:          local.Key,
			Value:        local.Value,
			Kind:         KindSet,
			LastModified: local.LastModified,
			Enqueued:     c.now(),
			Seq:          c.nextLocked(),
		}, err)
		return cloneEntry(local), nil
	default:
		return Entry{}, err
	}
}

// Load fills the cache with every key under prefix held by the store. Keys
// with a queued write keep their local state. It returns the number of keys
// loaded.
func (c *Cache) Load(ctx context.Context, prefix string) (int, error) {
	keys, err := c.store.Keys(ctx, prefix)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, key := range keys {
		n, err := c.load(ctx, key)
		if err != nil {
			return loaded, err
		}
		loaded += n
	}
	return loaded, nil
}

func (c *Cache) load(ctx context.Context, key string) (int, error) {
	unlock := c.locks.Lock(key)
	defer unlock()

	data, err := c.store.Get(ctx, key)
	if errors.Is(err, store.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.queue.Lookup(key); ok {
		return 0, nil
	}
	c.entries[key] = Entry{Key: key, Value: data, LastModified: codec.LastModified(data), Good: true}
	return 1, nil
}
