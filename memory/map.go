package memory

import (
	"context"
	"fmt"
	"iter"

	"github.com/tailored-agentic-units/sharedmem/codec"
)

// Map is a proxy for a map attribute or a map nested inside one. It
// follows the same rules as List. Iteration runs in ascending key order.
type Map struct {
	node
}

var _ codec.Plainer = (*Map)(nil)

func (m *Map) entries() map[string]any {
	v, err := m.current()
	if err != nil {
		return nil
	}
	entries, _ := v.(map[string]any)
	return entries
}

// Len returns the number of keys.
func (m *Map) Len() int {
	return len(m.entries())
}

// Get returns the value stored under key.
func (m *Map) Get(key string) (any, bool) {
	v, ok := m.entries()[key]
	if !ok {
		return nil, false
	}
	return m.child(key, v), true
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	_, ok := m.entries()[key]
	return ok
}

// Keys returns the keys in ascending order.
func (m *Map) Keys() []string {
	return codec.SortedKeys(m.entries())
}

// All iterates over the entries in ascending key order.
func (m *Map) All() iter.Seq2[string, any] {
	entries := m.entries()
	return func(yield func(string, any) bool) {
		for _, k := range codec.SortedKeys(entries) {
			if !yield(k, m.child(k, entries[k])) {
				return
			}
		}
	}
}

// Plain returns a deep copy detached from the store.
func (m *Map) Plain() map[string]any {
	return codec.Clone(m.entries()).(map[string]any)
}

// PlainValue implements codec.Plainer.
func (m *Map) PlainValue() any {
	return m.Plain()
}

func (m *Map) String() string {
	return fmt.Sprint(m.Plain())
}

// Set stores v under key.
func (m *Map) Set(ctx context.Context, key string, v any) error {
	nv, err := codec.Normalize(v)
	if err != nil {
		return err
	}
	return m.edit(ctx, func(entries map[string]any) error {
		entries[key] = nv
		return nil
	})
}

// Delete removes key. It fails with ErrMissingKey when key is absent.
func (m *Map) Delete(ctx context.Context, key string) error {
	return m.edit(ctx, func(entries map[string]any) error {
		if _, ok := entries[key]; !ok {
			return fmt.Errorf("%w: %q", ErrMissingKey, key)
		}
		delete(entries, key)
		return nil
	})
}

// Update stores every entry of values, in one write.
func (m *Map) Update(ctx context.Context, values map[string]any) error {
	nv, err := codec.Normalize(values)
	if err != nil {
		return err
	}
	return m.edit(ctx, func(entries map[string]any) error {
		for k, v := range nv.(map[string]any) {
			entries[k] = v
		}
		return nil
	})
}

// Pop removes key and returns its value as a plain copy.
func (m *Map) Pop(ctx context.Context, key string) (any, error) {
	var popped any
	err := m.edit(ctx, func(entries map[string]any) error {
		v, ok := entries[key]
		if !ok {
			return fmt.Errorf("%w: %q", ErrMissingKey, key)
		}
		popped = v
		delete(entries, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return popped, nil
}

// PopItem removes the entry with the largest key and returns it.
func (m *Map) PopItem(ctx context.Context) (string, any, error) {
	var (
		key    string
		popped any
	)
	err := m.edit(ctx, func(entries map[string]any) error {
		if len(entries) == 0 {
			return ErrEmpty
		}
		keys := codec.SortedKeys(entries)
		key = keys[len(keys)-1]
		popped = entries[key]
		delete(entries, key)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return key, popped, nil
}

// Clear removes every entry.
func (m *Map) Clear(ctx context.Context) error {
	return m.edit(ctx, func(entries map[string]any) error {
		clear(entries)
		return nil
	})
}

// SetDefault returns the value under key, storing def first when key is
// absent. Nothing is written when key exists.
func (m *Map) SetDefault(ctx context.Context, key string, def any) (any, error) {
	if v, ok := m.Get(key); ok {
		return v, nil
	}

	nv, err := codec.Normalize(def)
	if err != nil {
		return nil, err
	}
	err = m.edit(ctx, func(entries map[string]any) error {
		if _, ok := entries[key]; !ok {
			entries[key] = nv
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	v, _ := m.Get(key)
	return v, nil
}

func (m *Map) edit(ctx context.Context, fn func(map[string]any) error) error {
	return m.mutate(ctx, func(sub any) (any, error) {
		entries, ok := sub.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s: %w", m.Path(), ErrPathConflict)
		}
		if err := fn(entries); err != nil {
			return nil, err
		}
		return entries, nil
	})
}
