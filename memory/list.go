package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"

	"github.com/tailored-agentic-units/sharedmem/codec"
)

// List is a proxy for a list attribute or a list nested inside one.
// Observers read the value as of the last Read or mutation; every mutator
// writes the whole attribute back. Nested lists and maps are returned as
// child proxies sharing the same root. Indices may be negative, counting
// from the end.
type List struct {
	node
}

var _ codec.Plainer = (*List)(nil)

func (l *List) items() []any {
	v, err := l.current()
	if err != nil {
		return nil
	}
	items, _ := v.([]any)
	return items
}

// Len returns the number of elements.
func (l *List) Len() int {
	return len(l.items())
}

// At returns the element at i.
func (l *List) At(i int) (any, error) {
	items := l.items()
	idx, err := index(i, len(items))
	if err != nil {
		return nil, err
	}
	return l.child(idx, items[idx]), nil
}

// All iterates over the elements in order.
func (l *List) All() iter.Seq2[int, any] {
	items := l.items()
	return func(yield func(int, any) bool) {
		for i, v := range items {
			if !yield(i, l.child(i, v)) {
				return
			}
		}
	}
}

// Index returns the position of the first element equal to v, or -1.
func (l *List) Index(v any) int {
	want, err := codec.Normalize(v)
	if err != nil {
		return -1
	}
	return slices.IndexFunc(l.items(), func(e any) bool { return codec.Equal(e, want) })
}

// Plain returns a deep copy detached from the store.
func (l *List) Plain() []any {
	return codec.Clone(l.items()).([]any)
}

// PlainValue implements codec.Plainer.
func (l *List) PlainValue() any {
	return l.Plain()
}

func (l *List) String() string {
	return fmt.Sprint(l.Plain())
}

// Set replaces the element at i.
func (l *List) Set(ctx context.Context, i int, v any) error {
	nv, err := codec.Normalize(v)
	if err != nil {
		return err
	}
	return l.edit(ctx, func(items []any) ([]any, error) {
		idx, err := index(i, len(items))
		if err != nil {
			return nil, err
		}
		items[idx] = nv
		return items, nil
	})
}

// Append adds values to the end.
func (l *List) Append(ctx context.Context, values ...any) error {
	nvs, err := normalizeAll(values)
	if err != nil {
		return err
	}
	return l.edit(ctx, func(items []any) ([]any, error) {
		return append(items, nvs...), nil
	})
}

// Extend adds every element of values to the end.
func (l *List) Extend(ctx context.Context, values []any) error {
	return l.Append(ctx, values...)
}

// Insert places v before position i. Positions past either end clamp to
// that end.
func (l *List) Insert(ctx context.Context, i int, v any) error {
	nv, err := codec.Normalize(v)
	if err != nil {
		return err
	}
	return l.edit(ctx, func(items []any) ([]any, error) {
		n := len(items)
		if i < 0 {
			i = max(i+n, 0)
		}
		i = min(i, n)
		return slices.Insert(items, i, nv), nil
	})
}

// Remove deletes the first element equal to v.
func (l *List) Remove(ctx context.Context, v any) error {
	want, err := codec.Normalize(v)
	if err != nil {
		return err
	}
	return l.edit(ctx, func(items []any) ([]any, error) {
		idx := slices.IndexFunc(items, func(e any) bool { return codec.Equal(e, want) })
		if idx < 0 {
			return nil, fmt.Errorf("%w: %v", ErrValueNotFound, v)
		}
		return slices.Delete(items, idx, idx+1), nil
	})
}

// Pop removes and returns the element at i; -1 is the last element. The
// returned value is a plain copy.
func (l *List) Pop(ctx context.Context, i int) (any, error) {
	var popped any
	err := l.edit(ctx, func(items []any) ([]any, error) {
		if len(items) == 0 {
			return nil, ErrEmpty
		}
		idx, err := index(i, len(items))
		if err != nil {
			return nil, err
		}
		popped = items[idx]
		return slices.Delete(items, idx, idx+1), nil
	})
	if err != nil {
		return nil, err
	}
	return popped, nil
}

// Clear removes every element.
func (l *List) Clear(ctx context.Context) error {
	return l.edit(ctx, func([]any) ([]any, error) {
		return []any{}, nil
	})
}

// Sort orders the elements ascending: numbers by value, strings lexically,
// false before true. Lists mixing kinds fail with ErrUnsortable and are
// left unchanged.
func (l *List) Sort(ctx context.Context) error {
	return l.edit(ctx, func(items []any) ([]any, error) {
		unordered := false
		slices.SortStableFunc(items, func(a, b any) int {
			c, ok := codec.Compare(a, b)
			if !ok {
				unordered = true
			}
			return c
		})
		if unordered {
			return nil, ErrUnsortable
		}
		return items, nil
	})
}

// SortFunc orders the elements by cmp, which receives plain values.
func (l *List) SortFunc(ctx context.Context, cmp func(a, b any) int) error {
	return l.edit(ctx, func(items []any) ([]any, error) {
		slices.SortStableFunc(items, cmp)
		return items, nil
	})
}

// Reverse reverses the elements in place.
func (l *List) Reverse(ctx context.Context) error {
	return l.edit(ctx, func(items []any) ([]any, error) {
		slices.Reverse(items)
		return items, nil
	})
}

func (l *List) edit(ctx context.Context, fn func([]any) ([]any, error)) error {
	return l.mutate(ctx, func(sub any) (any, error) {
		items, ok := sub.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: %w", l.Path(), ErrPathConflict)
		}
		return fn(items)
	})
}

func index(i, n int) (int, error) {
	idx := i
	if idx < 0 {
		idx += n
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("%w: %d with length %d", ErrIndexOutOfRange, i, n)
	}
	return idx, nil
}

func normalizeAll(values []any) ([]any, error) {
	out := make([]any, len(values))
	for i, v := range values {
		nv, err := codec.Normalize(v)
		if err != nil {
			return nil, err
		}
		out[i] = nv
	}
	return out, nil
}
