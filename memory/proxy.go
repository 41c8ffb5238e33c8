package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tailored-agentic-units/sharedmem/codec"
)

// view is the root value shared by every proxy obtained from one Read. The
// value is never modified in place; mutators swap in a new root.
type view struct {
	mu    sync.RWMutex
	value any
}

func (v *view) load() any {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.value
}

func (v *view) store(value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.value = value
}

// node locates a container inside an attribute: segments are int for list
// positions and string for map keys.
type node struct {
	mem  *Memory
	name string
	path []any
	root *view
}

func wrap(m *Memory, name string, v any) any {
	n := node{mem: m, name: name, root: &view{value: v}}
	return n.child(nil, v)
}

// child wraps v, found at seg below n, in a proxy when it is a container.
// A nil seg wraps n itself.
func (n node) child(seg any, v any) any {
	path := n.path
	if seg != nil {
		path = append(path[:len(path):len(path)], seg)
	}
	c := node{mem: n.mem, name: n.name, path: path, root: n.root}

	switch v.(type) {
	case []any:
		return &List{node: c}
	case map[string]any:
		return &Map{node: c}
	default:
		return v
	}
}

// current resolves n in the shared view. The result must not be modified.
func (n node) current() (any, error) {
	return resolve(n.root.load(), n.path)
}

// Path renders the location of the proxy, e.g. items[2].tags.
func (n node) Path() string {
	var b strings.Builder
	b.WriteString(n.name)
	for _, seg := range n.path {
		switch s := seg.(type) {
		case int:
			fmt.Fprintf(&b, "[%d]", s)
		case string:
			b.WriteByte('.')
			b.WriteString(s)
		}
	}
	return b.String()
}

// mutate applies fn to a private copy of the container at n, re-reads the
// attribute, puts the result at n's path in the fresh value, and writes the
// whole attribute back. The shared view then holds the written value.
func (n node) mutate(ctx context.Context, fn func(sub any) (any, error)) error {
	sub, err := n.current()
	if err != nil {
		return err
	}

	updated, err := fn(codec.Clone(sub))
	if err != nil {
		return err
	}

	root, err := n.mem.readPlain(ctx, n.name)
	if err != nil {
		return err
	}

	root, err = replace(root, n.path, updated)
	if err != nil {
		return fmt.Errorf("%s: %w", n.Path(), err)
	}

	if err := n.mem.Write(ctx, n.name, root); err != nil {
		return err
	}

	n.root.store(root)
	return nil
}

func resolve(root any, path []any) (any, error) {
	cur := root
	for _, seg := range path {
		next, ok := step(cur, seg)
		if !ok {
			return nil, ErrPathConflict
		}
		cur = next
	}
	return cur, nil
}

// replace sets the value at path within root. root is modified in place.
func replace(root any, path []any, v any) (any, error) {
	if len(path) == 0 {
		return v, nil
	}

	parent, err := resolve(root, path[:len(path)-1])
	if err != nil {
		return nil, err
	}

	switch seg := path[len(path)-1].(type) {
	case int:
		list, ok := parent.([]any)
		if !ok || seg >= len(list) {
			return nil, ErrPathConflict
		}
		list[seg] = v
	case string:
		m, ok := parent.(map[string]any)
		if !ok {
			return nil, ErrPathConflict
		}
		if _, exists := m[seg]; !exists {
			return nil, ErrPathConflict
		}
		m[seg] = v
	}
	return root, nil
}

func step(cur, seg any) (any, bool) {
	switch s := seg.(type) {
	case int:
		list, ok := cur.([]any)
		if !ok || s < 0 || s >= len(list) {
			return nil, false
		}
		return list[s], true
	case string:
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[s]
		return v, ok
	}
	return nil, false
}
