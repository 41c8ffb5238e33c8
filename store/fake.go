package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
)

// OpKind distinguishes the mutations recorded by Fake.
type OpKind string

const (
	OpSet    OpKind = "SET"
	OpDelete OpKind = "DEL"
)

// Op is one mutation applied by a Fake, in arrival order.
type Op struct {
	Kind  OpKind
	Key   string
	Value []byte
}

// Fake is an in-memory Store for tests. It can be switched offline, or made
// to fail a fixed number of upcoming calls, to simulate backend outages.
// Keys are kept sorted so Keys output is deterministic.
type Fake struct {
	mu        sync.Mutex
	data      *treemap.Map
	available bool
	failNext  int
	ops       []Op
	calls     int
}

var _ Store = (*Fake)(nil)

// NewFake creates an empty, available Fake.
func NewFake() *Fake {
	return &Fake{
		data:      treemap.NewWithStringComparator(),
		available: true,
	}
}

// SetAvailable switches the fake online or offline.
func (f *Fake) SetAvailable(available bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = available
}

// FailNext makes the next n calls fail with ErrUnavailable.
func (f *Fake) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
}

// Ops returns the mutations applied so far.
func (f *Fake) Ops() []Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.ops)
}

// Calls returns how many calls reached the fake, failed ones included.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Value reads a key directly, bypassing availability.
func (f *Fake) Value(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(v.([]byte)), true
}

// Put writes a key directly, bypassing availability and the op log. Tests
// use it to play another process writing to the shared server.
func (f *Fake) Put(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.Put(key, slices.Clone(value))
}

func (f *Fake) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter(ctx, "GET", key); err != nil {
		return nil, err
	}
	v, ok := f.data.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return slices.Clone(v.([]byte)), nil
}

func (f *Fake) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter(ctx, "SET", key); err != nil {
		return err
	}
	f.data.Put(key, slices.Clone(value))
	f.ops = append(f.ops, Op{Kind: OpSet, Key: key, Value: slices.Clone(value)})
	return nil
}

func (f *Fake) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter(ctx, "DEL", key); err != nil {
		return err
	}
	if _, ok := f.data.Get(key); !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	f.data.Remove(key)
	f.ops = append(f.ops, Op{Kind: OpDelete, Key: key})
	return nil
}

func (f *Fake) Keys(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.enter(ctx, "SCAN", prefix); err != nil {
		return nil, err
	}
	var keys []string
	for _, k := range f.data.Keys() {
		if key := k.(string); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter(ctx, "PING", "")
}

func (f *Fake) Close() error {
	return nil
}

// enter accounts for a call and decides whether it fails. Callers hold mu.
func (f *Fake) enter(ctx context.Context, op, key string) error {
	f.calls++
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, key, err)
	}
	if !f.available {
		return fmt.Errorf("%w: %s %s: offline", ErrUnavailable, op, key)
	}
	if f.failNext > 0 {
		f.failNext--
		return fmt.Errorf("%w: %s %s: injected failure", ErrUnavailable, op, key)
	}
	return nil
}
