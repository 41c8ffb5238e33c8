// Package memory provides a process-shared attribute store backed by a
// remote key-value server. Any number of processes read and write the same
// named attributes; the server is the source of truth, and each process
// keeps working from its local cache while the server is unreachable.
//
// Values are JSON-shaped: nil, bool, int64, float64, string, []any and
// map[string]any. Reading a list or a map returns a *List or *Map proxy
// whose mutators write the whole attribute back.
//
//	mem, err := memory.New(ctx, &cfg)
//	defer mem.Close(ctx)
//
//	mem.Write(ctx, "items", []any{1, 2, 3})
//	v, _ := mem.Read(ctx, "items")
//	v.(*memory.List).Append(ctx, 4)
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tailored-agentic-units/sharedmem/cache"
	"github.com/tailored-agentic-units/sharedmem/codec"
	"github.com/tailored-agentic-units/sharedmem/observability"
	"github.com/tailored-agentic-units/sharedmem/reconcile"
	"github.com/tailored-agentic-units/sharedmem/spool"
	"github.com/tailored-agentic-units/sharedmem/store"
)

// Option configures a Memory after config-driven initialization.
type Option func(*Memory)

// WithStore overrides the config-created Redis store. The caller keeps
// ownership: Close does not close it.
func WithStore(s store.Store) Option {
	return func(m *Memory) { m.store = s }
}

// WithObserver overrides the observer named in the config.
func WithObserver(obs observability.Observer) Option {
	return func(m *Memory) { m.observer = obs }
}

// WithClock overrides the clock used to stamp writes.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// Memory is a namespace of attributes in a shared store. It is safe for
// concurrent use.
type Memory struct {
	id       string
	cfg      Config
	prefix   string
	store    store.Store
	owned    bool
	observer observability.Observer
	now      func() time.Time

	cache      *cache.Cache
	reconciler *reconcile.Reconciler
	spool      *spool.Spool

	stampMu sync.Mutex
	stamp   int64

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// New creates a Memory from configuration. It never fails because the
// server is down: unflushed writes from an earlier run are restored from
// the spool, the prefix is preloaded when the server answers, and the
// reconciler starts in the background.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Memory, error) {
	c := DefaultConfig()
	if cfg != nil {
		c.Merge(cfg)
	}

	m := &Memory{
		id:     uuid.Must(uuid.NewV7()).String(),
		cfg:    c,
		prefix: c.KeyPrefix(),
		now:    time.Now,
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.observer == nil {
		obs, err := observability.GetObserver(c.Observer)
		if err != nil {
			return nil, err
		}
		m.observer = obs
	}

	if m.store == nil {
		m.store = store.NewRedis(c.StoreConfig())
		m.owned = true
	}

	m.cache = cache.New(m.store,
		cache.WithObserver(m.observer),
		cache.WithClock(m.now),
	)

	if c.SpoolPath != "" {
		if err := m.restore(ctx); err != nil {
			m.release()
			return nil, err
		}
	}

	m.preload(ctx)

	m.reconciler = reconcile.New(m.cache, c.FlushInterval, m.observer)
	if err := m.reconciler.Start(context.WithoutCancel(ctx)); err != nil {
		m.release()
		return nil, err
	}

	observability.Emit(ctx, m.observer, EventOpen, observability.LevelInfo, "memory.New",
		map[string]any{"id": m.id, "prefix": m.prefix, "conversation": c.Conversation})

	return m, nil
}

// NewConversation creates a Memory scoped to one conversation: every key
// carries prefix + id + ":". An empty id is replaced by a fresh UUIDv7.
func NewConversation(ctx context.Context, id string, cfg *Config, opts ...Option) (*Memory, error) {
	c := DefaultConfig()
	if cfg != nil {
		c.Merge(cfg)
	}
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}
	c.Conversation = id
	return New(ctx, &c, opts...)
}

// With creates a Memory, runs fn with it, and closes it. Close runs
// exactly once even when fn returns an error or panics.
func With(ctx context.Context, cfg *Config, fn func(*Memory) error, opts ...Option) (err error) {
	m, err := New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(ctx); err == nil {
			err = cerr
		}
	}()
	return fn(m)
}

// ID returns the instance id.
func (m *Memory) ID() string { return m.id }

// Conversation returns the conversation id, empty for a plain Memory.
func (m *Memory) Conversation() string { return m.cfg.Conversation }

// Prefix returns the key prefix of this namespace.
func (m *Memory) Prefix() string { return m.prefix }

// Read returns the value of name. Lists and maps come back as *List and
// *Map proxies. While the server is unreachable the locally cached value
// is returned.
func (m *Memory) Read(ctx context.Context, name string) (any, error) {
	v, err := m.readPlain(ctx, name)
	if err != nil {
		return nil, err
	}
	return wrap(m, name, v), nil
}

// Write stores value under name. It fails only for values outside the
// JSON domain, invalid names, a closed Memory, or a server that rejects
// the write; an unreachable server queues the write instead.
func (m *Memory) Write(ctx context.Context, name string, value any) error {
	key, err := m.key(name)
	if err != nil {
		return err
	}

	lm := m.nextStamp()
	data, err := codec.EncodeEnvelope(value, lm)
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return m.cache.Set(ctx, key, data, lm)
}

// Remove deletes name. It returns ErrAttributeNotFound only when neither
// the local cache nor the server knows it.
func (m *Memory) Remove(ctx context.Context, name string) error {
	key, err := m.key(name)
	if err != nil {
		return err
	}

	if err := m.cache.Delete(ctx, key, m.nextStamp()); err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrAttributeNotFound, name)
		}
		return err
	}
	return nil
}

// Sync reconciles name with the server by last-modified time and returns
// the winning value.
func (m *Memory) Sync(ctx context.Context, name string) (any, error) {
	key, err := m.key(name)
	if err != nil {
		return nil, err
	}

	e, err := m.cache.Sync(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAttributeNotFound, name)
		}
		return nil, err
	}

	v, err := decode(name, e.Value)
	if err != nil {
		return nil, err
	}
	return wrap(m, name, v), nil
}

// Names lists the attributes of this namespace, sorted. While the server
// is unreachable only locally known names are listed.
func (m *Memory) Names(ctx context.Context) ([]string, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, key := range m.cache.Keys(m.prefix) {
		seen[key] = true
	}

	remote, err := m.store.Keys(ctx, m.prefix)
	if err != nil && !store.IsUnavailable(err) {
		return nil, err
	}
	for _, key := range remote {
		seen[key] = true
	}

	for _, w := range m.cache.Pending() {
		if w.Kind == cache.KindDelete {
			delete(seen, w.Key)
		}
	}

	names := make([]string, 0, len(seen))
	for key := range seen {
		name := strings.TrimPrefix(key, m.prefix)
		if validName(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Pending returns the writes not yet confirmed by the server, oldest
// first.
func (m *Memory) Pending() []cache.PendingWrite {
	return m.cache.Pending()
}

// Flush makes one replay pass over the pending writes and returns how many
// are left.
func (m *Memory) Flush(ctx context.Context) (int, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	_, remaining, err := m.cache.DrainOnce(ctx)
	return remaining, err
}

// Close stops the reconciler after a final replay pass. Writes that still
// could not be delivered are saved to the spool when one is configured and
// dropped otherwise. Close runs once; later calls return the first result.
func (m *Memory) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.closed)

		remaining, err := m.reconciler.Stop(ctx)
		if err != nil {
			observability.Emit(ctx, m.observer, reconcile.EventError, observability.LevelError, "memory.Close",
				map[string]any{"error": err.Error()})
		}

		if m.spool != nil {
			leftovers := m.cache.Discard()
			if serr := m.spool.Save(m.prefix, leftovers); serr != nil {
				m.closeErr = errors.Join(m.closeErr, fmt.Errorf("save spool: %w", serr))
			} else if len(leftovers) > 0 {
				observability.Emit(ctx, m.observer, EventSpoolSave, observability.LevelInfo, "memory.Close",
					map[string]any{"path": m.spool.Path(), "writes": len(leftovers)})
			}
			remaining = 0
		}

		m.closeErr = errors.Join(m.closeErr, m.release())

		observability.Emit(ctx, m.observer, EventClose, observability.LevelInfo, "memory.Close",
			map[string]any{"id": m.id, "discarded": remaining})
	})
	return m.closeErr
}

func (m *Memory) release() error {
	var errs []error
	if m.spool != nil {
		errs = append(errs, m.spool.Close())
	}
	if m.owned {
		errs = append(errs, m.store.Close())
	}
	return errors.Join(errs...)
}

func (m *Memory) restore(ctx context.Context) error {
	sp, err := spool.Open(m.cfg.SpoolPath)
	if err != nil {
		return err
	}
	m.spool = sp

	writes, err := sp.Take(m.prefix)
	if err != nil {
		return fmt.Errorf("restore spool: %w", err)
	}
	if len(writes) == 0 {
		return nil
	}

	m.cache.Restore(writes)
	observability.Emit(ctx, m.observer, EventSpoolRestore, observability.LevelInfo, "memory.New",
		map[string]any{"path": sp.Path(), "writes": len(writes)})
	return nil
}

func (m *Memory) preload(ctx context.Context) {
	n, err := m.cache.Load(ctx, m.prefix)
	if err != nil {
		observability.Emit(ctx, m.observer, EventPreload, observability.LevelWarning, "memory.New",
			map[string]any{"prefix": m.prefix, "loaded": n, "error": err.Error()})
		return
	}
	observability.Emit(ctx, m.observer, EventPreload, observability.LevelVerbose, "memory.New",
		map[string]any{"prefix": m.prefix, "loaded": n})
}

func (m *Memory) readPlain(ctx context.Context, name string) (any, error) {
	key, err := m.key(name)
	if err != nil {
		return nil, err
	}

	e, _, err := m.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAttributeNotFound, name)
		}
		return nil, err
	}
	return decode(name, e.Value)
}

func (m *Memory) key(name string) (string, error) {
	if err := m.checkOpen(); err != nil {
		return "", err
	}
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return m.prefix + name, nil
}

func (m *Memory) checkOpen() error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
		return nil
	}
}

// nextStamp returns the write time in Unix nanoseconds, strictly
// increasing within one Memory.
func (m *Memory) nextStamp() int64 {
	m.stampMu.Lock()
	defer m.stampMu.Unlock()

	stamp := m.now().UnixNano()
	if stamp <= m.stamp {
		stamp = m.stamp + 1
	}
	m.stamp = stamp
	return stamp
}

// Names starting with an underscore are reserved.
func validName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_")
}

func decode(name string, data []byte) (any, error) {
	env, err := codec.DecodeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return env.Value, nil
}
