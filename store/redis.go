package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTimeout = 500 * time.Millisecond

// Config holds connection parameters for a Redis server.
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	DialTimeout  time.Duration // Dial timeout. Default 500ms.
	ReadTimeout  time.Duration // Socket read timeout. Default 500ms.
	WriteTimeout time.Duration // Socket write timeout. Defaults to ReadTimeout.
}

// Addr returns the host:port address of the server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Redis is a Store backed by a Redis server via go-redis. The client
// connects lazily, so constructing a Redis never fails even when the server
// is down.
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis store from configuration. Zero timeouts fall
// back to 500ms.
func NewRedis(cfg *Config) *Redis {
	dial := orDefault(cfg.DialTimeout, defaultTimeout)
	read := orDefault(cfg.ReadTimeout, defaultTimeout)
	write := orDefault(cfg.WriteTimeout, read)

	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dial,
		ReadTimeout:  read,
		WriteTimeout: write,
		MaxRetries:   -1,
	})}
}

// Connect creates a Redis store and verifies the server answers a PING.
func Connect(ctx context.Context, cfg *Config) (*Redis, error) {
	r := NewRedis(cfg)
	if err := r.Ping(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, classify("GET", key, err)
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, 0).Err(); err != nil {
		return classify("SET", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return classify("DEL", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, classify("SCAN", prefix, err)
	}
	return keys, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return classify("PING", "", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// classify maps go-redis errors onto the store taxonomy. A nil reply is a
// missing key. Error replies propagate as is, except those a server sends
// while it cannot serve data yet (loading, failover, busy script), which
// count as unavailable along with network failures.
func classify(op, key string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	var reply redis.Error
	if errors.As(err, &reply) && !transient(reply) {
		return fmt.Errorf("%s %s: %w", op, key, err)
	}
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, key, err)
}

// Error replies sent while the server cannot serve data yet.
var transientReplies = []string{"LOADING ", "MASTERDOWN ", "TRYAGAIN ", "CLUSTERDOWN ", "BUSY "}

func transient(reply redis.Error) bool {
	msg := reply.Error()
	for _, prefix := range transientReplies {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
