package memory_test

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/sharedmem/memory"
)

func redisConfig(t *testing.T, mr *miniredis.Miniredis) *memory.Config {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatal(err)
	}
	return &memory.Config{
		Host:          mr.Host(),
		Port:          port,
		Timeout:       100 * time.Millisecond,
		FlushInterval: time.Hour,
		Observer:      "noop",
	}
}

func openRedis(t *testing.T, cfg *memory.Config) *memory.Memory {
	t.Helper()
	m, err := memory.New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func TestRedis_SharedBetweenInstances(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := redisConfig(t, mr)

	a := openRedis(t, cfg)
	b := openRedis(t, cfg)

	if err := a.Write(ctx, "items", []any{1, 2, 3}); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	v, err := b.Read(ctx, "items")
	if err != nil {
		t.Fatalf("b.Read() error: %v", err)
	}
	if err := v.(*memory.List).Append(ctx, 4); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	raw, err := mr.Get("memory:items")
	if err != nil {
		t.Fatalf("miniredis Get() error: %v", err)
	}
	if want := `"value":[1,2,3,4]`; !strings.Contains(raw, want) {
		t.Errorf("stored %s, want it to contain %s", raw, want)
	}

	got, err := a.Read(ctx, "items")
	if err != nil {
		t.Fatalf("a.Read() error: %v", err)
	}
	if diff := cmp.Diff(ints(1, 2, 3, 4), got.(*memory.List).Plain()); diff != "" {
		t.Errorf("a.Read() mismatch (-want +got):\n%s", diff)
	}
}

func TestRedis_OutageAndRecovery(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := redisConfig(t, mr)

	a := openRedis(t, cfg)
	b := openRedis(t, cfg)
	_ = a.Write(ctx, "status", "up")
	if v, _ := b.Read(ctx, "status"); v != "up" {
		t.Fatalf("b.Read() = %v, want up", v)
	}

	mr.Close()

	if err := a.Write(ctx, "status", "degraded"); err != nil {
		t.Fatalf("Write() during outage error: %v", err)
	}
	if v, err := a.Read(ctx, "status"); err != nil || v != "degraded" {
		t.Errorf("a.Read() during outage = %v, %v, want degraded", v, err)
	}
	if v, err := b.Read(ctx, "status"); err != nil || v != "up" {
		t.Errorf("b.Read() during outage = %v, %v, want cached up", v, err)
	}

	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart() error: %v", err)
	}

	// The first pass may land on a connection the server dropped.
	var err error
	remaining := len(a.Pending())
	for range 5 {
		if remaining == 0 {
			break
		}
		if remaining, err = a.Flush(ctx); err != nil {
			t.Fatalf("Flush() error: %v", err)
		}
	}
	if remaining != 0 {
		t.Fatalf("Flush() left %d writes", remaining)
	}
	if v, err := b.Read(ctx, "status"); err != nil || v != "degraded" {
		t.Errorf("b.Read() after recovery = %v, %v, want degraded", v, err)
	}
}

func TestRedis_LoadingServerQueuesWrites(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	m := openRedis(t, redisConfig(t, mr))

	if err := m.Write(ctx, "status", "up"); err != nil {
		t.Fatalf("Write() error: %v", err)
	}

	mr.SetError("LOADING Redis is loading the dataset in memory")

	if err := m.Write(ctx, "k", 1); err != nil {
		t.Fatalf("Write() while loading error: %v", err)
	}
	if got := len(m.Pending()); got != 1 {
		t.Errorf("Pending() has %d writes, want 1", got)
	}
	if v, err := m.Read(ctx, "status"); err != nil || v != "up" {
		t.Errorf("Read() while loading = %v, %v, want cached up", v, err)
	}

	mr.SetError("")

	remaining, err := m.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("Flush() left %d writes", remaining)
	}
	raw, err := mr.Get("memory:k")
	if err != nil {
		t.Fatalf("miniredis Get() error: %v", err)
	}
	if want := `"value":1`; !strings.Contains(raw, want) {
		t.Errorf("stored %s, want it to contain %s", raw, want)
	}
}

func TestRedis_ConversationsAreIsolated(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := redisConfig(t, mr)

	one, err := memory.NewConversation(ctx, "one", cfg)
	if err != nil {
		t.Fatalf("NewConversation() error: %v", err)
	}
	defer one.Close(ctx)
	two, err := memory.NewConversation(ctx, "two", cfg)
	if err != nil {
		t.Fatalf("NewConversation() error: %v", err)
	}
	defer two.Close(ctx)

	_ = one.Write(ctx, "topic", "a")
	_ = two.Write(ctx, "topic", "b")

	if !mr.Exists("memory:one:topic") || !mr.Exists("memory:two:topic") {
		t.Errorf("keys = %v, want both conversation keys", mr.Keys())
	}
	if v, _ := one.Read(ctx, "topic"); v != "a" {
		t.Errorf("one.Read() = %v, want a", v)
	}
	names, err := two.Names(ctx)
	if err != nil {
		t.Fatalf("Names() error: %v", err)
	}
	if diff := cmp.Diff([]string{"topic"}, names); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestRedis_SpoolCarriesWritesAcrossRestart(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := redisConfig(t, mr)
	cfg.SpoolPath = filepath.Join(t.TempDir(), "spool.db")

	mr.Close()

	first, err := memory.New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	_ = first.Write(ctx, "draft", "unsent")
	if err := first.Close(ctx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart() error: %v", err)
	}

	second := openRedis(t, cfg)
	if n := len(second.Pending()); n != 1 {
		t.Fatalf("Pending() after restore = %d, want 1", n)
	}
	if v, err := second.Read(ctx, "draft"); err != nil || v != "unsent" {
		t.Errorf("Read() = %v, %v, want unsent", v, err)
	}
	if remaining, err := second.Flush(ctx); err != nil || remaining != 0 {
		t.Fatalf("Flush() = %d, %v, want 0, nil", remaining, err)
	}
	if !mr.Exists("memory:draft") {
		t.Error("server missing memory:draft after flush")
	}
}

func TestRedis_ReconcilerFlushesInBackground(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := redisConfig(t, mr)
	cfg.FlushInterval = 5 * time.Millisecond
	m := openRedis(t, cfg)

	mr.Close()
	_ = m.Write(ctx, "k", 1)
	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart() error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !mr.Exists("memory:k") {
		if time.Now().After(deadline) {
			t.Fatal("reconciler never flushed memory:k")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
