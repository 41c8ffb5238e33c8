package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/sharedmem/store"
)

func TestFake_Basic(t *testing.T) {
	f := store.NewFake()
	ctx := context.Background()

	if err := f.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := f.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}

	if err := f.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.Get(ctx, "k"); !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrKeyNotFound", err)
	}
	if err := f.Delete(ctx, "k"); !errors.Is(err, store.ErrKeyNotFound) {
		t.Errorf("second Delete() error = %v, want ErrKeyNotFound", err)
	}

	want := []store.Op{
		{Kind: store.OpSet, Key: "k", Value: []byte("v")},
		{Kind: store.OpDelete, Key: "k"},
	}
	if diff := cmp.Diff(want, f.Ops()); diff != "" {
		t.Errorf("Ops() mismatch (-want +got):\n%s", diff)
	}
}

func TestFake_Offline(t *testing.T) {
	f := store.NewFake()
	ctx := context.Background()
	f.SetAvailable(false)

	if err := f.Set(ctx, "k", []byte("v")); !store.IsUnavailable(err) {
		t.Errorf("Set() offline error = %v, want unavailable", err)
	}
	if _, ok := f.Value("k"); ok {
		t.Error("offline Set() stored a value")
	}

	f.SetAvailable(true)
	if err := f.Set(ctx, "k", []byte("v")); err != nil {
		t.Errorf("Set() online error = %v", err)
	}
}

func TestFake_FailNext(t *testing.T) {
	f := store.NewFake()
	ctx := context.Background()
	f.FailNext(2)

	for i := range 2 {
		if err := f.Ping(ctx); !store.IsUnavailable(err) {
			t.Errorf("Ping() #%d error = %v, want unavailable", i, err)
		}
	}
	if err := f.Ping(ctx); err != nil {
		t.Errorf("Ping() after injected failures error = %v", err)
	}
	if f.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", f.Calls())
	}
}

func TestFake_CancelledContext(t *testing.T) {
	f := store.NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.Get(ctx, "k"); !store.IsUnavailable(err) {
		t.Errorf("Get() with cancelled context error = %v, want unavailable", err)
	}
}

func TestFake_KeysSortedByPrefix(t *testing.T) {
	f := store.NewFake()
	f.Put("memory:b", []byte("1"))
	f.Put("memory:a", []byte("2"))
	f.Put("other:c", []byte("3"))

	keys, err := f.Keys(context.Background(), "memory:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if diff := cmp.Diff([]string{"memory:a", "memory:b"}, keys); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
	if len(f.Ops()) != 0 {
		t.Errorf("Put() recorded %d ops, want 0", len(f.Ops()))
	}
}
