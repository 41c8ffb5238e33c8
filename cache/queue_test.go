package cache_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/sharedmem/cache"
)

func keysOf(writes []cache.PendingWrite) []string {
	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = w.Key
	}
	return keys
}

func TestQueue_PushKeepsArrivalOrder(t *testing.T) {
	q := cache.NewQueue()
	for i, key := range []string{"a", "b", "c"} {
		if replaced := q.Push(cache.PendingWrite{Key: key, Seq: uint64(i)}); replaced {
			t.Errorf("Push(%q) replaced = true, want false", key)
		}
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, keysOf(q.Writes())); diff != "" {
		t.Errorf("Writes() mismatch (-want +got):\n%s", diff)
	}

	head, ok := q.Peek()
	if !ok || head.Key != "a" {
		t.Errorf("Peek() = %q, %v, want a, true", head.Key, ok)
	}
}

func TestQueue_PushCoalescesAndMovesToTail(t *testing.T) {
	q := cache.NewQueue()
	q.Push(cache.PendingWrite{Key: "a", Value: []byte("1"), Seq: 1})
	q.Push(cache.PendingWrite{Key: "b", Value: []byte("2"), Seq: 2})

	if replaced := q.Push(cache.PendingWrite{Key: "a", Kind: cache.KindDelete, Seq: 3}); !replaced {
		t.Error("Push(a) replaced = false, want true")
	}

	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
	if diff := cmp.Diff([]string{"b", "a"}, keysOf(q.Writes())); diff != "" {
		t.Errorf("Writes() mismatch (-want +got):\n%s", diff)
	}

	w, ok := q.Lookup("a")
	if !ok {
		t.Fatal("Lookup(a) not found")
	}
	if w.Kind != cache.KindDelete || w.Seq != 3 {
		t.Errorf("Lookup(a) = %v seq %d, want DELETE seq 3", w.Kind, w.Seq)
	}
}

func TestQueue_RemoveAndClear(t *testing.T) {
	q := cache.NewQueue()
	q.Push(cache.PendingWrite{Key: "a"})
	q.Push(cache.PendingWrite{Key: "b"})

	q.Remove("a")
	q.Remove("missing")

	if _, ok := q.Lookup("a"); ok {
		t.Error("Lookup(a) found after Remove")
	}
	if head, _ := q.Peek(); head.Key != "b" {
		t.Errorf("Peek() = %q, want b", head.Key)
	}

	q.Clear()
	if _, ok := q.Peek(); ok {
		t.Error("Peek() ok on cleared queue")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind cache.Kind
		want string
	}{
		{cache.KindSet, "SET"},
		{cache.KindDelete, "DELETE"},
		{cache.Kind(7), "Kind(7)"},
	}

	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}
