package cache

import (
	"fmt"
	"time"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// Kind is the operation a PendingWrite replays.
type Kind int

const (
	KindSet Kind = iota
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "SET"
	case KindDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// PendingWrite is a write the remote store has not confirmed yet.
type PendingWrite struct {
	Key          string    `json:"key"`
	Value        []byte    `json:"value,omitempty"`
	Kind         Kind      `json:"kind"`
	LastModified int64     `json:"last_modified"`
	Enqueued     time.Time `json:"enqueued"`

	// Seq identifies this write among all writes of one Cache. It is not
	// persisted; Restore assigns fresh ones.
	Seq uint64 `json:"-"`
}

// Queue is an ordered backlog holding at most one write per key. Pushing a
// key that is already queued replaces the older write and moves the key to
// the tail, so replay order across keys follows each key's latest write.
// Queue is not safe for concurrent use; Cache guards it with its mutex.
type Queue struct {
	writes *linkedhashmap.Map
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{writes: linkedhashmap.New()}
}

// Push appends w, superseding any queued write for the same key. It
// reports whether an older write was replaced.
func (q *Queue) Push(w PendingWrite) bool {
	_, replaced := q.writes.Get(w.Key)
	if replaced {
		q.writes.Remove(w.Key)
	}
	q.writes.Put(w.Key, w)
	return replaced
}

// Peek returns the oldest write.
func (q *Queue) Peek() (PendingWrite, bool) {
	it := q.writes.Iterator()
	if !it.First() {
		return PendingWrite{}, false
	}
	return it.Value().(PendingWrite), true
}

// Lookup returns the queued write for key.
func (q *Queue) Lookup(key string) (PendingWrite, bool) {
	v, ok := q.writes.Get(key)
	if !ok {
		return PendingWrite{}, false
	}
	return v.(PendingWrite), true
}

// Remove drops the queued write for key, if any.
func (q *Queue) Remove(key string) {
	q.writes.Remove(key)
}

// Len returns the number of queued writes.
func (q *Queue) Len() int {
	return q.writes.Size()
}

// Writes returns the queued writes, oldest first.
func (q *Queue) Writes() []PendingWrite {
	values := q.writes.Values()
	writes := make([]PendingWrite, len(values))
	for i, v := range values {
		writes[i] = v.(PendingWrite)
	}
	return writes
}

// Clear empties the queue.
func (q *Queue) Clear() {
	q.writes.Clear()
}
