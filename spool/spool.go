// Package spool persists unflushed writes in a local bbolt file so they
// survive a process restart. Each namespace (a Memory key prefix) gets its
// own bucket; records are kept in queue order.
package spool

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/tailored-agentic-units/sharedmem/cache"
)

// Spool is a bbolt-backed store of pending writes. It is safe for
// concurrent use.
type Spool struct {
	db *bolt.DB
}

// Open opens or creates the spool file at path.
func Open(path string) (*Spool, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open spool %s: %w", path, err)
	}
	return &Spool{db: db}, nil
}

// Path returns the file backing the spool.
func (s *Spool) Path() string {
	return s.db.Path()
}

// Save replaces the writes held for namespace. An empty slice clears it.
func (s *Spool) Save(namespace string, writes []cache.PendingWrite) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		name := []byte(namespace)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}
		if len(writes) == 0 {
			return nil
		}

		bucket, err := tx.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("create bucket %q: %w", namespace, err)
		}

		for _, w := range writes {
			seq, err := bucket.NextSequence()
			if err != nil {
				return err
			}
			record, err := json.Marshal(w)
			if err != nil {
				return fmt.Errorf("encode %s: %w", w.Key, err)
			}
			if err := bucket.Put(seqKey(seq), record); err != nil {
				return err
			}
		}
		return nil
	})
}

// Take returns the writes held for namespace, oldest first, and removes
// them from the spool.
func (s *Spool) Take(namespace string) ([]cache.PendingWrite, error) {
	var writes []cache.PendingWrite

	err := s.db.Update(func(tx *bolt.Tx) error {
		name := []byte(namespace)
		bucket := tx.Bucket(name)
		if bucket == nil {
			return nil
		}

		err := bucket.ForEach(func(k, v []byte) error {
			var w cache.PendingWrite
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("decode record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			writes = append(writes, w)
			return nil
		})
		if err != nil {
			return err
		}
		return tx.DeleteBucket(name)
	})
	if err != nil {
		return nil, err
	}
	return writes, nil
}

// Namespaces lists the namespaces holding writes.
func (s *Spool) Namespaces() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

// Close releases the spool file.
func (s *Spool) Close() error {
	return s.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
