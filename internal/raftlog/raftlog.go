// Package raftlog persists raft log entries and stable metadata in a bbolt
// database. It implements raft.LogStore and raft.StableStore for
// hashicorp/raft, backing the replicated-KV deployment of the sync server.
//
// Layout: a "logs" bucket keyed by 8-byte big-endian log index, and a
// "meta" bucket for stable key/value state (current term, voted-for).
package raftlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	bolt "go.etcd.io/bbolt"

	"github.com/passmgr-tool/passmgr/internal/record"
)

var (
	logsBucket = []byte("logs")
	metaBucket = []byte("meta")

	// ErrKeyNotFound is returned by Get/GetUint64 for absent keys. The
	// raft library matches on the literal "not found" message.
	ErrKeyNotFound = errors.New("not found")
)

// Store is a bbolt-backed raft.LogStore and raft.StableStore.
type Store struct {
	db *bolt.DB
}

// compile-time interface checks
var (
	_ raft.LogStore    = (*Store)(nil)
	_ raft.StableStore = (*Store)(nil)
)

// Open creates or opens the store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("raftlog: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("raftlog: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(logsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("raftlog: init: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// FirstIndex returns the index of the oldest stored log, or 0 when empty.
func (s *Store) FirstIndex() (uint64, error) {
	var idx uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(logsBucket).Cursor().First()
		if k != nil {
			idx = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return idx, err
}

// LastIndex returns the index of the newest stored log, or 0 when empty.
func (s *Store) LastIndex() (uint64, error) {
	var idx uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(logsBucket).Cursor().Last()
		if k != nil {
			idx = binary.BigEndian.Uint64(k)
		}
		return nil
	})
	return idx, err
}

// GetLog loads the entry at index into out.
func (s *Store) GetLog(index uint64, out *raft.Log) error {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(logsBucket).Get(indexKey(index))
		if v == nil {
			return raft.ErrLogNotFound
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return err
	}
	return record.Unmarshal(data, out)
}

// StoreLog persists one entry.
func (s *Store) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

// StoreLogs persists a batch of entries in one transaction.
func (s *Store) StoreLogs(logs []*raft.Log) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(logsBucket)
		for _, log := range logs {
			data, err := record.Marshal(log)
			if err != nil {
				return err
			}
			if err := b.Put(indexKey(log.Index), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRange removes entries with min <= index <= max.
func (s *Store) DeleteRange(min, max uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(logsBucket).Cursor()
		for k, _ := c.Seek(indexKey(min)); k != nil; k, _ = c.Next() {
			idx := binary.BigEndian.Uint64(k)
			if idx > max {
				break
			}
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Set stores a stable key/value pair.
func (s *Store) Set(key []byte, val []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(key, val)
	})
}

// Get loads a stable value; absent keys return ErrKeyNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(key)
		if v == nil {
			return ErrKeyNotFound
		}
		out = make([]byte, len(v))
		copy(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetUint64 stores a stable counter.
func (s *Store) SetUint64(key []byte, val uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, val)
	return s.Set(key, buf)
}

// GetUint64 loads a stable counter; absent keys return ErrKeyNotFound.
func (s *Store) GetUint64(key []byte) (uint64, error) {
	v, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("raftlog: stable value for %q has %d bytes, want 8", key, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// indexKey encodes a log index as its big-endian storage key, preserving
// numeric order under bbolt's byte-ordered iteration.
func indexKey(index uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, index)
	return k
}
