// Package store persists cipher records in an embedded ordered key-value
// database. Each user owns one bucket keyed by the raw 32-byte user ID;
// record keys are 8-byte big-endian record IDs so ranged iteration walks
// records in ID order.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/passmgr-tool/passmgr/internal/identity"
	"github.com/passmgr-tool/passmgr/internal/record"
)

const (
	// flushInterval is how long a committed write may sit in the page
	// cache before bbolt syncs it.
	flushInterval = 1000 * time.Millisecond

	// dbFileMode is the permission mask for new database files.
	dbFileMode = 0o600
)

var (
	// ErrStorageOpen is returned when the database cannot be opened.
	ErrStorageOpen = errors.New("storage open failed")

	// ErrStorageIO is returned for read/write failures after open.
	ErrStorageIO = errors.New("storage io failed")

	// ErrNotFound is returned when a record ID has no entry.
	ErrNotFound = errors.New("record not found")
)

// Storage is one user's ordered record tree inside a bbolt database.
// Commits land in the page cache immediately; a background flusher syncs
// them to disk on a fixed cadence, trading a bounded loss window for
// write latency.
type Storage struct {
	db     *bolt.DB
	bucket []byte

	stopFlush chan struct{}
	flushDone chan struct{}
}

// RecordMeta is the per-record metadata surfaced by listings.
type RecordMeta struct {
	ID    uint64
	Ver   uint64
	Owner identity.UserID
	Size  int
}

// Open opens or creates the database at path and ensures the user's bucket
// exists. The parent directory is created on demand.
func Open(path string, userID identity.UserID) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageOpen, err)
	}

	db, err := bolt.Open(path, dbFileMode, &bolt.Options{
		Timeout: time.Second,
		NoSync:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageOpen, path, err)
	}

	bucket := make([]byte, identity.IDSize)
	copy(bucket, userID.Bytes())

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create user tree: %v", ErrStorageOpen, err)
	}

	s := &Storage{
		db:        db,
		bucket:    bucket,
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}
	go s.flushLoop()
	return s, nil
}

// flushLoop syncs the page cache to disk every flushInterval until Close.
func (s *Storage) flushLoop() {
	defer close(s.flushDone)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.db.Sync()
		case <-s.stopFlush:
			return
		}
	}
}

// Close flushes outstanding writes and releases the database handle.
func (s *Storage) Close() error {
	close(s.stopFlush)
	<-s.flushDone
	if err := s.db.Sync(); err != nil {
		s.db.Close()
		return fmt.Errorf("%w: final sync: %v", ErrStorageIO, err)
	}
	return s.db.Close()
}

// Set inserts or overwrites a cipher record under its record ID.
func (s *Storage) Set(id uint64, cr *record.CipherRecord) error {
	data, err := record.EncodeCipherRecord(cr)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put(key(id), data)
	})
	if err != nil {
		return fmt.Errorf("%w: put %d: %v", ErrStorageIO, id, err)
	}
	return nil
}

// Get loads the cipher record stored under id.
func (s *Storage) Get(id uint64) (*record.CipherRecord, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(s.bucket).Get(key(id))
		if v == nil {
			return ErrNotFound
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: get %d: %v", ErrStorageIO, id, err)
	}
	return record.DecodeCipherRecord(data)
}

// Contains reports whether a record ID is present without decoding it.
func (s *Storage) Contains(id uint64) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(s.bucket).Get(key(id)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return found, nil
}

// Remove deletes a record ID. Removing an absent ID is not an error.
func (s *Storage) Remove(id uint64) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete(key(id))
	})
	if err != nil {
		return fmt.Errorf("%w: delete %d: %v", ErrStorageIO, id, err)
	}
	return nil
}

// ListIDs returns every record ID in ascending order.
func (s *Storage) ListIDs() ([]uint64, error) {
	var ids []uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, _ []byte) error {
			if len(k) == 8 {
				ids = append(ids, binary.BigEndian.Uint64(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return ids, nil
}

// ListMeta returns (id, ver, owner, size) for every record in ID order.
func (s *Storage) ListMeta() ([]RecordMeta, error) {
	var metas []RecordMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			if len(k) != 8 {
				return nil
			}
			cr, err := record.DecodeCipherRecord(v)
			if err != nil {
				return err
			}
			metas = append(metas, RecordMeta{
				ID:    binary.BigEndian.Uint64(k),
				Ver:   cr.Ver,
				Owner: cr.UserID,
				Size:  len(v),
			})
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, record.ErrDeserialize) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageIO, err)
	}
	return metas, nil
}

// key encodes a record ID as its 8-byte big-endian storage key. Big-endian
// keeps bbolt's byte-ordered iteration aligned with numeric ID order.
func key(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}
