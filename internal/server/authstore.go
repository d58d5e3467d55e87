// Package server implements the passmgr sync service: signature-
// authenticated, replay-protected record mirroring with per-user isolation.
package server

import (
	"crypto/rand"
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

var (
	// ErrUserNotFound is returned when no AuthEntry exists for a user.
	ErrUserNotFound = errors.New("user not registered")

	// ErrAlreadyExists is returned when registering a known user ID.
	ErrAlreadyExists = errors.New("user already registered")

	// ErrInvalidNonce is returned when a request's nonce does not equal
	// the stored counter.
	ErrInvalidNonce = errors.New("invalid nonce")
)

// AuthEntry is the persistent per-user authentication state.
type AuthEntry struct {
	PubKey []byte `cbor:"1,keyasint"`
	Nonce  uint64 `cbor:"2,keyasint"`
}

var authBucket = []byte("auth")

// AuthStore persists AuthEntries in their own bbolt database, separate
// from record data.
type AuthStore struct {
	db *bolt.DB
}

// OpenAuthStore opens or creates the auth database at path.
func OpenAuthStore(path string) (*AuthStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("auth store: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("auth store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(authBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("auth store: init: %w", err)
	}
	return &AuthStore{db: db}, nil
}

// Close releases the database handle.
func (a *AuthStore) Close() error {
	return a.db.Close()
}

// Register creates an AuthEntry with a random initial nonce and returns
// it. Registering an existing user fails with ErrAlreadyExists.
func (a *AuthStore) Register(userID identity.UserID, pubKey []byte) (uint64, error) {
	nonce, err := randomNonce()
	if err != nil {
		return 0, err
	}

	entry := AuthEntry{PubKey: pubKey, Nonce: nonce}
	data, err := record.Marshal(&entry)
	if err != nil {
		return 0, err
	}

	err = a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(authBucket)
		if b.Get(userID.Bytes()) != nil {
			return ErrAlreadyExists
		}
		return b.Put(userID.Bytes(), data)
	})
	if err != nil {
		return 0, err
	}
	return nonce, nil
}

// Get loads a user's AuthEntry.
func (a *AuthStore) Get(userID identity.UserID) (*AuthEntry, error) {
	var data []byte
	err := a.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(authBucket).Get(userID.Bytes())
		if v == nil {
			return ErrUserNotFound
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var entry AuthEntry
	if err := record.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SetNonce persists a user's advanced nonce. It must complete before the
// guarded RPC executes; the per-user mutex in the service serializes the
// read-compare-verify-increment-write window.
func (a *AuthStore) SetNonce(userID identity.UserID, nonce uint64) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(authBucket)
		v := b.Get(userID.Bytes())
		if v == nil {
			return ErrUserNotFound
		}
		var entry AuthEntry
		if err := record.Unmarshal(v, &entry); err != nil {
			return err
		}
		entry.Nonce = nonce
		data, err := record.Marshal(&entry)
		if err != nil {
			return err
		}
		return b.Put(userID.Bytes(), data)
	})
}

// Remove deletes a user's AuthEntry. Administrative use only.
func (a *AuthStore) Remove(userID identity.UserID) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(authBucket).Delete(userID.Bytes())
	})
}

// randomNonce draws the initial per-user counter from the system RNG. The
// top bit stays clear so a session of increments cannot wrap.
func randomNonce() (uint64, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("nonce generation: %w", err)
	}
	return binary.BigEndian.Uint64(buf[:]) >> 1, nil
}
