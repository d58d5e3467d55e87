package server

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/passmgr-tool/passmgr/internal/identity"
)

func openTestAuthStore(t *testing.T) *AuthStore {
	t.Helper()
	a, err := OpenAuthStore(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("OpenAuthStore() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func authTestID(tag byte) identity.UserID {
	var id identity.UserID
	for i := range id {
		id[i] = tag + byte(i)
	}
	return id
}

func TestAuthStore_RegisterGet(t *testing.T) {
	a := openTestAuthStore(t)
	uid := authTestID(1)
	pub := bytes.Repeat([]byte{0xcc}, 64)

	nonce, err := a.Register(uid, pub)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	entry, err := a.Get(uid)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(entry.PubKey, pub) {
		t.Error("stored public key mismatch")
	}
	if entry.Nonce != nonce {
		t.Errorf("stored nonce = %d, want %d", entry.Nonce, nonce)
	}
}

func TestAuthStore_RegisterDuplicate(t *testing.T) {
	a := openTestAuthStore(t)
	uid := authTestID(2)

	if _, err := a.Register(uid, []byte("key")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := a.Register(uid, []byte("other")); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("second Register() error = %v, want ErrAlreadyExists", err)
	}
}

func TestAuthStore_GetMissing(t *testing.T) {
	a := openTestAuthStore(t)
	if _, err := a.Get(authTestID(3)); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestAuthStore_SetNonce(t *testing.T) {
	a := openTestAuthStore(t)
	uid := authTestID(4)

	nonce, err := a.Register(uid, []byte("key"))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := a.SetNonce(uid, nonce+1); err != nil {
		t.Fatalf("SetNonce() error = %v", err)
	}
	entry, _ := a.Get(uid)
	if entry.Nonce != nonce+1 {
		t.Errorf("nonce = %d, want %d", entry.Nonce, nonce+1)
	}

	if err := a.SetNonce(authTestID(5), 1); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("SetNonce(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestAuthStore_Remove(t *testing.T) {
	a := openTestAuthStore(t)
	uid := authTestID(6)

	if _, err := a.Register(uid, []byte("key")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := a.Remove(uid); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := a.Get(uid); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Get(removed) error = %v, want ErrUserNotFound", err)
	}
}

func TestRandomNonce_Distribution(t *testing.T) {
	seen := make(map[uint64]bool)
	for i := 0; i < 64; i++ {
		n, err := randomNonce()
		if err != nil {
			t.Fatalf("randomNonce() error = %v", err)
		}
		if n >= 1<<63 {
			t.Errorf("nonce %d has the top bit set", n)
		}
		seen[n] = true
	}
	if len(seen) < 60 {
		t.Errorf("only %d distinct nonces in 64 draws", len(seen))
	}
}
