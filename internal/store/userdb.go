package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/passmgr-tool/passmgr/internal/cascade"
	"github.com/passmgr-tool/passmgr/internal/identity"
	"github.com/passmgr-tool/passmgr/internal/keys"
	"github.com/passmgr-tool/passmgr/internal/record"
)

var (
	// ErrWrongOwner is returned when a stored record's embedded user ID
	// does not match the session user.
	ErrWrongOwner = errors.New("record belongs to a different user")

	// ErrDecryption is returned when a record cannot be decrypted or
	// decoded. It is fatal for that record and never masked.
	ErrDecryption = errors.New("record decryption failed")
)

// UserDB is one user's vault session: an open storage tree, the owning
// master keys and the cipher policy for new records. The session owns the
// keys; closing it wipes them.
type UserDB struct {
	storage *Storage
	keys    *keys.MasterKeys
	chain   *cascade.Chain
	userID  identity.UserID
	idgen   *idGenerator
}

// OpenUserDB opens (or creates) the vault at path for the hierarchy's user
// and fixes the cipher list used for new and updated records.
func OpenUserDB(path string, mk *keys.MasterKeys, cipherList []cascade.Code) (*UserDB, error) {
	chain, err := cascade.New(mk, cipherList)
	if err != nil {
		return nil, err
	}

	storage, err := Open(path, mk.UserID())
	if err != nil {
		return nil, err
	}

	return &UserDB{
		storage: storage,
		keys:    mk,
		chain:   chain,
		userID:  mk.UserID(),
		idgen:   newIDGenerator(),
	}, nil
}

// Close flushes storage and wipes the session's key material.
func (u *UserDB) Close() error {
	err := u.storage.Close()
	u.keys.Zero()
	return err
}

// UserID returns the session's user identifier.
func (u *UserDB) UserID() identity.UserID {
	return u.userID
}

// Keys exposes the session's master keys for sync signing.
func (u *UserDB) Keys() *keys.MasterKeys {
	return u.keys
}

// CipherList returns the cipher policy applied to new records.
func (u *UserDB) CipherList() []cascade.Code {
	return u.chain.Codes()
}

// Create encrypts and stores a new record under a fresh ID at version 1.
func (u *UserDB) Create(r *record.Record) (uint64, error) {
	cr, err := u.seal(r, 0, 1)
	if err != nil {
		return 0, err
	}

	// The generator never repeats within a process; the retry covers IDs
	// left behind by an earlier session in the same second range.
	for {
		id := u.idgen.Next()
		exists, err := u.storage.Contains(id)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}
		cr.RecordID = id
		if err := u.storage.Set(id, cr); err != nil {
			return 0, err
		}
		return id, nil
	}
}

// Read loads, checks ownership of, decrypts and decodes one record.
func (u *UserDB) Read(id uint64) (*record.Record, error) {
	cr, err := u.storage.Get(id)
	if err != nil {
		return nil, err
	}
	return u.openSealed(cr)
}

// ReadCipherRecord loads the raw encrypted record, e.g. for sync push.
func (u *UserDB) ReadCipherRecord(id uint64) (*record.CipherRecord, error) {
	cr, err := u.storage.Get(id)
	if err != nil {
		return nil, err
	}
	if !cr.UserID.Equal(u.userID) {
		return nil, fmt.Errorf("%w: %s", ErrWrongOwner, cr.UserID.ShortString())
	}
	return cr, nil
}

// StoreCipherRecord inserts an already-encrypted record as-is, e.g. from a
// sync pull. The record must belong to the session user.
func (u *UserDB) StoreCipherRecord(cr *record.CipherRecord) error {
	if !cr.UserID.Equal(u.userID) {
		return fmt.Errorf("%w: %s", ErrWrongOwner, cr.UserID.ShortString())
	}
	return u.storage.Set(cr.RecordID, cr)
}

// Update re-encrypts a record in place with the session cipher list and
// bumps its version. Last writer wins; there is no transaction spanning the
// read and the write.
func (u *UserDB) Update(id uint64, r *record.Record) error {
	current, err := u.storage.Get(id)
	if err != nil {
		return err
	}
	if !current.UserID.Equal(u.userID) {
		return fmt.Errorf("%w: %s", ErrWrongOwner, current.UserID.ShortString())
	}

	r.Updated = uint64(time.Now().Unix())
	cr, err := u.seal(r, id, current.Ver+1)
	if err != nil {
		return err
	}
	return u.storage.Set(id, cr)
}

// Delete removes a record ID.
func (u *UserDB) Delete(id uint64) error {
	return u.storage.Remove(id)
}

// ListIDs returns the session user's record IDs in ascending order.
func (u *UserDB) ListIDs() ([]uint64, error) {
	return u.storage.ListIDs()
}

// ListMeta returns (id, ver, owner, size) for the session user's records.
func (u *UserDB) ListMeta() ([]RecordMeta, error) {
	return u.storage.ListMeta()
}

// seal serializes and encrypts a plaintext record into a cipher record.
func (u *UserDB) seal(r *record.Record, id, ver uint64) (*record.CipherRecord, error) {
	plain, err := record.EncodeRecord(r)
	if err != nil {
		return nil, err
	}
	data, err := u.chain.Encrypt(plain)
	if err != nil {
		return nil, err
	}
	return &record.CipherRecord{
		UserID:     u.userID,
		RecordID:   id,
		Ver:        ver,
		CipherList: u.chain.Codes(),
		Data:       data,
	}, nil
}

// openSealed validates ownership and decrypts a cipher record using the
// cipher list stored on the record itself, not the session default, so
// records written under an older policy still open.
func (u *UserDB) openSealed(cr *record.CipherRecord) (*record.Record, error) {
	if !cr.UserID.Equal(u.userID) {
		return nil, fmt.Errorf("%w: %s", ErrWrongOwner, cr.UserID.ShortString())
	}

	chain, err := cascade.New(u.keys, cr.CipherList)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	plain, err := chain.Decrypt(cr.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: record %d: %v", ErrDecryption, cr.RecordID, err)
	}

	r, err := record.DecodeRecord(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: record %d: %v", ErrDecryption, cr.RecordID, err)
	}
	return r, nil
}
