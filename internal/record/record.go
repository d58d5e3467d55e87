// Package record defines the vault data model: the plaintext Record users
// edit and the encrypted CipherRecord the stores and the sync protocol
// exchange.
//
// All serialization uses deterministic CBOR so that equal values always
// produce equal bytes; the sync signature scheme depends on that.
package record

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/passmgr-tool/passmgr/internal/cascade"
	"github.com/passmgr-tool/passmgr/internal/identity"
)

var (
	// ErrSerialize is returned when a value cannot be encoded.
	ErrSerialize = errors.New("serialize failed")

	// ErrDeserialize is returned when stored bytes cannot be decoded.
	ErrDeserialize = errors.New("deserialize failed")
)

// Attribute flags how the CLI treats a field value.
type Attribute uint8

const (
	// AttrHide masks the value when a record is shown; it is revealed only on request.
	AttrHide Attribute = 0
	// AttrCopy marks the value as clipboard-copyable.
	AttrCopy Attribute = 1
	// AttrReload marks the value as regenerable.
	AttrReload Attribute = 2
)

// String returns the attribute's display name.
func (a Attribute) String() string {
	switch a {
	case AttrHide:
		return "hide"
	case AttrCopy:
		return "copy"
	case AttrReload:
		return "reload"
	}
	return fmt.Sprintf("attr(%d)", uint8(a))
}

// Item is a single titled field inside a record. No semantic meaning is
// enforced; a field is whatever the user typed.
type Item struct {
	Title      string      `cbor:"1,keyasint"`
	Value      string      `cbor:"2,keyasint"`
	Attributes []Attribute `cbor:"3,keyasint,omitempty"`
}

// Has reports whether the item carries the given attribute.
func (it Item) Has(attr Attribute) bool {
	for _, a := range it.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}

// Record is the plaintext persistence unit before encryption.
type Record struct {
	Icon    string `cbor:"1,keyasint,omitempty"`
	Created uint64 `cbor:"2,keyasint"`
	Updated uint64 `cbor:"3,keyasint"`
	Fields  []Item `cbor:"4,keyasint,omitempty"`
}

// Field returns the first field with the given title, if any.
func (r *Record) Field(title string) (Item, bool) {
	for _, f := range r.Fields {
		if f.Title == title {
			return f, true
		}
	}
	return Item{}, false
}

// CipherRecord is the encrypted, versioned unit stored locally and mirrored
// by the sync server. Data is the cascade output for CipherList applied in
// list order; the server never sees anything else.
type CipherRecord struct {
	UserID     identity.UserID `cbor:"1,keyasint"`
	RecordID   uint64          `cbor:"2,keyasint"`
	Ver        uint64          `cbor:"3,keyasint"`
	CipherList []cascade.Code  `cbor:"4,keyasint"`
	Data       []byte          `cbor:"5,keyasint"`
}

// encMode is the shared deterministic encoder.
var encMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("record: cbor encoder init: %v", err))
	}
	encMode = em
}

// Marshal encodes a value with the deterministic encoder.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}
	return data, nil
}

// Unmarshal decodes CBOR bytes into v.
func Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserialize, err)
	}
	return nil
}

// EncodeRecord serializes a plaintext record for encryption.
func EncodeRecord(r *Record) ([]byte, error) {
	return Marshal(r)
}

// DecodeRecord deserializes a decrypted payload back into a record.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// EncodeCipherRecord serializes a cipher record for storage.
func EncodeCipherRecord(cr *CipherRecord) ([]byte, error) {
	return Marshal(cr)
}

// DecodeCipherRecord deserializes a stored cipher record.
func DecodeCipherRecord(data []byte) (*CipherRecord, error) {
	var cr CipherRecord
	if err := Unmarshal(data, &cr); err != nil {
		return nil, err
	}
	return &cr, nil
}
