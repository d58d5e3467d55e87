// Package identity provides the opaque user identifier shared by the
// client vault and the sync server.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// IDSize is the size of a UserID in bytes (256 bits).
	IDSize = 32
)

var (
	// ErrInvalidIDLength is returned when the ID length is incorrect
	ErrInvalidIDLength = errors.New("invalid user ID length: expected 32 bytes")

	// ErrInvalidHexString is returned when the hex string is malformed
	ErrInvalidHexString = errors.New("invalid hex string for user ID")

	// ZeroID represents an uninitialized user ID
	ZeroID = UserID{}
)

// UserID is an opaque 256-bit identifier derived from the key hierarchy.
// It routes records to a per-user namespace; it carries no authentication
// weight on its own.
type UserID [IDSize]byte

// ParseUserID parses a UserID from a hex string.
func ParseUserID(s string) (UserID, error) {
	// Remove any whitespace and 0x prefix
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) != IDSize*2 {
		return ZeroID, fmt.Errorf("%w: got %d hex chars, expected %d", ErrInvalidHexString, len(s), IDSize*2)
	}

	bytes, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, fmt.Errorf("%w: %v", ErrInvalidHexString, err)
	}

	var id UserID
	copy(id[:], bytes)
	return id, nil
}

// FromBytes creates a UserID from a byte slice.
func FromBytes(b []byte) (UserID, error) {
	if len(b) != IDSize {
		return ZeroID, fmt.Errorf("%w: got %d bytes", ErrInvalidIDLength, len(b))
	}
	var id UserID
	copy(id[:], b)
	return id, nil
}

// String returns the full hex representation of the UserID.
func (id UserID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString returns a shortened hex representation (first 8 chars).
func (id UserID) ShortString() string {
	return hex.EncodeToString(id[:4])
}

// Bytes returns the UserID as a byte slice.
func (id UserID) Bytes() []byte {
	return id[:]
}

// IsZero returns true if the UserID is uninitialized (all zeros).
func (id UserID) IsZero() bool {
	return id == ZeroID
}

// Equal returns true if two UserIDs are identical.
func (id UserID) Equal(other UserID) bool {
	return id == other
}

// MarshalText implements encoding.TextMarshaler.
func (id UserID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *UserID) UnmarshalText(text []byte) error {
	parsed, err := ParseUserID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
