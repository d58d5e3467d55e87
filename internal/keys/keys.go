// Package keys derives the deterministic key hierarchy from vault entropy.
//
// Every symmetric key, post-quantum seed and the user identifier is an
// Argon2id derivation of the same entropy under a cipher-specific salt, so
// the whole hierarchy is a pure function of the entropy. Derivation is
// deliberately expensive (64 MiB, three passes); callers should treat
// FromEntropy as a long-running operation.
package keys

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/sign/dilithium/mode2"
	"golang.org/x/crypto/argon2"

	"github.com/passmgr-tool/passmgr/internal/cascade"
	"github.com/passmgr-tool/passmgr/internal/identity"
)

// Argon2id parameters. Fixed: changing them orphans every existing vault.
const (
	argonMemory  = 64 * 1024 // KiB
	argonTime    = 3
	argonThreads = 4
)

// saltTag is the fixed portion of every derivation salt.
const saltTag = "PASSMGR_SALT_V1"

// userIDCode is the reserved derivation slot for the user identifier.
// It is not a cipher code; 0 never appears in the registry.
const userIDCode = 0

// MinEntropy is the smallest entropy the hierarchy accepts.
const MinEntropy = 32

// Seed sizes for the post-quantum constructions.
const (
	SigningSeedSize = mode2.SeedSize        // 32
	MLKEMSeedSize   = kyber1024.KeySeedSize // 64
	NTRUPSeedSize   = 64
)

var (
	// ErrInvalidEntropy is returned when entropy is shorter than MinEntropy.
	ErrInvalidEntropy = errors.New("invalid entropy length")

	// ErrKeyDerivation is returned when a derivation slot is missing.
	ErrKeyDerivation = errors.New("key derivation failed")
)

// MasterKeys holds the derived hierarchy for one vault session. It must
// never be persisted; it lives exactly as long as the session that opened
// the vault.
type MasterKeys struct {
	symmetric map[cascade.Code][]byte

	signingSeed [SigningSeedSize]byte
	mlkemSeed   []byte
	ntrupSeed   []byte

	userID identity.UserID
}

// symmetricCodes are the registry entries that receive a 32-byte key.
var symmetricCodes = []cascade.Code{
	cascade.CodeAES256,
	cascade.CodeARIA256,
	cascade.CodeBelT,
	cascade.CodeCamellia256,
	cascade.CodeCAST256,
	cascade.CodeKuznyechik,
	cascade.CodeSerpent,
	cascade.CodeSPECK,
	cascade.CodeTwofish,
	cascade.CodeXChaCha20,
}

// FromEntropy derives the full hierarchy. Two calls with equal entropy
// return bit-identical keys.
func FromEntropy(entropy []byte) (*MasterKeys, error) {
	if len(entropy) < MinEntropy {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrInvalidEntropy, len(entropy), MinEntropy)
	}

	mk := &MasterKeys{
		symmetric: make(map[cascade.Code][]byte, len(symmetricCodes)),
	}

	for _, code := range symmetricCodes {
		mk.symmetric[code] = deriveKey(entropy, byte(code), 32)
	}

	copy(mk.signingSeed[:], deriveKey(entropy, byte(cascade.CodeMLDSA2), SigningSeedSize))
	mk.mlkemSeed = deriveSeed(entropy, byte(cascade.CodeMLKEM1024), MLKEMSeedSize)
	mk.ntrupSeed = deriveSeed(entropy, byte(cascade.CodeNTRUP1277), NTRUPSeedSize)

	copy(mk.userID[:], deriveKey(entropy, userIDCode, identity.IDSize))

	return mk, nil
}

// Key returns the key slice for a symmetric cipher or the seed for a
// post-quantum construction. The returned slice borrows the hierarchy's
// storage; callers must not mutate it.
func (mk *MasterKeys) Key(code cascade.Code) ([]byte, error) {
	if k, ok := mk.symmetric[code]; ok {
		return k, nil
	}
	switch code {
	case cascade.CodeMLDSA2:
		return mk.signingSeed[:], nil
	case cascade.CodeMLKEM1024:
		return mk.mlkemSeed, nil
	case cascade.CodeNTRUP1277:
		return mk.ntrupSeed, nil
	}
	return nil, fmt.Errorf("%w: no key slot for %s", ErrKeyDerivation, code)
}

// UserID returns the opaque identifier derived from the hierarchy.
func (mk *MasterKeys) UserID() identity.UserID {
	return mk.userID
}

// SigningKeypair produces the deterministic ML-DSA-2 identity keypair from
// the dedicated seed. Key generation from a fixed seed is deterministic by
// construction.
func (mk *MasterKeys) SigningKeypair() (*mode2.PublicKey, *mode2.PrivateKey) {
	seed := mk.signingSeed
	return mode2.NewKeyFromSeed(&seed)
}

// MLKEMKeypair produces the deterministic ML-KEM-1024 keypair from its
// reserved seed. No record path seals with it yet; the keypair exists so a
// future hybrid-KEM layer inherits an identity that was derivable from day
// one.
func (mk *MasterKeys) MLKEMKeypair() (*kyber1024.PublicKey, *kyber1024.PrivateKey) {
	return kyber1024.NewKeyFromSeed(mk.mlkemSeed)
}

// Zero wipes the derived key material. The hierarchy is unusable afterwards.
func (mk *MasterKeys) Zero() {
	for _, k := range mk.symmetric {
		for i := range k {
			k[i] = 0
		}
	}
	for i := range mk.signingSeed {
		mk.signingSeed[i] = 0
	}
	for i := range mk.mlkemSeed {
		mk.mlkemSeed[i] = 0
	}
	for i := range mk.ntrupSeed {
		mk.ntrupSeed[i] = 0
	}
}

// deriveKey runs one Argon2id derivation under the slot's salt.
func deriveKey(entropy []byte, code byte, size int) []byte {
	return argon2.IDKey(entropy, saltFor(code), argonTime, argonMemory, argonThreads, uint32(size))
}

// deriveSeed produces seeds longer than 32 bytes by concatenating
// independent 32-byte derivations salted with a trailing counter.
func deriveSeed(entropy []byte, code byte, size int) []byte {
	base := saltFor(code)
	out := make([]byte, 0, size)
	for counter := uint32(0); len(out) < size; counter++ {
		salt := make([]byte, len(base)+4)
		copy(salt, base)
		binary.LittleEndian.PutUint32(salt[len(base):], counter)

		chunk := size - len(out)
		if chunk > 32 {
			chunk = 32
		}
		out = append(out, argon2.IDKey(entropy, salt, argonTime, argonMemory, argonThreads, uint32(chunk))...)
	}
	return out
}

// saltFor builds the 16-byte derivation salt: code byte followed by the
// fixed tag.
func saltFor(code byte) []byte {
	salt := make([]byte, 1+len(saltTag))
	salt[0] = code
	copy(salt[1:], saltTag)
	return salt
}
