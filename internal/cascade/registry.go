// Package cascade implements the composable symmetric encryption pipeline
// used for vault payloads. An ordered list of cipher codes is applied layer
// by layer: block ciphers run in PCBC mode with PKCS#7 padding and a
// per-layer random IV, the stream cipher prepends a random nonce and applies
// its keystream. Decryption applies the inverses in reverse order, driven by
// the cipher list stored on the record rather than the session default.
//
// The cascade adds no authentication tag of its own; integrity rests on the
// signed sync envelope and on any authenticated layer the operator includes.
package cascade

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/Picocrypt/serpent"
	"github.com/RyuaNerin/go-krypto/aria"
	"github.com/aead/camellia"
	"github.com/deatil/go-cryptobin/cipher/belt"
	"github.com/deatil/go-cryptobin/cipher/cast256"
	"github.com/deatil/go-cryptobin/cipher/speck"
	"go.cypherpunks.su/gogost/v6/gost3412128"
	"golang.org/x/crypto/twofish"
)

// Code identifies a cipher in the registry. Codes are persisted inside
// CipherRecords and must stay stable across versions.
type Code byte

const (
	// CodeAES256 is AES with a 256-bit key.
	CodeAES256 Code = 1
	// CodeARIA256 is the Korean ARIA standard with a 256-bit key.
	CodeARIA256 Code = 2
	// CodeBelT is the Belarusian STB 34.101.31 block cipher.
	CodeBelT Code = 3
	// CodeCamellia256 is Camellia with a 256-bit key.
	CodeCamellia256 Code = 4
	// CodeCAST256 is the CAST-256 AES candidate.
	CodeCAST256 Code = 5
	// CodeMLDSA2 is the ML-DSA-2 (Dilithium2) signature scheme. It never
	// appears in a cascade; the code reserves key material in the hierarchy.
	CodeMLDSA2 Code = 6
	// CodeKuznyechik is the Russian GOST R 34.12-2015 block cipher.
	CodeKuznyechik Code = 7
	// CodeMLKEM1024 is the ML-KEM-1024 (Kyber) KEM. Reserved for future
	// hybrid record sealing; not valid inside a cascade.
	CodeMLKEM1024 Code = 8
	// CodeNTRUP1277 is the NTRU-Prime-1277 KEM. Reserved; not valid inside
	// a cascade.
	CodeNTRUP1277 Code = 9
	// CodeSerpent is the Serpent AES finalist.
	CodeSerpent Code = 10
	// CodeSPECK is SPECK-128/256.
	CodeSPECK Code = 11
	// CodeTwofish is the Twofish AES finalist.
	CodeTwofish Code = 12
	// CodeXChaCha20 is the XChaCha20 stream cipher.
	CodeXChaCha20 Code = 13
)

// XChaCha20NonceSize is the nonce length prepended by the stream layer.
const XChaCha20NonceSize = 24

var (
	// ErrUnknownCipherCode is returned for a code outside the registry or
	// one that cannot appear in a cascade.
	ErrUnknownCipherCode = errors.New("unknown cipher code")

	// ErrTruncatedCipherText is returned when a layer's input is shorter
	// than its IV/nonce plus minimum payload.
	ErrTruncatedCipherText = errors.New("truncated ciphertext")

	// ErrInvalidPadding is returned when PKCS#7 padding is malformed.
	ErrInvalidPadding = errors.New("invalid padding")
)

// Kind classifies registry entries.
type Kind int

const (
	// KindBlock ciphers run in PCBC mode with PKCS#7 padding.
	KindBlock Kind = iota
	// KindStream ciphers apply a keystream after a prepended nonce.
	KindStream
	// KindReserved entries carry key material but cannot transform data.
	KindReserved
)

// Entry describes one registry cipher: its display name, key and block
// geometry and how the cascade applies it.
type Entry struct {
	Name      string
	Kind      Kind
	KeySize   int
	BlockSize int
	// newBlock constructs the block primitive; nil for non-block entries.
	newBlock func(key []byte) (cipher.Block, error)
}

// registry maps codes to cipher geometry. The set is open: unknown bytes
// simply have no entry.
var registry = map[Code]Entry{
	CodeAES256: {
		Name: "aes-256", Kind: KindBlock, KeySize: 32, BlockSize: aes.BlockSize,
		newBlock: aes.NewCipher,
	},
	CodeARIA256: {
		Name: "aria-256", Kind: KindBlock, KeySize: 32, BlockSize: 16,
		newBlock: func(key []byte) (cipher.Block, error) { return aria.NewCipher(key) },
	},
	CodeBelT: {
		Name: "belt", Kind: KindBlock, KeySize: 32, BlockSize: 16,
		newBlock: func(key []byte) (cipher.Block, error) { return belt.NewCipher(key) },
	},
	CodeCamellia256: {
		Name: "camellia-256", Kind: KindBlock, KeySize: 32, BlockSize: camellia.BlockSize,
		newBlock: func(key []byte) (cipher.Block, error) { return camellia.NewCipher(key) },
	},
	CodeCAST256: {
		Name: "cast-256", Kind: KindBlock, KeySize: 32, BlockSize: 16,
		newBlock: func(key []byte) (cipher.Block, error) { return cast256.NewCipher(key) },
	},
	CodeMLDSA2: {
		Name: "ml-dsa-2", Kind: KindReserved, KeySize: 32,
	},
	CodeKuznyechik: {
		Name: "kuznyechik", Kind: KindBlock, KeySize: 32, BlockSize: gost3412128.BlockSize,
		newBlock: func(key []byte) (cipher.Block, error) { return gost3412128.NewCipher(key), nil },
	},
	CodeMLKEM1024: {
		Name: "ml-kem-1024", Kind: KindReserved, KeySize: 64,
	},
	CodeNTRUP1277: {
		Name: "ntru-prime-1277", Kind: KindReserved, KeySize: 64,
	},
	CodeSerpent: {
		Name: "serpent", Kind: KindBlock, KeySize: 32, BlockSize: 16,
		newBlock: func(key []byte) (cipher.Block, error) { return serpent.NewCipher(key) },
	},
	CodeSPECK: {
		Name: "speck-128-256", Kind: KindBlock, KeySize: 32, BlockSize: 16,
		newBlock: func(key []byte) (cipher.Block, error) { return speck.NewCipher(key) },
	},
	CodeTwofish: {
		Name: "twofish", Kind: KindBlock, KeySize: 32, BlockSize: twofish.BlockSize,
		newBlock: func(key []byte) (cipher.Block, error) { return twofish.NewCipher(key) },
	},
	CodeXChaCha20: {
		Name: "xchacha20", Kind: KindStream, KeySize: 32,
	},
}

// Lookup returns the registry entry for a code.
func Lookup(code Code) (Entry, error) {
	e, ok := registry[code]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d", ErrUnknownCipherCode, code)
	}
	return e, nil
}

// Transforming reports whether a code may appear inside a cascade.
func Transforming(code Code) bool {
	e, ok := registry[code]
	return ok && e.Kind != KindReserved
}

// Codes returns all registered codes in stable numeric order.
func Codes() []Code {
	out := make([]Code, 0, len(registry))
	for c := Code(0); c < 64; c++ {
		if _, ok := registry[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// String returns the registry name for a code, or its numeric form.
func (c Code) String() string {
	if e, ok := registry[c]; ok {
		return e.Name
	}
	return fmt.Sprintf("code(%d)", byte(c))
}

// ParseCode resolves a registry name back to its code.
func ParseCode(name string) (Code, error) {
	for c, e := range registry {
		if e.Name == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCipherCode, name)
}
