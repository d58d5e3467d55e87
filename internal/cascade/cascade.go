package cascade

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
)

// KeyRing supplies key material per cipher code. The master key hierarchy
// implements it; tests may substitute fixed keys.
type KeyRing interface {
	// Key returns the symmetric key (or seed) registered for code.
	Key(code Code) ([]byte, error)
}

// Chain applies an ordered list of ciphers to opaque byte buffers.
// The list is immutable after construction.
type Chain struct {
	codes []Code
	keys  KeyRing
}

// New builds a chain from an ordered cipher list. Every code must be a
// transforming registry entry (block or stream).
func New(keys KeyRing, codes []Code) (*Chain, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: empty cipher list", ErrUnknownCipherCode)
	}
	for _, c := range codes {
		if !Transforming(c) {
			return nil, fmt.Errorf("%w: %s cannot transform data", ErrUnknownCipherCode, c)
		}
	}
	owned := make([]Code, len(codes))
	copy(owned, codes)
	return &Chain{codes: owned, keys: keys}, nil
}

// Codes returns a copy of the chain's cipher list in application order.
func (c *Chain) Codes() []Code {
	out := make([]Code, len(c.codes))
	copy(out, c.codes)
	return out
}

// Encrypt transforms data through every layer in declared order and returns
// a fresh buffer. The input is not modified.
func (c *Chain) Encrypt(data []byte) ([]byte, error) {
	buf := make([]byte, len(data))
	copy(buf, data)

	for _, code := range c.codes {
		key, err := c.keys.Key(code)
		if err != nil {
			return nil, err
		}
		entry, err := Lookup(code)
		if err != nil {
			return nil, err
		}

		switch entry.Kind {
		case KindBlock:
			buf, err = encryptBlockLayer(entry, key, buf)
		case KindStream:
			buf, err = encryptStreamLayer(key, buf)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownCipherCode, code)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", code, err)
		}
	}
	return buf, nil
}

// Decrypt applies the layer inverses in reverse order and returns a fresh
// buffer. The input is not modified.
func (c *Chain) Decrypt(data []byte) ([]byte, error) {
	buf := make([]byte, len(data))
	copy(buf, data)

	for i := len(c.codes) - 1; i >= 0; i-- {
		code := c.codes[i]
		key, err := c.keys.Key(code)
		if err != nil {
			return nil, err
		}
		entry, err := Lookup(code)
		if err != nil {
			return nil, err
		}

		switch entry.Kind {
		case KindBlock:
			buf, err = decryptBlockLayer(entry, key, buf)
		case KindStream:
			buf, err = decryptStreamLayer(key, buf)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownCipherCode, code)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", code, err)
		}
	}
	return buf, nil
}

// EncryptedSize predicts the ciphertext length for a plaintext of n bytes.
func (c *Chain) EncryptedSize(n int) int {
	for _, code := range c.codes {
		entry := registry[code]
		switch entry.Kind {
		case KindBlock:
			bs := entry.BlockSize
			n = bs + (n/bs+1)*bs // IV + padded payload
		case KindStream:
			n += XChaCha20NonceSize
		}
	}
	return n
}

// encryptBlockLayer runs one block cipher layer: random IV, PKCS#7 padding,
// PCBC encryption. Output layout: IV ‖ ciphertext.
func encryptBlockLayer(entry Entry, key, data []byte) ([]byte, error) {
	block, err := entry.newBlock(key)
	if err != nil {
		return nil, err
	}
	bs := entry.BlockSize

	padded := padPKCS7(data, bs)
	out := make([]byte, bs+len(padded))
	iv := out[:bs]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	copy(out[bs:], padded)

	pcbcEncrypt(block, iv, out[bs:])
	return out, nil
}

// decryptBlockLayer reverses encryptBlockLayer: read IV, PCBC-decrypt,
// strip padding.
func decryptBlockLayer(entry Entry, key, data []byte) ([]byte, error) {
	bs := entry.BlockSize
	if len(data) < 2*bs || (len(data)-bs)%bs != 0 {
		return nil, fmt.Errorf("%w: %d bytes with %d-byte blocks", ErrTruncatedCipherText, len(data), bs)
	}

	block, err := entry.newBlock(key)
	if err != nil {
		return nil, err
	}

	iv := data[:bs]
	body := make([]byte, len(data)-bs)
	copy(body, data[bs:])

	pcbcDecrypt(block, iv, body)
	return unpadPKCS7(body, bs)
}

// encryptStreamLayer prepends a random 24-byte nonce and applies the
// XChaCha20 keystream to the payload.
func encryptStreamLayer(key, data []byte) ([]byte, error) {
	out := make([]byte, XChaCha20NonceSize+len(data))
	nonce := out[:XChaCha20NonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}
	stream.XORKeyStream(out[XChaCha20NonceSize:], data)
	return out, nil
}

// decryptStreamLayer reads the leading nonce and reverses the keystream.
func decryptStreamLayer(key, data []byte) ([]byte, error) {
	if len(data) < XChaCha20NonceSize {
		return nil, fmt.Errorf("%w: %d bytes, need %d-byte nonce", ErrTruncatedCipherText, len(data), XChaCha20NonceSize)
	}

	nonce := data[:XChaCha20NonceSize]
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data)-XChaCha20NonceSize)
	stream.XORKeyStream(out, data[XChaCha20NonceSize:])
	return out, nil
}

// pcbcEncrypt encrypts data in place in PCBC mode. Each plaintext block is
// XOR'd with the previous plaintext and previous ciphertext before the
// block operation. len(data) must be a multiple of the block size.
func pcbcEncrypt(block cipher.Block, iv, data []byte) {
	bs := block.BlockSize()
	chain := make([]byte, bs)
	copy(chain, iv)

	plain := make([]byte, bs)
	for off := 0; off < len(data); off += bs {
		b := data[off : off+bs]
		copy(plain, b)
		for i := range b {
			b[i] ^= chain[i]
		}
		block.Encrypt(b, b)
		for i := range chain {
			chain[i] = plain[i] ^ b[i]
		}
	}
}

// pcbcDecrypt reverses pcbcEncrypt in place.
func pcbcDecrypt(block cipher.Block, iv, data []byte) {
	bs := block.BlockSize()
	chain := make([]byte, bs)
	copy(chain, iv)

	ct := make([]byte, bs)
	for off := 0; off < len(data); off += bs {
		b := data[off : off+bs]
		copy(ct, b)
		block.Decrypt(b, b)
		for i := range b {
			b[i] ^= chain[i]
		}
		for i := range chain {
			chain[i] = b[i] ^ ct[i]
		}
	}
}

// padPKCS7 returns data extended to a block boundary with n bytes of value
// n. A full extra block is added when data is already aligned.
func padPKCS7(data []byte, bs int) []byte {
	pad := bs - len(data)%bs
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

// unpadPKCS7 strips and validates PKCS#7 padding.
func unpadPKCS7(data []byte, bs int) ([]byte, error) {
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, ErrInvalidPadding
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > bs || pad > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-pad], nil
}
