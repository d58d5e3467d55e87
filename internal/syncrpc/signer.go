package syncrpc

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode2"

	"github.com/passmgr-tool/passmgr/internal/identity"
	"github.com/passmgr-tool/passmgr/internal/record"
)

// SignatureSize is the raw ML-DSA-2 signature length.
const SignatureSize = mode2.SignatureSize

// PublicKeySize is the raw ML-DSA-2 public key length.
const PublicKeySize = mode2.PublicKeySize

var (
	// ErrUnauthenticated is returned when a signature does not verify.
	ErrUnauthenticated = errors.New("signature verification failed")

	// ErrBadPublicKey is returned for malformed key bytes.
	ErrBadPublicKey = errors.New("malformed public key")
)

// SigningPayload builds the byte string a request signature covers:
// method name ‖ big-endian nonce ‖ deterministic encoding of the request
// with its auth field cleared. The message's auth pointer is restored
// before returning.
func SigningPayload(method string, nonce uint64, msg Authed) ([]byte, error) {
	saved := msg.GetAuth()
	msg.SetAuth(nil)
	body, err := record.Marshal(msg)
	msg.SetAuth(saved)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, len(method)+8+len(body))
	payload = append(payload, method...)
	payload = binary.BigEndian.AppendUint64(payload, nonce)
	payload = append(payload, body...)
	return payload, nil
}

// Signer signs requests with a vault's ML-DSA-2 identity key.
type Signer struct {
	userID identity.UserID
	priv   *mode2.PrivateKey
}

// NewSigner binds a user ID to its signing key.
func NewSigner(userID identity.UserID, priv *mode2.PrivateKey) *Signer {
	return &Signer{userID: userID, priv: priv}
}

// Sign attaches a fresh AuthSignature for the given method and nonce.
func (s *Signer) Sign(method string, nonce uint64, msg Authed) error {
	payload, err := SigningPayload(method, nonce, msg)
	if err != nil {
		return err
	}
	msg.SetAuth(&AuthSignature{
		UserID:    s.userID.Bytes(),
		Nonce:     nonce,
		Signature: mode2.Sign(s.priv, payload),
	})
	return nil
}

// Verify checks a request's signature against a stored public key. The
// caller has already validated the nonce.
func Verify(pubKey []byte, method string, msg Authed) error {
	auth := msg.GetAuth()
	if auth == nil {
		return fmt.Errorf("%w: missing auth", ErrUnauthenticated)
	}

	var pk mode2.PublicKey
	if err := pk.UnmarshalBinary(pubKey); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPublicKey, err)
	}

	payload, err := SigningPayload(method, auth.Nonce, msg)
	if err != nil {
		return err
	}
	if !mode2.Verify(&pk, payload, auth.Signature) {
		return ErrUnauthenticated
	}
	return nil
}
