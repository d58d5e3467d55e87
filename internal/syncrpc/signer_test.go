package syncrpc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/cloudflare/circl/sign/dilithium/mode2"

	"github.com/passmgr-tool/passmgr/internal/cascade"
	"github.com/passmgr-tool/passmgr/internal/identity"
	"github.com/passmgr-tool/passmgr/internal/record"
)

func testKeypair() (*mode2.PublicKey, *mode2.PrivateKey, identity.UserID) {
	var seed [mode2.SeedSize]byte
	for i := range seed {
		seed[i] = byte(i * 3)
	}
	pub, priv := mode2.NewKeyFromSeed(&seed)

	var uid identity.UserID
	for i := range uid {
		uid[i] = byte(i)
	}
	return pub, priv, uid
}

func pubBytes(t *testing.T, pub *mode2.PublicKey) []byte {
	t.Helper()
	b, err := pub.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	return b
}

func TestSigningPayload_Deterministic(t *testing.T) {
	req := &GetByIDRequest{RecordID: 42}

	a, err := SigningPayload(MethodGetByID, 7, req)
	if err != nil {
		t.Fatalf("SigningPayload() error = %v", err)
	}
	b, _ := SigningPayload(MethodGetByID, 7, req)
	if !bytes.Equal(a, b) {
		t.Error("payload is not deterministic")
	}

	c, _ := SigningPayload(MethodGetByID, 8, req)
	if bytes.Equal(a, c) {
		t.Error("payload ignores nonce")
	}
	d, _ := SigningPayload(MethodDeleteByID, 7, &DeleteByIDRequest{RecordID: 42})
	if bytes.Equal(a, d) {
		t.Error("payload ignores method name")
	}
}

func TestSigningPayload_ExcludesAuthAndRestoresIt(t *testing.T) {
	req := &GetListRequest{}
	bare, err := SigningPayload(MethodGetList, 3, req)
	if err != nil {
		t.Fatalf("SigningPayload() error = %v", err)
	}

	auth := &AuthSignature{UserID: make([]byte, 32), Nonce: 3, Signature: []byte("sig")}
	req.SetAuth(auth)
	withAuth, err := SigningPayload(MethodGetList, 3, req)
	if err != nil {
		t.Fatalf("SigningPayload() error = %v", err)
	}

	if !bytes.Equal(bare, withAuth) {
		t.Error("payload depends on the auth field")
	}
	if req.GetAuth() != auth {
		t.Error("auth pointer not restored after payload computation")
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	pub, priv, uid := testKeypair()
	signer := NewSigner(uid, priv)

	req := &SetOneRequest{Record: &WireRecord{ID: 9, Ver: 2, UserID: uid.Bytes(), Data: []byte("opaque")}}
	if err := signer.Sign(MethodSetOne, 11, req); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}

	auth := req.GetAuth()
	if auth == nil {
		t.Fatal("Sign() attached no auth")
	}
	if auth.Nonce != 11 {
		t.Errorf("auth nonce = %d, want 11", auth.Nonce)
	}
	if len(auth.Signature) != SignatureSize {
		t.Errorf("signature size = %d, want %d", len(auth.Signature), SignatureSize)
	}
	if !bytes.Equal(auth.UserID, uid.Bytes()) {
		t.Error("auth user ID mismatch")
	}

	if err := Verify(pubBytes(t, pub), MethodSetOne, req); err != nil {
		t.Errorf("Verify() error = %v", err)
	}
}

func TestVerify_RejectsTampering(t *testing.T) {
	pub, priv, uid := testKeypair()
	signer := NewSigner(uid, priv)
	pk := pubBytes(t, pub)

	// Tampered request body.
	req := &GetByIDRequest{RecordID: 1}
	if err := signer.Sign(MethodGetByID, 5, req); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	req.RecordID = 2
	if err := Verify(pk, MethodGetByID, req); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Verify(tampered body) error = %v, want ErrUnauthenticated", err)
	}

	// Replay under a different method name.
	req2 := &GetByIDRequest{RecordID: 1}
	if err := signer.Sign(MethodGetByID, 5, req2); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if err := Verify(pk, MethodDeleteByID, req2); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Verify(wrong method) error = %v, want ErrUnauthenticated", err)
	}

	// Altered nonce after signing.
	req3 := new(GetAllRequest)
	if err := signer.Sign(MethodGetAll, 5, req3); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	req3.Auth.Nonce = 6
	if err := Verify(pk, MethodGetAll, req3); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Verify(altered nonce) error = %v, want ErrUnauthenticated", err)
	}

	// Missing auth.
	if err := Verify(pk, MethodGetAll, new(GetAllRequest)); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Verify(no auth) error = %v, want ErrUnauthenticated", err)
	}

	// Garbage public key.
	if err := Verify([]byte{1, 2, 3}, MethodGetAll, req3); !errors.Is(err, ErrBadPublicKey) {
		t.Errorf("Verify(bad key) error = %v, want ErrBadPublicKey", err)
	}
}

func TestWireRecord_RoundTrip(t *testing.T) {
	_, _, uid := testKeypair()

	cr := &record.CipherRecord{
		UserID:     uid,
		RecordID:   123,
		Ver:        4,
		CipherList: []cascade.Code{cascade.CodeAES256, cascade.CodeXChaCha20},
		Data:       []byte{0xde, 0xad, 0xbe, 0xef},
	}

	w := ToWire(cr)
	if w.ID != 123 || w.Ver != 4 || !bytes.Equal(w.Data, cr.Data) {
		t.Errorf("ToWire() = %+v", w)
	}
	if !bytes.Equal(w.CipherList, []byte{byte(cascade.CodeAES256), byte(cascade.CodeXChaCha20)}) {
		t.Errorf("wire cipher list = %v", w.CipherList)
	}

	back, err := FromWire(w)
	if err != nil {
		t.Fatalf("FromWire() error = %v", err)
	}
	if !back.UserID.Equal(cr.UserID) || back.RecordID != cr.RecordID || back.Ver != cr.Ver {
		t.Errorf("FromWire() = %+v, want %+v", back, cr)
	}
	if len(back.CipherList) != 2 || back.CipherList[0] != cascade.CodeAES256 {
		t.Errorf("cipher list = %v", back.CipherList)
	}

	// Bad user ID length.
	w.UserID = w.UserID[:5]
	if _, err := FromWire(w); err == nil {
		t.Error("FromWire() with short user ID: expected error")
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := Codec{}

	in := &GetAllResponse{Records: []*WireRecord{{ID: 1, Ver: 1, Data: []byte("x")}}}
	data, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	out := new(GetAllResponse)
	if err := codec.Unmarshal(data, out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(out.Records) != 1 || out.Records[0].ID != 1 {
		t.Errorf("round-trip = %+v", out)
	}

	if codec.Name() != CodecName {
		t.Errorf("Name() = %q, want %q", codec.Name(), CodecName)
	}
}
