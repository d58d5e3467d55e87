// Package syncrpc defines the wire protocol between vault clients and the
// sync server: typed messages carried over gRPC with a deterministic CBOR
// codec, and the nonce-based signature envelope that authenticates every
// state-touching call.
//
// Auth-bearing requests embed an AuthSignature whose signature covers
// method name ‖ big-endian nonce ‖ request bytes with the auth field
// cleared. The codec is deterministic, so both sides derive identical
// request bytes.
package syncrpc

import (
	"github.com/passmgr-tool/passmgr/internal/cascade"
	"github.com/passmgr-tool/passmgr/internal/identity"
	"github.com/passmgr-tool/passmgr/internal/record"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "passmgr.v1.Passmgr"

// AuthSignature authenticates one request. Nonce must equal the server's
// stored counter for the user; the server accepts each value exactly once.
type AuthSignature struct {
	UserID    []byte `cbor:"1,keyasint"`
	Nonce     uint64 `cbor:"2,keyasint"`
	Signature []byte `cbor:"3,keyasint"`
}

// Authed is implemented by every request carrying an AuthSignature.
type Authed interface {
	GetAuth() *AuthSignature
	SetAuth(*AuthSignature)
}

// WireRecord is the sync representation of a cipher record. Data is
// byte-for-byte the cascade output; the cipher list rides along so a
// restored vault can decrypt without local state.
type WireRecord struct {
	ID         uint64 `cbor:"1,keyasint"`
	Ver        uint64 `cbor:"2,keyasint"`
	UserID     []byte `cbor:"3,keyasint"`
	CipherList []byte `cbor:"4,keyasint"`
	Data       []byte `cbor:"5,keyasint"`
}

// RecordInfo is one listing entry: ID and version only.
type RecordInfo struct {
	ID  uint64 `cbor:"1,keyasint"`
	Ver uint64 `cbor:"2,keyasint"`
}

// ToWire converts a stored cipher record for transmission.
func ToWire(cr *record.CipherRecord) *WireRecord {
	codes := make([]byte, len(cr.CipherList))
	for i, c := range cr.CipherList {
		codes[i] = byte(c)
	}
	return &WireRecord{
		ID:         cr.RecordID,
		Ver:        cr.Ver,
		UserID:     cr.UserID.Bytes(),
		CipherList: codes,
		Data:       cr.Data,
	}
}

// FromWire converts a received record back to its storage form.
func FromWire(w *WireRecord) (*record.CipherRecord, error) {
	uid, err := identity.FromBytes(w.UserID)
	if err != nil {
		return nil, err
	}
	codes := make([]cascade.Code, len(w.CipherList))
	for i, b := range w.CipherList {
		codes[i] = cascade.Code(b)
	}
	return &record.CipherRecord{
		UserID:     uid,
		RecordID:   w.ID,
		Ver:        w.Ver,
		CipherList: codes,
		Data:       w.Data,
	}, nil
}

// RegisterRequest announces a new user: their ID and signing public key.
// Registration is the only unauthenticated mutating call; the server
// rate-limits it.
type RegisterRequest struct {
	UserID []byte `cbor:"1,keyasint"`
	PubKey []byte `cbor:"2,keyasint"`
}

// RegisterResponse returns the server-chosen initial nonce.
type RegisterResponse struct {
	Nonce uint64 `cbor:"1,keyasint"`
}

// GetNonceRequest fetches the stored nonce after a reconnect or a failed
// call.
type GetNonceRequest struct {
	UserID []byte `cbor:"1,keyasint"`
}

// GetNonceResponse carries the stored nonce.
type GetNonceResponse struct {
	Nonce uint64 `cbor:"1,keyasint"`
}

// GetListRequest lists the caller's record IDs and versions.
type GetListRequest struct {
	Auth *AuthSignature `cbor:"1,keyasint,omitempty"`
}

// GetListResponse is the listing.
type GetListResponse struct {
	Records []RecordInfo `cbor:"2,keyasint,omitempty"`
}

// GetByIDRequest fetches one record.
type GetByIDRequest struct {
	Auth     *AuthSignature `cbor:"1,keyasint,omitempty"`
	RecordID uint64         `cbor:"2,keyasint"`
}

// GetByIDResponse carries the record.
type GetByIDResponse struct {
	Record *WireRecord `cbor:"2,keyasint,omitempty"`
}

// GetAllRequest fetches every record of the caller.
type GetAllRequest struct {
	Auth *AuthSignature `cbor:"1,keyasint,omitempty"`
}

// GetAllResponse carries the records.
type GetAllResponse struct {
	Records []*WireRecord `cbor:"2,keyasint,omitempty"`
}

// SetOneRequest upserts one record.
type SetOneRequest struct {
	Auth   *AuthSignature `cbor:"1,keyasint,omitempty"`
	Record *WireRecord    `cbor:"2,keyasint"`
}

// SetOneResponse acknowledges the upsert.
type SetOneResponse struct{}

// SetRecordsRequest upserts a batch of records.
type SetRecordsRequest struct {
	Auth    *AuthSignature `cbor:"1,keyasint,omitempty"`
	Records []*WireRecord  `cbor:"2,keyasint"`
}

// SetRecordsResponse acknowledges the batch.
type SetRecordsResponse struct{}

// DeleteByIDRequest removes one record.
type DeleteByIDRequest struct {
	Auth     *AuthSignature `cbor:"1,keyasint,omitempty"`
	RecordID uint64         `cbor:"2,keyasint"`
}

// DeleteAllRequest removes every record of the caller.
type DeleteAllRequest struct {
	Auth *AuthSignature `cbor:"1,keyasint,omitempty"`
}

// DeleteResponse acknowledges a delete.
type DeleteResponse struct{}

func (r *GetListRequest) GetAuth() *AuthSignature     { return r.Auth }
func (r *GetListRequest) SetAuth(a *AuthSignature)    { r.Auth = a }
func (r *GetByIDRequest) GetAuth() *AuthSignature     { return r.Auth }
func (r *GetByIDRequest) SetAuth(a *AuthSignature)    { r.Auth = a }
func (r *GetAllRequest) GetAuth() *AuthSignature      { return r.Auth }
func (r *GetAllRequest) SetAuth(a *AuthSignature)     { r.Auth = a }
func (r *SetOneRequest) GetAuth() *AuthSignature      { return r.Auth }
func (r *SetOneRequest) SetAuth(a *AuthSignature)     { r.Auth = a }
func (r *SetRecordsRequest) GetAuth() *AuthSignature  { return r.Auth }
func (r *SetRecordsRequest) SetAuth(a *AuthSignature) { r.Auth = a }
func (r *DeleteByIDRequest) GetAuth() *AuthSignature  { return r.Auth }
func (r *DeleteByIDRequest) SetAuth(a *AuthSignature) { r.Auth = a }
func (r *DeleteAllRequest) GetAuth() *AuthSignature   { return r.Auth }
func (r *DeleteAllRequest) SetAuth(a *AuthSignature)  { r.Auth = a }
