package syncrpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/passmgr-tool/passmgr/internal/identity"
	"github.com/passmgr-tool/passmgr/internal/record"
)

// Client is a signing sync client. Signed calls are serialized by an
// internal mutex: of two in-flight requests with equal nonces the second
// would be rejected, so requests go out strictly one at a time, and the local nonce
// advances in lockstep with the server's accepted counter.
type Client struct {
	cc     *grpc.ClientConn
	signer *Signer
	userID identity.UserID

	mu    sync.Mutex
	nonce uint64
}

// Dial connects to a sync server. A nil TLS config means plaintext (local
// testing only).
func Dial(target string, tlsConf *tls.Config, signer *Signer, userID identity.UserID) (*Client, error) {
	creds := insecure.NewCredentials()
	if tlsConf != nil {
		creds = credentials.NewTLS(tlsConf)
	}

	cc, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	)
	if err != nil {
		return nil, err
	}
	return NewClient(cc, signer, userID), nil
}

// NewClient wraps an existing connection, e.g. one dialed over an
// in-process listener in tests.
func NewClient(cc *grpc.ClientConn, signer *Signer, userID identity.UserID) *Client {
	return &Client{cc: cc, signer: signer, userID: userID}
}

// Close tears down the connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

// Nonce returns the client's view of the server counter.
func (c *Client) Nonce() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce
}

// Register announces the user and adopts the server's initial nonce.
func (c *Client) Register(ctx context.Context, pubKey []byte) error {
	req := &RegisterRequest{UserID: c.userID.Bytes(), PubKey: pubKey}
	resp := new(RegisterResponse)
	if err := c.cc.Invoke(ctx, FullMethod(MethodRegister), req, resp); err != nil {
		return err
	}

	c.mu.Lock()
	c.nonce = resp.Nonce
	c.mu.Unlock()
	return nil
}

// RefreshNonce re-reads the stored nonce. Call it after a reconnect or any
// failed signed request: an unknown outcome may already have consumed the
// old value.
func (c *Client) RefreshNonce(ctx context.Context) error {
	req := &GetNonceRequest{UserID: c.userID.Bytes()}
	resp := new(GetNonceResponse)
	if err := c.cc.Invoke(ctx, FullMethod(MethodGetNonce), req, resp); err != nil {
		return err
	}

	c.mu.Lock()
	c.nonce = resp.Nonce
	c.mu.Unlock()
	return nil
}

// invokeSigned signs req with the current nonce, sends it and advances the
// nonce on success. The mutex spans the whole exchange to preserve nonce
// ordering across concurrent callers.
func (c *Client) invokeSigned(ctx context.Context, method string, req Authed, resp any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.signer.Sign(method, c.nonce, req); err != nil {
		return err
	}
	if err := c.cc.Invoke(ctx, FullMethod(method), req, resp); err != nil {
		return err
	}
	c.nonce++
	return nil
}

// GetList lists the user's records (ID and version).
func (c *Client) GetList(ctx context.Context) ([]RecordInfo, error) {
	req := new(GetListRequest)
	resp := new(GetListResponse)
	if err := c.invokeSigned(ctx, MethodGetList, req, resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// GetByID fetches one record.
func (c *Client) GetByID(ctx context.Context, id uint64) (*record.CipherRecord, error) {
	req := &GetByIDRequest{RecordID: id}
	resp := new(GetByIDResponse)
	if err := c.invokeSigned(ctx, MethodGetByID, req, resp); err != nil {
		return nil, err
	}
	if resp.Record == nil {
		return nil, fmt.Errorf("server returned no record for id %d", id)
	}
	return FromWire(resp.Record)
}

// GetAll fetches every record of the user.
func (c *Client) GetAll(ctx context.Context) ([]*record.CipherRecord, error) {
	req := new(GetAllRequest)
	resp := new(GetAllResponse)
	if err := c.invokeSigned(ctx, MethodGetAll, req, resp); err != nil {
		return nil, err
	}

	out := make([]*record.CipherRecord, 0, len(resp.Records))
	for _, w := range resp.Records {
		cr, err := FromWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}

// SetOne upserts one record.
func (c *Client) SetOne(ctx context.Context, cr *record.CipherRecord) error {
	req := &SetOneRequest{Record: ToWire(cr)}
	return c.invokeSigned(ctx, MethodSetOne, req, new(SetOneResponse))
}

// SetRecords upserts a batch.
func (c *Client) SetRecords(ctx context.Context, crs []*record.CipherRecord) error {
	req := &SetRecordsRequest{Records: make([]*WireRecord, len(crs))}
	for i, cr := range crs {
		req.Records[i] = ToWire(cr)
	}
	return c.invokeSigned(ctx, MethodSetRecords, req, new(SetRecordsResponse))
}

// DeleteByID removes one record.
func (c *Client) DeleteByID(ctx context.Context, id uint64) error {
	req := &DeleteByIDRequest{RecordID: id}
	return c.invokeSigned(ctx, MethodDeleteByID, req, new(DeleteResponse))
}

// DeleteAll removes every record of the user.
func (c *Client) DeleteAll(ctx context.Context) error {
	req := new(DeleteAllRequest)
	return c.invokeSigned(ctx, MethodDeleteAll, req, new(DeleteResponse))
}
