package syncrpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/passmgr-tool/passmgr/internal/record"
)

// CodecName identifies the deterministic CBOR codec in gRPC content
// subtype negotiation.
const CodecName = "passmgr-cbor"

// Codec marshals wire messages with the shared deterministic CBOR encoder.
// Determinism matters: the signature envelope covers the encoded request
// bytes, so client and server must agree byte-for-byte.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	data, err := record.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("syncrpc codec: %w", err)
	}
	return data, nil
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	if err := record.Unmarshal(data, v); err != nil {
		return fmt.Errorf("syncrpc codec: %w", err)
	}
	return nil
}

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
