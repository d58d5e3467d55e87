package syncclient

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/passmgr-tool/passmgr/internal/cascade"
	"github.com/passmgr-tool/passmgr/internal/keys"
	"github.com/passmgr-tool/passmgr/internal/logging"
	"github.com/passmgr-tool/passmgr/internal/metrics"
	"github.com/passmgr-tool/passmgr/internal/record"
	"github.com/passmgr-tool/passmgr/internal/server"
	"github.com/passmgr-tool/passmgr/internal/store"
	"github.com/passmgr-tool/passmgr/internal/syncrpc"
)

var (
	keysOnce   sync.Once
	masterKeys *keys.MasterKeys
)

func sharedKeys(t *testing.T) *keys.MasterKeys {
	t.Helper()
	keysOnce.Do(func() {
		entropy := bytes.Repeat([]byte{0xc3}, 32)
		mk, err := keys.FromEntropy(entropy)
		if err != nil {
			return
		}
		masterKeys = mk
	})
	if masterKeys == nil {
		t.Fatal("shared key derivation failed")
	}
	return masterKeys
}

func chainCodes() []cascade.Code {
	return []cascade.Code{cascade.CodeAES256, cascade.CodeXChaCha20}
}

// env wires a vault, a signer and an in-process sync server together.
type env struct {
	cc  *grpc.ClientConn
	svc *server.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()

	svc, err := server.New(server.Options{
		DataDir: filepath.Join(t.TempDir(), "data"),
		Logger:  logging.NopLogger(),
		Metrics: metrics.NewMetricsWithRegistry(prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.ForceServerCodec(syncrpc.Codec{}))
	syncrpc.RegisterPassmgrServer(gs, svc)
	go gs.Serve(lis)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(syncrpc.Codec{})),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	t.Cleanup(func() {
		cc.Close()
		gs.Stop()
		svc.Close()
	})
	return &env{cc: cc, svc: svc}
}

func (e *env) signedClient(t *testing.T, mk *keys.MasterKeys) *syncrpc.Client {
	t.Helper()
	_, priv := mk.SigningKeypair()
	return syncrpc.NewClient(e.cc, syncrpc.NewSigner(mk.UserID(), priv), mk.UserID())
}

func openVault(t *testing.T, mk *keys.MasterKeys) *store.UserDB {
	t.Helper()
	db, err := store.OpenUserDB(filepath.Join(t.TempDir(), "vault.db"), mk, chainCodes())
	if err != nil {
		t.Fatalf("OpenUserDB() error = %v", err)
	}
	// Shared keys must survive for other tests, so db.Close() (which wipes
	// them) is not called and the vault stays open.
	return db
}

func register(t *testing.T, e *env, mk *keys.MasterKeys, c *syncrpc.Client) {
	t.Helper()
	pub, _ := mk.SigningKeypair()
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}
	if err := c.Register(context.Background(), pubBytes); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
}

func newRecord(title, value string) *record.Record {
	return &record.Record{
		Icon:    "login",
		Created: 1700000000,
		Updated: 1700000000,
		Fields: []record.Item{
			{Title: title, Value: value, Attributes: []record.Attribute{record.AttrHide}},
		},
	}
}

func TestRun_PushThenRestore(t *testing.T) {
	mk := sharedKeys(t)
	e := newEnv(t)
	ctx := context.Background()

	// Vault A creates records and syncs them up.
	vaultA := openVault(t, mk)
	idA, err := vaultA.Create(newRecord("password", "first secret"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	idB, err := vaultA.Create(newRecord("token", "second secret"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clientA := e.signedClient(t, mk)
	register(t, e, mk, clientA)

	sum, err := New(vaultA, clientA, logging.NopLogger()).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Pushed != 2 || sum.Pulled != 0 {
		t.Errorf("first sync summary = %+v, want 2 pushed", sum)
	}

	// A fresh vault with the same seed restores everything and can read
	// the plaintext, proving the stored cipher list travels with records.
	vaultB := openVault(t, mk)
	clientB := e.signedClient(t, mk)

	n, err := New(vaultB, clientB, logging.NopLogger()).Restore(ctx)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Restore() = %d records, want 2", n)
	}

	got, err := vaultB.Read(idA)
	if err != nil {
		t.Fatalf("Read(restored) error = %v", err)
	}
	f, ok := got.Field("password")
	if !ok || f.Value != "first secret" {
		t.Errorf("restored field = %+v", f)
	}
	if _, err := vaultB.Read(idB); err != nil {
		t.Errorf("Read(second restored) error = %v", err)
	}
}

func TestRun_PullNewerVersion(t *testing.T) {
	mk := sharedKeys(t)
	e := newEnv(t)
	ctx := context.Background()

	vaultA := openVault(t, mk)
	id, err := vaultA.Create(newRecord("password", "v1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clientA := e.signedClient(t, mk)
	register(t, e, mk, clientA)
	if _, err := New(vaultA, clientA, logging.NopLogger()).Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Vault B restores, updates the record (ver 2) and pushes.
	vaultB := openVault(t, mk)
	clientB := e.signedClient(t, mk)
	coordB := New(vaultB, clientB, logging.NopLogger())
	if _, err := coordB.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if err := vaultB.Update(id, newRecord("password", "v2")); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if _, err := coordB.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Vault A still has ver 1 locally; a sync pulls ver 2 over it.
	sum, err := New(vaultA, clientA, logging.NopLogger()).Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Pulled != 1 {
		t.Errorf("summary = %+v, want 1 pulled", sum)
	}

	got, err := vaultA.Read(id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	f, _ := got.Field("password")
	if f.Value != "v2" {
		t.Errorf("after sync field = %q, want v2", f.Value)
	}

	cr, err := vaultA.ReadCipherRecord(id)
	if err != nil {
		t.Fatalf("ReadCipherRecord() error = %v", err)
	}
	if cr.Ver != 2 {
		t.Errorf("ver = %d, want 2", cr.Ver)
	}
}

func TestRun_OlderServerVersionIgnored(t *testing.T) {
	mk := sharedKeys(t)
	e := newEnv(t)
	ctx := context.Background()

	vault := openVault(t, mk)
	id, err := vault.Create(newRecord("password", "v1"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	client := e.signedClient(t, mk)
	register(t, e, mk, client)
	coord := New(vault, client, logging.NopLogger())
	if _, err := coord.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Local moves ahead to ver 2 without syncing.
	if err := vault.Update(id, newRecord("password", "v2-local")); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	// The server still holds ver 1; the sync must keep the local ver 2
	// and push it.
	sum, err := coord.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sum.Pulled != 0 {
		t.Errorf("summary = %+v, want 0 pulled", sum)
	}

	got, _ := vault.Read(id)
	f, _ := got.Field("password")
	if f.Value != "v2-local" {
		t.Errorf("field = %q, want v2-local", f.Value)
	}
}
