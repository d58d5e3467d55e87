package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/passmgr-tool/passmgr/internal/cascade"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	codes, err := cfg.CipherCodes()
	if err != nil {
		t.Fatalf("CipherCodes() error = %v", err)
	}
	want := []cascade.Code{cascade.CodeAES256, cascade.CodeXChaCha20, cascade.CodeKuznyechik}
	if len(codes) != len(want) {
		t.Fatalf("CipherCodes() = %v, want %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("CipherCodes()[%d] = %s, want %s", i, codes[i], want[i])
		}
	}
}

func TestParse_Overrides(t *testing.T) {
	data := []byte(`
logging:
  level: debug
  format: json
vault:
  path: /tmp/custom.db
  cipher_chain: [serpent, twofish]
sync:
  server: vault.example.org:50051
  timeout: 5s
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Vault.Path != "/tmp/custom.db" {
		t.Errorf("vault.path = %q", cfg.Vault.Path)
	}
	if cfg.Sync.Server != "vault.example.org:50051" {
		t.Errorf("sync.server = %q", cfg.Sync.Server)
	}
	if cfg.Sync.Timeout != 5*time.Second {
		t.Errorf("sync.timeout = %v", cfg.Sync.Timeout)
	}

	codes, err := cfg.CipherCodes()
	if err != nil {
		t.Fatalf("CipherCodes() error = %v", err)
	}
	if len(codes) != 2 || codes[0] != cascade.CodeSerpent || codes[1] != cascade.CodeTwofish {
		t.Errorf("CipherCodes() = %v", codes)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", ":\n:"},
		{"unknown cipher", "vault:\n  cipher_chain: [rot13]"},
		{"reserved cipher", "vault:\n  cipher_chain: [ml-dsa-2]"},
		{"empty chain", "vault:\n  cipher_chain: []"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("Parse() expected error")
			}
		})
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Sync.Server = "localhost:1"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if back.Sync.Server != "localhost:1" {
		t.Errorf("sync.server = %q", back.Sync.Server)
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load(missing) expected error")
	}
}

func TestServerConfig_Validate(t *testing.T) {
	cfg := DefaultServerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default server config invalid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"empty listen", func(c *ServerConfig) { c.Listen = "" }},
		{"empty data dir", func(c *ServerConfig) { c.DataDir = "" }},
		{"tls cert without key", func(c *ServerConfig) { c.TLS.Cert = "cert.pem" }},
		{"negative rate", func(c *ServerConfig) { c.RegisterRate = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultServerConfig()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("Validate() expected error")
			}
		})
	}
}

func TestParseServer(t *testing.T) {
	data := []byte(`
listen: ":9999"
data_dir: /srv/passmgr
tls:
  cert: server.pem
  key: server.key
register_rate: 1
`)
	cfg, err := ParseServer(data)
	if err != nil {
		t.Fatalf("ParseServer() error = %v", err)
	}
	if cfg.Listen != ":9999" || cfg.DataDir != "/srv/passmgr" {
		t.Errorf("parsed = %+v", cfg)
	}
	if cfg.TLS.Cert != "server.pem" || cfg.TLS.Key != "server.key" {
		t.Errorf("tls = %+v", cfg.TLS)
	}
}

func TestVaultPath_Default(t *testing.T) {
	cfg := DefaultConfig()

	path, err := cfg.VaultPath()
	if err != nil {
		// No user config dir in this environment; acceptable.
		t.Skipf("VaultPath() error = %v", err)
	}
	if !strings.Contains(path, "passmgr") {
		t.Errorf("default vault path = %q", path)
	}

	cfg.Vault.Path = filepath.Join(os.TempDir(), "explicit.db")
	path, err = cfg.VaultPath()
	if err != nil {
		t.Fatalf("VaultPath() error = %v", err)
	}
	if path != cfg.Vault.Path {
		t.Errorf("VaultPath() = %q, want %q", path, cfg.Vault.Path)
	}
}
