// Package config provides configuration parsing and validation for passmgr.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/passmgr-tool/passmgr/internal/cascade"
)

// Config represents the complete client configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Vault   VaultConfig   `yaml:"vault"`
	Sync    SyncConfig    `yaml:"sync"`
}

// LoggingConfig defines log output settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// VaultConfig defines the local vault location and cipher policy.
type VaultConfig struct {
	// Path is the vault database file. Empty means the default location
	// under the user config directory.
	Path string `yaml:"path"`

	// CipherChain lists cipher names applied in order to new records.
	// Existing records always decrypt with the list stored on them.
	CipherChain []string `yaml:"cipher_chain"`
}

// SyncConfig defines the sync server connection.
type SyncConfig struct {
	// Server is the gRPC address, e.g. "vault.example.org:50051".
	Server string `yaml:"server"`

	// CAFile is an optional CA certificate for server verification.
	CAFile string `yaml:"ca_file"`

	// Insecure disables TLS. Local testing only.
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each RPC.
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig represents the sync server configuration.
type ServerConfig struct {
	Logging LoggingConfig `yaml:"logging"`

	// Listen is the gRPC listen address.
	Listen string `yaml:"listen"`

	// MetricsListen exposes Prometheus metrics when set.
	MetricsListen string `yaml:"metrics_listen"`

	// DataDir holds one subdirectory per user.
	DataDir string `yaml:"data_dir"`

	// AuthDB is the auth database path. Defaults next to DataDir.
	AuthDB string `yaml:"auth_db"`

	// TLS configures the listener certificate.
	TLS ServerTLSConfig `yaml:"tls"`

	// RegisterRate bounds Register calls per second. Zero disables the
	// limiter.
	RegisterRate float64 `yaml:"register_rate"`
}

// ServerTLSConfig points at the listener key material.
type ServerTLSConfig struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

// DefaultCipherChain is the cipher policy for new vaults.
var DefaultCipherChain = []string{"aes-256", "xchacha20", "kuznyechik"}

// DefaultConfig returns a client configuration with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Vault: VaultConfig{
			CipherChain: append([]string(nil), DefaultCipherChain...),
		},
		Sync: SyncConfig{Timeout: 30 * time.Second},
	}
}

// DefaultServerConfig returns a server configuration with sane defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Logging:      LoggingConfig{Level: "info", Format: "text"},
		Listen:       ":50051",
		DataDir:      "data",
		RegisterRate: 5,
	}
}

// Parse decodes YAML bytes into a client config, applying defaults for
// omitted fields.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses a client config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// ParseServer decodes YAML bytes into a server config.
func ParseServer(data []byte) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer reads and parses a server config file.
func LoadServer(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseServer(data)
}

// Validate checks the client configuration for consistency.
func (c *Config) Validate() error {
	if len(c.Vault.CipherChain) == 0 {
		return fmt.Errorf("vault.cipher_chain must not be empty")
	}
	if _, err := c.CipherCodes(); err != nil {
		return err
	}
	if c.Sync.Timeout <= 0 {
		c.Sync.Timeout = 30 * time.Second
	}
	return nil
}

// CipherCodes resolves the configured cipher names to registry codes.
func (c *Config) CipherCodes() ([]cascade.Code, error) {
	codes := make([]cascade.Code, 0, len(c.Vault.CipherChain))
	for _, name := range c.Vault.CipherChain {
		code, err := cascade.ParseCode(name)
		if err != nil {
			return nil, fmt.Errorf("vault.cipher_chain: %w", err)
		}
		if !cascade.Transforming(code) {
			return nil, fmt.Errorf("vault.cipher_chain: %s cannot encrypt data", name)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

// VaultPath returns the configured vault path or the default under the
// user config directory.
func (c *Config) VaultPath() (string, error) {
	if c.Vault.Path != "" {
		return c.Vault.Path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("no vault path configured and no user config dir: %w", err)
	}
	return filepath.Join(dir, "passmgr", "vault.db"), nil
}

// Validate checks the server configuration for consistency.
func (c *ServerConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("tls.cert and tls.key must be set together")
	}
	if c.RegisterRate < 0 {
		return fmt.Errorf("register_rate must not be negative")
	}
	return nil
}

// Save writes a config as YAML, creating parent directories.
func Save(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
