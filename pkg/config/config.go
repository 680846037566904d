// Package config loads the node's YAML configuration: the node's declared
// signature scheme and KEM mode, where its identity keystore and peer
// directory live, and how its transport gateways are bound.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pqvpn/pqvpn/pkg/cryptocore"
)

// Config is the complete node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Identity  IdentityConfig  `yaml:"identity"`
	Directory DirectoryConfig `yaml:"directory"`
	Audit     AuditConfig     `yaml:"audit"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Logging   LoggingConfig   `yaml:"logging"`
	Peers     []PeerConfig    `yaml:"peers"`
}

// NodeConfig names this node and declares its signature scheme and KEM
// mode. Both are defaulted and validated on load; the running node takes
// its signature scheme from its identity keystore and does not read
// kem_mode.
type NodeConfig struct {
	Name            string `yaml:"name"`
	SignatureScheme string `yaml:"signature_scheme"` // one of cryptocore.SupportedSignatureSchemes
	KemMode         string `yaml:"kem_mode"`         // classical, pqc-only, hybrid
}

// IdentityConfig locates the node's passphrase-protected static identity.
type IdentityConfig struct {
	KeystorePath string `yaml:"keystore_path"`
}

// DirectoryConfig holds the Redis-backed peer directory connection.
type DirectoryConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// AuditConfig holds the Postgres-backed handshake log connection.
type AuditConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Password string `yaml:"password"`
	DBName  string `yaml:"dbname"`
	SSLMode string `yaml:"sslmode"`
}

// GatewayConfig holds transport listener settings.
type GatewayConfig struct {
	WebSocketAddr string `yaml:"websocket_addr"`
	QUICAddr      string `yaml:"quic_addr"`
	TLSCert       string `yaml:"tls_cert"`
	TLSKey        string `yaml:"tls_key"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"` // debug, info, warn, error
	OutputFile string `yaml:"output_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// PeerConfig is one statically configured peer: its name, its out-of-band
// distributed static public key (base64 in YAML, see pkg/identitystore),
// the gateway address to dial, and the IP ranges routed to it over the TUN
// device (fed into pkg/cryptoroute at node startup).
type PeerConfig struct {
	Name            string   `yaml:"name"`
	StaticPublicKey string   `yaml:"static_public_key"`
	Endpoint        string   `yaml:"endpoint"`
	AllowedIPs      []string `yaml:"allowed_ips"`
}

// LoadConfig loads and validates configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Node.SignatureScheme == "" {
		c.Node.SignatureScheme = "Dilithium2"
	}
	if c.Node.KemMode == "" {
		c.Node.KemMode = "hybrid"
	}

	if c.Directory.Port == 0 {
		c.Directory.Port = 6379
	}
	if c.Directory.TTL == 0 {
		c.Directory.TTL = 5 * time.Minute
	}

	if c.Audit.Port == 0 {
		c.Audit.Port = 5432
	}
	if c.Audit.SSLMode == "" {
		c.Audit.SSLMode = "disable"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
}

func (c *Config) validate() error {
	validSchemes := make(map[string]bool, len(cryptocore.SupportedSignatureSchemes))
	for _, s := range cryptocore.SupportedSignatureSchemes {
		validSchemes[s] = true
	}
	if !validSchemes[c.Node.SignatureScheme] {
		return fmt.Errorf("unsupported signature_scheme: %s", c.Node.SignatureScheme)
	}

	switch c.Node.KemMode {
	case "classical", "pqc-only", "hybrid":
	default:
		return fmt.Errorf("invalid kem_mode: %s", c.Node.KemMode)
	}

	if c.Identity.KeystorePath == "" {
		return fmt.Errorf("identity.keystore_path is required")
	}

	if c.Directory.Host == "" {
		return fmt.Errorf("directory.host is required")
	}
	if c.Audit.Host == "" {
		return fmt.Errorf("audit.host is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	for _, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("peer entry missing name")
		}
		if p.StaticPublicKey == "" {
			return fmt.Errorf("peer %q missing static_public_key", p.Name)
		}
	}

	return nil
}

// GenerateDefaultConfig creates a default config for a named node.
func GenerateDefaultConfig(name string) *Config {
	return &Config{
		Node: NodeConfig{
			Name:            name,
			SignatureScheme: "Dilithium2",
			KemMode:         "hybrid",
		},
		Identity: IdentityConfig{
			KeystorePath: "/etc/pqvpn/identity.json",
		},
		Directory: DirectoryConfig{
			Host: "localhost",
			Port: 6379,
			TTL:  5 * time.Minute,
		},
		Audit: AuditConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "pqvpn",
			DBName:  "pqvpn",
			SSLMode: "disable",
		},
		Gateway: GatewayConfig{
			WebSocketAddr: ":8443",
			QUICAddr:      ":51820",
			TLSCert:       "/etc/pqvpn/tls/cert.pem",
			TLSKey:        "/etc/pqvpn/tls/key.pem",
		},
		Logging: LoggingConfig{
			Level:      "info",
			OutputFile: "/var/log/pqvpn/node.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// WriteConfigFile writes a config struct to a YAML file.
func WriteConfigFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
