package config

import (
	"path/filepath"
	"testing"
)

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")

	want := GenerateDefaultConfig("node-a")
	want.Peers = []PeerConfig{{Name: "node-b", StaticPublicKey: "base64data", Endpoint: "node-b.example:8443"}}

	if err := WriteConfigFile(want, path); err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if got.Node.SignatureScheme != want.Node.SignatureScheme {
		t.Errorf("SignatureScheme = %q, want %q", got.Node.SignatureScheme, want.Node.SignatureScheme)
	}
	if got.Node.KemMode != want.Node.KemMode {
		t.Errorf("KemMode = %q, want %q", got.Node.KemMode, want.Node.KemMode)
	}
	if len(got.Peers) != 1 || got.Peers[0].Name != "node-b" {
		t.Errorf("Peers = %+v, want one peer named node-b", got.Peers)
	}
}

func TestLoadConfigRejectsUnsupportedSignatureScheme(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")

	cfg := GenerateDefaultConfig("node-a")
	cfg.Node.SignatureScheme = "RSA-4096"
	if err := WriteConfigFile(cfg, path); err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() error = nil, want error for unsupported signature scheme")
	}
}

func TestLoadConfigRejectsUnknownKemMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")

	cfg := GenerateDefaultConfig("node-a")
	cfg.Node.KemMode = "quantum-telepathy"
	if err := WriteConfigFile(cfg, path); err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() error = nil, want error for invalid kem_mode")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/path/node.yaml"); err == nil {
		t.Fatal("LoadConfig() error = nil, want error for missing file")
	}
}

func TestLoadConfigMissingPeerStaticKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")

	cfg := GenerateDefaultConfig("node-a")
	cfg.Peers = []PeerConfig{{Name: "node-b"}}
	if err := WriteConfigFile(cfg, path); err != nil {
		t.Fatalf("WriteConfigFile: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig() error = nil, want error for peer missing static_public_key")
	}
}
