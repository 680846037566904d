package main

import (
	"path/filepath"
	"testing"

	"github.com/pqvpn/pqvpn/pkg/config"
	"github.com/pqvpn/pqvpn/pkg/logging"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want logging.LogLevel
	}{
		{"debug", logging.DEBUG},
		{"warn", logging.WARN},
		{"error", logging.ERROR},
		{"info", logging.INFO},
		{"", logging.INFO},
		{"unknown", logging.INFO},
	}
	for _, c := range cases {
		if got := parseLogLevel(c.in); got != c.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestLoadGatewayTLSConfigRejectsMissingCert(t *testing.T) {
	dir := t.TempDir()
	cfg := config.GatewayConfig{
		TLSCert: filepath.Join(dir, "missing-cert.pem"),
		TLSKey:  filepath.Join(dir, "missing-key.pem"),
	}

	if _, err := loadGatewayTLSConfig(cfg); err == nil {
		t.Fatal("loadGatewayTLSConfig() error = nil, want error for missing keypair files")
	}
}
