package main

import (
	"bytes"
	"net"
	"testing"

	"github.com/pqvpn/pqvpn/pkg/config"
)

func TestEndpointHost(t *testing.T) {
	cases := []struct {
		endpoint string
		want     string
	}{
		{"wss://peer-a.example.com:8443/ws", "peer-a.example.com"},
		{"peer-b.example.com:4433", "peer-b.example.com"},
		{"10.0.0.5:4433", "10.0.0.5"},
		{"", ""},
	}
	for _, c := range cases {
		if got := endpointHost(c.endpoint); got != c.want {
			t.Errorf("endpointHost(%q) = %q, want %q", c.endpoint, got, c.want)
		}
	}
}

func TestBuildPeerHostIndex(t *testing.T) {
	peers := []config.PeerConfig{
		{Name: "alice", Endpoint: "wss://alice.example.com:8443/ws"},
		{Name: "bob", Endpoint: "10.0.0.9:4433"},
		{Name: "no-endpoint"},
	}
	idx := buildPeerHostIndex(peers)

	if idx["alice.example.com"] != "alice" {
		t.Errorf("idx[alice.example.com] = %q, want alice", idx["alice.example.com"])
	}
	if idx["10.0.0.9"] != "bob" {
		t.Errorf("idx[10.0.0.9] = %q, want bob", idx["10.0.0.9"])
	}
	if len(idx) != 2 {
		t.Errorf("len(idx) = %d, want 2 (peer with no endpoint excluded)", len(idx))
	}
}

func TestResolvePeerByAddr(t *testing.T) {
	n := &node{peerHosts: map[string]string{"10.0.0.9": "bob"}}

	addr, err := net.ResolveTCPAddr("tcp", "10.0.0.9:51234")
	if err != nil {
		t.Fatalf("ResolveTCPAddr: %v", err)
	}
	name, ok := n.resolvePeerByAddr(addr)
	if !ok || name != "bob" {
		t.Errorf("resolvePeerByAddr(%v) = (%q, %v), want (bob, true)", addr, name, ok)
	}

	unknown, _ := net.ResolveTCPAddr("tcp", "192.168.1.1:51234")
	if _, ok := n.resolvePeerByAddr(unknown); ok {
		t.Error("resolvePeerByAddr() ok = true for unconfigured address, want false")
	}

	if _, ok := n.resolvePeerByAddr(nil); ok {
		t.Error("resolvePeerByAddr(nil) ok = true, want false")
	}
}

func TestDestinationIP(t *testing.T) {
	packet := make([]byte, 20)
	packet[0] = 0x45 // IPv4, IHL 5
	copy(packet[16:20], net.IPv4(192, 168, 1, 42).To4())

	ip, ok := destinationIP(packet)
	if !ok {
		t.Fatal("destinationIP() ok = false, want true")
	}
	if !ip.Equal(net.IPv4(192, 168, 1, 42)) {
		t.Errorf("destinationIP() = %v, want 192.168.1.42", ip)
	}
}

func TestDestinationIPRejectsNonIPv4(t *testing.T) {
	packet := make([]byte, 20)
	packet[0] = 0x60 // IPv6 version nibble

	if _, ok := destinationIP(packet); ok {
		t.Error("destinationIP() ok = true for IPv6 packet, want false")
	}
}

func TestDestinationIPRejectsShortPacket(t *testing.T) {
	if _, ok := destinationIP(make([]byte, 10)); ok {
		t.Error("destinationIP() ok = true for short packet, want false")
	}
}

func TestSeqNonceIsMonotonicAndDistinct(t *testing.T) {
	n1 := seqNonce(1)
	n2 := seqNonce(2)
	if n1 == n2 {
		t.Fatal("seqNonce(1) == seqNonce(2), want distinct nonces")
	}
	if bytes.Compare(n1[:], n2[:]) >= 0 {
		t.Fatalf("seqNonce(1) = %x, seqNonce(2) = %x, want increasing nonces", n1, n2)
	}

	n0 := seqNonce(0)
	for _, b := range n0[:len(n0)-8] {
		if b != 0 {
			t.Fatalf("seqNonce(0) = %x, want zero prefix before the sequence bytes", n0)
		}
	}
}

func TestAddrString(t *testing.T) {
	if got := addrString(nil); got != "" {
		t.Errorf("addrString(nil) = %q, want empty string", got)
	}
	addr, _ := net.ResolveTCPAddr("tcp", "127.0.0.1:9000")
	if got := addrString(addr); got != "127.0.0.1:9000" {
		t.Errorf("addrString(%v) = %q, want 127.0.0.1:9000", addr, got)
	}
}
