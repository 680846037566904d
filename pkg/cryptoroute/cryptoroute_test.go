package cryptoroute

import (
	"net"
	"testing"
)

func TestLookupLongestPrefixMatch(t *testing.T) {
	table := New()
	if err := table.AddRoute("10.0.0.0/8", "broad-peer"); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := table.AddRoute("10.0.1.0/24", "specific-peer"); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	peer, ok := table.Lookup(net.ParseIP("10.0.1.42"))
	if !ok {
		t.Fatal("Lookup() ok = false, want true")
	}
	if peer != "specific-peer" {
		t.Errorf("Lookup() = %q, want %q (more specific route)", peer, "specific-peer")
	}

	peer, ok = table.Lookup(net.ParseIP("10.0.2.1"))
	if !ok || peer != "broad-peer" {
		t.Errorf("Lookup(10.0.2.1) = (%q, %v), want (broad-peer, true)", peer, ok)
	}
}

func TestLookupNoMatch(t *testing.T) {
	table := New()
	if err := table.AddRoute("10.0.0.0/8", "peer-a"); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	if _, ok := table.Lookup(net.ParseIP("192.168.1.1")); ok {
		t.Error("Lookup() ok = true for unrouted address, want false")
	}
}

func TestAddRouteRejectsInvalidCIDR(t *testing.T) {
	table := New()
	if err := table.AddRoute("not-a-cidr", "peer-a"); err == nil {
		t.Fatal("AddRoute() error = nil, want error for invalid CIDR")
	}
}

func TestRemoveRoutesForPeer(t *testing.T) {
	table := New()
	table.AddRoute("10.0.0.0/8", "peer-a")
	table.AddRoute("10.0.1.0/24", "peer-b")

	table.RemoveRoutesForPeer("peer-b")

	if peer, ok := table.Lookup(net.ParseIP("10.0.1.42")); !ok || peer != "peer-a" {
		t.Errorf("Lookup after removal = (%q, %v), want (peer-a, true)", peer, ok)
	}
	if len(table.Routes()) != 1 {
		t.Errorf("len(Routes()) = %d, want 1", len(table.Routes()))
	}
}

func TestAddRouteReplacesExisting(t *testing.T) {
	table := New()
	table.AddRoute("10.0.0.0/8", "peer-a")
	table.AddRoute("10.0.0.0/8", "peer-b")

	if len(table.Routes()) != 1 {
		t.Fatalf("len(Routes()) = %d, want 1 (replace, not append)", len(table.Routes()))
	}
	peer, _ := table.Lookup(net.ParseIP("10.1.2.3"))
	if peer != "peer-b" {
		t.Errorf("Lookup() = %q, want %q", peer, "peer-b")
	}
}
