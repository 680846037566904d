// Package cryptoroute maps destination IP addresses to the peer whose
// encrypted tunnel should carry them, by longest-prefix match over each
// peer's configured allowed subnets — the same routing contract
// WireGuard's AllowedIPs implements.
package cryptoroute

import (
	"fmt"
	"net"
	"sort"
	"sync"
)

// Route associates an allowed subnet with the peer that owns it.
type Route struct {
	Network  *net.IPNet
	PeerName string
}

// Table is a longest-prefix-match routing table, safe for concurrent use.
type Table struct {
	mu     sync.RWMutex
	routes []Route
}

// New returns an empty Table.
func New() *Table {
	return &Table{}
}

// AddRoute inserts or replaces the route for a CIDR, keeping routes sorted
// most-specific-first so Lookup can return on the first match.
func (t *Table) AddRoute(cidr, peerName string) error {
	_, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("cryptoroute: invalid CIDR %q: %w", cidr, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for i, r := range t.routes {
		if r.Network.String() == network.String() {
			t.routes[i].PeerName = peerName
			return nil
		}
	}

	t.routes = append(t.routes, Route{Network: network, PeerName: peerName})
	sort.Slice(t.routes, func(i, j int) bool {
		return prefixLen(t.routes[i].Network) > prefixLen(t.routes[j].Network)
	})
	return nil
}

func prefixLen(n *net.IPNet) int {
	ones, _ := n.Mask.Size()
	return ones
}

// RemoveRoutesForPeer drops every route pointing at peerName, e.g. when a
// peer's session is torn down.
func (t *Table) RemoveRoutesForPeer(peerName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.routes[:0]
	for _, r := range t.routes {
		if r.PeerName != peerName {
			kept = append(kept, r)
		}
	}
	t.routes = kept
}

// Lookup returns the peer whose route most specifically covers ip.
func (t *Table) Lookup(ip net.IP) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.routes {
		if r.Network.Contains(ip) {
			return r.PeerName, true
		}
	}
	return "", false
}

// Routes returns a snapshot of all configured routes.
func (t *Table) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}
