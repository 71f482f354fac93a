// Package discovery centralizes internal service-discovery conventions.
package discovery

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const (
	// ServiceCart is the cart gRPC service identity.
	ServiceCart = "cart"
	// ServiceCartGateway is the cart HTTP gateway identity.
	ServiceCartGateway = "cart-gateway"
	// ServiceCartOps is the cart metrics and health endpoint identity.
	ServiceCartOps = "cart-ops"
)

var ports = map[string]int{
	ServiceCart:        8101,
	ServiceCartGateway: 8102,
	ServiceCartOps:     8103,
}

// DefaultAddr returns the canonical listen address for a service.
func DefaultAddr(service string) string {
	port, ok := ports[strings.TrimSpace(service)]
	if !ok || port <= 0 {
		return ""
	}
	return ":" + strconv.Itoa(port)
}

// OrDefaultAddr returns value when set, otherwise the service convention.
func OrDefaultAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultAddr(service)
}

// Peer is one cart node reachable over gRPC.
type Peer struct {
	ID   string
	Addr string
}

// ParsePeers parses a static peer list of the form "id=host:port,id=host:port".
// Entries are returned sorted by id so every node builds the same ring.
func ParsePeers(raw string) ([]Peer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	seen := map[string]struct{}{}
	var peers []Peer
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, addr, ok := strings.Cut(entry, "=")
		id = strings.TrimSpace(id)
		addr = strings.TrimSpace(addr)
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid peer entry %q: want id=host:port", entry)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate peer id %q", id)
		}
		seen[id] = struct{}{}
		peers = append(peers, Peer{ID: id, Addr: addr})
	}
	slices.SortFunc(peers, func(a, b Peer) int { return strings.Compare(a.ID, b.ID) })
	return peers, nil
}
