package locator

import (
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strconv"

	"github.com/louisbranch/shopping-cart/internal/platform/discovery"
)

// DefaultVirtualNodes is the number of ring points per peer.
const DefaultVirtualNodes = 64

type point struct {
	hash uint32
	peer int
}

// Ring places cart ids on peers by consistent hashing. Every node built from
// the same peer list agrees on ownership.
type Ring struct {
	peers  []discovery.Peer
	points []point
}

// NewRing builds a ring with vnodes points per peer.
func NewRing(peers []discovery.Peer, vnodes int) (*Ring, error) {
	if len(peers) == 0 {
		return nil, errors.New("ring needs at least one peer")
	}
	if vnodes <= 0 {
		vnodes = DefaultVirtualNodes
	}
	sorted := slices.Clone(peers)
	slices.SortFunc(sorted, func(a, b discovery.Peer) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ID == sorted[i-1].ID {
			return nil, fmt.Errorf("duplicate peer id %q", sorted[i].ID)
		}
	}

	points := make([]point, 0, len(sorted)*vnodes)
	for i, peer := range sorted {
		for v := range vnodes {
			points = append(points, point{hash: hash(peer.ID + "#" + strconv.Itoa(v)), peer: i})
		}
	}
	slices.SortFunc(points, func(a, b point) int {
		if a.hash != b.hash {
			if a.hash < b.hash {
				return -1
			}
			return 1
		}
		return a.peer - b.peer
	})
	return &Ring{peers: sorted, points: points}, nil
}

// Owner returns the peer responsible for cartID.
func (r *Ring) Owner(cartID string) discovery.Peer {
	h := hash(cartID)
	i, _ := slices.BinarySearchFunc(r.points, h, func(p point, target uint32) int {
		switch {
		case p.hash < target:
			return -1
		case p.hash > target:
			return 1
		}
		return 0
	})
	if i == len(r.points) {
		i = 0
	}
	return r.peers[r.points[i].peer]
}

// Peers returns the ring members sorted by id.
func (r *Ring) Peers() []discovery.Peer {
	return slices.Clone(r.peers)
}

// Peer returns the member with id.
func (r *Ring) Peer(id string) (discovery.Peer, bool) {
	for _, p := range r.peers {
		if p.ID == id {
			return p, true
		}
	}
	return discovery.Peer{}, false
}

func hash(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}
