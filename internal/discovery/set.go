package discovery

import (
	"slices"

	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
)

// Set is the list of peers currently visible. It is not safe for concurrent
// use; the node's owning goroutine is its only writer. Membership is checked
// explicitly by id since beacons for the same device may differ in address.
type Set struct {
	peers []peer.Info
}

func NewSet() *Set {
	return &Set{}
}

// Add appends p unless a peer with the same id is present, in which case the
// stored entry is refreshed. It reports whether p was new.
func (s *Set) Add(p peer.Info) bool {
	for i, existing := range s.peers {
		if existing.Equal(p) {
			s.peers[i] = p
			return false
		}
	}
	s.peers = append(s.peers, p)
	return true
}

// Remove drops every entry with the given id and reports whether any existed.
func (s *Set) Remove(id peer.ID) bool {
	before := len(s.peers)
	s.peers = slices.DeleteFunc(s.peers, func(p peer.Info) bool {
		return p.ID == id
	})
	return len(s.peers) != before
}

func (s *Set) Lookup(id peer.ID) (peer.Info, bool) {
	for _, p := range s.peers {
		if p.ID == id {
			return p, true
		}
	}
	return peer.Info{}, false
}

func (s *Set) Reset() {
	s.peers = nil
}

func (s *Set) Len() int {
	return len(s.peers)
}

// Peers returns a copy in discovery order.
func (s *Set) Peers() []peer.Info {
	return slices.Clone(s.peers)
}
