// Package session owns the single live session: which peers have been
// invited or accepted, their connection states, and the links values are
// broadcast over. It is driven entirely from the node's owning goroutine.
package session

import (
	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peer-sync/internal/peer"
)

// PeerConnection is the per-peer record inside a session.
type PeerConnection struct {
	Peer  peer.Info
	State peer.State
	link  peer.Link
}

// Session is one encrypted multi-peer channel. Replacing it drops every
// PeerConnection it owned.
type Session struct {
	ID    string
	Local peer.Info
	conns map[peer.ID]*PeerConnection
}

func newSession(local peer.Info) *Session {
	return &Session{
		ID:    uuid.NewString(),
		Local: local,
		conns: make(map[peer.ID]*PeerConnection),
	}
}

// Connections returns a snapshot of the session's peer records.
func (s *Session) Connections() []PeerConnection {
	out := make([]PeerConnection, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, PeerConnection{Peer: c.Peer, State: c.State})
	}
	return out
}

func (s *Session) connected() []*PeerConnection {
	var out []*PeerConnection
	for _, c := range s.conns {
		if c.State == peer.Connected && c.link != nil {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) close() {
	for id, c := range s.conns {
		if c.link != nil {
			_ = c.link.Close()
		}
		delete(s.conns, id)
	}
}
