// Package event defines the tagged variants delivered to the node's owning
// goroutine. Network callbacks never touch shared state directly; they emit
// one of these instead.
package event

import "github.com/rudransh-shrivastava/peer-sync/internal/peer"

type Event interface {
	Kind() Kind
}

type Kind int

const (
	KindPeerFound Kind = iota + 1
	KindPeerLost
	KindDiscoveryFailed
	KindInvitationReceived
	KindStateChanged
	KindDataReceived
	KindValueChanged
)

func (k Kind) String() string {
	switch k {
	case KindPeerFound:
		return "PEER_FOUND"
	case KindPeerLost:
		return "PEER_LOST"
	case KindDiscoveryFailed:
		return "DISCOVERY_FAILED"
	case KindInvitationReceived:
		return "INVITATION_RECEIVED"
	case KindStateChanged:
		return "STATE_CHANGED"
	case KindDataReceived:
		return "DATA_RECEIVED"
	case KindValueChanged:
		return "VALUE_CHANGED"
	default:
		return "UNKNOWN"
	}
}

type PeerFound struct {
	Peer peer.Info
}

func (PeerFound) Kind() Kind { return KindPeerFound }

type PeerLost struct {
	ID peer.ID
}

func (PeerLost) Kind() Kind { return KindPeerLost }

// DiscoveryFailed reports that advertising or browsing could not start or
// stopped unexpectedly. It is never fatal.
type DiscoveryFailed struct {
	Op  string
	Err error
}

func (DiscoveryFailed) Kind() Kind { return KindDiscoveryFailed }

// Decision is the answer to an inbound invitation.
type Decision struct {
	Accept    bool
	SessionID string
}

// InvitationReceived carries an inbound invitation. The owning goroutine must
// send exactly one Decision on Reply, which is buffered.
type InvitationReceived struct {
	From    peer.Info
	Context []byte
	Reply   chan<- Decision
}

func (InvitationReceived) Kind() Kind { return KindInvitationReceived }

// StateChanged is a connection-state transition for one peer of a session.
// Link is set only when State is peer.Connected.
type StateChanged struct {
	SessionID string
	Peer      peer.Info
	State     peer.State
	Link      peer.Link
}

func (StateChanged) Kind() Kind { return KindStateChanged }

type DataReceived struct {
	SessionID string
	From      peer.Info
	Data      []byte
}

func (DataReceived) Kind() Kind { return KindDataReceived }

// ValueChanged is published to consumers whenever the shared value changes.
// Remote is true when the value arrived from the network.
type ValueChanged struct {
	Value  float64
	Remote bool
}

func (ValueChanged) Kind() Kind { return KindValueChanged }
