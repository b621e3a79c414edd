// Package peer holds the identity and connection-state types shared by
// discovery, sessions and the transport.
package peer

import "fmt"

// ID is the stable identifier of a device within the discovery namespace.
type ID string

// Short returns the first 8 characters of the id, for logs.
func (id ID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}

// Info identifies a device and where its invitation endpoint lives.
type Info struct {
	ID   ID
	Name string
	Addr string
}

// Equal compares identities only. Addr and Name may change between beacons.
func (i Info) Equal(other Info) bool {
	return i.ID == other.ID
}

func (i Info) String() string {
	if i.Name == "" {
		return i.ID.Short()
	}
	return fmt.Sprintf("%s (%s)", i.Name, i.ID.Short())
}

// Link is an established encrypted data path to one remote peer.
type Link interface {
	Peer() Info
	Send(data []byte) error
	Close() error
}
